package session

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/geometry"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/throttle"
)

// Config defines how an editor session renders and syncs.
type Config struct {
	// Width and Height size the server-rendered canvas.
	Width  int
	Height int

	ThrottleInterval time.Duration
	// PollInterval and FrameInterval disable background polling when zero.
	PollInterval   time.Duration
	FrameInterval  time.Duration
	RequestTimeout time.Duration

	Tolerance    geometry.Tolerance
	HandleRadius float64
	JPEGQuality  int

	// Clock drives the update throttler. Nil uses the wall clock.
	Clock throttle.Clock
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Width:            1280,
		Height:           720,
		ThrottleInterval: 50 * time.Millisecond,
		PollInterval:     5 * time.Second,
		FrameInterval:    10 * time.Second,
		RequestTimeout:   5 * time.Second,
		Tolerance:        geometry.DefaultTolerances(),
		HandleRadius:     5,
		JPEGQuality:      80,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = d.ThrottleInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Tolerance == (geometry.Tolerance{}) {
		c.Tolerance = d.Tolerance
	}
	if c.HandleRadius <= 0 {
		c.HandleRadius = d.HandleRadius
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.Clock == nil {
		c.Clock = throttle.RealClock
	}
	return c
}
