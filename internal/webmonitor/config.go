package webmonitor

import (
	"path/filepath"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/session"
)

// Config defines the runtime configuration for the zone editor dashboard.
type Config struct {
	Addr       string
	AssetsDir  string
	BackendURL string
	Session    session.Config
	// KeepAlive is the idle time after which streams repeat the last frame
	// or send an SSE comment.
	KeepAlive time.Duration
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       ":8090",
		AssetsDir:  filepath.Clean("./web_assets"),
		BackendURL: "http://localhost:8000",
		Session:    session.DefaultConfig(),
		KeepAlive:  30 * time.Second,
	}
}
