// Package zone defines the crossing-zone model shared by the editor, the
// renderer and the backend client. Coordinates are normalized to the frame:
// (0,0) is the top-left corner, (1,1) the bottom-right.
package zone

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Kind distinguishes polygon zones from line zones.
type Kind string

const (
	KindPolygon Kind = "polygon"
	KindLine    Kind = "line"
)

// MinPolygonVertices is the smallest vertex count of a complete polygon.
const MinPolygonVertices = 3

var (
	ErrTooFewVertices = errors.New("polygon needs at least 3 vertices")
	ErrZeroLength     = errors.New("line endpoints must be distinct")
	ErrThreshold      = errors.New("threshold must be a positive integer")
	ErrOutOfRange     = errors.New("coordinates must be within [0,1]")
	ErrDuplicateID    = errors.New("zone id already in use")
	ErrEmptyID        = errors.New("zone id must not be empty")
	ErrUnknownKind    = errors.New("unknown zone kind")
)

// Point is a normalized coordinate pair.
type Point struct {
	X float64
	Y float64
}

// Clamp limits both axes to [0,1].
func (p Point) Clamp() Point {
	return Point{X: clamp01(p.X), Y: clamp01(p.Y)}
}

// InRange reports whether both axes lie within [0,1].
func (p Point) InRange() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Counters are populated by the backend. The editor never writes them.
type Counters struct {
	In      *int `json:"in,omitempty"`
	Out     *int `json:"out,omitempty"`
	Current *int `json:"current,omitempty"`
}

// Zone is a polygon or line crossing zone. Line zones always carry exactly
// two points (start, end); polygon zones carry their vertices in drawing
// order with an implicit closing edge.
type Zone struct {
	ID        string
	Kind      Kind
	Points    []Point
	Threshold int
	Anchors   []Anchor
	Counters  Counters

	// Provisional marks an id generated locally that the backend has not
	// confirmed yet.
	Provisional bool
}

// NewPolygon builds a polygon zone with default threshold and anchors.
func NewPolygon(id string, vertices []Point) Zone {
	return Zone{
		ID:        id,
		Kind:      KindPolygon,
		Points:    slices.Clone(vertices),
		Threshold: DefaultThreshold,
		Anchors:   DefaultAnchors(),
	}
}

// NewLine builds a line zone with default threshold and anchors.
func NewLine(id string, start, end Point) Zone {
	return Zone{
		ID:        id,
		Kind:      KindLine,
		Points:    []Point{start, end},
		Threshold: DefaultThreshold,
		Anchors:   DefaultAnchors(),
	}
}

// DefaultThreshold is the minimum crossing threshold of a fresh zone.
const DefaultThreshold = 1

// Start returns the first endpoint of a line zone.
func (z Zone) Start() Point { return z.Points[0] }

// End returns the second endpoint of a line zone.
func (z Zone) End() Point { return z.Points[1] }

// Complete reports whether the zone may be persisted.
func (z Zone) Complete() bool {
	return z.validateShape() == nil
}

func (z Zone) validateShape() error {
	switch z.Kind {
	case KindPolygon:
		if len(z.Points) < MinPolygonVertices {
			return ErrTooFewVertices
		}
	case KindLine:
		if len(z.Points) != 2 {
			return fmt.Errorf("line needs exactly 2 points, got %d", len(z.Points))
		}
		if z.Points[0] == z.Points[1] {
			return ErrZeroLength
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, z.Kind)
	}
	return nil
}

// Validate checks shape, coordinate range, id and threshold.
func (z Zone) Validate() error {
	if z.ID == "" {
		return ErrEmptyID
	}
	if err := z.validateShape(); err != nil {
		return fmt.Errorf("zone %s: %w", z.ID, err)
	}
	for i, p := range z.Points {
		if !p.InRange() {
			return fmt.Errorf("zone %s point %d (%.3f,%.3f): %w", z.ID, i, p.X, p.Y, ErrOutOfRange)
		}
	}
	if z.Threshold <= 0 {
		return fmt.Errorf("zone %s: %w", z.ID, ErrThreshold)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (z Zone) Clone() Zone {
	c := z
	c.Points = slices.Clone(z.Points)
	c.Anchors = slices.Clone(z.Anchors)
	c.Counters = Counters{In: cloneInt(z.Counters.In), Out: cloneInt(z.Counters.Out), Current: cloneInt(z.Counters.Current)}
	return c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// Translate shifts every point by (dx, dy). The delta is limited so the
// whole shape stays inside the frame and keeps its form.
func (z Zone) Translate(dx, dy float64) Zone {
	if len(z.Points) == 0 {
		return z.Clone()
	}
	minX, minY, maxX, maxY := z.Bounds()
	dx = math.Max(-minX, math.Min(1-maxX, dx))
	dy = math.Max(-minY, math.Min(1-maxY, dy))

	c := z.Clone()
	for i := range c.Points {
		c.Points[i].X += dx
		c.Points[i].Y += dy
	}
	return c
}

// Bounds returns the axis-aligned bounding box of the zone points.
func (z Zone) Bounds() (minX, minY, maxX, maxY float64) {
	if len(z.Points) == 0 {
		return 0, 0, 0, 0
	}
	minX, minY = z.Points[0].X, z.Points[0].Y
	maxX, maxY = minX, minY
	for _, p := range z.Points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY
}
