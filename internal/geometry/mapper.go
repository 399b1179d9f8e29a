// Package geometry maps between canvas pixels and normalized zone space and
// decides what lies under the cursor.
package geometry

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// Mapper converts between canvas pixel space and normalized zone space for
// one canvas size. It is a value: a resize produces a new Mapper, so a stale
// size can never leak into a conversion made after the resize.
type Mapper struct {
	width  float64
	height float64
}

// NewMapper returns a mapper for a width x height canvas. Dimensions below
// one pixel are raised to one.
func NewMapper(width, height float64) Mapper {
	return Mapper{width: max(width, 1), height: max(height, 1)}
}

// Width returns the canvas width in pixels.
func (m Mapper) Width() float64 { return m.width }

// Height returns the canvas height in pixels.
func (m Mapper) Height() float64 { return m.height }

// ToNormalized converts a canvas position to zone space, clamped to [0,1].
func (m Mapper) ToNormalized(p r2.Vec) zone.Point {
	return zone.Point{X: p.X / m.width, Y: p.Y / m.height}.Clamp()
}

// ToCanvas converts a normalized point to canvas pixels.
func (m Mapper) ToCanvas(p zone.Point) r2.Vec {
	return r2.Vec{X: p.X * m.width, Y: p.Y * m.height}
}

// ToCanvasAll converts a slice of normalized points.
func (m Mapper) ToCanvasAll(pts []zone.Point) []r2.Vec {
	out := make([]r2.Vec, len(pts))
	for i, p := range pts {
		out[i] = m.ToCanvas(p)
	}
	return out
}
