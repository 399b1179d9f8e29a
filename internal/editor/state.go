// Package editor implements the zone editor's interaction state machine as a
// pure reducer: Reduce(model, event) returns the next model and the effects
// the caller must carry out (throttled propagation, flushes, rejections).
// Nothing in this package draws, sleeps or performs I/O.
package editor

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// State is the interaction state. It is one of Idle, Drawing,
// DraggingVertex or DraggingShape.
type State interface {
	isState()
	Name() string
}

// Idle is the select/edit state.
type Idle struct{}

// Drawing buffers the points of a shape being drawn.
type Drawing struct {
	Kind   zone.Kind
	Points []zone.Point
}

// DraggingVertex moves one vertex (or line endpoint) of a zone.
type DraggingVertex struct {
	Zone   int
	Vertex int
	Moved  bool
	Origin zone.List // zone list at pointer-down, pushed to history on release
}

// DraggingShape moves a whole zone.
type DraggingShape struct {
	Zone   int
	Last   zone.Point
	Moved  bool
	Origin zone.List
}

func (Idle) isState()           {}
func (Drawing) isState()        {}
func (DraggingVertex) isState() {}
func (DraggingShape) isState()  {}

func (Idle) Name() string           { return "idle" }
func (Drawing) Name() string        { return "drawing" }
func (DraggingVertex) Name() string { return "dragging_vertex" }
func (DraggingShape) Name() string  { return "dragging_shape" }

// IsDragging reports whether s is one of the dragging states.
func IsDragging(s State) bool {
	switch s.(type) {
	case DraggingVertex, DraggingShape:
		return true
	}
	return false
}
