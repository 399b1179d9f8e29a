package editor

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

var (
	ErrDrawInProgress = errors.New("a shape is already being drawn; complete or cancel it first")
	ErrBusy           = errors.New("a drag is in progress")
	ErrIndex          = errors.New("zone index out of range")
	ErrIncomplete     = errors.New("line needs an end point")
)

// Event drives the reducer. Pointer positions are in canvas pixels.
type Event interface{ isEvent() }

type (
	PointerDown  struct{ Pos r2.Vec }
	PointerMove  struct{ Pos r2.Vec }
	PointerUp    struct{ Pos r2.Vec }
	PointerLeave struct{}

	// StartDraw enters draw mode for a new shape of Kind.
	StartDraw struct{ Kind zone.Kind }
	// CompleteDraw finishes the draft without a closing click.
	CompleteDraw struct{}
	// CancelDraw discards the draft.
	CancelDraw struct{}

	// Resize rebuilds the coordinate mapper for the new canvas size.
	Resize struct{ Width, Height float64 }

	// SelectZone selects a zone from the list; Index -1 clears the selection.
	SelectZone   struct{ Index int }
	DeleteZone   struct{ Index int }
	SetThreshold struct{ Index, Value int }
	ToggleAnchor struct {
		Index  int
		Anchor zone.Anchor
	}
	RenameZone struct {
		Index int
		ID    string
	}
	// EditZone applies several panel fields to one zone as a single edit:
	// ID, then Threshold, then each toggle in order. Nil fields are left
	// alone. If any field is rejected none is applied.
	EditZone struct {
		Index     int
		ID        *string
		Threshold *int
		Toggle    []zone.Anchor
	}

	Undo struct{}
	Redo struct{}

	// ReplaceZones installs an authoritative list from the backend.
	ReplaceZones struct{ Zones zone.List }
	// ApplyIDs renames provisional ids to backend ids after a save.
	ApplyIDs struct{ Mapping map[string]string }
)

func (PointerDown) isEvent()  {}
func (PointerMove) isEvent()  {}
func (PointerUp) isEvent()    {}
func (PointerLeave) isEvent() {}
func (StartDraw) isEvent()    {}
func (CompleteDraw) isEvent() {}
func (CancelDraw) isEvent()   {}
func (Resize) isEvent()       {}
func (SelectZone) isEvent()   {}
func (DeleteZone) isEvent()   {}
func (SetThreshold) isEvent() {}
func (ToggleAnchor) isEvent() {}
func (RenameZone) isEvent()   {}
func (EditZone) isEvent()     {}
func (Undo) isEvent()         {}
func (Redo) isEvent()         {}
func (ReplaceZones) isEvent() {}
func (ApplyIDs) isEvent()     {}

// Effect is an instruction for the owner of the model.
type Effect interface{ isEffect() }

type (
	// Edited carries a candidate zone list. Live candidates come from an
	// ongoing drag and go through the throttler; the others are committed
	// edits to propagate right away.
	Edited struct {
		Zones zone.List
		Live  bool
	}
	// DragStarted is emitted when a drag begins.
	DragStarted struct{}
	// DragEnded is emitted on pointer-up or pointer-leave while dragging.
	// The owner must flush any pending throttled candidate synchronously.
	DragEnded struct{}
	// Rejected reports input that was refused without changing zones.
	Rejected struct{ Err error }
)

func (Edited) isEffect()      {}
func (DragStarted) isEffect() {}
func (DragEnded) isEffect()   {}
func (Rejected) isEffect()    {}
