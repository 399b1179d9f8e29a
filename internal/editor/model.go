package editor

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/geometry"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// NoSelection marks an empty zone or vertex selection.
const NoSelection = -1

// Model is the whole editor session state. Treat it as immutable: Reduce
// returns a new Model and never modifies the zone slices of its input.
type Model struct {
	Zones zone.List

	// Selected is the selected zone index. SelectedVertex is only
	// meaningful while Selected is set.
	Selected       int
	SelectedVertex int

	// Hover is what the pointer rests on while idle.
	Hover    geometry.Hit
	Hovering bool

	State State

	// Cursor is the last pointer position, used for the draft preview.
	Cursor    *zone.Point
	Mapper    geometry.Mapper
	Tolerance geometry.Tolerance

	History History

	nextID int
}

// New returns an idle model over zones for a width x height canvas.
func New(zones zone.List, width, height float64, tol geometry.Tolerance) Model {
	return Model{
		Zones:          zones.Clone(),
		Selected:       NoSelection,
		SelectedVertex: NoSelection,
		Hover:          geometry.Hit{Zone: NoSelection, Vertex: NoSelection},
		State:          Idle{},
		Mapper:         geometry.NewMapper(width, height),
		Tolerance:      tol,
		nextID:         1,
	}
}

// Dragging reports whether a drag is in progress.
func (m Model) Dragging() bool { return IsDragging(m.State) }

// Draft returns the draft being drawn, if any.
func (m Model) Draft() (Drawing, bool) {
	d, ok := m.State.(Drawing)
	return d, ok
}

// SelectedZone returns the selected zone, if any.
func (m Model) SelectedZone() (zone.Zone, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Zones) {
		return zone.Zone{}, false
	}
	return m.Zones[m.Selected], true
}

func (m Model) clearSelection() Model {
	m.Selected = NoSelection
	m.SelectedVertex = NoSelection
	return m
}

func (m Model) clearHover() Model {
	m.Hover = geometry.Hit{Zone: NoSelection, Vertex: NoSelection}
	m.Hovering = false
	return m
}

func (m Model) validIndex(i int) bool {
	return i >= 0 && i < len(m.Zones)
}

// selectByID points the selection at id in the current list, or clears it.
func (m Model) selectByID(id string) Model {
	if id == "" {
		return m.clearSelection()
	}
	i := m.Zones.IndexOf(id)
	if i < 0 {
		return m.clearSelection()
	}
	if i != m.Selected {
		m.SelectedVertex = NoSelection
	}
	m.Selected = i
	if m.SelectedVertex >= len(m.Zones[i].Points) {
		m.SelectedVertex = NoSelection
	}
	return m
}
