package editor

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/geometry"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// Reduce applies ev to m. Rejected input leaves the zone list and the
// interaction state unchanged and is reported through a Rejected effect.
func Reduce(m Model, ev Event) (Model, []Effect) {
	switch ev := ev.(type) {
	case PointerDown:
		return pointerDown(m, ev.Pos)
	case PointerMove:
		return pointerMove(m, ev.Pos)
	case PointerUp, PointerLeave:
		return pointerRelease(m, ev)
	case StartDraw:
		return startDraw(m, ev.Kind)
	case CompleteDraw:
		return completeDraw(m)
	case CancelDraw:
		if _, ok := m.State.(Drawing); ok {
			m.State = Idle{}
			m.Cursor = nil
		}
		return m, nil
	case Resize:
		m.Mapper = geometry.NewMapper(ev.Width, ev.Height)
		return m, nil
	case SelectZone:
		return selectZone(m, ev.Index)
	case DeleteZone:
		return deleteZone(m, ev.Index)
	case SetThreshold:
		return setThreshold(m, ev.Index, ev.Value)
	case ToggleAnchor:
		return toggleAnchor(m, ev.Index, ev.Anchor)
	case RenameZone:
		return renameZone(m, ev.Index, ev.ID)
	case EditZone:
		return editZone(m, ev)
	case Undo:
		return undoRedo(m, true)
	case Redo:
		return undoRedo(m, false)
	case ReplaceZones:
		return replaceZones(m, ev.Zones)
	case ApplyIDs:
		return applyIDs(m, ev.Mapping), nil
	default:
		return m, []Effect{Rejected{Err: fmt.Errorf("unknown event %T", ev)}}
	}
}

func reject(m Model, err error) (Model, []Effect) {
	return m, []Effect{Rejected{Err: err}}
}

func pointerDown(m Model, pos r2.Vec) (Model, []Effect) {
	switch s := m.State.(type) {
	case Drawing:
		return drawClick(m, s, pos)
	case DraggingVertex, DraggingShape:
		// A second button while dragging; the drag ends on release.
		return m, nil
	}

	hit, ok := geometry.HitTest(pos, m.Zones, m.Mapper, m.Tolerance)
	if !ok {
		return m.clearSelection(), nil
	}

	m.Selected = hit.Zone
	m = m.clearHover()
	if hit.IsVertex() {
		m.SelectedVertex = hit.Vertex
		m.State = DraggingVertex{Zone: hit.Zone, Vertex: hit.Vertex, Origin: m.Zones}
	} else {
		m.SelectedVertex = NoSelection
		m.State = DraggingShape{Zone: hit.Zone, Last: m.Mapper.ToNormalized(pos), Origin: m.Zones}
	}
	return m, []Effect{DragStarted{}}
}

func pointerMove(m Model, pos r2.Vec) (Model, []Effect) {
	p := m.Mapper.ToNormalized(pos)
	m.Cursor = &p

	switch s := m.State.(type) {
	case Idle:
		hit, ok := geometry.HitTest(pos, m.Zones, m.Mapper, m.Tolerance)
		m.Hover, m.Hovering = hit, ok
		return m, nil

	case Drawing:
		return m, nil

	case DraggingVertex:
		zones := m.Zones.Clone()
		zones[s.Zone].Points[s.Vertex] = p
		s.Moved = true
		m.Zones, m.State = zones, s
		return m, []Effect{Edited{Zones: zones.Clone(), Live: true}}

	case DraggingShape:
		zones := m.Zones.Clone()
		zones[s.Zone] = zones[s.Zone].Translate(p.X-s.Last.X, p.Y-s.Last.Y)
		s.Last = p
		s.Moved = true
		m.Zones, m.State = zones, s
		return m, []Effect{Edited{Zones: zones.Clone(), Live: true}}
	}
	return m, nil
}

// pointerRelease ends a drag. A pointer-up away from the last move is
// applied as a final move first, so the flushed candidate holds the release
// position. Pointer-leave carries no position and ends the drag in place.
func pointerRelease(m Model, ev Event) (Model, []Effect) {
	var effs []Effect
	if up, ok := ev.(PointerUp); ok && releaseMoves(m, up.Pos) {
		m, effs = pointerMove(m, up.Pos)
	}

	var moved bool
	var origin zone.List
	switch s := m.State.(type) {
	case DraggingVertex:
		moved, origin = s.Moved, s.Origin
	case DraggingShape:
		moved, origin = s.Moved, s.Origin
	default:
		if _, leave := ev.(PointerLeave); leave {
			m = m.clearHover()
			if _, drawing := m.State.(Drawing); !drawing {
				m.Cursor = nil
			}
		}
		return m, nil
	}

	m.State = Idle{}
	if moved {
		m.History = m.History.Commit(origin)
	}
	return m, append(effs, DragEnded{})
}

// releaseMoves reports whether releasing at pos changes the dragged geometry.
func releaseMoves(m Model, pos r2.Vec) bool {
	p := m.Mapper.ToNormalized(pos)
	switch s := m.State.(type) {
	case DraggingVertex:
		return m.Zones[s.Zone].Points[s.Vertex] != p
	case DraggingShape:
		return s.Last != p
	}
	return false
}

func startDraw(m Model, kind zone.Kind) (Model, []Effect) {
	if kind != zone.KindPolygon && kind != zone.KindLine {
		return reject(m, fmt.Errorf("%w: %q", zone.ErrUnknownKind, kind))
	}
	switch s := m.State.(type) {
	case DraggingVertex, DraggingShape:
		return reject(m, ErrBusy)
	case Drawing:
		if len(s.Points) > 0 {
			return reject(m, ErrDrawInProgress)
		}
	}
	m = m.clearSelection().clearHover()
	m.State = Drawing{Kind: kind}
	return m, nil
}

func drawClick(m Model, d Drawing, pos r2.Vec) (Model, []Effect) {
	p := m.Mapper.ToNormalized(pos)

	if d.Kind == zone.KindLine {
		if len(d.Points) == 0 {
			m.State = Drawing{Kind: d.Kind, Points: []zone.Point{p}}
			return m, nil
		}
		if p == d.Points[0] {
			return reject(m, zone.ErrZeroLength)
		}
		return finish(m, zone.NewLine("", d.Points[0], p))
	}

	if geometry.ClosesDraft(pos, d.Points, m.Mapper, m.Tolerance) {
		if len(d.Points) < zone.MinPolygonVertices {
			return reject(m, zone.ErrTooFewVertices)
		}
		return finish(m, zone.NewPolygon("", d.Points))
	}

	points := make([]zone.Point, len(d.Points), len(d.Points)+1)
	copy(points, d.Points)
	m.State = Drawing{Kind: d.Kind, Points: append(points, p)}
	return m, nil
}

func completeDraw(m Model) (Model, []Effect) {
	d, ok := m.State.(Drawing)
	if !ok {
		return m, nil
	}
	switch d.Kind {
	case zone.KindLine:
		if len(d.Points) < 2 {
			return reject(m, ErrIncomplete)
		}
		return finish(m, zone.NewLine("", d.Points[0], d.Points[1]))
	default:
		if len(d.Points) < zone.MinPolygonVertices {
			return reject(m, zone.ErrTooFewVertices)
		}
		return finish(m, zone.NewPolygon("", d.Points))
	}
}

// finish appends a completed draft with a provisional id and selects it.
func finish(m Model, z zone.Zone) (Model, []Effect) {
	id, next := m.Zones.NextProvisionalID(m.nextID)
	z.ID, z.Provisional = id, true
	m.nextID = next

	before := m.Zones
	zones := append(m.Zones.Clone(), z)
	m.History = m.History.Commit(before)
	m.Zones = zones
	m.State = Idle{}
	m.Cursor = nil
	m.Selected = len(zones) - 1
	m.SelectedVertex = NoSelection
	return m, []Effect{Edited{Zones: zones.Clone()}}
}
