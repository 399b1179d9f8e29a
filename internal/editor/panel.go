package editor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// Row is one line of the zone list / property panel.
type Row struct {
	Index     int           `json:"index"`
	ID        string        `json:"id"`
	Kind      zone.Kind     `json:"type"`
	Threshold int           `json:"min_crossing_threshold"`
	Anchors   []AnchorChip  `json:"anchors"`
	Counters  zone.Counters `json:"counters"`
	Selected  bool          `json:"selected"`
	Unsaved   bool          `json:"unsaved"`
}

// AnchorChip is one toggle chip of the anchor multi-select.
type AnchorChip struct {
	Anchor zone.Anchor `json:"anchor"`
	Active bool        `json:"active"`
}

// Rows renders the panel rows for m.
func Rows(m Model) []Row {
	rows := make([]Row, len(m.Zones))
	for i, z := range m.Zones {
		chips := make([]AnchorChip, len(zone.AllAnchors))
		for j, a := range zone.AllAnchors {
			chips[j] = AnchorChip{Anchor: a, Active: slices.Contains(z.Anchors, a)}
		}
		rows[i] = Row{
			Index:     i,
			ID:        z.ID,
			Kind:      z.Kind,
			Threshold: z.Threshold,
			Anchors:   chips,
			Counters:  z.Counters,
			Selected:  i == m.Selected,
			Unsaved:   z.Provisional,
		}
	}
	return rows
}

func selectZone(m Model, i int) (Model, []Effect) {
	if m.Dragging() {
		return reject(m, ErrBusy)
	}
	if i == NoSelection {
		return m.clearSelection(), nil
	}
	if !m.validIndex(i) {
		return reject(m, fmt.Errorf("%w: %d", ErrIndex, i))
	}
	if i != m.Selected {
		m.SelectedVertex = NoSelection
	}
	m.Selected = i
	return m, nil
}

// edit applies fn to a copy of zone i and commits the result.
func edit(m Model, i int, fn func(z *zone.Zone) error) (Model, []Effect) {
	if m.Dragging() {
		return reject(m, ErrBusy)
	}
	if !m.validIndex(i) {
		return reject(m, fmt.Errorf("%w: %d", ErrIndex, i))
	}
	zones := m.Zones.Clone()
	if err := fn(&zones[i]); err != nil {
		return reject(m, err)
	}
	m.History = m.History.Commit(m.Zones)
	m.Zones = zones
	return m, []Effect{Edited{Zones: zones.Clone()}}
}

func setThreshold(m Model, i, v int) (Model, []Effect) {
	return edit(m, i, thresholdField(v))
}

func toggleAnchor(m Model, i int, a zone.Anchor) (Model, []Effect) {
	return edit(m, i, anchorField(a))
}

func renameZone(m Model, i int, id string) (Model, []Effect) {
	return edit(m, i, idField(m.Zones, i, id))
}

func editZone(m Model, ev EditZone) (Model, []Effect) {
	var fields []func(*zone.Zone) error
	if ev.ID != nil {
		fields = append(fields, idField(m.Zones, ev.Index, *ev.ID))
	}
	if ev.Threshold != nil {
		fields = append(fields, thresholdField(*ev.Threshold))
	}
	for _, a := range ev.Toggle {
		fields = append(fields, anchorField(a))
	}
	return edit(m, ev.Index, func(z *zone.Zone) error {
		for _, apply := range fields {
			if err := apply(z); err != nil {
				return err
			}
		}
		return nil
	})
}

func thresholdField(v int) func(*zone.Zone) error {
	return func(z *zone.Zone) error {
		if v <= 0 {
			return zone.ErrThreshold
		}
		z.Threshold = v
		return nil
	}
}

func anchorField(a zone.Anchor) func(*zone.Zone) error {
	return func(z *zone.Zone) error {
		if _, err := zone.ParseAnchor(string(a)); err != nil {
			return err
		}
		z.Anchors = zone.ToggleAnchor(z.Anchors, a)
		return nil
	}
}

func idField(zones zone.List, i int, id string) func(*zone.Zone) error {
	id = strings.TrimSpace(id)
	return func(z *zone.Zone) error {
		if id == "" {
			return zone.ErrEmptyID
		}
		if j := zones.IndexOf(id); j >= 0 && j != i {
			return fmt.Errorf("%w: %s", zone.ErrDuplicateID, id)
		}
		z.ID = id
		z.Provisional = false
		return nil
	}
}

// deleteZone removes zone i and keeps the selection on the same zone: a
// selection after i shifts down by one, a selection of i is cleared.
func deleteZone(m Model, i int) (Model, []Effect) {
	if m.Dragging() {
		return reject(m, ErrBusy)
	}
	if !m.validIndex(i) {
		return reject(m, fmt.Errorf("%w: %d", ErrIndex, i))
	}
	zones := slices.Delete(m.Zones.Clone(), i, i+1)
	m.History = m.History.Commit(m.Zones)
	m.Zones = zones

	switch {
	case m.Selected == i:
		m = m.clearSelection()
	case m.Selected > i:
		m.Selected--
	}
	m = m.clearHover()
	return m, []Effect{Edited{Zones: zones.Clone()}}
}

func undoRedo(m Model, undo bool) (Model, []Effect) {
	if m.Dragging() {
		return reject(m, ErrBusy)
	}
	var (
		zones zone.List
		h     History
		ok    bool
	)
	if undo {
		zones, h, ok = m.History.Undo(m.Zones)
	} else {
		zones, h, ok = m.History.Redo(m.Zones)
	}
	if !ok {
		return m, nil
	}

	selectedID := ""
	if z, ok := m.SelectedZone(); ok {
		selectedID = z.ID
	}
	m.Zones, m.History = zones, h
	m = m.selectByID(selectedID).clearHover()
	return m, []Effect{Edited{Zones: zones.Clone()}}
}

// replaceZones installs a backend list. The selection follows the selected
// zone's id and the undo history is dropped, since snapshots predating an
// authoritative refresh could resurrect zones the backend removed.
func replaceZones(m Model, zones zone.List) (Model, []Effect) {
	if m.Dragging() {
		return reject(m, ErrBusy)
	}
	selectedID := ""
	if z, ok := m.SelectedZone(); ok {
		selectedID = z.ID
	}
	m.Zones = zones.Clone()
	m.History = History{}
	m = m.selectByID(selectedID).clearHover()
	return m, nil
}

func applyIDs(m Model, mapping map[string]string) Model {
	if len(mapping) == 0 {
		return m
	}
	m.Zones = m.Zones.ReplaceIDs(mapping)
	m.History = m.History.ReplaceIDs(mapping)
	switch s := m.State.(type) {
	case DraggingVertex:
		s.Origin = s.Origin.ReplaceIDs(mapping)
		m.State = s
	case DraggingShape:
		s.Origin = s.Origin.ReplaceIDs(mapping)
		m.State = s
	}
	return m
}
