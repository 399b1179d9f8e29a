package editor

import (
	"slices"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// maxHistory bounds the undo stack.
const maxHistory = 50

// History keeps zone-list snapshots for undo and redo. It is a value and
// every method returns a new History; the stacks are never shared mutably
// between two models.
type History struct {
	undo []zone.List
	redo []zone.List
}

// Commit records the list as it was before an edit and clears redo.
func (h History) Commit(before zone.List) History {
	undo := append(slices.Clone(h.undo), before.Clone())
	if len(undo) > maxHistory {
		undo = undo[len(undo)-maxHistory:]
	}
	return History{undo: undo}
}

// Undo returns the previous list and the history with current on redo.
func (h History) Undo(current zone.List) (zone.List, History, bool) {
	if len(h.undo) == 0 {
		return nil, h, false
	}
	prev := h.undo[len(h.undo)-1]
	return prev.Clone(), History{
		undo: slices.Clone(h.undo[:len(h.undo)-1]),
		redo: append(slices.Clone(h.redo), current.Clone()),
	}, true
}

// Redo is the inverse of Undo.
func (h History) Redo(current zone.List) (zone.List, History, bool) {
	if len(h.redo) == 0 {
		return nil, h, false
	}
	next := h.redo[len(h.redo)-1]
	return next.Clone(), History{
		undo: append(slices.Clone(h.undo), current.Clone()),
		redo: slices.Clone(h.redo[:len(h.redo)-1]),
	}, true
}

// CanUndo returns true if there are snapshots to undo.
func (h History) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo returns true if there are snapshots to redo.
func (h History) CanRedo() bool { return len(h.redo) > 0 }

// ReplaceIDs renames ids inside every snapshot.
func (h History) ReplaceIDs(mapping map[string]string) History {
	rename := func(stack []zone.List) []zone.List {
		out := make([]zone.List, len(stack))
		for i, l := range stack {
			out[i] = l.ReplaceIDs(mapping)
		}
		return out
	}
	return History{undo: rename(h.undo), redo: rename(h.redo)}
}
