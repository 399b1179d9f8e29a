package zone

import (
	"fmt"
	"slices"
	"strconv"
)

// List is an ordered zone collection. Index order is the drawing order and
// the hit-testing iteration order.
type List []Zone

// Clone deep-copies the list.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, z := range l {
		out[i] = z.Clone()
	}
	return out
}

// IndexOf returns the index of the zone with id, or -1.
func (l List) IndexOf(id string) int {
	return slices.IndexFunc(l, func(z Zone) bool { return z.ID == id })
}

// Persistable returns the complete zones only. Incomplete shapes are still
// being drawn and never leave the editor.
func (l List) Persistable() List {
	out := make(List, 0, len(l))
	for _, z := range l {
		if z.Complete() {
			out = append(out, z.Clone())
		}
	}
	return out
}

// Validate checks every zone and id uniqueness.
func (l List) Validate() error {
	seen := make(map[string]struct{}, len(l))
	for _, z := range l {
		if err := z.Validate(); err != nil {
			return err
		}
		if _, dup := seen[z.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, z.ID)
		}
		seen[z.ID] = struct{}{}
	}
	return nil
}

// Equal reports whether both lists hold the same geometry and fields.
func (l List) Equal(other List) bool {
	return slices.EqualFunc(l, other, func(a, b Zone) bool {
		return a.ID == b.ID &&
			a.Kind == b.Kind &&
			a.Threshold == b.Threshold &&
			a.Provisional == b.Provisional &&
			slices.Equal(a.Points, b.Points) &&
			slices.Equal(a.Anchors, b.Anchors)
	})
}

// provisionalPrefix is the prefix of locally generated ids.
const provisionalPrefix = "zone"

// NextProvisionalID returns the first "zone<n>" id, n >= start, not used in
// l, together with the n that follows it. Ids are only unique within l.
func (l List) NextProvisionalID(start int) (string, int) {
	if start < 1 {
		start = 1
	}
	for n := start; ; n++ {
		id := provisionalPrefix + strconv.Itoa(n)
		if l.IndexOf(id) < 0 {
			return id, n + 1
		}
	}
}

// ReplaceIDs renames zones according to mapping (old id -> new id) and
// clears the provisional mark of every renamed zone.
func (l List) ReplaceIDs(mapping map[string]string) List {
	out := l.Clone()
	for i := range out {
		if id, ok := mapping[out[i].ID]; ok {
			out[i].ID = id
			out[i].Provisional = false
		}
	}
	return out
}
