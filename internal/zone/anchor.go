package zone

import (
	"fmt"
	"slices"
)

// Anchor names the reference point of a detection box that must cross or
// enter a zone to be counted.
type Anchor string

const (
	AnchorBottomLeft   Anchor = "BOTTOM_LEFT"
	AnchorBottomRight  Anchor = "BOTTOM_RIGHT"
	AnchorCenter       Anchor = "CENTER"
	AnchorTopLeft      Anchor = "TOP_LEFT"
	AnchorTopRight     Anchor = "TOP_RIGHT"
	AnchorBottomCenter Anchor = "BOTTOM_CENTER"
)

// AllAnchors lists every anchor in panel display order.
var AllAnchors = []Anchor{
	AnchorBottomLeft,
	AnchorBottomRight,
	AnchorCenter,
	AnchorTopLeft,
	AnchorTopRight,
	AnchorBottomCenter,
}

// DefaultAnchors returns the anchors assigned to freshly drawn zones.
func DefaultAnchors() []Anchor {
	return []Anchor{AnchorBottomCenter, AnchorCenter}
}

// ParseAnchor validates an anchor tag.
func ParseAnchor(s string) (Anchor, error) {
	a := Anchor(s)
	if !slices.Contains(AllAnchors, a) {
		return "", fmt.Errorf("unknown triggering anchor %q", s)
	}
	return a, nil
}

// ToggleAnchor adds a when absent and removes it when present. The input
// slice is not modified.
func ToggleAnchor(anchors []Anchor, a Anchor) []Anchor {
	if i := slices.Index(anchors, a); i >= 0 {
		return slices.Delete(slices.Clone(anchors), i, i+1)
	}
	return append(slices.Clone(anchors), a)
}
