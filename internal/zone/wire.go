package zone

import (
	"encoding/json"
	"fmt"
)

// wireZone is the JSON shape exchanged with the backend. Points are
// [x, y] pairs; lines use start/end, polygons use polygon.
type wireZone struct {
	ID                   string       `json:"id"`
	Type                 Kind         `json:"type"`
	Polygon              [][2]float64 `json:"polygon,omitempty"`
	Start                *[2]float64  `json:"start,omitempty"`
	End                  *[2]float64  `json:"end,omitempty"`
	MinCrossingThreshold int          `json:"min_crossing_threshold"`
	TriggeringAnchors    []Anchor     `json:"triggering_anchors"`
	InCount              *int         `json:"in_count,omitempty"`
	OutCount             *int         `json:"out_count,omitempty"`
	CurrentCount         *int         `json:"current_count,omitempty"`
	Provisional          bool         `json:"provisional,omitempty"`
}

func pair(p Point) [2]float64 { return [2]float64{p.X, p.Y} }

func fromPair(v [2]float64) Point { return Point{X: v[0], Y: v[1]} }

// MarshalJSON implements json.Marshaler.
func (z Zone) MarshalJSON() ([]byte, error) {
	w := wireZone{
		ID:                   z.ID,
		Type:                 z.Kind,
		MinCrossingThreshold: z.Threshold,
		TriggeringAnchors:    z.Anchors,
		InCount:              z.Counters.In,
		OutCount:             z.Counters.Out,
		CurrentCount:         z.Counters.Current,
		Provisional:          z.Provisional,
	}
	if w.TriggeringAnchors == nil {
		w.TriggeringAnchors = []Anchor{}
	}
	switch z.Kind {
	case KindLine:
		if len(z.Points) != 2 {
			return nil, fmt.Errorf("zone %s: line needs exactly 2 points, got %d", z.ID, len(z.Points))
		}
		start, end := pair(z.Points[0]), pair(z.Points[1])
		w.Start, w.End = &start, &end
	case KindPolygon:
		w.Polygon = make([][2]float64, len(z.Points))
		for i, p := range z.Points {
			w.Polygon[i] = pair(p)
		}
	default:
		return nil, fmt.Errorf("zone %s: %w: %q", z.ID, ErrUnknownKind, z.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. A missing type is inferred
// from the fields present.
func (z *Zone) UnmarshalJSON(data []byte) error {
	var w wireZone
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind := w.Type
	if kind == "" {
		if w.Start != nil || w.End != nil {
			kind = KindLine
		} else {
			kind = KindPolygon
		}
	}

	out := Zone{
		ID:          w.ID,
		Kind:        kind,
		Threshold:   w.MinCrossingThreshold,
		Anchors:     w.TriggeringAnchors,
		Counters:    Counters{In: w.InCount, Out: w.OutCount, Current: w.CurrentCount},
		Provisional: w.Provisional,
	}
	switch kind {
	case KindLine:
		if w.Start == nil || w.End == nil {
			return fmt.Errorf("zone %s: line requires start and end", w.ID)
		}
		out.Points = []Point{fromPair(*w.Start), fromPair(*w.End)}
	case KindPolygon:
		out.Points = make([]Point, len(w.Polygon))
		for i, v := range w.Polygon {
			out.Points[i] = fromPair(v)
		}
	default:
		return fmt.Errorf("zone %s: %w: %q", w.ID, ErrUnknownKind, kind)
	}
	for _, a := range out.Anchors {
		if _, err := ParseAnchor(string(a)); err != nil {
			return fmt.Errorf("zone %s: %w", w.ID, err)
		}
	}
	*z = out
	return nil
}
