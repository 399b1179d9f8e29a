package session

import (
	"image"
	"math"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/bridge"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/editor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/render"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// HoverState is the zone or vertex under the idle pointer.
type HoverState struct {
	Zone   int `json:"zone"`
	Vertex int `json:"vertex"`
}

// DraftState is the shape being drawn.
type DraftState struct {
	Kind    zone.Kind    `json:"type"`
	Points  [][2]float64 `json:"points"`
	Caption string       `json:"caption"`
}

// Snapshot is the JSON view of a session sent to dashboard clients.
type Snapshot struct {
	Source         string         `json:"source"`
	Version        uint64         `json:"version"`
	Mode           string         `json:"mode"`
	Zones          zone.List      `json:"zones"`
	Panel          []editor.Row   `json:"panel"`
	Selected       int            `json:"selected"`
	SelectedVertex int            `json:"selected_vertex"`
	Hover          *HoverState    `json:"hover"`
	Draft          *DraftState    `json:"draft"`
	Unsaved        bool           `json:"unsaved"`
	Dragging       bool           `json:"dragging"`
	CanUndo        bool           `json:"can_undo"`
	CanRedo        bool           `json:"can_redo"`
	Background     bool           `json:"background_loaded"`
	Banner         *bridge.Banner `json:"banner"`
	Canvas         [2]int         `json:"canvas"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Snapshot captures the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	m := s.model
	version, hasBg := s.version, s.bg != nil
	s.mu.Unlock()

	zones := m.Zones.Clone()
	if zones == nil {
		zones = zone.List{}
	}
	snap := Snapshot{
		Source:         s.source,
		Version:        version,
		Mode:           m.State.Name(),
		Zones:          zones,
		Panel:          editor.Rows(m),
		Selected:       m.Selected,
		SelectedVertex: m.SelectedVertex,
		Unsaved:        s.bridge.Unsaved(),
		Dragging:       m.Dragging(),
		CanUndo:        m.History.CanUndo(),
		CanRedo:        m.History.CanRedo(),
		Background:     hasBg,
		Banner:         s.bridge.Banner(),
		Canvas:         canvasSize(m),
		Timestamp:      time.Now(),
	}
	if m.Hovering {
		snap.Hover = &HoverState{Zone: m.Hover.Zone, Vertex: m.Hover.Vertex}
	}
	if d, ok := m.Draft(); ok {
		pts := make([][2]float64, len(d.Points))
		for i, p := range d.Points {
			pts[i] = [2]float64{p.X, p.Y}
		}
		snap.Draft = &DraftState{Kind: d.Kind, Points: pts, Caption: render.Caption(d.Kind, len(d.Points))}
	}
	return snap
}

// canvasSize is the pixel size the operator's pointer positions refer to.
// It follows the last resize, so clicks and renders share one mapping.
func canvasSize(m editor.Model) [2]int {
	return [2]int{int(math.Round(m.Mapper.Width())), int(math.Round(m.Mapper.Height()))}
}

func (s *Session) scene() (render.Scene, [2]int, image.Image, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.model
	sc := render.Scene{
		Zones:          m.Zones,
		Selected:       m.Selected,
		SelectedVertex: m.SelectedVertex,
		Hover:          m.Hover,
		Hovering:       m.Hovering,
		HandleRadius:   s.cfg.HandleRadius,
	}
	if d, ok := m.Draft(); ok {
		sc.Draft = &render.Draft{Kind: d.Kind, Points: d.Points, Cursor: m.Cursor}
	}
	return sc, canvasSize(m), s.bg, s.version
}

// Render draws the canvas into a new image at the current canvas size.
func (s *Session) Render() *image.RGBA {
	sc, size, bg, _ := s.scene()
	dst := image.NewRGBA(image.Rect(0, 0, size[0], size[1]))
	start := time.Now()
	render.Render(dst, bg, sc)
	if s.metrics != nil {
		s.metrics.UpdateRenderLatency(time.Since(start))
	}
	return dst
}

// JPEG returns the canvas encoded as JPEG. The encoding is reused until the
// next visible change.
func (s *Session) JPEG() ([]byte, error) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	_, _, _, version := s.scene()
	if s.frame != nil && s.frameVersion == version {
		return s.frame, nil
	}
	data, err := render.EncodeJPEG(s.Render(), s.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	s.frame, s.frameVersion = data, version
	return data, nil
}
