// Package render rasterizes the editor canvas: background frame, zones,
// the shape being drawn and its caption.
package render

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/geometry"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// DefaultPlaceholder is shown when no background frame is loaded.
const DefaultPlaceholder = "No frame available"

// Draft is a shape being drawn.
type Draft struct {
	Kind   zone.Kind
	Points []zone.Point
	// Cursor is the last pointer position, for the rubber-band segment.
	Cursor *zone.Point
}

// Scene is everything a frame depends on. Render draws it from scratch.
type Scene struct {
	Zones          zone.List
	Selected       int
	SelectedVertex int
	Hover          geometry.Hit
	Hovering       bool
	Draft          *Draft
	Placeholder    string
	HandleRadius   float64
}

var (
	colorBackdrop = color.RGBA{R: 32, G: 32, B: 36, A: 255}
	colorNormal   = color.RGBA{R: 0, G: 200, B: 83, A: 255}
	colorSelected = color.RGBA{R: 255, G: 152, B: 0, A: 255}
	colorHovered  = color.RGBA{R: 0, G: 188, B: 212, A: 255}
	colorDraft    = color.RGBA{R: 233, G: 30, B: 99, A: 255}
	colorHandle   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorLabelBg  = color.RGBA{R: 0, G: 0, B: 0, A: 160}
	colorText     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	strokeWidth = 2.0
	fillAlpha   = 0x3c
)

// Render clears dst and draws s over bg. A nil bg draws the placeholder.
func Render(dst *image.RGBA, bg image.Image, s Scene) {
	b := dst.Bounds()
	draw.Draw(dst, b, image.NewUniform(colorBackdrop), image.Point{}, draw.Src)
	if bg != nil {
		draw.ApproxBiLinear.Scale(dst, b, bg, bg.Bounds(), draw.Src, nil)
	} else {
		msg := s.Placeholder
		if msg == "" {
			msg = DefaultPlaceholder
		}
		centeredText(dst, msg)
	}

	m := geometry.NewMapper(float64(b.Dx()), float64(b.Dy()))
	origin := r2.Vec{X: float64(b.Min.X), Y: float64(b.Min.Y)}
	place := func(pts []zone.Point) []r2.Vec {
		out := m.ToCanvasAll(pts)
		for i := range out {
			out[i] = r2.Add(out[i], origin)
		}
		return out
	}
	radius := s.HandleRadius
	if radius <= 0 {
		radius = 5
	}
	p := &painter{dst: dst}

	for i, z := range s.Zones {
		pts := place(z.Points)
		if len(pts) == 0 {
			continue
		}
		col := colorNormal
		switch {
		case i == s.Selected:
			col = colorSelected
		case s.Hovering && s.Hover.Zone == i:
			col = colorHovered
		}
		drawZone(p, z, pts, col)

		for j, v := range pts {
			r := radius
			fillCol := color.Color(col)
			if s.Hovering && s.Hover.Zone == i && s.Hover.Vertex == j {
				r *= 1.4
			}
			if i == s.Selected && j == s.SelectedVertex {
				fillCol = colorHandle
			}
			p.fill(colorHandle, circle(v, r+1))
			p.fill(fillCol, circle(v, r-1))
		}
		label(dst, pts[0], zoneLabel(z))
	}

	if s.Draft != nil {
		var cursor *r2.Vec
		if s.Draft.Cursor != nil {
			c := place([]zone.Point{*s.Draft.Cursor})[0]
			cursor = &c
		}
		drawDraft(p, s.Draft.Kind, place(s.Draft.Points), cursor, radius)
		caption(dst, Caption(s.Draft.Kind, len(s.Draft.Points)))
	}
}

func drawZone(p *painter, z zone.Zone, pts []r2.Vec, col color.RGBA) {
	if len(pts) == 0 {
		return
	}
	if z.Kind == zone.KindPolygon && len(pts) >= 3 {
		fill := col
		fill.A = fillAlpha
		p.fill(premultiply(fill), pts)
	}
	p.stroke(col, pts, strokeWidth, z.Kind == zone.KindPolygon)
}

func drawDraft(p *painter, kind zone.Kind, pts []r2.Vec, cursor *r2.Vec, radius float64) {
	p.stroke(colorDraft, pts, strokeWidth, false)
	if cursor != nil && len(pts) > 0 {
		p.dashed(colorDraft, pts[len(pts)-1], *cursor, strokeWidth, 6, 4)
	}
	for i, v := range pts {
		r := radius
		// The closing target.
		if i == 0 && kind == zone.KindPolygon && len(pts) >= zone.MinPolygonVertices {
			r *= 1.6
		}
		p.fill(colorDraft, circle(v, r))
	}
}

// premultiply converts a non-premultiplied colour for use as a draw source.
func premultiply(c color.RGBA) color.RGBA {
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 0xff),
		G: uint8(uint32(c.G) * a / 0xff),
		B: uint8(uint32(c.B) * a / 0xff),
		A: c.A,
	}
}

func zoneLabel(z zone.Zone) string {
	s := z.ID
	if z.Provisional {
		s += "*"
	}
	c := z.Counters
	if c.In != nil || c.Out != nil || c.Current != nil {
		s += fmt.Sprintf(" in:%s out:%s now:%s", count(c.In), count(c.Out), count(c.Current))
	}
	return s
}

func count(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

var face = basicfont.Face7x13

// label draws text on a translucent box just above and right of at, kept
// inside dst.
func label(dst *image.RGBA, at r2.Vec, text string) {
	if text == "" {
		return
	}
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(colorText), Face: face}
	w := d.MeasureString(text).Ceil()
	h := face.Metrics().Height.Ceil()
	b := dst.Bounds()

	x, y := int(at.X)+6, int(at.Y)-6-h
	x = max(b.Min.X, min(x, b.Max.X-w-4))
	y = max(b.Min.Y, min(y, b.Max.Y-h-4))
	box := image.Rect(x, y, x+w+4, y+h+4)
	draw.Draw(dst, box, image.NewUniform(colorLabelBg), image.Point{}, draw.Over)
	d.Dot = fixed.P(x+2, y+2+face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}

func caption(dst *image.RGBA, text string) {
	b := dst.Bounds()
	label(dst, r2.Vec{X: float64(b.Min.X) + 2, Y: float64(b.Max.Y)}, text)
}

func centeredText(dst *image.RGBA, text string) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(colorText), Face: face}
	w := d.MeasureString(text).Ceil()
	b := dst.Bounds()
	ascent := face.Metrics().Ascent.Ceil()
	d.Dot = fixed.P(b.Min.X+(b.Dx()-w)/2, b.Min.Y+(b.Dy()+ascent)/2)
	d.DrawString(text)
}

// Caption is the instruction shown while a shape of kind with n points is
// being drawn.
func Caption(kind zone.Kind, n int) string {
	if kind == zone.KindLine {
		if n == 0 {
			return "Click to set the line start"
		}
		return "Click to set the line end"
	}
	switch {
	case n == 0:
		return "Click to start drawing"
	case n < zone.MinPolygonVertices:
		return fmt.Sprintf("Need at least %d points (%d so far)", zone.MinPolygonVertices, n)
	default:
		return "Click the first point to close"
	}
}
