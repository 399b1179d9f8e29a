package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
	"gonum.org/v1/gonum/spatial/r2"
)

// painter fills anti-aliased paths onto dst. Each fill rasterizes only the
// bounding box of its paths.
type painter struct {
	dst *image.RGBA
	r   vector.Rasterizer
}

// fill draws the union of paths. Overlapping paths must share a winding
// direction.
func (p *painter) fill(col color.Color, paths ...[]r2.Vec) {
	box := image.Rectangle{}
	first := true
	for _, path := range paths {
		for _, v := range path {
			pt := image.Rect(int(math.Floor(v.X)), int(math.Floor(v.Y)), int(math.Ceil(v.X))+1, int(math.Ceil(v.Y))+1)
			if first {
				box, first = pt, false
			} else {
				box = box.Union(pt)
			}
		}
	}
	box = box.Intersect(p.dst.Bounds())
	if box.Empty() {
		return
	}

	p.r.Reset(box.Dx(), box.Dy())
	p.r.DrawOp = draw.Over
	ox, oy := float64(box.Min.X), float64(box.Min.Y)
	for _, path := range paths {
		if len(path) < 3 {
			continue
		}
		p.r.MoveTo(float32(path[0].X-ox), float32(path[0].Y-oy))
		for _, v := range path[1:] {
			p.r.LineTo(float32(v.X-ox), float32(v.Y-oy))
		}
		p.r.ClosePath()
	}
	p.r.Draw(p.dst, box, image.NewUniform(col), image.Point{})
}

// segment returns a quad covering a stroke of width w from a to b.
func segment(a, b r2.Vec, w float64) []r2.Vec {
	d := r2.Sub(b, a)
	l := r2.Norm(d)
	if l == 0 {
		return nil
	}
	n := r2.Scale(w/(2*l), r2.Vec{X: -d.Y, Y: d.X})
	return []r2.Vec{r2.Add(a, n), r2.Add(b, n), r2.Sub(b, n), r2.Sub(a, n)}
}

// circle approximates a disc with a 16-sided polygon.
func circle(c r2.Vec, radius float64) []r2.Vec {
	const sides = 16
	pts := make([]r2.Vec, sides)
	for i := range sides {
		a := 2 * math.Pi * float64(i) / sides
		pts[i] = r2.Vec{X: c.X + radius*math.Cos(a), Y: c.Y + radius*math.Sin(a)}
	}
	return pts
}

// stroke outlines pts with width w, closing the path when closed is set.
func (p *painter) stroke(col color.Color, pts []r2.Vec, w float64, closed bool) {
	if len(pts) < 2 {
		return
	}
	var quads, joins [][]r2.Vec
	n := len(pts) - 1
	if closed {
		n = len(pts)
	}
	for i := range n {
		if q := segment(pts[i], pts[(i+1)%len(pts)], w); q != nil {
			quads = append(quads, q)
		}
	}
	for _, v := range pts {
		joins = append(joins, circle(v, w/2))
	}
	p.fill(col, quads...)
	p.fill(col, joins...)
}

// dashed draws a dashed stroke from a to b.
func (p *painter) dashed(col color.Color, a, b r2.Vec, w, dash, gap float64) {
	d := r2.Sub(b, a)
	l := r2.Norm(d)
	if l == 0 {
		return
	}
	u := r2.Scale(1/l, d)
	var quads [][]r2.Vec
	for t := 0.0; t < l; t += dash + gap {
		end := math.Min(t+dash, l)
		if q := segment(r2.Add(a, r2.Scale(t, u)), r2.Add(a, r2.Scale(end, u)), w); q != nil {
			quads = append(quads, q)
		}
	}
	p.fill(col, quads...)
}
