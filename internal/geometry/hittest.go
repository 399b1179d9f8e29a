package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// DefaultTolerance is the pick radius, in canvas pixels, used for vertices,
// line bodies and the closing click of a polygon draft.
const DefaultTolerance = 10.0

// Tolerance holds the pick radii in canvas pixels.
type Tolerance struct {
	Vertex float64 // vertex and endpoint grab radius
	Body   float64 // maximum distance from a line zone's segment
	Close  float64 // closing-click radius around a draft's first point
}

// DefaultTolerances returns 10px for every radius.
func DefaultTolerances() Tolerance {
	return Tolerance{Vertex: DefaultTolerance, Body: DefaultTolerance, Close: DefaultTolerance}
}

// Hit identifies what lies under the cursor. Vertex is -1 for a body hit.
type Hit struct {
	Zone   int
	Vertex int
}

// IsVertex reports whether the hit is a draggable vertex or endpoint.
func (h Hit) IsVertex() bool { return h.Vertex >= 0 }

// IsBody reports whether the hit is the zone body.
func (h Hit) IsBody() bool { return h.Vertex < 0 }

// HitTest returns what lies under cursor. Vertices and endpoints of every
// zone are checked before any body. Within one tier the first match in
// iteration order wins: zones by ascending index, vertices by ascending
// index. Two vertices inside the radius therefore never tie.
func HitTest(cursor r2.Vec, zones []zone.Zone, m Mapper, tol Tolerance) (Hit, bool) {
	for zi, z := range zones {
		for vi, p := range z.Points {
			if r2.Norm(r2.Sub(cursor, m.ToCanvas(p))) <= tol.Vertex {
				return Hit{Zone: zi, Vertex: vi}, true
			}
		}
	}

	for zi, z := range zones {
		pts := m.ToCanvasAll(z.Points)
		switch z.Kind {
		case zone.KindPolygon:
			if len(pts) >= zone.MinPolygonVertices && PointInPolygon(cursor, pts) {
				return Hit{Zone: zi, Vertex: -1}, true
			}
		case zone.KindLine:
			if len(pts) == 2 && DistanceToSegment(cursor, pts[0], pts[1]) <= tol.Body {
				return Hit{Zone: zi, Vertex: -1}, true
			}
		}
	}
	return Hit{Zone: -1, Vertex: -1}, false
}

// ClosesDraft reports whether a click at cursor closes a polygon draft,
// i.e. lands within the closing radius of the draft's first point.
func ClosesDraft(cursor r2.Vec, draft []zone.Point, m Mapper, tol Tolerance) bool {
	if len(draft) == 0 {
		return false
	}
	return r2.Norm(r2.Sub(cursor, m.ToCanvas(draft[0]))) <= tol.Close
}

// PointInPolygon is the even-odd ray-casting test. The closing edge from the
// last vertex back to the first is included.
func PointInPolygon(p r2.Vec, poly []r2.Vec) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// DistanceToSegment returns the distance from p to segment ab. The
// projection parameter is clamped to [0,1], so points beyond an endpoint
// measure their distance to that endpoint.
func DistanceToSegment(p, a, b r2.Vec) float64 {
	ab := r2.Sub(b, a)
	lenSq := r2.Norm2(ab)
	if lenSq == 0 {
		return r2.Norm(r2.Sub(p, a))
	}
	t := r2.Dot(r2.Sub(p, a), ab) / lenSq
	t = math.Max(0, math.Min(1, t))
	closest := r2.Add(a, r2.Scale(t, ab))
	return r2.Norm(r2.Sub(p, closest))
}
