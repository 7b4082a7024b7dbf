// Package geometry implements the coordinate math shared by the annotation
// store and the interaction controller: the original/display space
// transform, viewport fitting and the containment tests used for hit
// testing.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrDivision is returned when a transform with a zero ratio has to be
// inverted or an image with a zero dimension has to be fitted.
var ErrDivision = errors.New("geometry: division by zero scale")

// Point is a 2D coordinate. Display-space points are usually fractional.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Transform maps original image space into display space:
//
//	display = original*Ratio + Offset
//
// The same ratio is applied to both axes.
type Transform struct {
	Ratio  float64 `json:"ratio"`
	Offset Point   `json:"offset"`
}

// Identity returns the transform that leaves points untouched.
func Identity() Transform {
	return Transform{Ratio: 1}
}

// ScalePoint maps p from original space to display space.
func ScalePoint(p Point, ratio float64, offset Point) Point {
	return Point{
		X: p.X*ratio + offset.X,
		Y: p.Y*ratio + offset.Y,
	}
}

// UnscalePoint maps p from display space back to original space.
func UnscalePoint(p Point, ratio float64, offset Point) (Point, error) {
	if ratio == 0 {
		return Point{}, ErrDivision
	}
	return Point{
		X: (p.X - offset.X) / ratio,
		Y: (p.Y - offset.Y) / ratio,
	}, nil
}

// Apply maps an original-space point to display space.
func (t Transform) Apply(p Point) Point {
	return ScalePoint(p, t.Ratio, t.Offset)
}

// Invert maps a display-space point to original space.
func (t Transform) Invert(p Point) (Point, error) {
	return UnscalePoint(p, t.Ratio, t.Offset)
}

// ApplyAll maps every point of pts into display space.
func (t Transform) ApplyAll(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return out
}

// InvertAll maps every point of pts back to original space.
func (t Transform) InvertAll(pts []Point) ([]Point, error) {
	if t.Ratio == 0 {
		return nil, ErrDivision
	}
	out := make([]Point, len(pts))
	for i, p := range pts {
		q, err := t.Invert(p)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// PointInPolygon reports whether point lies inside the polygon described by
// vertices using the even-odd crossing rule. The ring is closed implicitly.
// An edge only counts when min(y1,y2) < y <= max(y1,y2), so a vertex shared by
// two edges is never counted twice. Fewer than three vertices never contain
// anything.
func PointInPolygon(point Point, vertices []Point) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}

	x, y := point.X, point.Y
	inside := false
	p1 := vertices[0]
	for i := 1; i <= n; i++ {
		p2 := vertices[i%n]
		if math.Min(p1.Y, p2.Y) < y && y <= math.Max(p1.Y, p2.Y) && x <= math.Max(p1.X, p2.X) {
			if p1.X == p2.X {
				inside = !inside
			} else {
				xinters := (y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y) + p1.X
				if x <= xinters {
					inside = !inside
				}
			}
		}
		p1 = p2
	}
	return inside
}

// RectContains reports whether point lies within the closed axis-aligned box
// spanned by two diagonal corners given in any order.
func RectContains(point, corner1, corner3 Point) bool {
	lo, hi := Bounds(corner1, corner3)
	return point.X >= lo.X && point.X <= hi.X && point.Y >= lo.Y && point.Y <= hi.Y
}

// Bounds normalizes two opposite corners into (min, max).
func Bounds(a, b Point) (Point, Point) {
	return Point{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
		Point{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)}
}

// BoundingBox returns the smallest axis-aligned box containing pts.
func BoundingBox(pts []Point) (Point, Point) {
	if len(pts) == 0 {
		return Point{}, Point{}
	}
	lo, hi := pts[0], pts[0]
	for _, p := range pts[1:] {
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		hi.X = math.Max(hi.X, p.X)
		hi.Y = math.Max(hi.Y, p.Y)
	}
	return lo, hi
}

// Corners expands two opposite corners into the four corners of the box in
// canonical order: top-left, top-right, bottom-right, bottom-left.
func Corners(a, b Point) []Point {
	lo, hi := Bounds(a, b)
	return []Point{
		{X: lo.X, Y: lo.Y},
		{X: hi.X, Y: lo.Y},
		{X: hi.X, Y: hi.Y},
		{X: lo.X, Y: hi.Y},
	}
}
