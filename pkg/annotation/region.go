package annotation

import (
	"fmt"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

// Kind is the geometric shape of a region.
type Kind int

const (
	Polygon Kind = iota + 1
	Rectangle
)

func (k Kind) String() string {
	switch k {
	case Polygon:
		return "polygon"
	case Rectangle:
		return "rectangle"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Region is one annotated shape in display space.
//
// ID is the region's position in the store and is renumbered after every
// deletion. Handle stays with the region for as long as it is loaded.
type Region struct {
	ID      int
	Handle  string
	Kind    Kind
	Label   string
	Points  []geometry.Point
	Visible bool
}

// Caption is the text shown next to a region, e.g. "cat #2".
func (r Region) Caption() string {
	return fmt.Sprintf("%s #%d", r.Label, r.ID)
}

// Contains reports whether the display-space point p falls inside the region.
// Rectangles use their first and third corner as the diagonal.
func (r Region) Contains(p geometry.Point) bool {
	switch r.Kind {
	case Polygon:
		return geometry.PointInPolygon(p, r.Points)
	case Rectangle:
		if len(r.Points) < 3 {
			return false
		}
		return geometry.RectContains(p, r.Points[0], r.Points[2])
	}
	return false
}

func (r Region) clone() Region {
	r.Points = append([]geometry.Point(nil), r.Points...)
	return r
}

// Record is a region as persisted: original-space coordinates, no id.
// Rectangle records hold two points, the min and max corner.
type Record struct {
	Kind   Kind
	Label  string
	Points []geometry.Point
}

// toRegion maps a record into display space.
func (rec Record) toRegion(t geometry.Transform) Region {
	r := Region{Kind: rec.Kind, Label: rec.Label, Visible: true}
	if rec.Kind == Rectangle && len(rec.Points) == 2 {
		r.Points = geometry.Corners(t.Apply(rec.Points[0]), t.Apply(rec.Points[1]))
	} else {
		r.Points = t.ApplyAll(rec.Points)
	}
	return r
}
