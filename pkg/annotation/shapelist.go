package annotation

import (
	"encoding/json"
	"fmt"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

// ShapeList is a JSON annotation document of the form
//
//	{"shapes": [{"label": "cat", "points": [[x, y], ...], "shape_type": "polygon"}, ...]}
//
// Keys other than "shapes", and unknown keys inside each shape, are kept
// verbatim and written back on Encode.
type ShapeList struct {
	doc     map[string]json.RawMessage
	shapes  []map[string]json.RawMessage
	records []Record
}

var _ Source = (*ShapeList)(nil)

// DecodeShapeList parses a shape-list document.
func DecodeShapeList(data []byte) (*ShapeList, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	if doc == nil {
		return nil, parseErrorf("document is not an object")
	}

	rawShapes, ok := doc["shapes"]
	if !ok {
		return nil, parseErrorf(`missing "shapes" key`)
	}

	var shapes []map[string]json.RawMessage
	if err := json.Unmarshal(rawShapes, &shapes); err != nil {
		return nil, parseErrorf("shapes: %w", err)
	}

	sl := &ShapeList{
		doc:     doc,
		shapes:  shapes,
		records: make([]Record, 0, len(shapes)),
	}
	for i, shape := range shapes {
		rec, err := decodeShape(shape)
		if err != nil {
			return nil, parseErrorf("shape %d: %w", i, err)
		}
		sl.records = append(sl.records, rec)
	}
	return sl, nil
}

func decodeShape(shape map[string]json.RawMessage) (Record, error) {
	if shape == nil {
		return Record{}, fmt.Errorf("shape is not an object")
	}

	var label string
	raw, ok := shape["label"]
	if !ok {
		return Record{}, fmt.Errorf(`missing "label"`)
	}
	if err := json.Unmarshal(raw, &label); err != nil {
		return Record{}, fmt.Errorf("label: %w", err)
	}

	var coords [][]float64
	raw, ok = shape["points"]
	if !ok {
		return Record{}, fmt.Errorf(`missing "points"`)
	}
	if err := json.Unmarshal(raw, &coords); err != nil {
		return Record{}, fmt.Errorf("points: %w", err)
	}

	pts := make([]geometry.Point, len(coords))
	for i, c := range coords {
		if len(c) < 2 {
			return Record{}, fmt.Errorf("point %d: want [x, y], got %d values", i, len(c))
		}
		pts[i] = geometry.Pt(c[0], c[1])
	}

	var shapeType string
	if raw, ok := shape["shape_type"]; ok {
		if err := json.Unmarshal(raw, &shapeType); err != nil {
			return Record{}, fmt.Errorf("shape_type: %w", err)
		}
	}

	rec := Record{Kind: Polygon, Label: label, Points: pts}
	if shapeType == "rectangle" && len(pts) == 2 {
		lo, hi := geometry.Bounds(pts[0], pts[1])
		rec.Kind = Rectangle
		rec.Points = []geometry.Point{lo, hi}
	}
	return rec, nil
}

func (sl *ShapeList) Format() Format { return ShapeListFormat }

func (sl *ShapeList) Len() int { return len(sl.records) }

func (sl *ShapeList) Records() []Record {
	out := make([]Record, len(sl.records))
	for i, rec := range sl.records {
		rec.Points = append([]geometry.Point(nil), rec.Points...)
		out[i] = rec
	}
	return out
}

// Encode writes the document back with four-space indentation.
func (sl *ShapeList) Encode() ([]byte, error) {
	shapes := sl.shapes
	if shapes == nil {
		shapes = []map[string]json.RawMessage{}
	}
	rawShapes, err := json.Marshal(shapes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shapes: %w", err)
	}

	doc := make(map[string]json.RawMessage, len(sl.doc))
	for k, v := range sl.doc {
		doc[k] = v
	}
	doc["shapes"] = rawShapes

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shape list: %w", err)
	}
	return append(data, '\n'), nil
}

func (sl *ShapeList) clone() Source {
	c := &ShapeList{
		doc:     make(map[string]json.RawMessage, len(sl.doc)),
		shapes:  append([]map[string]json.RawMessage(nil), sl.shapes...),
		records: append([]Record(nil), sl.records...),
	}
	for k, v := range sl.doc {
		c.doc[k] = v
	}
	return c
}

func (sl *ShapeList) appendPolygon(label string, pts []geometry.Point) error {
	coords := make([][2]float64, len(pts))
	for i, p := range pts {
		coords[i] = [2]float64{p.X, p.Y}
	}

	rawLabel, err := json.Marshal(label)
	if err != nil {
		return err
	}
	rawPoints, err := json.Marshal(coords)
	if err != nil {
		return err
	}

	sl.shapes = append(sl.shapes, map[string]json.RawMessage{
		"label":      rawLabel,
		"points":     rawPoints,
		"shape_type": json.RawMessage(`"polygon"`),
	})
	sl.records = append(sl.records, Record{
		Kind:   Polygon,
		Label:  label,
		Points: append([]geometry.Point(nil), pts...),
	})
	return nil
}

func (sl *ShapeList) appendBox(string, geometry.Point, geometry.Point) error {
	return fmt.Errorf("rectangle on %v file: %w", ShapeListFormat, ErrWrongFormat)
}

func (sl *ShapeList) remove(i int) error {
	if i < 0 || i >= len(sl.shapes) {
		return fmt.Errorf("shape %d: %w", i, ErrNotFound)
	}
	sl.shapes = append(sl.shapes[:i:i], sl.shapes[i+1:]...)
	sl.records = append(sl.records[:i:i], sl.records[i+1:]...)
	return nil
}
