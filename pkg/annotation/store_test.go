package annotation

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

const shapeListFixture = `{
    "version": "5.2.1",
    "imagePath": "street.jpg",
    "shapes": [
        {"label": "car", "points": [[100, 100], [300, 100], [300, 200]], "shape_type": "polygon", "group_id": null},
        {"label": "tree", "points": [[0, 0], [40.5, 0], [40.5, 80.25], [0, 80.25]], "shape_type": "polygon"},
        {"label": "sign", "points": [[500, 10], [520, 10], [510, 30]], "shape_type": "polygon", "flags": {}}
    ]
}`

const objectListFixture = `<annotation>
	<folder>images</folder>
	<filename>street.jpg</filename>
	<size><width>1600</width><height>1200</height><depth>3</depth></size>
	<object>
		<name>car</name>
		<difficult>0</difficult>
		<bndbox><xmin>100</xmin><ymin>100</ymin><xmax>300.0</xmax><ymax>200</ymax></bndbox>
	</object>
	<object>
		<name>person</name>
		<bndbox><xmin>400.7</xmin><ymin>50</ymin><xmax>450</xmax><ymax>180</ymax></bndbox>
	</object>
</annotation>
`

var testTransform = geometry.Transform{Ratio: 0.5, Offset: geometry.Pt(100, 50)}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func labels(regions []Region) []string {
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = r.Label
	}
	return out
}

func assertDenseIDs(t *testing.T, s *Store) {
	t.Helper()
	for i, r := range s.Regions() {
		assert.Equal(t, i, r.ID)
	}
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	xmlPath := filepath.Join(dir, "a.xml")
	jsonPath := filepath.Join(dir, "a.json")

	_, _, err := Locate(img)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	require.NoError(t, os.WriteFile(xmlPath, []byte(objectListFixture), 0o644))
	path, format, err := Locate(img)
	require.NoError(t, err)
	assert.Equal(t, xmlPath, path)
	assert.Equal(t, ObjectListFormat, format)

	require.NoError(t, os.WriteFile(jsonPath, []byte(shapeListFixture), 0o644))
	path, format, err = Locate(img)
	require.NoError(t, err)
	assert.Equal(t, jsonPath, path)
	assert.Equal(t, ShapeListFormat, format)
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "lonely.png"), testTransform)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadFile_ShapeList(t *testing.T) {
	s, err := LoadFile(writeFixture(t, "street.json", shapeListFixture), testTransform)
	require.NoError(t, err)

	assert.Equal(t, ShapeListFormat, s.Format())
	require.Equal(t, 3, s.Len())
	assertDenseIDs(t, s)

	car, err := s.Region(0)
	require.NoError(t, err)
	assert.Equal(t, Polygon, car.Kind)
	assert.Equal(t, "car", car.Label)
	assert.True(t, car.Visible)
	assert.NotEmpty(t, car.Handle)
	assert.Equal(t, []geometry.Point{{150, 100}, {250, 100}, {250, 150}}, car.Points)
	assert.Equal(t, "car #0", car.Caption())
}

func TestLoadFile_ObjectList(t *testing.T) {
	s, err := LoadFile(writeFixture(t, "street.xml", objectListFixture), testTransform)
	require.NoError(t, err)

	assert.Equal(t, ObjectListFormat, s.Format())
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"car", "person"}, labels(s.Regions()))

	car, err := s.Region(0)
	require.NoError(t, err)
	assert.Equal(t, Rectangle, car.Kind)
	assert.Equal(t, []geometry.Point{{150, 100}, {250, 100}, {250, 150}, {150, 150}}, car.Points)

	person, err := s.Region(1)
	require.NoError(t, err)
	assert.InDelta(t, 300.35, person.Points[0].X, 1e-9)
}

func TestLoadFile_DetectsByContent(t *testing.T) {
	s, err := LoadFile(writeFixture(t, "street.ann", objectListFixture), testTransform)
	require.NoError(t, err)
	assert.Equal(t, ObjectListFormat, s.Format())
}

func TestLoadFile_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"invalid json", "a.json", `{"shapes": [`},
		{"missing shapes", "a.json", `{"version": "1"}`},
		{"shapes not a list", "a.json", `{"shapes": 3}`},
		{"point arity", "a.json", `{"shapes": [{"label": "x", "points": [[1]]}]}`},
		{"missing label", "a.json", `{"shapes": [{"points": [[1, 2]]}]}`},
		{"shape_type not a string", "a.json", `{"shapes": [{"label": "x", "points": [[1, 2], [3, 4]], "shape_type": 5}]}`},
		{"mismatched xml tags", "a.xml", `<annotation><object></annotation></object>`},
		{"invalid xml", "a.xml", `<annotation><object>`},
		{"missing bndbox", "a.xml", `<annotation><object><name>x</name></object></annotation>`},
		{"bad number", "a.xml", `<annotation><object><name>x</name><bndbox><xmin>a</xmin><ymin>1</ymin><xmax>2</xmax><ymax>3</ymax></bndbox></object></annotation>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFixture(t, tt.file, tt.content)
			_, err := LoadFile(path, testTransform)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse), "got %v", err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, path, pe.Path)
		})
	}
}

func TestSave_RoundTripsShapeList(t *testing.T) {
	path := writeFixture(t, "street.json", shapeListFixture)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)
	before := s.Records()

	require.NoError(t, s.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	reloaded, err := DecodeShapeList(data)
	require.NoError(t, err)
	assert.Equal(t, before, reloaded.Records())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "5.2.1", doc["version"])
	assert.Equal(t, "street.jpg", doc["imagePath"])
	shapes := doc["shapes"].([]any)
	assert.Contains(t, shapes[2].(map[string]any), "flags")
}

func TestAddPolygon(t *testing.T) {
	path := writeFixture(t, "street.json", shapeListFixture)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)

	display := []geometry.Point{{110, 60}, {210, 60}, {160, 160}}
	r, err := s.AddPolygon("bike", display)
	require.NoError(t, err)
	assert.Equal(t, 3, r.ID)
	assert.Equal(t, Polygon, r.Kind)
	assert.Equal(t, display, r.Points)
	assertDenseIDs(t, s)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	persisted, err := DecodeShapeList(data)
	require.NoError(t, err)
	require.Equal(t, 4, persisted.Len())
	last := persisted.Records()[3]
	assert.Equal(t, "bike", last.Label)
	assert.Equal(t, []geometry.Point{{20, 20}, {220, 20}, {120, 220}}, last.Points)
}

func TestAddPolygon_Rejects(t *testing.T) {
	s, err := LoadFile(writeFixture(t, "street.json", shapeListFixture), testTransform)
	require.NoError(t, err)

	_, err = s.AddPolygon("x", []geometry.Point{{1, 1}, {2, 2}})
	assert.ErrorIs(t, err, ErrInvalidRegion)
	_, err = s.AddPolygon("", []geometry.Point{{1, 1}, {2, 2}, {3, 1}})
	assert.ErrorIs(t, err, ErrInvalidRegion)
	_, err = s.AddRectangle("x", []geometry.Point{{1, 1}, {2, 2}})
	assert.ErrorIs(t, err, ErrWrongFormat)
	assert.Equal(t, 3, s.Len())

	xs, err := LoadFile(writeFixture(t, "street.xml", objectListFixture), testTransform)
	require.NoError(t, err)
	_, err = xs.AddPolygon("x", []geometry.Point{{1, 1}, {2, 2}, {3, 1}})
	assert.ErrorIs(t, err, ErrWrongFormat)
	assert.Equal(t, 2, xs.Len())
}

func TestAddPolygon_ZeroRatio(t *testing.T) {
	s, err := LoadFile(writeFixture(t, "street.json", shapeListFixture), geometry.Transform{})
	require.NoError(t, err)
	_, err = s.AddPolygon("x", []geometry.Point{{1, 1}, {2, 2}, {3, 1}})
	assert.ErrorIs(t, err, geometry.ErrDivision)
}

func TestAddRectangle(t *testing.T) {
	path := writeFixture(t, "street.xml", objectListFixture)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)

	r, err := s.AddRectangle("dog", []geometry.Point{{10, 10}, {50, 40}})
	require.NoError(t, err)
	assert.Equal(t, 2, r.ID)
	assert.Equal(t, Rectangle, r.Kind)
	assert.Equal(t, geometry.Corners(geometry.Pt(10, 10), geometry.Pt(50, 40)), r.Points)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	persisted, err := DecodeObjectList(data)
	require.NoError(t, err)
	require.Equal(t, 3, persisted.Len())
	rec := persisted.Records()[2]
	assert.Equal(t, "dog", rec.Label)
	// (10-100)/0.5, (10-50)/0.5 and (50-100)/0.5, (40-50)/0.5
	assert.Equal(t, []geometry.Point{{-180, -80}, {-100, -20}}, rec.Points)

	assert.Contains(t, string(data), "<filename>street.jpg</filename>")
	assert.Contains(t, string(data), "<difficult>0</difficult>")
}

func TestAddRectangle_NormalizesAndTruncates(t *testing.T) {
	path := writeFixture(t, "street.xml", objectListFixture)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)

	r, err := s.AddRectangle("dog", []geometry.Point{{300.9, 200}, {150, 100.3}})
	require.NoError(t, err)
	assert.Equal(t, []geometry.Point{{150, 100.3}, {300.9, 100.3}, {300.9, 200}, {150, 200}}, r.Points)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<xmin>100</xmin>")
	assert.Contains(t, string(data), "<ymin>100</ymin>")
	assert.Contains(t, string(data), "<xmax>401</xmax>")
	assert.Contains(t, string(data), "<ymax>300</ymax>")

	_, err = s.AddRectangle("dog", []geometry.Point{{1, 1}})
	assert.ErrorIs(t, err, ErrInvalidRegion)
}

const namespacedObjectList = `<annotation xmlns="http://example.com/voc" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:noNamespaceSchemaLocation="voc.xsd">
	<filename>street.jpg</filename>
	<object>
		<name>car</name>
		<bndbox><xmin>100</xmin><ymin>100</ymin><xmax>300</xmax><ymax>200</ymax></bndbox>
	</object>
</annotation>
`

const prefixedObjectList = `<v:annotation xmlns:v="urn:voc">
	<v:object>
		<v:name>car</v:name>
		<v:bndbox><v:xmin>100</v:xmin><v:ymin>100</v:ymin><v:xmax>300</v:xmax><v:ymax>200</v:ymax></v:bndbox>
	</v:object>
</v:annotation>
`

// requireWellFormed scans data as a strict parser would: no attribute may
// appear twice on one element.
func requireWellFormed(t *testing.T, data []byte) {
	t.Helper()
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			return
		}
		require.NoError(t, err)
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		seen := map[xml.Name]bool{}
		for _, a := range start.Attr {
			require.False(t, seen[a.Name], "duplicate attribute %v on <%s>", a.Name, start.Name.Local)
			seen[a.Name] = true
		}
	}
}

// objectNamespaces resolves namespaces and returns the namespace of every
// <object> element.
func objectNamespaces(t *testing.T, data []byte) []string {
	t.Helper()
	var spaces []string
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return spaces
		}
		require.NoError(t, err)
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "object" {
			spaces = append(spaces, start.Name.Space)
		}
	}
}

func TestAddRectangle_DefaultNamespace(t *testing.T) {
	path := writeFixture(t, "street.xml", namespacedObjectList)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)
	require.Equal(t, []string{"car"}, labels(s.Regions()))

	_, err = s.AddRectangle("dog", []geometry.Point{{10, 10}, {50, 40}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	requireWellFormed(t, data)
	out := string(data)
	assert.Equal(t, 1, strings.Count(out, `xmlns="http://example.com/voc"`))
	assert.Contains(t, out, `xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`)
	assert.Contains(t, out, `xsi:noNamespaceSchemaLocation="voc.xsd"`)
	assert.NotContains(t, out, `xmlns=""`)
	assert.Equal(t, []string{"http://example.com/voc", "http://example.com/voc"}, objectNamespaces(t, data))

	reloaded, err := LoadFile(path, testTransform)
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "dog"}, labels(reloaded.Regions()))
}

func TestAddRectangle_PrefixedElements(t *testing.T) {
	path := writeFixture(t, "street.xml", prefixedObjectList)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)
	require.Equal(t, []string{"car"}, labels(s.Regions()))

	_, err = s.AddRectangle("dog", []geometry.Point{{10, 10}, {50, 40}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	requireWellFormed(t, data)
	out := string(data)
	assert.Equal(t, 1, strings.Count(out, `xmlns:v="urn:voc"`))
	assert.Equal(t, 2, strings.Count(out, "<v:object>"))
	assert.Contains(t, out, "<v:xmin>-180</v:xmin>")
	assert.Equal(t, []string{"urn:voc", "urn:voc"}, objectNamespaces(t, data))

	require.NoError(t, s.Delete(0))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "<v:object>"))
	assert.Contains(t, string(data), "<v:name>dog</v:name>")
}

func TestDelete_RenumbersDenseIDs(t *testing.T) {
	path := writeFixture(t, "street.json", shapeListFixture)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)
	before := s.Regions()

	require.NoError(t, s.Delete(1))

	after := s.Regions()
	require.Len(t, after, 2)
	assert.Equal(t, []string{"car", "sign"}, labels(after))
	assertDenseIDs(t, s)
	assert.Equal(t, before[2].Handle, after[1].Handle)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	persisted, err := DecodeShapeList(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "sign"}, []string{persisted.Records()[0].Label, persisted.Records()[1].Label})

	// Old id 2 no longer exists.
	assert.ErrorIs(t, s.Delete(2), ErrNotFound)
	assert.ErrorIs(t, s.Delete(-1), ErrNotFound)
}

func TestDelete_ObjectList(t *testing.T) {
	path := writeFixture(t, "street.xml", objectListFixture)
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)

	require.NoError(t, s.Delete(0))
	assert.Equal(t, []string{"person"}, labels(s.Regions()))
	assertDenseIDs(t, s)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	persisted, err := DecodeObjectList(data)
	require.NoError(t, err)
	require.Equal(t, 1, persisted.Len())
	assert.Equal(t, "person", persisted.Records()[0].Label)
	assert.Contains(t, string(data), "<folder>images</folder>")
}

func TestDeleteHandle(t *testing.T) {
	s, err := LoadFile(writeFixture(t, "street.json", shapeListFixture), testTransform)
	require.NoError(t, err)
	sign, err := s.Region(2)
	require.NoError(t, err)

	require.NoError(t, s.Delete(0))
	got, err := s.ByHandle(sign.Handle)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ID)

	require.NoError(t, s.DeleteHandle(sign.Handle))
	assert.Equal(t, []string{"tree"}, labels(s.Regions()))
	assert.ErrorIs(t, s.DeleteHandle(sign.Handle), ErrNotFound)
	assert.ErrorIs(t, s.DeleteHandle("sign"), ErrNotFound)
}

func TestDelete_WriteFailureKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "street.json")
	require.NoError(t, os.WriteFile(path, []byte(shapeListFixture), 0o644))
	s, err := LoadFile(path, testTransform)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))

	require.Error(t, s.Delete(0))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, len(s.Records()))

	_, err = s.AddPolygon("x", []geometry.Point{{1, 1}, {2, 2}, {3, 1}})
	require.Error(t, err)
	assert.Equal(t, 3, s.Len())
}

func TestHitTestAndToggle(t *testing.T) {
	overlapping := `{"shapes": [
		{"label": "big", "points": [[0, 0], [100, 0], [100, 100], [0, 100]]},
		{"label": "small", "points": [[20, 20], [40, 20], [40, 40], [20, 40]]}
	]}`
	s, err := LoadFile(writeFixture(t, "o.json", overlapping), geometry.Identity())
	require.NoError(t, err)

	hit, ok := s.HitTest(geometry.Pt(30, 30))
	require.True(t, ok)
	assert.Equal(t, 0, hit.ID)

	r, err := s.Toggle(hit.ID)
	require.NoError(t, err)
	assert.False(t, r.Visible)
	small, err := s.Region(1)
	require.NoError(t, err)
	assert.True(t, small.Visible)

	// Hidden regions are still hit.
	hit, ok = s.HitTest(geometry.Pt(30, 30))
	require.True(t, ok)
	assert.Equal(t, 0, hit.ID)

	_, ok = s.HitTest(geometry.Pt(150, 150))
	assert.False(t, ok)

	_, err = s.Toggle(5)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetVisible(5, true), ErrNotFound)
	require.NoError(t, s.SetVisible(0, true))
}

func TestShapeList_RectangleShapeType(t *testing.T) {
	doc := `{"shapes": [{"label": "box", "points": [[40, 30], [10, 5]], "shape_type": "rectangle"}]}`
	s, err := LoadFile(writeFixture(t, "r.json", doc), geometry.Identity())
	require.NoError(t, err)

	r, err := s.Region(0)
	require.NoError(t, err)
	assert.Equal(t, Rectangle, r.Kind)
	assert.Equal(t, []geometry.Point{{10, 5}, {40, 5}, {40, 30}, {10, 30}}, r.Points)
	assert.True(t, r.Contains(geometry.Pt(20, 20)))
}

func TestRegions_ReturnsCopies(t *testing.T) {
	s, err := LoadFile(writeFixture(t, "street.json", shapeListFixture), testTransform)
	require.NoError(t, err)

	regions := s.Regions()
	regions[0].Points[0] = geometry.Pt(-1, -1)
	regions[0].Label = "mutated"

	r, err := s.Region(0)
	require.NoError(t, err)
	assert.Equal(t, "car", r.Label)
	assert.Equal(t, geometry.Pt(150, 100), r.Points[0])
}

func BenchmarkHitTest(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "street.json")
	if err := os.WriteFile(path, []byte(shapeListFixture), 0o644); err != nil {
		b.Fatal(err)
	}
	s, err := LoadFile(path, testTransform)
	if err != nil {
		b.Fatal(err)
	}
	p := geometry.Pt(400, 400)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.HitTest(p)
	}
}
