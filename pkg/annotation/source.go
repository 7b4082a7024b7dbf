package annotation

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

// Format identifies one of the two on-disk annotation encodings.
type Format int

const (
	// ShapeListFormat is the JSON document with a "shapes" list of polygons.
	ShapeListFormat Format = iota + 1
	// ObjectListFormat is the XML tree of <object> elements with bounding boxes.
	ObjectListFormat
)

func (f Format) String() string {
	switch f {
	case ShapeListFormat:
		return "shape-list"
	case ObjectListFormat:
		return "object-list"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Ext is the file extension the format is stored under.
func (f Format) Ext() string {
	switch f {
	case ShapeListFormat:
		return ".json"
	case ObjectListFormat:
		return ".xml"
	}
	return ""
}

// Kind is the region kind new annotations in this format are drawn as.
func (f Format) Kind() Kind {
	if f == ObjectListFormat {
		return Rectangle
	}
	return Polygon
}

// Source is the parsed content of an annotation file. It is implemented by
// *ShapeList and *ObjectList only; edits that a variant cannot represent
// fail with ErrWrongFormat.
type Source interface {
	Format() Format
	// Len is the number of persisted records.
	Len() int
	// Records returns the persisted records in file order.
	Records() []Record
	// Encode serializes the full document.
	Encode() ([]byte, error)

	clone() Source
	appendPolygon(label string, pts []geometry.Point) error
	appendBox(label string, lo, hi geometry.Point) error
	remove(i int) error
}

// DetectFormat picks the format from the file extension, falling back to
// the first non-blank byte of the content.
func DetectFormat(path string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ShapeListFormat, nil
	case ".xml":
		return ObjectListFormat, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '{':
			return ShapeListFormat, nil
		case '<':
			return ObjectListFormat, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

// Decode parses data in the given format.
func Decode(data []byte, format Format) (Source, error) {
	switch format {
	case ShapeListFormat:
		sl, err := DecodeShapeList(data)
		if err != nil {
			return nil, err
		}
		return sl, nil
	case ObjectListFormat:
		ol, err := DecodeObjectList(data)
		if err != nil {
			return nil, err
		}
		return ol, nil
	}
	return nil, fmt.Errorf("format %v: %w", format, ErrUnsupportedFormat)
}
