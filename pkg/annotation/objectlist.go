package annotation

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

// xmlNode is a generic element so that documents are written back with
// every element we do not understand intact. Names are kept as written,
// prefix included, with an empty Space, so namespace declarations are
// carried as ordinary attributes and written back exactly once.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []*xmlNode `xml:",any"`
}

func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.Nodes {
		if localName(c.XMLName.Local) == name {
			return c
		}
	}
	return nil
}

func (n *xmlNode) deepCopy() *xmlNode {
	c := &xmlNode{
		XMLName: n.XMLName,
		Attrs:   append([]xml.Attr(nil), n.Attrs...),
		Text:    n.Text,
		Nodes:   make([]*xmlNode, len(n.Nodes)),
	}
	for i, child := range n.Nodes {
		c.Nodes[i] = child.deepCopy()
	}
	return c
}

// trimLayout drops the indentation whitespace between child elements so
// that MarshalIndent can lay the tree out again.
func (n *xmlNode) trimLayout() {
	if len(n.Nodes) > 0 && strings.TrimSpace(n.Text) == "" {
		n.Text = ""
	}
	for _, c := range n.Nodes {
		c.trimLayout()
	}
}

func textNode(name, text string) *xmlNode {
	return &xmlNode{XMLName: xml.Name{Local: name}, Text: text}
}

// qualified joins a raw prefix and local name back into the written form.
func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func localName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// parseXMLTree reads the first element of data without resolving
// namespaces. Content after the root element is ignored.
func parseXMLTree(data []byte) (*xmlNode, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	var stack []*xmlNode
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{XMLName: xml.Name{Local: qualified(t.Name)}}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: qualified(a.Name)}, Value: a.Value})
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Nodes = append(parent.Nodes, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected </%s>", qualified(t.Name))
			}
			n := stack[len(stack)-1]
			if name := qualified(t.Name); name != n.XMLName.Local {
				return nil, fmt.Errorf("element <%s> closed by </%s>", n.XMLName.Local, name)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return n, nil
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
}

// ObjectList is an XML annotation document whose root holds zero or more
// <object> elements:
//
//	<object>
//	  <name>cat</name>
//	  <bndbox><xmin>10</xmin><ymin>20</ymin><xmax>110</xmax><ymax>90</ymax></bndbox>
//	</object>
//
// Coordinates may be written as decimals but are persisted as integers.
type ObjectList struct {
	root    *xmlNode
	records []Record
}

var _ Source = (*ObjectList)(nil)

// DecodeObjectList parses an object-list document.
func DecodeObjectList(data []byte) (*ObjectList, error) {
	root, err := parseXMLTree(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	root.trimLayout()

	ol := &ObjectList{root: root}
	i := 0
	for _, n := range root.Nodes {
		if localName(n.XMLName.Local) != "object" {
			continue
		}
		rec, err := decodeObject(n)
		if err != nil {
			return nil, parseErrorf("object %d: %w", i, err)
		}
		ol.records = append(ol.records, rec)
		i++
	}
	return ol, nil
}

func decodeObject(n *xmlNode) (Record, error) {
	name := n.child("name")
	if name == nil {
		return Record{}, fmt.Errorf("missing <name>")
	}
	box := n.child("bndbox")
	if box == nil {
		return Record{}, fmt.Errorf("missing <bndbox>")
	}

	var v [4]float64
	for i, tag := range []string{"xmin", "ymin", "xmax", "ymax"} {
		c := box.child(tag)
		if c == nil {
			return Record{}, fmt.Errorf("bndbox: missing <%s>", tag)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(c.Text), 64)
		if err != nil {
			return Record{}, fmt.Errorf("bndbox %s: %w", tag, err)
		}
		v[i] = f
	}

	return Record{
		Kind:   Rectangle,
		Label:  strings.TrimSpace(name.Text),
		Points: []geometry.Point{{X: v[0], Y: v[1]}, {X: v[2], Y: v[3]}},
	}, nil
}

func (ol *ObjectList) Format() Format { return ObjectListFormat }

func (ol *ObjectList) Len() int { return len(ol.records) }

func (ol *ObjectList) Records() []Record {
	out := make([]Record, len(ol.records))
	for i, rec := range ol.records {
		rec.Points = append([]geometry.Point(nil), rec.Points...)
		out[i] = rec
	}
	return out
}

// Encode writes the tree back, tab indented, without an XML declaration.
func (ol *ObjectList) Encode() ([]byte, error) {
	data, err := xml.MarshalIndent(ol.root, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object list: %w", err)
	}
	return append(data, '\n'), nil
}

func (ol *ObjectList) clone() Source {
	return &ObjectList{
		root:    ol.root.deepCopy(),
		records: append([]Record(nil), ol.records...),
	}
}

func (ol *ObjectList) appendPolygon(string, []geometry.Point) error {
	return fmt.Errorf("polygon on %v file: %w", ObjectListFormat, ErrWrongFormat)
}

// elementName names a new element with the root's prefix, if it has one.
func (ol *ObjectList) elementName(local string) string {
	if i := strings.IndexByte(ol.root.XMLName.Local, ':'); i >= 0 {
		return ol.root.XMLName.Local[:i+1] + local
	}
	return local
}

// appendBox adds an object; coordinates are truncated toward zero.
func (ol *ObjectList) appendBox(label string, lo, hi geometry.Point) error {
	itoa := func(f float64) string { return strconv.Itoa(int(f)) }
	name := ol.elementName

	obj := &xmlNode{
		XMLName: xml.Name{Local: name("object")},
		Nodes: []*xmlNode{
			textNode(name("name"), label),
			{
				XMLName: xml.Name{Local: name("bndbox")},
				Nodes: []*xmlNode{
					textNode(name("xmin"), itoa(lo.X)),
					textNode(name("ymin"), itoa(lo.Y)),
					textNode(name("xmax"), itoa(hi.X)),
					textNode(name("ymax"), itoa(hi.Y)),
				},
			},
		},
	}
	ol.root.Nodes = append(ol.root.Nodes, obj)
	ol.records = append(ol.records, Record{
		Kind:   Rectangle,
		Label:  label,
		Points: []geometry.Point{{X: float64(int(lo.X)), Y: float64(int(lo.Y))}, {X: float64(int(hi.X)), Y: float64(int(hi.Y))}},
	})
	return nil
}

func (ol *ObjectList) remove(i int) error {
	if i < 0 || i >= len(ol.records) {
		return fmt.Errorf("object %d: %w", i, ErrNotFound)
	}

	seen := 0
	for j, n := range ol.root.Nodes {
		if localName(n.XMLName.Local) != "object" {
			continue
		}
		if seen == i {
			ol.root.Nodes = append(ol.root.Nodes[:j:j], ol.root.Nodes[j+1:]...)
			ol.records = append(ol.records[:i:i], ol.records[i+1:]...)
			return nil
		}
		seen++
	}
	return fmt.Errorf("object %d: %w", i, ErrNotFound)
}
