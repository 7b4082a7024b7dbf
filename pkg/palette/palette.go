// Package palette assigns display colors to annotation labels.
package palette

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Default is the fixed palette labels are colored from, in assignment order.
var Default = []color.NRGBA{
	{R: 0xff, G: 0x00, B: 0x00, A: 0xff}, // red
	{R: 0x00, G: 0x00, B: 0xff, A: 0xff}, // blue
	{R: 0x00, G: 0x80, B: 0x00, A: 0xff}, // green
	{R: 0xff, G: 0xff, B: 0x00, A: 0xff}, // yellow
	{R: 0x80, G: 0x00, B: 0x80, A: 0xff}, // purple
	{R: 0xff, G: 0xa5, B: 0x00, A: 0xff}, // orange
	{R: 0x00, G: 0xff, B: 0xff, A: 0xff}, // cyan
	{R: 0xff, G: 0x00, B: 0xff, A: 0xff}, // magenta
}

// Registry maps label text to a color. The n-th distinct label seen gets
// palette[n mod len(palette)], and keeps it for the registry's lifetime.
// A Registry is not safe for concurrent use.
type Registry struct {
	palette  []color.NRGBA
	assigned map[string]color.NRGBA
	order    []string
}

// New returns a registry over palette, or over Default when palette is empty.
func New(palette ...color.NRGBA) *Registry {
	if len(palette) == 0 {
		palette = Default
	}
	return &Registry{
		palette:  append([]color.NRGBA(nil), palette...),
		assigned: make(map[string]color.NRGBA),
	}
}

// ColorFor returns the color of label, assigning the next palette entry the
// first time label is seen.
func (r *Registry) ColorFor(label string) color.NRGBA {
	if c, ok := r.assigned[label]; ok {
		return c
	}
	c := r.palette[len(r.order)%len(r.palette)]
	r.assigned[label] = c
	r.order = append(r.order, label)
	return c
}

// Labels returns the labels seen so far in first-seen order.
func (r *Registry) Labels() []string {
	return append([]string(nil), r.order...)
}

// Len is the number of distinct labels seen.
func (r *Registry) Len() int { return len(r.order) }

// Reset forgets every assignment. Nothing calls it implicitly; the shell
// decides when colors should start over.
func (r *Registry) Reset() {
	r.assigned = make(map[string]color.NRGBA)
	r.order = nil
}

// ParseHex parses "#rrggbb" or "rrggbb" into an opaque color.
func ParseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// ParseHexList parses every entry of hex with ParseHex.
func ParseHexList(hex []string) ([]color.NRGBA, error) {
	out := make([]color.NRGBA, 0, len(hex))
	for _, h := range hex {
		c, err := ParseHex(h)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
