// Package annotation loads, edits and persists the regions annotated on a
// single image.
//
// An image has exactly one annotation file next to it: a JSON shape list
// (polygons) or, when that does not exist, an XML object list (boxes). Both
// are parsed into the same display-space Region view. Regions are numbered
// 0..N-1 in file order and that numbering is restored after every edit,
// because the object-list format relies on positional correspondence.
//
// Every edit rewrites the whole file atomically before the in-memory view
// changes; a failed write leaves both the file and the store as they were.
package annotation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/menta2k/image-annotator/internal/handle"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/geometry"
)

// Store owns the regions of the currently displayed image. It is not safe
// for concurrent use.
type Store struct {
	path      string
	source    Source
	transform geometry.Transform
	regions   []Region
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for edit and load events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Locate finds the annotation file belonging to imagePath. The shape-list
// file <base>.json wins over the object-list file <base>.xml.
func Locate(imagePath string) (string, Format, error) {
	base := utils.TrimExtension(imagePath)
	for _, f := range []Format{ShapeListFormat, ObjectListFormat} {
		if p := base + f.Ext(); utils.FileExists(p) {
			return p, f, nil
		}
	}
	return "", 0, fmt.Errorf("%s: %w", imagePath, ErrUnsupportedFormat)
}

// Open locates and loads the annotation file of imagePath.
func Open(imagePath string, t geometry.Transform, opts ...Option) (*Store, error) {
	path, _, err := Locate(imagePath)
	if err != nil {
		return nil, err
	}
	return LoadFile(path, t, opts...)
}

// LoadFile parses the annotation file at path and maps its records into
// display space with t.
func LoadFile(path string, t geometry.Transform, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation file: %w", err)
	}

	format, err := DetectFormat(path, data)
	if err != nil {
		return nil, err
	}

	src, err := Decode(data, format)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}

	s := New(path, src, t, opts...)
	s.logger.Debug("annotations loaded", "path", path, "format", format, "regions", len(s.regions))
	return s, nil
}

// New builds a store over an already parsed source that persists to path.
func New(path string, src Source, t geometry.Transform, opts ...Option) *Store {
	s := &Store{
		path:      path,
		source:    src,
		transform: t,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	records := src.Records()
	s.regions = make([]Region, len(records))
	for i, rec := range records {
		r := rec.toRegion(t)
		r.ID = i
		r.Handle = handle.NewRegion()
		s.regions[i] = r
	}
	return s
}

// Path is the annotation file the store persists to.
func (s *Store) Path() string { return s.path }

// Format is the encoding of the annotation file.
func (s *Store) Format() Format { return s.source.Format() }

// Transform is the original-to-display transform regions were loaded with.
func (s *Store) Transform() geometry.Transform { return s.transform }

// Len returns the number of regions.
func (s *Store) Len() int { return len(s.regions) }

// Records returns the persisted, original-space records in id order.
func (s *Store) Records() []Record { return s.source.Records() }

// Regions returns a copy of all regions in id order.
func (s *Store) Regions() []Region {
	out := make([]Region, len(s.regions))
	for i, r := range s.regions {
		out[i] = r.clone()
	}
	return out
}

// Region returns the region with the given id.
func (s *Store) Region(id int) (Region, error) {
	if id < 0 || id >= len(s.regions) {
		return Region{}, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return s.regions[id].clone(), nil
}

// ByHandle returns the region carrying handle h.
func (s *Store) ByHandle(h string) (Region, error) {
	i, err := s.indexOf(h)
	if err != nil {
		return Region{}, err
	}
	return s.regions[i].clone(), nil
}

func (s *Store) indexOf(h string) (int, error) {
	if err := handle.Validate(h, handle.PrefixRegion); err != nil {
		return -1, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	for i, r := range s.regions {
		if r.Handle == h {
			return i, nil
		}
	}
	return -1, fmt.Errorf("handle %q: %w", h, ErrNotFound)
}

// AddPolygon converts the display-space points to original space, appends a
// polygon shape to the shape-list file and returns the new region.
func (s *Store) AddPolygon(label string, points []geometry.Point) (Region, error) {
	if label == "" {
		return Region{}, fmt.Errorf("empty label: %w", ErrInvalidRegion)
	}
	if len(points) < 3 {
		return Region{}, fmt.Errorf("polygon needs at least 3 points, got %d: %w", len(points), ErrInvalidRegion)
	}
	if f := s.Format(); f != ShapeListFormat {
		return Region{}, fmt.Errorf("polygon on %v file: %w", f, ErrWrongFormat)
	}

	original, err := s.transform.InvertAll(points)
	if err != nil {
		return Region{}, err
	}

	next := s.source.clone()
	if err := next.appendPolygon(label, original); err != nil {
		return Region{}, err
	}
	if err := s.commit(next); err != nil {
		return Region{}, err
	}

	r := s.push(Region{
		Kind:   Polygon,
		Label:  label,
		Points: append([]geometry.Point(nil), points...),
	})
	s.logger.Info("annotation added", "path", s.path, "kind", r.Kind, "label", label, "id", r.ID)
	return r.clone(), nil
}

// AddRectangle takes two opposite display-space corners, appends the
// original-space box to the object-list file and returns the new region
// with its four corners in canonical order.
func (s *Store) AddRectangle(label string, corners []geometry.Point) (Region, error) {
	if label == "" {
		return Region{}, fmt.Errorf("empty label: %w", ErrInvalidRegion)
	}
	if len(corners) != 2 {
		return Region{}, fmt.Errorf("rectangle needs exactly 2 corners, got %d: %w", len(corners), ErrInvalidRegion)
	}
	if f := s.Format(); f != ObjectListFormat {
		return Region{}, fmt.Errorf("rectangle on %v file: %w", f, ErrWrongFormat)
	}

	lo, hi := geometry.Bounds(corners[0], corners[1])
	original, err := s.transform.InvertAll([]geometry.Point{lo, hi})
	if err != nil {
		return Region{}, err
	}

	next := s.source.clone()
	if err := next.appendBox(label, original[0], original[1]); err != nil {
		return Region{}, err
	}
	if err := s.commit(next); err != nil {
		return Region{}, err
	}

	r := s.push(Region{
		Kind:   Rectangle,
		Label:  label,
		Points: geometry.Corners(lo, hi),
	})
	s.logger.Info("annotation added", "path", s.path, "kind", r.Kind, "label", label, "id", r.ID)
	return r.clone(), nil
}

// Delete removes the region with the given id from the file and from
// memory, then renumbers the remaining regions to 0..N-1.
func (s *Store) Delete(id int) error {
	if id < 0 || id >= len(s.regions) {
		return fmt.Errorf("delete id %d: %w", id, ErrNotFound)
	}
	return s.deleteAt(id)
}

// DeleteHandle removes the region carrying handle h.
func (s *Store) DeleteHandle(h string) error {
	i, err := s.indexOf(h)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return s.deleteAt(i)
}

func (s *Store) deleteAt(i int) error {
	next := s.source.clone()
	if err := next.remove(i); err != nil {
		return err
	}
	if err := s.commit(next); err != nil {
		return err
	}

	removed := s.regions[i]
	s.regions = append(s.regions[:i:i], s.regions[i+1:]...)
	s.renumber()
	s.logger.Info("annotation deleted", "path", s.path, "label", removed.Label, "id", i, "remaining", len(s.regions))
	return nil
}

// Toggle flips the visibility of the region with the given id and returns
// the updated region. Visibility is never persisted.
func (s *Store) Toggle(id int) (Region, error) {
	if id < 0 || id >= len(s.regions) {
		return Region{}, fmt.Errorf("toggle id %d: %w", id, ErrNotFound)
	}
	s.regions[id].Visible = !s.regions[id].Visible
	return s.regions[id].clone(), nil
}

// SetVisible sets the visibility of the region with the given id.
func (s *Store) SetVisible(id int, visible bool) error {
	if id < 0 || id >= len(s.regions) {
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	s.regions[id].Visible = visible
	return nil
}

// HitTest returns the first region, in id order, containing the
// display-space point p. Hidden regions are hit too so they can be shown
// again.
func (s *Store) HitTest(p geometry.Point) (Region, bool) {
	for _, r := range s.regions {
		if r.Contains(p) {
			return r.clone(), true
		}
	}
	return Region{}, false
}

// Save rewrites the annotation file from the current source.
func (s *Store) Save() error {
	return s.commit(s.source)
}

func (s *Store) commit(next Source) error {
	data, err := next.Encode()
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o644); err != nil {
		s.logger.Error("annotation write failed", "path", s.path, "error", err)
		return fmt.Errorf("failed to save annotations: %w", err)
	}
	s.source = next
	return nil
}

func (s *Store) push(r Region) Region {
	r.ID = len(s.regions)
	r.Handle = handle.NewRegion()
	r.Visible = true
	s.regions = append(s.regions, r)
	return r
}

func (s *Store) renumber() {
	for i := range s.regions {
		s.regions[i].ID = i
	}
}
