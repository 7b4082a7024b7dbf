// Package imageannotator browses a directory of images and edits the region
// annotations stored next to each one.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	s, err := imageannotator.New(cfg, slog.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := s.OpenDir("./photos"); err != nil {
//		log.Fatal(err)
//	}
//
//	// Draw a box (object-list annotations) or polygon (shape-list
//	// annotations) in display coordinates.
//	_ = s.BeginAnnotation("dog")
//	_, _ = s.Click(geometry.Pt(120, 80))
//	_, _ = s.Click(geometry.Pt(260, 240))
//
//	overlay, _ := s.Render()
//
// A Session is made of four parts:
//
//  1. Geometry (pkg/geometry): display/original coordinate transforms and hit tests
//  2. Annotation store (pkg/annotation): JSON shape lists and XML object lists
//  3. Palette (pkg/palette): stable label colors
//  4. Interaction (pkg/interaction): the click-driven drawing state machine
//
// Rendering lives in pkg/processing and optional label suggestions from a
// vision model in pkg/suggest.
package imageannotator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/interaction"
	"github.com/menta2k/image-annotator/pkg/llamacpp"
	"github.com/menta2k/image-annotator/pkg/ollama"
	"github.com/menta2k/image-annotator/pkg/palette"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/suggest"
)

// Version of the image annotator library
const Version = "1.0.0"

var (
	// ErrNoImages is returned by OpenDir when a directory has no image files.
	ErrNoImages = errors.New("no image files found")
	// ErrNoImage is returned by operations that need an open image.
	ErrNoImage = errors.New("no image open")
	// ErrNoAnnotations is returned by edits on an image without an annotation file.
	ErrNoAnnotations = errors.New("image has no annotation file")
	// ErrSuggestDisabled is returned by Suggest when no vision model is configured.
	ErrSuggestDisabled = errors.New("label suggestions are disabled")
)

// Session is the state of one annotation window: the image list, the open
// image with its annotations, the drawing controller and the label colors.
// It is not safe for concurrent use.
type Session struct {
	cfg        *config.Config
	logger     *slog.Logger
	processor  *processing.Processor
	palette    *palette.Registry
	controller *interaction.Controller
	suggester  *suggest.Suggester

	files     []string
	index     int
	image     image.Image
	display   processing.Display
	store     *annotation.Store
	lastLabel string
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	vision client.VisionClient
}

// WithVisionClient enables label suggestions through c regardless of the
// suggest.enabled setting.
func WithVisionClient(c client.VisionClient) Option {
	return func(o *sessionOptions) { o.vision = c }
}

// New creates a session. A nil cfg uses config.Default and a nil logger
// discards output.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	colors, err := cfg.Colors()
	if err != nil {
		return nil, err
	}

	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		processor:  processing.NewProcessor(),
		palette:    palette.New(colors...),
		controller: interaction.New(nil, logger),
		lastLabel:  cfg.DefaultLabel,
	}

	vision := o.vision
	if vision == nil && cfg.Suggest.Enabled {
		if vision, err = newVisionClient(cfg.Suggest); err != nil {
			return nil, fmt.Errorf("suggest client: %w", err)
		}
	}
	if vision != nil {
		s.suggester = suggest.New(vision, suggest.Config{
			Model:   cfg.Suggest.Model,
			Timeout: cfg.SuggestTimeout(),
		}, logger)
	}
	return s, nil
}

func newVisionClient(cfg config.SuggestConfig) (client.VisionClient, error) {
	switch cfg.Backend {
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL, nil)
	case "ollama":
		return ollama.NewClient(cfg.URL, nil)
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", cfg.Backend)
	}
}

// OpenDir lists the image files of dir and opens the first one. It returns
// the number of images found.
func (s *Session) OpenDir(dir string) (int, error) {
	files, err := utils.ListImageFiles(dir, s.cfg.Images.Extensions...)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%s: %w", dir, ErrNoImages)
	}
	s.setFiles(files)
	s.logger.Info("directory opened", "dir", dir, "images", len(files))
	return len(files), s.Open(0)
}

// OpenImage opens a single image as a one-element image list.
func (s *Session) OpenImage(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	s.setFiles([]string{abs})
	return s.Open(0)
}

func (s *Session) setFiles(files []string) {
	s.files = files
	s.index = 0
	s.image = nil
	s.store = nil
	s.controller.SetEditor(nil)
}

// Open displays the i-th image of the list and replaces the annotations with
// those of its annotation file. An image without an annotation file opens
// with no regions. When the annotation file cannot be parsed the image still
// opens without regions and the parse error is returned.
func (s *Session) Open(i int) error {
	if i < 0 || i >= len(s.files) {
		return fmt.Errorf("image index %d out of range [0,%d)", i, len(s.files))
	}
	path := s.files[i]

	img, err := s.processor.LoadImage(path)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	display, err := s.processor.FitToViewport(img, s.cfg.ViewportValue())
	if err != nil {
		return err
	}

	s.index = i
	s.image = img
	s.display = display
	s.store = nil
	s.controller.SetEditor(nil)

	store, err := annotation.Open(path, display.Transform, annotation.WithLogger(s.logger))
	switch {
	case errors.Is(err, annotation.ErrUnsupportedFormat):
		s.logger.Info("image opened without annotations", "image", path)
		return nil
	case err != nil:
		s.logger.Warn("annotations could not be loaded", "image", path, "error", err)
		return err
	}

	s.store = store
	s.controller.SetEditor(store)
	s.logger.Info("image opened", "image", path, "annotations", store.Path(), "regions", store.Len())
	return nil
}

// Next opens the following image. It reports false at the end of the list.
func (s *Session) Next() (bool, error) {
	if s.index+1 >= len(s.files) {
		return false, nil
	}
	return true, s.Open(s.index + 1)
}

// Prev opens the preceding image. It reports false at the start of the list.
func (s *Session) Prev() (bool, error) {
	if s.index <= 0 || len(s.files) == 0 {
		return false, nil
	}
	return true, s.Open(s.index - 1)
}

// Position returns the 1-based number of the open image and the list
// length, or 0, 0 before anything was opened.
func (s *Session) Position() (current, total int) {
	if len(s.files) == 0 {
		return 0, 0
	}
	return s.index + 1, len(s.files)
}

// Current is the path of the open image.
func (s *Session) Current() string {
	if len(s.files) == 0 {
		return ""
	}
	return s.files[s.index]
}

// Files returns the image list.
func (s *Session) Files() []string {
	return append([]string(nil), s.files...)
}

// Store is the annotation store of the open image, nil when it has none.
func (s *Session) Store() *annotation.Store { return s.store }

// Controller is the drawing-session state machine.
func (s *Session) Controller() *interaction.Controller { return s.controller }

// Palette is the label color registry shared by every image of the session.
func (s *Session) Palette() *palette.Registry { return s.palette }

// Display is the open image fitted into the viewport.
func (s *Session) Display() processing.Display { return s.display }

// LastLabel is the label the next BeginAnnotation("") uses.
func (s *Session) LastLabel() string { return s.lastLabel }

// BeginAnnotation starts drawing a region of the kind the open annotation
// file holds. An empty label reuses the last label given.
func (s *Session) BeginAnnotation(label string) error {
	if s.store == nil {
		return ErrNoAnnotations
	}
	return s.StartDrawing(s.store.Format().Kind(), label)
}

// StartDrawing starts drawing a region of the given kind. The annotation
// file rejects the region on completion when it cannot hold that kind.
func (s *Session) StartDrawing(kind annotation.Kind, label string) error {
	if s.store == nil {
		return ErrNoAnnotations
	}
	if label == "" {
		label = s.lastLabel
	}
	if err := s.controller.Start(kind, label); err != nil {
		return err
	}
	s.lastLabel = label
	return nil
}

// Click forwards a display-space click to the controller.
func (s *Session) Click(p geometry.Point) (interaction.Result, error) {
	return s.controller.Click(p)
}

// DoubleClick forwards a display-space double click to the controller.
func (s *Session) DoubleClick(p geometry.Point) (interaction.Result, error) {
	return s.controller.DoubleClick(p)
}

// Delete removes region id from the open image's annotations.
func (s *Session) Delete(id int) error {
	if s.store == nil {
		return ErrNoAnnotations
	}
	return s.store.Delete(id)
}

// Render draws the visible regions and any unfinished drawing over the
// display image.
func (s *Session) Render() (*image.NRGBA, error) {
	if s.image == nil {
		return nil, ErrNoImage
	}
	opts := processing.RenderOptions{
		Stroke:       s.cfg.Render.Stroke,
		VertexRadius: s.cfg.Render.VertexRadius,
		Captions:     true,
	}
	var regions []annotation.Region
	if s.store != nil {
		regions = s.store.Regions()
	}
	canvas := s.processor.Overlay(s.display, regions, s.palette.ColorFor, opts)
	if pending := s.controller.Points(); len(pending) > 0 {
		s.processor.DrawPending(canvas, pending, s.cfg.Render.VertexRadius+1)
	}
	return canvas, nil
}

// SaveRender renders the overlay and writes it to path. When path is a
// directory the file is named after the open image with an "_annotated"
// suffix; a path without extension gets the configured output format.
// It returns the path written.
func (s *Session) SaveRender(path string) (string, error) {
	img, err := s.Render()
	if err != nil {
		return "", err
	}
	if utils.DirExists(path) {
		path = utils.GenerateOutputFilename(s.Current(), path, "", "_annotated", s.cfg.Render.OutputFormat)
	}
	format := utils.GetFileExtension(path)
	if format == "" {
		format = s.cfg.Render.OutputFormat
		path += "." + format
	}
	if err := s.processor.SaveImage(img, path, format, s.cfg.Render.Quality, false); err != nil {
		return "", fmt.Errorf("failed to save render: %w", err)
	}
	return path, nil
}

// Suggest asks the configured vision model for a label for region id.
func (s *Session) Suggest(ctx context.Context, id int) (string, error) {
	if s.suggester == nil {
		return "", ErrSuggestDisabled
	}
	if s.store == nil {
		return "", ErrNoAnnotations
	}
	records := s.store.Records()
	if id < 0 || id >= len(records) {
		return "", fmt.Errorf("region %d: %w", id, annotation.ErrNotFound)
	}
	return s.suggester.Suggest(ctx, s.image, records[id])
}
