// Package interaction turns pointer events from the display into annotation
// edits.
//
// A Controller is either idle or collecting the points of a new region.
// While idle a click toggles the visibility of the region under the
// pointer. While drawing a polygon every click adds a vertex and a
// double-click finishes the shape once it has at least three vertices.
// While drawing a rectangle the second click finishes the box.
package interaction

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
)

var (
	// ErrEmptyLabel is returned when a drawing session is started without a label.
	ErrEmptyLabel = errors.New("interaction: empty label")
	// ErrNoEditor is returned when a drawing session is started before an
	// annotation store is attached.
	ErrNoEditor = errors.New("interaction: no annotation store")
)

// Editor is the part of the annotation store the controller drives.
type Editor interface {
	Format() annotation.Format
	AddPolygon(label string, points []geometry.Point) (annotation.Region, error)
	AddRectangle(label string, corners []geometry.Point) (annotation.Region, error)
	HitTest(p geometry.Point) (annotation.Region, bool)
	Toggle(id int) (annotation.Region, error)
}

var _ Editor = (*annotation.Store)(nil)

// State is the drawing-session state.
type State int

const (
	Idle State = iota
	DrawingPolygon
	DrawingRectangle
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DrawingPolygon:
		return "drawing-polygon"
	case DrawingRectangle:
		return "drawing-rectangle"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventType distinguishes single from double clicks.
type EventType int

const (
	Click EventType = iota
	DoubleClick
)

// Event is a pointer event in display coordinates.
type Event struct {
	Type  EventType
	Point geometry.Point
}

// Action describes what an event did.
type Action int

const (
	// NoAction means the event changed nothing.
	NoAction Action = iota
	// PointAdded means a vertex was added to the current drawing session.
	PointAdded
	// RegionCreated means a drawing session completed and the region was saved.
	RegionCreated
	// RegionToggled means an idle click toggled a region's visibility.
	RegionToggled
)

// Result is the outcome of one event. Region is set for RegionCreated and
// RegionToggled.
type Result struct {
	Action Action
	Region annotation.Region
	// Pending is the number of points collected in the current session.
	Pending int
}

// Controller is the drawing-session state machine. It is driven from the
// display's event thread and is not safe for concurrent use.
type Controller struct {
	editor Editor
	state  State
	label  string
	points []geometry.Point
	logger *slog.Logger
}

// New returns an idle controller editing e. A nil logger discards output.
func New(e Editor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{editor: e, logger: logger}
}

// SetEditor switches to a new annotation store, e.g. after the displayed
// image changed. Any unfinished session is dropped.
func (c *Controller) SetEditor(e Editor) {
	c.reset()
	c.editor = e
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Label is the label of the current drawing session.
func (c *Controller) Label() string { return c.label }

// Points returns the points collected so far in the current session.
func (c *Controller) Points() []geometry.Point {
	return append([]geometry.Point(nil), c.points...)
}

// Start begins a drawing session for a region of the given kind. A session
// already in progress is discarded.
func (c *Controller) Start(kind annotation.Kind, label string) error {
	if label == "" {
		return ErrEmptyLabel
	}

	var next State
	switch kind {
	case annotation.Polygon:
		next = DrawingPolygon
	case annotation.Rectangle:
		next = DrawingRectangle
	default:
		return fmt.Errorf("interaction: cannot draw %v", kind)
	}

	if c.state != Idle {
		c.logger.Debug("drawing session replaced", "state", c.state, "discarded", len(c.points))
	}
	c.state = next
	c.label = label
	c.points = nil
	return nil
}

// Begin starts a drawing session of the kind the attached store's format
// supports: polygons for shape lists, rectangles for object lists.
func (c *Controller) Begin(label string) error {
	if c.editor == nil {
		return ErrNoEditor
	}
	return c.Start(c.editor.Format().Kind(), label)
}

// Cancel abandons the current drawing session.
func (c *Controller) Cancel() {
	if c.state != Idle {
		c.logger.Debug("drawing session cancelled", "state", c.state, "discarded", len(c.points))
	}
	c.reset()
}

// Click handles a single click at p.
func (c *Controller) Click(p geometry.Point) (Result, error) {
	return c.Handle(Event{Type: Click, Point: p})
}

// DoubleClick handles a double click at p.
func (c *Controller) DoubleClick(p geometry.Point) (Result, error) {
	return c.Handle(Event{Type: DoubleClick, Point: p})
}

// Handle dispatches ev according to the current state.
func (c *Controller) Handle(ev Event) (Result, error) {
	switch c.state {
	case DrawingPolygon:
		return c.handlePolygon(ev)
	case DrawingRectangle:
		return c.handleRectangle(ev)
	default:
		return c.handleIdle(ev)
	}
}

func (c *Controller) handleIdle(ev Event) (Result, error) {
	if ev.Type != Click || c.editor == nil {
		return Result{}, nil
	}
	hit, ok := c.editor.HitTest(ev.Point)
	if !ok {
		return Result{}, nil
	}
	r, err := c.editor.Toggle(hit.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Action: RegionToggled, Region: r}, nil
}

// handlePolygon appends clicks as vertices. A double-click adds its point
// unless the preceding click already delivered it, then completes the
// polygon if it has three or more vertices; otherwise drawing continues.
func (c *Controller) handlePolygon(ev Event) (Result, error) {
	switch ev.Type {
	case Click:
		c.points = append(c.points, ev.Point)
		return Result{Action: PointAdded, Pending: len(c.points)}, nil
	case DoubleClick:
		added := false
		if n := len(c.points); n == 0 || c.points[n-1] != ev.Point {
			c.points = append(c.points, ev.Point)
			added = true
		}
		if len(c.points) < 3 {
			res := Result{Pending: len(c.points)}
			if added {
				res.Action = PointAdded
			}
			return res, nil
		}
		return c.complete()
	}
	return Result{Pending: len(c.points)}, nil
}

func (c *Controller) handleRectangle(ev Event) (Result, error) {
	if ev.Type != Click {
		return Result{Pending: len(c.points)}, nil
	}
	c.points = append(c.points, ev.Point)
	if len(c.points) < 2 {
		return Result{Action: PointAdded, Pending: len(c.points)}, nil
	}
	return c.complete()
}

// complete hands the collected points to the store and returns to Idle,
// whether or not the store accepted them.
func (c *Controller) complete() (Result, error) {
	state, label, points := c.state, c.label, c.points
	c.reset()

	if c.editor == nil {
		return Result{}, ErrNoEditor
	}

	var (
		r   annotation.Region
		err error
	)
	if state == DrawingPolygon {
		r, err = c.editor.AddPolygon(label, points)
	} else {
		r, err = c.editor.AddRectangle(label, points)
	}
	if err != nil {
		c.logger.Warn("drawing session failed", "state", state, "label", label, "error", err)
		return Result{}, err
	}
	return Result{Action: RegionCreated, Region: r}, nil
}

func (c *Controller) reset() {
	c.state = Idle
	c.label = ""
	c.points = nil
}
