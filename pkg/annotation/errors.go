package annotation

import (
	"errors"
	"fmt"
)

var (
	// ErrParse matches every *ParseError.
	ErrParse = errors.New("malformed annotation file")
	// ErrUnsupportedFormat is returned when an image has neither a shape-list
	// nor an object-list annotation file next to it.
	ErrUnsupportedFormat = errors.New("no supported annotation file")
	// ErrWrongFormat is returned when an edit is not expressible in the active
	// annotation format, e.g. adding a polygon to an object-list file.
	ErrWrongFormat = errors.New("operation not supported by annotation format")
	// ErrNotFound is returned for ids and handles that do not name a region.
	ErrNotFound = errors.New("region not found")
	// ErrInvalidRegion is returned when a new region is missing a label or has
	// the wrong number of points.
	ErrInvalidRegion = errors.New("invalid region")
)

// ParseError reports a malformed annotation file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse annotation: %v", e.Err)
	}
	return fmt.Sprintf("parse annotation %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErrorf(format string, args ...any) error {
	return &ParseError{Err: fmt.Errorf(format, args...)}
}
