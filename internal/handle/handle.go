package handle

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// PrefixRegion tags handles minted for annotation regions.
const PrefixRegion = "rgn"

// New returns a fresh handle with the given prefix.
func New(prefix string) string {
	id := typeid.MustGenerate(prefix)
	return id.String()
}

// NewRegion returns a fresh region handle. Handles are time ordered, so a
// handle minted later sorts after earlier ones.
func NewRegion() string { return New(PrefixRegion) }

// Validate checks that id is a well-formed handle carrying expectedPrefix.
func Validate(id, expectedPrefix string) error {
	parsed, err := typeid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid handle %q: %w", id, err)
	}
	if parsed.Prefix() != expectedPrefix {
		return fmt.Errorf("expected prefix %q but got %q in handle %q", expectedPrefix, parsed.Prefix(), id)
	}
	return nil
}
