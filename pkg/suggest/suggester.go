// Package suggest asks a vision model for a label for an annotated region.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/processing"
)

// DefaultPrompt asks for a single bare noun so the reply can be used as a label.
const DefaultPrompt = `You are labelling objects for an image annotation dataset.

The image is a crop around one annotated object.
Reply with the single most specific common noun naming that object, in lowercase.
No articles, no punctuation, no explanation.
If you cannot tell what the object is, reply with: none`

// ErrNoSuggestion is returned when the model could not name the region.
var ErrNoSuggestion = errors.New("suggest: model returned no usable label")

// Config tunes a Suggester.
type Config struct {
	Model   string
	Prompt  string
	Timeout time.Duration
	// MaxDim caps the longer side of the crop sent to the model.
	MaxDim int
}

// Suggester proposes labels for regions using a vision model.
type Suggester struct {
	client    client.VisionClient
	processor *processing.Processor
	config    Config
	logger    *slog.Logger
}

// New creates a Suggester. A nil logger discards output.
func New(c client.VisionClient, cfg Config, logger *slog.Logger) *Suggester {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.MaxDim <= 0 {
		cfg.MaxDim = 512
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Suggester{client: c, processor: processing.NewProcessor(), config: cfg, logger: logger}
}

// Suggest crops rec's bounding box out of the original image and asks the
// model to name it.
func (s *Suggester) Suggest(ctx context.Context, img image.Image, rec annotation.Record) (string, error) {
	if len(rec.Points) == 0 {
		return "", fmt.Errorf("suggest: %w", annotation.ErrInvalidRegion)
	}
	lo, hi := geometry.BoundingBox(rec.Points)
	crop, err := s.processor.CropOriginal(img, lo, hi)
	if err != nil {
		return "", fmt.Errorf("suggest: crop %v-%v: %w", lo, hi, err)
	}
	imgB64, err := s.processor.PrepareImageForModel(crop, "jpg", s.config.MaxDim, 90)
	if err != nil {
		return "", fmt.Errorf("suggest: encode crop: %w", err)
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.client.SimpleQuery(ctx, s.config.Model, s.config.Prompt, imgB64)
	if err != nil {
		return "", fmt.Errorf("suggest: %w", err)
	}
	label := NormalizeLabel(reply)
	s.logger.Debug("label suggested", "model", s.config.Model, "reply", reply, "label", label, "elapsed", time.Since(start))
	if label == "" || label == "none" {
		return "", ErrNoSuggestion
	}
	return label, nil
}

var (
	reFence = regexp.MustCompile("(?s)^```[a-z]*\\n?(.*?)\\n?```$")
	reWord  = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N} _-]*`)
)

// NormalizeLabel reduces a free-form model reply to a lowercase label: the
// first line, without code fences, quotes or trailing punctuation.
func NormalizeLabel(reply string) string {
	reply = strings.TrimSpace(reply)
	if m := reFence.FindStringSubmatch(reply); m != nil {
		reply = strings.TrimSpace(m[1])
	}
	if i := strings.IndexByte(reply, '\n'); i >= 0 {
		reply = reply[:i]
	}
	reply = strings.ToLower(reply)
	reply = strings.TrimPrefix(reply, "label:")
	word := reWord.FindString(reply)
	word = strings.TrimSpace(word)
	for _, article := range []string{"a ", "an ", "the "} {
		word = strings.TrimPrefix(word, article)
	}
	return strings.Join(strings.Fields(word), " ")
}
