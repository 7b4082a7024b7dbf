package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

// Background fills the part of the viewport the scaled image does not cover.
var Background = color.NRGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}

// Processor handles image processing operations
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Display is an image fitted into a viewport.
type Display struct {
	// Image is the scaled source image.
	Image image.Image
	// Transform maps original image coordinates onto the viewport.
	Transform geometry.Transform
	// Original is the size of the unscaled source image.
	Original geometry.Size
	// Viewport is the box the image was fitted into.
	Viewport geometry.Viewport
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.Contains(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// FitToViewport scales img with Lanczos resampling so that it fits vp while
// keeping its aspect ratio, and returns the transform annotations have to be
// displayed with.
func (p *Processor) FitToViewport(img image.Image, vp geometry.Viewport) (Display, error) {
	b := img.Bounds()
	t, size, err := geometry.Fit(b.Dx(), b.Dy(), vp)
	if err != nil {
		return Display{}, fmt.Errorf("fit %dx%d image: %w", b.Dx(), b.Dy(), err)
	}

	scaled := img
	if size.Width != b.Dx() || size.Height != b.Dy() {
		if size.Width < 1 || size.Height < 1 {
			return Display{}, fmt.Errorf("image %dx%d scales to an empty display", b.Dx(), b.Dy())
		}
		scaled = imaging.Resize(img, size.Width, size.Height, imaging.Lanczos)
	}

	return Display{
		Image:     scaled,
		Transform: t,
		Original:  geometry.Size{Width: b.Dx(), Height: b.Dy()},
		Viewport:  vp,
	}, nil
}

// Canvas paints the scaled image at the display offset on a viewport-sized
// background. Region coordinates index this canvas directly.
func (p *Processor) Canvas(d Display) *image.NRGBA {
	canvas := imaging.New(d.Viewport.Width, d.Viewport.Height, Background)
	at := image.Pt(int(d.Transform.Offset.X), int(d.Transform.Offset.Y))
	return imaging.Paste(canvas, d.Image, at)
}

// CropOriginal cuts the original-space box lo..hi out of img, clamped to the
// image bounds.
func (p *Processor) CropOriginal(img image.Image, lo, hi geometry.Point) (image.Image, error) {
	b := img.Bounds()
	rect := image.Rect(int(lo.X), int(lo.Y), int(hi.X+0.5), int(hi.Y+0.5)).Add(b.Min).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle")
	}
	return imaging.Crop(img, rect), nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}
