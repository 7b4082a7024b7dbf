package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
)

var (
	gray  = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 128, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)

// createTestImage creates a uniformly filled test image
func createTestImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFitToViewport(t *testing.T) {
	p := NewProcessor()

	d, err := p.FitToViewport(createTestImage(1600, 900, gray), geometry.DefaultViewport())
	if err != nil {
		t.Fatalf("FitToViewport() error = %v", err)
	}
	if got := d.Image.Bounds().Size(); got != image.Pt(800, 450) {
		t.Errorf("scaled size = %v, want 800x450", got)
	}
	if d.Transform.Ratio != 0.5 {
		t.Errorf("ratio = %v, want 0.5", d.Transform.Ratio)
	}
	if d.Transform.Offset != geometry.Pt(0, 0) {
		t.Errorf("offset = %v, want (0, 0)", d.Transform.Offset)
	}
	if d.Original != (geometry.Size{Width: 1600, Height: 900}) {
		t.Errorf("original size = %+v", d.Original)
	}
}

func TestFitToViewport_Empty(t *testing.T) {
	p := NewProcessor()
	if _, err := p.FitToViewport(image.NewNRGBA(image.Rect(0, 0, 0, 0)), geometry.DefaultViewport()); err == nil {
		t.Error("expected error for an empty image")
	}
}

func TestCanvas(t *testing.T) {
	p := NewProcessor()
	vp := geometry.Viewport{Width: 200, Height: 200, CenterWidth: 200, CenterHeight: 200}

	d, err := p.FitToViewport(createTestImage(100, 50, color.White), vp)
	if err != nil {
		t.Fatalf("FitToViewport() error = %v", err)
	}
	if d.Transform.Offset != geometry.Pt(0, 50) {
		t.Fatalf("offset = %v, want (0, 50)", d.Transform.Offset)
	}

	canvas := p.Canvas(d)
	if got := canvas.Bounds().Size(); got != image.Pt(200, 200) {
		t.Fatalf("canvas size = %v", got)
	}
	if got := canvas.NRGBAAt(10, 10); got != Background {
		t.Errorf("pixel above the image = %v, want background", got)
	}
	if got := canvas.NRGBAAt(10, 100); got.R < 200 || got.G < 200 || got.B < 200 {
		t.Errorf("pixel inside the image = %v, want white", got)
	}
}

func TestOverlay(t *testing.T) {
	p := NewProcessor()
	d := Display{
		Image:     createTestImage(100, 100, gray),
		Transform: geometry.Identity(),
		Viewport:  geometry.Viewport{Width: 100, Height: 100},
	}
	regions := []annotation.Region{
		{ID: 0, Kind: annotation.Rectangle, Label: "box", Points: geometry.Corners(geometry.Pt(10, 10), geometry.Pt(50, 50)), Visible: true},
		{ID: 1, Kind: annotation.Rectangle, Label: "hidden", Points: geometry.Corners(geometry.Pt(60, 60), geometry.Pt(90, 90))},
		{ID: 2, Kind: annotation.Polygon, Label: "tri", Points: []geometry.Point{{10, 70}, {40, 70}, {25, 95}}, Visible: true},
	}
	colors := map[string]color.NRGBA{"box": red, "hidden": blue, "tri": green}
	var asked []string
	colorFor := func(label string) color.NRGBA {
		asked = append(asked, label)
		return colors[label]
	}

	opts := DefaultRenderOptions()
	opts.Captions = false
	out := p.Overlay(d, regions, colorFor, opts)

	tests := []struct {
		name string
		x, y int
		want color.NRGBA
	}{
		{"rectangle left edge", 10, 30, red},
		{"rectangle right edge", 50, 30, red},
		{"rectangle interior", 30, 30, gray},
		{"hidden region", 60, 75, gray},
		{"polygon edge", 25, 70, green},
		{"polygon vertex", 40, 70, green},
	}
	for _, tt := range tests {
		if got := out.NRGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("%s: pixel (%d,%d) = %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}

	if len(asked) != 2 || asked[0] != "box" || asked[1] != "tri" {
		t.Errorf("colors requested for %v, want [box tri]", asked)
	}
}

func TestOverlay_Captions(t *testing.T) {
	p := NewProcessor()
	d := Display{
		Image:     createTestImage(200, 100, gray),
		Transform: geometry.Identity(),
		Viewport:  geometry.Viewport{Width: 200, Height: 100},
	}
	regions := []annotation.Region{
		{ID: 0, Kind: annotation.Rectangle, Label: "dog", Points: geometry.Corners(geometry.Pt(20, 40), geometry.Pt(60, 90)), Visible: true},
	}

	out := p.Overlay(d, regions, func(string) color.NRGBA { return red }, DefaultRenderOptions())

	// The caption sits 10px right of and 10px above the top-left corner,
	// clear of the outline at y=40.
	found := false
	for y := 30; y < 40 && !found; y++ {
		for x := 30; x < 30+7*len("dog #0"); x++ {
			if out.NRGBAAt(x, y) == red {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("expected caption pixels above the rectangle")
	}
}

func TestOverlay_FarVertex(t *testing.T) {
	p := NewProcessor()
	d := Display{
		Image:     createTestImage(100, 100, gray),
		Transform: geometry.Identity(),
		Viewport:  geometry.Viewport{Width: 100, Height: 100},
	}
	regions := []annotation.Region{
		{ID: 0, Kind: annotation.Polygon, Label: "far", Points: []geometry.Point{{0, 0}, {1e9, 0}, {0, 10}}, Visible: true},
		{ID: 1, Kind: annotation.Rectangle, Label: "huge", Points: geometry.Corners(geometry.Pt(20, 20), geometry.Pt(1e300, 1e300)), Visible: true},
	}
	opts := DefaultRenderOptions()
	opts.Captions = false

	start := time.Now()
	out := p.Overlay(d, regions, func(string) color.NRGBA { return green }, opts)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Overlay() took %v", elapsed)
	}

	tests := []struct {
		name string
		x, y int
	}{
		{"edge toward far vertex", 50, 0},
		{"edge back from far vertex", 50, 10},
		{"huge rectangle top edge", 60, 20},
		{"huge rectangle left edge", 20, 60},
	}
	for _, tt := range tests {
		if got := out.NRGBAAt(tt.x, tt.y); got != green {
			t.Errorf("%s: pixel (%d,%d) = %v, want %v", tt.name, tt.x, tt.y, got, green)
		}
	}
}

func TestOverlay_NonFinitePoints(t *testing.T) {
	p := NewProcessor()
	d := Display{
		Image:     createTestImage(50, 50, gray),
		Transform: geometry.Identity(),
		Viewport:  geometry.Viewport{Width: 50, Height: 50},
	}
	regions := []annotation.Region{
		{ID: 0, Kind: annotation.Polygon, Label: "nan", Points: []geometry.Point{{0, 0}, {math.NaN(), 5}, {10, 10}}, Visible: true},
		{ID: 1, Kind: annotation.Polygon, Label: "inf", Points: []geometry.Point{{0, 0}, {math.Inf(1), 5}, {10, 10}}, Visible: true},
	}
	var asked []string
	out := p.Overlay(d, regions, func(label string) color.NRGBA {
		asked = append(asked, label)
		return red
	}, DefaultRenderOptions())

	if len(asked) != 0 {
		t.Errorf("colors requested for %v, want none", asked)
	}
	if got := out.NRGBAAt(0, 0); got != gray {
		t.Errorf("pixel (0,0) = %v, want untouched", got)
	}
}

func TestClipSegment(t *testing.T) {
	box := clipBounds(image.Rect(0, 0, 100, 100), 2)

	a, b, ok := clipSegment(geometry.Pt(-1e9, 50), geometry.Pt(1e9, 50), box)
	if !ok {
		t.Fatal("expected a crossing segment to be kept")
	}
	near := func(p, q geometry.Point) bool { return math.Abs(p.X-q.X) < 1e-6 && math.Abs(p.Y-q.Y) < 1e-6 }
	if !near(a, geometry.Pt(-3, 50)) || !near(b, geometry.Pt(103, 50)) {
		t.Errorf("clipped to %v-%v, want (-3,50)-(103,50)", a, b)
	}

	a, b, ok = clipSegment(geometry.Pt(10, 10), geometry.Pt(20, 30), box)
	if !ok || a != geometry.Pt(10, 10) || b != geometry.Pt(20, 30) {
		t.Errorf("inner segment changed to %v-%v (ok=%v)", a, b, ok)
	}

	if _, _, ok := clipSegment(geometry.Pt(200, 0), geometry.Pt(300, 1e9), box); ok {
		t.Error("expected a segment outside the canvas to be dropped")
	}
}

func TestDrawPending(t *testing.T) {
	p := NewProcessor()
	canvas := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	p.DrawPending(canvas, []geometry.Point{{5, 5}, {15.4, 15.4}}, 2)

	if got := canvas.NRGBAAt(5, 5); got.B != 0xff {
		t.Errorf("pending marker missing at (5,5): %v", got)
	}
	if got := canvas.NRGBAAt(14, 14); got.B != 0xff {
		t.Errorf("pending marker missing at (14,14): %v", got)
	}
	if got := canvas.NRGBAAt(10, 10); got.A != 0 {
		t.Errorf("unexpected paint at (10,10): %v", got)
	}
}

func TestCropOriginal(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(100, 80, gray)

	crop, err := p.CropOriginal(img, geometry.Pt(10, 20), geometry.Pt(40.2, 50.6))
	if err != nil {
		t.Fatalf("CropOriginal() error = %v", err)
	}
	if got := crop.Bounds().Size(); got != image.Pt(30, 31) {
		t.Errorf("crop size = %v, want 30x31", got)
	}

	crop, err = p.CropOriginal(img, geometry.Pt(90, 70), geometry.Pt(500, 500))
	if err != nil {
		t.Fatalf("CropOriginal() error = %v", err)
	}
	if got := crop.Bounds().Size(); got != image.Pt(10, 10) {
		t.Errorf("clamped crop size = %v, want 10x10", got)
	}

	if _, err := p.CropOriginal(img, geometry.Pt(200, 200), geometry.Pt(300, 300)); err == nil {
		t.Error("expected error for a crop outside the image")
	}
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()

	b64, err := p.PrepareImageForModel(createTestImage(400, 200, gray), "png", 100, 90)
	if err != nil {
		t.Fatalf("PrepareImageForModel() error = %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(100, 50) {
		t.Errorf("encoded size = %v, want 100x50", got)
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "overlay.png")

	if err := p.SaveImage(createTestImage(30, 20, red), path, "png", 90, false); err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	img, err := p.LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(30, 20) {
		t.Errorf("loaded size = %v, want 30x20", got)
	}

	if _, err := p.LoadImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func BenchmarkOverlay(b *testing.B) {
	p := NewProcessor()
	d := Display{
		Image:     createTestImage(800, 600, gray),
		Transform: geometry.Identity(),
		Viewport:  geometry.DefaultViewport(),
	}
	regions := []annotation.Region{
		{Kind: annotation.Rectangle, Label: "a", Points: geometry.Corners(geometry.Pt(10, 10), geometry.Pt(400, 300)), Visible: true},
		{Kind: annotation.Polygon, Label: "b", Points: []geometry.Point{{100, 100}, {700, 120}, {400, 550}}, Visible: true},
	}
	colorFor := func(string) color.NRGBA { return red }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Overlay(d, regions, colorFor, DefaultRenderOptions())
	}
}
