package processing

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
)

// RenderOptions controls how regions are drawn.
type RenderOptions struct {
	Stroke       int
	VertexRadius int
	Captions     bool
}

// DefaultRenderOptions mirrors the desktop viewer: 2px outlines, 2px vertex
// markers and a caption per region.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Stroke: 2, VertexRadius: 2, Captions: true}
}

// Caption placement relative to the region's anchor point.
var (
	polygonCaptionOffset   = image.Pt(10, -20)
	rectangleCaptionOffset = image.Pt(10, -10)
)

// Overlay draws the visible regions onto the display canvas. colorFor is
// asked for every drawn region's label, in id order.
func (p *Processor) Overlay(d Display, regions []annotation.Region, colorFor func(label string) color.NRGBA, opts RenderOptions) *image.NRGBA {
	canvas := p.Canvas(d)
	if opts.Stroke < 1 {
		opts.Stroke = 1
	}

	for _, r := range regions {
		if !r.Visible || len(r.Points) == 0 || !finite(r.Points) {
			continue
		}
		c := colorFor(r.Label)

		switch r.Kind {
		case annotation.Rectangle:
			if len(r.Points) < 3 {
				continue
			}
			lo, hi := geometry.Bounds(r.Points[0], r.Points[2])
			drawBox(canvas, pixel(lo.X), pixel(lo.Y), pixel(hi.X)+1, pixel(hi.Y)+1, c, opts.Stroke)
			if opts.Captions {
				drawCaption(canvas, r.Caption(), toPixel(r.Points[0]).Add(rectangleCaptionOffset), c)
			}
		default:
			n := len(r.Points)
			clip := clipBounds(canvas.Bounds(), opts.Stroke)
			for i := range r.Points {
				a, b, ok := clipSegment(r.Points[i], r.Points[(i+1)%n], clip)
				if ok {
					drawLine(canvas, toPixel(a), toPixel(b), c, opts.Stroke)
				}
			}
			for _, pt := range r.Points {
				fillSquare(canvas, toPixel(pt), opts.VertexRadius, c)
			}
			if opts.Captions {
				drawCaption(canvas, r.Caption(), toPixel(r.Points[0]).Add(polygonCaptionOffset), c)
			}
		}
	}
	return canvas
}

// DrawPending marks the points of an unfinished drawing session.
func (p *Processor) DrawPending(canvas *image.NRGBA, points []geometry.Point, radius int) {
	marker := color.NRGBA{B: 0xff, A: 0xff}
	for _, pt := range points {
		if finite([]geometry.Point{pt}) {
			fillSquare(canvas, toPixel(pt), radius, marker)
		}
	}
}

// pixelLimit bounds converted coordinates so they fit both int and the
// 26.6 fixed point used for captions. Anything beyond it is off every canvas.
const pixelLimit = 1 << 24

func clampCoord(v float64) float64 {
	return math.Max(-pixelLimit, math.Min(pixelLimit, v))
}

// pixel truncates v toward zero.
func pixel(v float64) int { return int(clampCoord(v)) }

func toPixel(p geometry.Point) image.Point {
	return image.Pt(int(math.Round(clampCoord(p.X))), int(math.Round(clampCoord(p.Y))))
}

func finite(pts []geometry.Point) bool {
	for _, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return false
		}
	}
	return true
}

type clipBox struct{ lo, hi geometry.Point }

// clipBounds is the canvas grown by the stroke width, so clipped segments
// still paint their full width along the edges.
func clipBounds(r image.Rectangle, stroke int) clipBox {
	m := float64(stroke + 1)
	return clipBox{
		lo: geometry.Pt(float64(r.Min.X)-m, float64(r.Min.Y)-m),
		hi: geometry.Pt(float64(r.Max.X)+m, float64(r.Max.Y)+m),
	}
}

// clipSegment cuts a-b down to the part inside the box (Liang-Barsky).
// ok is false when no part of the segment is inside.
func clipSegment(a, b geometry.Point, box clipBox) (geometry.Point, geometry.Point, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, a.X - box.lo.X},
		{dx, box.hi.X - a.X},
		{-dy, a.Y - box.lo.Y},
		{dy, box.hi.Y - a.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return a, b, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return a, b, false
			}
			t1 = math.Min(t1, t)
		}
	}
	return geometry.Pt(a.X+t0*dx, a.Y+t0*dy), geometry.Pt(a.X+t1*dx, a.Y+t1*dy), true
}

func drawBox(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

// drawLine rasterizes a segment with Bresenham's algorithm, stamping a
// stroke-sized square at every step.
func drawLine(img *image.NRGBA, a, b image.Point, c color.NRGBA, stroke int) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	half := stroke / 2
	err := dx + dy
	x, y := a.X, a.Y
	for {
		fillRect(img, x-half, y-half, x-half+stroke, y-half+stroke, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func fillSquare(img *image.NRGBA, at image.Point, radius int, c color.NRGBA) {
	if radius < 1 {
		return
	}
	fillRect(img, at.X-radius, at.Y-radius, at.X+radius, at.Y+radius, c)
}

func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	for y := y0; y < y1; y++ {
		drawHLine(img, y, x0, x1, c)
	}
}

func drawCaption(img *image.NRGBA, text string, topLeft image.Point, c color.NRGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(topLeft.X, topLeft.Y+face.Ascent),
	}
	d.DrawString(text)
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
