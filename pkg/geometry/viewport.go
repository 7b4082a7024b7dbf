package geometry

import "math"

// Viewport describes the box an image is fitted into and the box the
// scaled image is centered in. The two usually match, but the centering
// box may be shorter than the fit box when the display reserves room below
// the image.
type Viewport struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	CenterWidth  int `json:"center_width"`
	CenterHeight int `json:"center_height"`
}

// Size is an integer width and height.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultViewport matches the 800x600 display area of the desktop viewer,
// centered vertically within 450 pixels.
func DefaultViewport() Viewport {
	return Viewport{Width: 800, Height: 600, CenterWidth: 800, CenterHeight: 450}
}

// Fit computes the aspect-preserving transform that fits an image of
// imgW x imgH into vp and centers it in the centering box. The returned size
// is the scaled image size, truncated to whole pixels.
func Fit(imgW, imgH int, vp Viewport) (Transform, Size, error) {
	if imgW <= 0 || imgH <= 0 {
		return Transform{}, Size{}, ErrDivision
	}

	ratio := math.Min(float64(vp.Width)/float64(imgW), float64(vp.Height)/float64(imgH))
	size := Size{
		Width:  int(float64(imgW) * ratio),
		Height: int(float64(imgH) * ratio),
	}

	cw, ch := vp.CenterWidth, vp.CenterHeight
	if cw == 0 {
		cw = vp.Width
	}
	if ch == 0 {
		ch = vp.Height
	}

	t := Transform{
		Ratio: ratio,
		Offset: Point{
			X: float64(cw-size.Width) / 2,
			Y: float64(ch-size.Height) / 2,
		},
	}
	return t, size, nil
}
