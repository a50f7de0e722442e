package mot

import (
	"image"
	"math"
)

// Rectangle is an axis-aligned box: top-left corner plus size.
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// Area returns width*height. Negative sizes are treated as empty.
func (r Rectangle) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Image converts rectangle to image.Rectangle (rounding to nearest pixel) for drawing purposes
func (r Rectangle) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.Width)),
		int(math.Round(r.Y+r.Height)),
	)
}
