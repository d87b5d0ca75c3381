// Package colorutil provides shared color utilities for the profiler and classifiers.
package colorutil

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Common reference colors used by fixtures and diagnostics.
var (
	Black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Red   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Green = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Blue  = color.RGBA{R: 0, G: 0, B: 255, A: 255}
)

// RGB is an 8-bit sRGB pixel.
type RGB struct {
	R, G, B uint8
}

// FromColor converts any color.Color to 8-bit RGB.
func FromColor(c color.Color) RGB {
	r, g, b, _ := c.RGBA()
	// Convert from 16-bit to 8-bit
	return RGB{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// At reads the pixel at (x, y) as premultiplied 8-bit RGB, the same value
// FromColor gives for every image type. *image.RGBA is read directly.
func At(img image.Image, x, y int) RGB {
	switch m := img.(type) {
	case *image.RGBA:
		c := m.RGBAAt(x, y)
		return RGB{R: c.R, G: c.G, B: c.B}
	default:
		return FromColor(img.At(x, y))
	}
}

// Channels returns the pixel as a 3-array in R, G, B order.
func (c RGB) Channels() [3]uint8 {
	return [3]uint8{c.R, c.G, c.B}
}

// Max returns the largest channel value.
func (c RGB) Max() uint8 {
	return max(c.R, c.G, c.B)
}

// Min returns the smallest channel value.
func (c RGB) Min() uint8 {
	return min(c.R, c.G, c.B)
}

// Spread returns Max - Min.
func (c RGB) Spread() int {
	return int(c.Max()) - int(c.Min())
}

// ArgMax returns the index (0=R, 1=G, 2=B) of the largest channel.
// Ties resolve to the lowest index.
func (c RGB) ArgMax() int {
	ch := c.Channels()
	best := 0
	for i := 1; i < len(ch); i++ {
		if ch[i] > ch[best] {
			best = i
		}
	}
	return best
}

// ToXYZ converts 8-bit sRGB to CIE XYZ (D65). Channels are linearized with the
// sRGB transfer function before the linear transform is applied.
func ToXYZ(c RGB) (x, y, z float64) {
	col := colorful.Color{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}
	return col.Xyz()
}

// ToChromaticity converts 8-bit sRGB to (x, y, Y): chromaticity x and y
// followed by the raw luminance Y. Pure black maps to (0, 0, 0).
//
// The third component is luminance, not a repeat of chromaticity y. Trained
// perceptron weights depend on this ordering.
func ToChromaticity(c RGB) (x, y, lum float64) {
	cx, cy, cz := ToXYZ(c)
	sum := cx + cy + cz
	if sum == 0 {
		return 0, 0, 0
	}
	return cx / sum, cy / sum, cy
}
