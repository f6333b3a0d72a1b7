package noise

import (
	"image"
	"math"
)

// Quantize converts a field into an 8-bit grayscale image using round(v*255).
// Out-of-range values are clamped and NaN maps to 0.
func Quantize(f *Field) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		img.Pix[i] = toByte(v)
	}
	return img
}

func toByte(v float32) uint8 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	q := math.Round(float64(v) * 255)
	if q < 0 {
		return 0
	}
	if q > 255 {
		return 255
	}
	return uint8(q)
}
