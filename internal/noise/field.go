// Package noise synthesizes spectrally shaped noise textures.
//
// A generation call seeds a uniform random field, shapes it for a number of
// rounds with Gaussian blur arithmetic, renormalizes the value distribution
// after every round by rank, and finally quantizes the field into an 8-bit
// grayscale image.
package noise

// Field is a width×height grid of float32 values stored row-major.
type Field struct {
	Width  int
	Height int
	Pix    []float32
}

// NewField allocates a zeroed field.
func NewField(width, height int) *Field {
	return &Field{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height),
	}
}

func (f *Field) idx(x, y int) int { return y*f.Width + x }

// At returns the value at (x, y).
func (f *Field) At(x, y int) float32 { return f.Pix[f.idx(x, y)] }

// Set stores v at (x, y).
func (f *Field) Set(x, y int, v float32) { f.Pix[f.idx(x, y)] = v }

// Len returns the number of pixels.
func (f *Field) Len() int { return len(f.Pix) }

// Source yields uniform samples in [0, 1).
// Both *math/rand.Rand and *math/rand/v2.Rand satisfy it.
type Source interface {
	Float32() float32
}

// RandomField fills a new field with independent samples from src in raster order.
// Dimensions are not validated here.
func RandomField(width, height int, src Source) *Field {
	f := NewField(width, height)
	for i := range f.Pix {
		f.Pix[i] = src.Float32()
	}
	return f
}

// subtract stores a[i] - b[i] into dst. dst may alias a.
func subtract(dst, a, b *Field) {
	for i := range dst.Pix {
		dst.Pix[i] = a.Pix[i] - b.Pix[i]
	}
}
