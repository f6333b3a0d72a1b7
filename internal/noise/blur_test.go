package noise

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGiftBlurPreservesConstantField(t *testing.T) {
	src := NewField(12, 7)
	for i := range src.Pix {
		src.Pix[i] = 0.25
	}
	dst := NewField(12, 7)

	GiftBlur{}.Blur(dst, src, 2)
	for _, v := range dst.Pix {
		assert.Equal(t, float32(0.25), v)
	}
}

func TestGiftBlurSmoothsAndKeepsRange(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	src := RandomField(48, 32, r)
	dst := NewField(48, 32)

	GiftBlur{}.Blur(dst, src, 2)

	lo, hi := valueRange(src)
	const eps = 1e-4
	for _, v := range dst.Pix {
		require.GreaterOrEqual(t, v, lo-eps)
		require.LessOrEqual(t, v, hi+eps)
	}
	assert.Less(t, variance(dst), variance(src)/4)
	assert.InDelta(t, mean(src), mean(dst), 0.02)
}

func TestGiftBlurHandlesNegativeValues(t *testing.T) {
	src := &Field{Width: 3, Height: 1, Pix: []float32{-2, 0, 2}}
	dst := NewField(3, 1)

	GiftBlur{}.Blur(dst, src, 0.8)

	assert.InDelta(t, 0, dst.Pix[1], 1e-3, "symmetric neighbourhood averages to the centre")
	assert.Greater(t, dst.Pix[0], float32(-2))
	assert.Less(t, dst.Pix[2], float32(2))
	assert.Equal(t, []float32{-2, 0, 2}, src.Pix, "source is read-only")
}

func TestGiftBlurNaNInput(t *testing.T) {
	nan := float32(math.NaN())
	src := &Field{Width: 2, Height: 2, Pix: []float32{nan, nan, nan, nan}}
	dst := NewField(2, 2)

	require.NotPanics(t, func() { GiftBlur{}.Blur(dst, src, 1) })
	for _, v := range dst.Pix {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestGaussianBlurPreservesConstantField(t *testing.T) {
	src := NewField(12, 7)
	for i := range src.Pix {
		src.Pix[i] = 0.25
	}
	dst := NewField(12, 7)

	GaussianBlur{}.Blur(dst, src, 2)
	for _, v := range dst.Pix {
		assert.InDelta(t, 0.25, v, 1e-7)
	}
}

func TestGaussianBlurSmoothsAndKeepsRange(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	src := RandomField(48, 32, r)
	dst := NewField(48, 32)

	GaussianBlur{}.Blur(dst, src, 2)

	lo, hi := valueRange(src)
	for _, v := range dst.Pix {
		require.GreaterOrEqual(t, v, lo)
		require.LessOrEqual(t, v, hi)
	}
	assert.Less(t, variance(dst), variance(src)/4)
	assert.InDelta(t, mean(src), mean(dst), 0.02)
}

func TestGaussianBlurSymmetricNeighbourhood(t *testing.T) {
	src := &Field{Width: 3, Height: 1, Pix: []float32{-2, 0, 2}}
	dst := NewField(3, 1)

	GaussianBlur{}.Blur(dst, src, 0.8)

	assert.InDelta(t, 0, dst.Pix[1], 1e-6)
	assert.InDelta(t, -dst.Pix[0], dst.Pix[2], 1e-6)
	assert.Greater(t, dst.Pix[0], float32(-2))
	assert.Equal(t, []float32{-2, 0, 2}, src.Pix, "source is read-only")
}

func TestGaussianBlurSinglePixel(t *testing.T) {
	src := &Field{Width: 1, Height: 1, Pix: []float32{0.7}}
	dst := NewField(1, 1)

	GaussianBlur{}.Blur(dst, src, 5)
	assert.InDelta(t, 0.7, dst.Pix[0], 1e-7)
}

func TestGaussianBlurMatchesGift(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 3))
	src := RandomField(40, 24, r)

	for _, sigma := range []float32{0.6, 1.5, 4} {
		float := NewField(40, 24)
		gifted := NewField(40, 24)
		GaussianBlur{}.Blur(float, src, sigma)
		GiftBlur{}.Blur(gifted, src, sigma)

		for i := range float.Pix {
			require.InDelta(t, gifted.Pix[i], float.Pix[i], 1e-4, "sigma %g pixel %d", sigma, i)
		}
	}
}

func TestGaussianBlurKeepsValuesDistinct(t *testing.T) {
	src := RandomField(256, 256, rand.New(rand.NewPCG(1, 2)))
	dst := NewField(256, 256)

	// float32 spacing near 0.5 bounds how many blurred values can stay apart;
	// wider kernels squeeze the output into a narrower band.
	tests := []struct {
		sigma float32
		min   float64
	}{
		{1, 0.99},
		{4, 0.95},
		{16, 0.85},
	}
	for _, tt := range tests {
		GaussianBlur{}.Blur(dst, src, tt.sigma)
		assert.Greater(t, distinctFraction(dst), tt.min, "sigma %g", tt.sigma)
	}
}

func TestBlurHugeSigma(t *testing.T) {
	src := RandomField(8, 8, rand.New(rand.NewPCG(4, 4)))
	lo, hi := valueRange(src)

	for name, b := range map[string]Blurrer{"float": GaussianBlur{}, "gift": GiftBlur{}} {
		t.Run(name, func(t *testing.T) {
			dst := NewField(8, 8)
			require.NotPanics(t, func() { b.Blur(dst, src, 1e20) })
			for _, v := range dst.Pix {
				require.False(t, math.IsNaN(float64(v)))
				require.GreaterOrEqual(t, v, lo-1e-4)
				require.LessOrEqual(t, v, hi+1e-4)
			}
		})
	}

	img, err := New().RedNoise(8, 8, 1, 1e20)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestKernelFoldsTapsPastTheBorder(t *testing.T) {
	// Radius 30 on a 5 pixel line: taps beyond offset 4 become border weight.
	k := newKernel(10, 5)
	require.Len(t, k.taps, 5)
	assert.Positive(t, k.edge)

	total := k.taps[0] + 2*k.edge
	for _, w := range k.taps[1:] {
		total += 2 * w
	}
	assert.InDelta(t, 1, total, 1e-12)

	short := newKernel(1, 100)
	assert.Len(t, short.taps, 4)
	assert.Zero(t, short.edge)
}

func TestParseBlurrer(t *testing.T) {
	b, err := ParseBlurrer("")
	require.NoError(t, err)
	assert.IsType(t, GaussianBlur{}, b)

	b, err = ParseBlurrer("Gift")
	require.NoError(t, err)
	assert.IsType(t, GiftBlur{}, b)

	_, err = ParseBlurrer("box")
	require.Error(t, err)
}

func distinctFraction(f *Field) float64 {
	seen := make(map[float32]struct{}, f.Len())
	for _, v := range f.Pix {
		seen[v] = struct{}{}
	}
	return float64(len(seen)) / float64(f.Len())
}

func mean(f *Field) float64 {
	s := 0.0
	for _, v := range f.Pix {
		s += float64(v)
	}
	return s / float64(f.Len())
}

func variance(f *Field) float64 {
	m := mean(f)
	s := 0.0
	for _, v := range f.Pix {
		d := float64(v) - m
		s += d * d
	}
	return s / float64(f.Len())
}
