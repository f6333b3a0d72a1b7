package noise

import (
	"fmt"
	"image"
	"math"
	"runtime"
	"strings"
	"sync"

	"github.com/disintegration/gift"
)

// Blurrer applies a Gaussian blur with standard deviation sigma.
// src is only read; the result is written to dst, which has the same dimensions.
type Blurrer interface {
	Blur(dst, src *Field, sigma float32)
}

// ParseBlurrer returns the blur named "float" (GaussianBlur) or "gift" (GiftBlur).
func ParseBlurrer(name string) (Blurrer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "float":
		return GaussianBlur{}, nil
	case "gift":
		return GiftBlur{}, nil
	default:
		return nil, fmt.Errorf("unknown blur %q: must be float or gift", name)
	}
}

// GiftBlur delegates the convolution to gift's separable Gaussian filter,
// which extends edge pixels past the border and spreads the work over all CPUs.
//
// gift works on images, so the field is mapped affinely onto the full 16-bit
// gray range before blurring and mapped back afterwards. Every blurred value is
// rounded to one of 65536 levels, so distinct inputs can blur to equal outputs
// and the following normalization ranks those in arbitrary order. Use
// GaussianBlur when rank precision matters.
//
// Sigmas beyond the larger image side are clamped to it so gift's kernel
// radius stays bounded. The kernel is then nearly flat across the image, and
// the result approximates the requested blur.
type GiftBlur struct{}

// Blur implements Blurrer.
func (GiftBlur) Blur(dst, src *Field, sigma float32) {
	lo, hi := valueRange(src)
	if !(hi > lo) {
		for i, v := range src.Pix {
			if math.IsNaN(float64(v)) {
				v = lo
			}
			dst.Pix[i] = v
		}
		return
	}

	sigma = min(sigma, float32(max(src.Width, src.Height)))
	scale := float64(math.MaxUint16) / float64(hi-lo)
	in := toGray16(src, lo, scale)

	g := gift.New(gift.GaussianBlur(sigma))
	out := image.NewGray16(g.Bounds(in.Bounds()))
	g.Draw(out, in)

	fromGray16(dst, out, lo, scale)
}

// valueRange returns the finite min and max of f, ignoring NaN.
func valueRange(f *Field) (lo, hi float32) {
	first := true
	for _, v := range f.Pix {
		if math.IsNaN(float64(v)) {
			continue
		}
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func toGray16(f *Field, lo float32, scale float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		var q uint16
		if !math.IsNaN(float64(v)) {
			q = uint16(math.Round(float64(v-lo) * scale))
		}
		img.Pix[2*i] = uint8(q >> 8)
		img.Pix[2*i+1] = uint8(q)
	}
	return img
}

func fromGray16(dst *Field, img *image.Gray16, lo float32, scale float64) {
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			q := img.Gray16At(x, y).Y
			dst.Set(x, y, lo+float32(float64(q)/scale))
		}
	}
}

// GaussianBlur is a separable Gaussian blur computed in floating point. It uses
// gift's kernel (truncated at 3 sigma) and edge extension, without rounding
// the result to image precision.
//
// Kernel taps that reach past the border all read the edge pixel, so their
// weights are folded into a single border weight. This keeps the cost bounded
// by the image size for any sigma.
type GaussianBlur struct{}

// Blur implements Blurrer.
func (GaussianBlur) Blur(dst, src *Field, sigma float32) {
	w, h := src.Width, src.Height
	if w == 0 || h == 0 {
		return
	}
	tmp := make([]float32, len(src.Pix))

	kx := newKernel(sigma, w)
	parallelize(h, func(start, stop int) {
		for y := start; y < stop; y++ {
			kx.convolve(tmp[y*w:(y+1)*w], src.Pix[y*w:(y+1)*w])
		}
	})

	ky := newKernel(sigma, h)
	parallelize(w, func(start, stop int) {
		col := make([]float32, h)
		out := make([]float32, h)
		for x := start; x < stop; x++ {
			for y := range col {
				col[y] = tmp[y*w+x]
			}
			ky.convolve(out, col)
			for y, v := range out {
				dst.Pix[y*w+x] = v
			}
		}
	})
}

// kernel holds normalized weights for offsets 0..len(taps)-1 on either side,
// plus the weight each border pixel receives from taps beyond the line.
type kernel struct {
	taps []float64
	edge float64
}

func newKernel(sigma float32, n int) kernel {
	s := float64(sigma)
	radius := math.Ceil(3 * s)
	reach := float64(n - 1)

	m := n - 1
	if radius < reach {
		m = int(radius)
	}

	k := kernel{taps: make([]float64, m+1)}
	sum := 0.0
	for i := range k.taps {
		k.taps[i] = gaussian(float64(i), s)
		sum += k.taps[i]
		if i > 0 {
			sum += k.taps[i]
		}
	}
	if radius > reach {
		k.edge = gaussianMass(s, reach, radius)
		sum += 2 * k.edge
	}

	for i := range k.taps {
		k.taps[i] /= sum
	}
	k.edge /= sum
	return k
}

func gaussian(x, s float64) float64 {
	return math.Exp(-x * x / (2 * s * s))
}

// gaussianMass sums gaussian(i) for integer i in (from, to]. Long ranges are
// integrated instead of summed.
func gaussianMass(s, from, to float64) float64 {
	if to-from <= 1<<16 {
		sum := 0.0
		for i := from + 1; i <= to; i++ {
			sum += gaussian(i, s)
		}
		return sum
	}
	c := s * math.Sqrt2
	return s * math.Sqrt(math.Pi/2) * (math.Erf((to+0.5)/c) - math.Erf((from+0.5)/c))
}

// convolve blurs one line, replicating its end pixels outward.
func (k kernel) convolve(dst, src []float32) {
	last := len(src) - 1
	border := k.edge * (float64(src[0]) + float64(src[last]))
	for u := range src {
		acc := k.taps[0]*float64(src[u]) + border
		for i := 1; i < len(k.taps); i++ {
			l := max(u-i, 0)
			r := min(u+i, last)
			acc += k.taps[i] * (float64(src[l]) + float64(src[r]))
		}
		dst[u] = float32(acc)
	}
}

// parallelize splits [0, n) into contiguous ranges, one per CPU.
func parallelize(n int, fn func(start, stop int)) {
	workers := min(runtime.GOMAXPROCS(0), n)
	if workers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	step := (n + workers - 1) / workers
	for start := 0; start < n; start += step {
		stop := min(start+step, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(start, stop)
		}()
	}
	wg.Wait()
}
