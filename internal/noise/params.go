package noise

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidDimensions   = errors.New("invalid dimensions")
	ErrInvalidIterations   = errors.New("invalid iteration count")
	ErrInvalidSigma        = errors.New("invalid sigma")
	ErrInvalidBandOrdering = errors.New("invalid band ordering")
	ErrUnknownColor        = errors.New("unknown noise color")
)

// MaxPixels is the largest width*height a field may hold. Ranks are indexed
// with int32.
const MaxPixels = math.MaxInt32

// Color selects a spectral shaping strategy.
type Color int

const (
	White Color = iota
	Red
	Blue
	Green
	Purple
)

var colorNames = [...]string{
	White:  "white",
	Red:    "red",
	Blue:   "blue",
	Green:  "green",
	Purple: "purple",
}

// Colors lists every supported color in declaration order.
func Colors() []Color {
	return []Color{White, Red, Blue, Green, Purple}
}

func (c Color) String() string {
	if c < 0 || int(c) >= len(colorNames) {
		return fmt.Sprintf("Color(%d)", int(c))
	}
	return colorNames[c]
}

// ParseColor parses a color name case-insensitively.
func ParseColor(s string) (Color, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range colorNames {
		if n == name {
			return Color(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownColor, s)
}

// UsesSigma reports whether the color is shaped with a single sigma.
func (c Color) UsesSigma() bool { return c == Red || c == Blue }

// UsesBand reports whether the color is shaped with a low/high sigma pair.
func (c Color) UsesBand() bool { return c == Green || c == Purple }

// Params describes one generation request.
//
// Sigma applies to red and blue noise; LowSigma and HighSigma apply to green
// and purple noise. Iterations is ignored for white noise.
type Params struct {
	Color      Color
	Width      int
	Height     int
	Iterations int
	Sigma      float32
	LowSigma   float32
	HighSigma  float32
}

// Validate checks p before any field is allocated.
//
// A low sigma that is not below the high sigma produces a degenerate but
// well-defined texture, so it is only rejected when strictBands is set.
func (p Params) Validate(strictBands bool) error {
	if p.Color < White || p.Color > Purple {
		return fmt.Errorf("%w: %d", ErrUnknownColor, int(p.Color))
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, p.Width, p.Height)
	}
	if p.Width > MaxPixels/p.Height {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidDimensions, p.Width, p.Height, MaxPixels)
	}
	if p.Color == White {
		return nil
	}
	if p.Iterations < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, p.Iterations)
	}

	switch {
	case p.Color.UsesSigma():
		if !validSigma(p.Sigma) {
			return fmt.Errorf("%w: sigma=%g", ErrInvalidSigma, p.Sigma)
		}
	case p.Color.UsesBand():
		if !validSigma(p.LowSigma) {
			return fmt.Errorf("%w: low sigma=%g", ErrInvalidSigma, p.LowSigma)
		}
		if !validSigma(p.HighSigma) {
			return fmt.Errorf("%w: high sigma=%g", ErrInvalidSigma, p.HighSigma)
		}
		if strictBands && p.LowSigma >= p.HighSigma {
			return fmt.Errorf("%w: low sigma %g must be below high sigma %g", ErrInvalidBandOrdering, p.LowSigma, p.HighSigma)
		}
	}
	return nil
}

func validSigma(s float32) bool {
	v := float64(s)
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
