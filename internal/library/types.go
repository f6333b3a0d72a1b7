// Package library stores generated noise textures in an SQLite database.
package library

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/spectralnoise/internal/noise"
)

// Metadata describes a texture library.
type Metadata struct {
	Name        string
	Description string
	Version     string
	Generator   string
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	if m.Name != "" {
		result["name"] = m.Name
	}
	if m.Description != "" {
		result["description"] = m.Description
	}
	if m.Version != "" {
		result["version"] = m.Version
	}
	if m.Generator != "" {
		result["generator"] = m.Generator
	}

	return result
}

// Key identifies one stored texture: its generation parameters and a variant
// index distinguishing independent textures made with the same parameters.
type Key struct {
	Params  noise.Params
	Variant int
}

// String returns a filename-safe stem, e.g. "red_256x256_i5_s2_v0".
// Sigmas that the color does not use are omitted.
func (k Key) String() string {
	p := k.Params
	s := fmt.Sprintf("%s_%dx%d", p.Color, p.Width, p.Height)
	switch {
	case p.Color.UsesSigma():
		s += fmt.Sprintf("_i%d_s%s", p.Iterations, formatSigma(p.Sigma))
	case p.Color.UsesBand():
		s += fmt.Sprintf("_i%d_s%s-%s", p.Iterations, formatSigma(p.LowSigma), formatSigma(p.HighSigma))
	}
	return s + fmt.Sprintf("_v%d", k.Variant)
}

// normalized zeroes fields the color ignores so equal textures share a row.
func (k Key) normalized() Key {
	p := k.Params
	switch {
	case p.Color == noise.White:
		p.Iterations, p.Sigma, p.LowSigma, p.HighSigma = 0, 0, 0, 0
	case p.Color.UsesSigma():
		p.LowSigma, p.HighSigma = 0, 0
	case p.Color.UsesBand():
		p.Sigma = 0
	}
	return Key{Params: p, Variant: k.Variant}
}

// ErrInvalidKey is returned by ParseKey for names String never produces.
var ErrInvalidKey = errors.New("invalid texture key")

// ParseKey parses the stem produced by Key.String.
func ParseKey(s string) (Key, error) {
	invalid := fmt.Errorf("%w: %q", ErrInvalidKey, s)

	parts := strings.Split(s, "_")
	if len(parts) != 3 && len(parts) != 5 {
		return Key{}, invalid
	}

	color, err := noise.ParseColor(parts[0])
	if err != nil {
		return Key{}, invalid
	}
	k := Key{Params: noise.Params{Color: color}}

	w, h, ok := strings.Cut(parts[1], "x")
	if !ok {
		return Key{}, invalid
	}
	if k.Params.Width, err = strconv.Atoi(w); err != nil {
		return Key{}, invalid
	}
	if k.Params.Height, err = strconv.Atoi(h); err != nil {
		return Key{}, invalid
	}

	variant, ok := strings.CutPrefix(parts[len(parts)-1], "v")
	if !ok {
		return Key{}, invalid
	}
	if k.Variant, err = strconv.Atoi(variant); err != nil {
		return Key{}, invalid
	}

	if color == noise.White {
		if len(parts) != 3 {
			return Key{}, invalid
		}
		return k, nil
	}
	if len(parts) != 5 {
		return Key{}, invalid
	}

	iterations, ok := strings.CutPrefix(parts[2], "i")
	if !ok {
		return Key{}, invalid
	}
	if k.Params.Iterations, err = strconv.Atoi(iterations); err != nil {
		return Key{}, invalid
	}
	sigma, ok := strings.CutPrefix(parts[3], "s")
	if !ok {
		return Key{}, invalid
	}

	if color.UsesSigma() {
		if k.Params.Sigma, err = parseSigma(sigma); err != nil {
			return Key{}, invalid
		}
		return k, nil
	}

	lo, hi, ok := cutBand(sigma)
	if !ok {
		return Key{}, invalid
	}
	if k.Params.LowSigma, err = parseSigma(lo); err != nil {
		return Key{}, invalid
	}
	if k.Params.HighSigma, err = parseSigma(hi); err != nil {
		return Key{}, invalid
	}
	return k, nil
}

// cutBand splits "lo-hi" at the first hyphen that is not an exponent sign.
func cutBand(s string) (lo, hi string, ok bool) {
	for i := 1; i < len(s); i++ {
		if s[i] == '-' && s[i-1] != 'e' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func parseSigma(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

func formatSigma(s float32) string {
	return strconv.FormatFloat(float64(s), 'g', -1, 32)
}

// Entry is a stored texture without its image data.
type Entry struct {
	Key    Key
	Format string
	ID     int64
	Size   int // compressed bytes
}
