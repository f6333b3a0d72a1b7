// Package encode writes and reads noise textures as PNG, TIFF or BMP.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format is an output image format.
type Format string

const (
	PNG  Format = "png"
	TIFF Format = "tiff"
	BMP  Format = "bmp"
)

// ParseFormat parses a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "png":
		return PNG, nil
	case "tiff", "tif":
		return TIFF, nil
	case "bmp":
		return BMP, nil
	default:
		return "", fmt.Errorf("unsupported format %q: must be png, tiff or bmp", s)
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string { return "." + string(f) }

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case TIFF:
		return "image/tiff"
	case BMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}

// Options controls encoding.
type Options struct {
	Format         Format
	PNGCompression png.CompressionLevel
}

// ParsePNGCompression maps default, speed, best and none to png compression levels.
func ParsePNGCompression(s string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	case "none":
		return png.NoCompression, nil
	default:
		return 0, fmt.Errorf("invalid png compression %q: must be default, speed, best or none", s)
	}
}

// Encode writes img to w in the configured format. An empty format means PNG.
func Encode(w io.Writer, img image.Image, opts Options) error {
	switch opts.Format {
	case PNG, "":
		enc := png.Encoder{CompressionLevel: opts.PNGCompression}
		return enc.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case BMP:
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("unsupported format %q", opts.Format)
	}
}

// Bytes encodes img into memory.
func Bytes(img image.Image, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile encodes img into path.
func WriteFile(path string, img image.Image, opts Options) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := Encode(file, img, opts); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// Decode reads a PNG, TIFF or BMP image and returns it as grayscale.
func Decode(r io.Reader) (*image.Gray, Format, error) {
	img, name, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	format, err := ParseFormat(name)
	if err != nil {
		return nil, "", err
	}
	return ToGray(img), format, nil
}

// ToGray returns img as *image.Gray, converting if needed.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
