// Package pipeline turns texture keys into encoded files or library rows.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/spectralnoise/internal/encode"
	"github.com/MeKo-Tech/spectralnoise/internal/library"
	"github.com/MeKo-Tech/spectralnoise/internal/noise"
)

// NoiseGenerator produces the texture for a parameter set.
type NoiseGenerator interface {
	Generate(p noise.Params) (*image.Gray, error)
}

// TextureWriter stores encoded textures. When set on a Renderer, textures go
// to the writer instead of the output directory.
type TextureWriter interface {
	WriteTexture(key library.Key, format string, data []byte) error
}

// Options holds optional Renderer configuration.
type Options struct {
	Format         encode.Format
	PNGCompression string
	Writer         TextureWriter
}

// Renderer generates, encodes and stores one texture per key.
type Renderer struct {
	gen       NoiseGenerator
	writer    TextureWriter
	logger    *slog.Logger
	outputDir string
	enc       encode.Options
}

// NewRenderer prepares a renderer writing into outputDir.
func NewRenderer(gen NoiseGenerator, outputDir string, logger *slog.Logger, opts Options) (*Renderer, error) {
	if gen == nil {
		return nil, fmt.Errorf("noise generator is required")
	}
	if opts.Format == "" {
		opts.Format = encode.PNG
	}
	level, err := encode.ParsePNGCompression(opts.PNGCompression)
	if err != nil {
		return nil, err
	}
	if opts.Writer == nil && outputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	return &Renderer{
		gen:       gen,
		writer:    opts.Writer,
		logger:    logger,
		outputDir: outputDir,
		enc:       encode.Options{Format: opts.Format, PNGCompression: level},
	}, nil
}

// Path returns the file a key is written to.
func (r *Renderer) Path(key library.Key) string {
	return filepath.Join(r.outputDir, key.String()+r.enc.Format.Extension())
}

// Render generates the texture for key. Existing files are kept unless force
// is set; library rows are always replaced. The returned path is the file
// written, or the key for library output.
func (r *Renderer) Render(ctx context.Context, key library.Key, force bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	finalPath := r.Path(key)
	if r.writer == nil && !force {
		if _, err := os.Stat(finalPath); err == nil {
			r.log().Info("Texture already exists; skipping", "key", key.String(), "path", finalPath)
			return finalPath, nil
		}
	}

	r.log().Debug("Generating texture", "key", key.String())
	img, err := r.gen.Generate(key.Params)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", key, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if r.writer != nil {
		data, err := encode.Bytes(img, r.enc)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", key, err)
		}
		if err := r.writer.WriteTexture(key, string(r.enc.Format), data); err != nil {
			return "", fmt.Errorf("failed to store %s: %w", key, err)
		}
		return key.String(), nil
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	r.log().Debug("Writing texture", "key", key.String(), "path", finalPath)
	if err := encode.WriteFile(finalPath, img, r.enc); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	return finalPath, nil
}

func (r *Renderer) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}
