package noise

import (
	"image"
	"log/slog"
	"math/rand/v2"
	"time"
)

// SourceFunc returns the random source for one generation call.
type SourceFunc func() Source

// Generator runs the shaping pipeline. It holds no per-call state; every call
// allocates its own fields and asks NewSource for its own random source, so a
// Generator is safe for concurrent use as long as NewSource never hands the
// same non-thread-safe source to two calls.
type Generator struct {
	newSource   SourceFunc
	blur        Blurrer
	logger      *slog.Logger
	strictBands bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithSource makes every call draw from src. src must be safe for concurrent
// use if the generator is shared between goroutines.
func WithSource(src Source) Option {
	return func(g *Generator) {
		g.newSource = func() Source { return src }
	}
}

// WithSourceFunc sets the per-call random source factory.
func WithSourceFunc(fn SourceFunc) Option {
	return func(g *Generator) { g.newSource = fn }
}

// WithBlurrer replaces the Gaussian blur implementation.
func WithBlurrer(b Blurrer) Option {
	return func(g *Generator) { g.blur = b }
}

// WithLogger enables debug logging of generation calls.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithStrictBands rejects green and purple requests whose low sigma is not
// below the high sigma. By default such requests are accepted.
func WithStrictBands(strict bool) Option {
	return func(g *Generator) { g.strictBands = strict }
}

// New creates a Generator. Without options it blurs with GaussianBlur and seeds a
// fresh PCG source from the runtime's entropy for every call.
func New(opts ...Option) *Generator {
	g := &Generator{
		newSource: newPCGSource,
		blur:      GaussianBlur{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newPCGSource() Source {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Generate validates p and returns the quantized texture.
func (g *Generator) Generate(p Params) (*image.Gray, error) {
	f, err := g.GenerateField(p)
	if err != nil {
		return nil, err
	}
	return Quantize(f), nil
}

// GenerateField validates p and returns the shaped field before quantization.
func (g *Generator) GenerateField(p Params) (*Field, error) {
	if err := p.Validate(g.strictBands); err != nil {
		return nil, err
	}

	start := time.Now()
	field := RandomField(p.Width, p.Height, g.newSource())
	if p.Color != White {
		field = g.shape(field, p)
	}

	if g.logger != nil {
		g.logger.Debug("noise generated",
			"color", p.Color.String(),
			"width", p.Width,
			"height", p.Height,
			"iterations", p.Iterations,
			"ms", time.Since(start).Milliseconds(),
		)
	}
	return field, nil
}

// shape runs p.Iterations rounds and returns the shaped field, which is either
// field itself or one of the scratch buffers swapped in by red and green rounds.
// Every round ends with a normalization, so the field enters the next round
// uniform in [0, 1).
func (g *Generator) shape(field *Field, p Params) *Field {
	if p.Iterations == 0 {
		return field
	}

	var norm normalizer
	low := NewField(field.Width, field.Height)
	var high *Field
	if p.Color.UsesBand() {
		high = NewField(field.Width, field.Height)
	}

	for range p.Iterations {
		switch p.Color {
		case Red:
			g.blur.Blur(low, field, p.Sigma)
			field, low = low, field
			norm.normalize(field)

		case Blue:
			g.blur.Blur(low, field, p.Sigma)
			subtract(field, field, low)
			norm.normalize(field)

		case Green:
			g.blur.Blur(low, field, p.LowSigma)
			g.blur.Blur(high, field, p.HighSigma)
			subtract(low, low, high)
			norm.normalize(low)
			field, low = low, field

		case Purple:
			g.blur.Blur(low, field, p.LowSigma)
			g.blur.Blur(high, field, p.HighSigma)
			subtract(low, low, high)
			subtract(field, field, low)
			norm.normalize(field)
		}
	}
	return field
}
