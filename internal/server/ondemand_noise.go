// Package server serves noise textures over HTTP, either generated on demand
// or read from a texture library.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/spectralnoise/internal/encode"
	"github.com/MeKo-Tech/spectralnoise/internal/noise"
)

// Query defaults applied when a parameter is omitted.
const (
	DefaultSize       = 256
	DefaultIterations = 5
	DefaultSigma      = 1.0
	DefaultLowSigma   = 1.0
	DefaultHighSigma  = 2.0
)

// ErrTooLarge is returned when a request asks for more pixels, iterations or
// blur than the server allows.
var ErrTooLarge = errors.New("requested texture too large")

// Generator produces one texture for a parameter set.
type Generator interface {
	Generate(p noise.Params) (*image.Gray, error)
}

type OnDemandNoiseConfig struct {
	PNGCompression           string
	CacheControl             string
	MaxConcurrentGenerations int
	GenerationTimeout        time.Duration
	// MaxPixels caps width*height per request (default: 4096*4096)
	MaxPixels int
	// MaxIterations caps shaping rounds per request (default: 64)
	MaxIterations int
	// MaxSigma caps every blur sigma a request may name (default: 256)
	MaxSigma float32
	// StrictBands rejects green and purple requests with low_sigma >= high_sigma
	StrictBands bool
}

type OnDemandNoise struct {
	gen    Generator
	logger *slog.Logger
	sem    chan struct{}
	cfg    OnDemandNoiseConfig
	encOpt encode.Options

	activeRenders  atomic.Int32
	totalRendered  atomic.Int64
	totalFailed    atomic.Int64
	totalTimeouts  atomic.Int64
	currentRenders sync.Map // map[uint64]string - request id -> texture description
	nextID         atomic.Uint64

	queuedRenders atomic.Int32
}

// NoiseStatus represents the current status of the generation system.
type NoiseStatus struct {
	Render RenderStatus `json:"render"`
}

// RenderStatus contains current render operation status.
type RenderStatus struct {
	ActiveRenders   int      `json:"active_renders"`
	TotalRendered   int64    `json:"total_rendered"`
	TotalFailed     int64    `json:"total_failed"`
	TotalTimeouts   int64    `json:"total_timeouts"`
	CurrentTextures []string `json:"current_textures"`
	MaxConcurrent   int      `json:"max_concurrent"`
	QueuedRenders   int      `json:"queued_renders"`
}

func NewOnDemandNoise(gen Generator, cfg OnDemandNoiseConfig, logger *slog.Logger) (*OnDemandNoise, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.MaxConcurrentGenerations <= 0 {
		cfg.MaxConcurrentGenerations = 1
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 30 * time.Second
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-store"
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 4096 * 4096
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 64
	}
	if cfg.MaxSigma <= 0 {
		cfg.MaxSigma = 256
	}

	level, err := encode.ParsePNGCompression(cfg.PNGCompression)
	if err != nil {
		return nil, err
	}

	return &OnDemandNoise{
		gen:    gen,
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxConcurrentGenerations),
		encOpt: encode.Options{PNGCompression: level},
	}, nil
}

// Status returns the current status of the generation system.
func (n *OnDemandNoise) Status() NoiseStatus {
	current := []string{}
	n.currentRenders.Range(func(_, value any) bool {
		current = append(current, value.(string))
		return true
	})

	return NoiseStatus{
		Render: RenderStatus{
			ActiveRenders:   int(n.activeRenders.Load()),
			TotalRendered:   n.totalRendered.Load(),
			TotalFailed:     n.totalFailed.Load(),
			TotalTimeouts:   n.totalTimeouts.Load(),
			CurrentTextures: current,
			MaxConcurrent:   n.cfg.MaxConcurrentGenerations,
			QueuedRenders:   int(n.queuedRenders.Load()),
		},
	}
}

// StatusHandler returns an HTTP handler for the status endpoint (JSON).
func (n *OnDemandNoise) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-store")

		if err := json.NewEncoder(w).Encode(n.Status()); err != nil {
			n.log().Error("failed to encode status", "error", err)
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
		}
	})
}

// StatusStreamHandler returns an SSE handler that pushes the status every
// 250ms until the client disconnects.
func (n *OnDemandNoise) StatusStreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		n.sendStatusEvent(w, flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				n.sendStatusEvent(w, flusher)
			}
		}
	})
}

func (n *OnDemandNoise) sendStatusEvent(w http.ResponseWriter, flusher http.Flusher) {
	data, err := json.Marshal(n.Status())
	if err != nil {
		n.log().Error("failed to encode status", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (n *OnDemandNoise) Handler() http.Handler {
	return http.HandlerFunc(n.serveNoise)
}

type renderOutcome struct {
	data []byte
	err  error
}

func (n *OnDemandNoise) serveNoise(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	color, format, ok := parseNoisePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	params, err := parseParams(color, r)
	if err == nil {
		err = n.checkLimits(params)
	}
	if err == nil {
		err = params.Validate(n.cfg.StrictBands)
	}
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}

	n.queuedRenders.Add(1)
	select {
	case n.sem <- struct{}{}:
		n.queuedRenders.Add(-1)
	case <-r.Context().Done():
		n.queuedRenders.Add(-1)
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), n.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	desc := describe(params)
	id := n.nextID.Add(1)
	n.activeRenders.Add(1)
	n.currentRenders.Store(id, desc)

	// Generation cannot be interrupted; the goroutine keeps its semaphore slot
	// until it returns, even when the request has already timed out.
	done := make(chan renderOutcome, 1)
	go func() {
		defer func() {
			n.activeRenders.Add(-1)
			n.currentRenders.Delete(id)
			<-n.sem
		}()
		data, err := n.render(params, format)
		if err != nil {
			n.totalFailed.Add(1)
		} else {
			n.totalRendered.Add(1)
		}
		done <- renderOutcome{data: data, err: err}
	}()

	var out renderOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		n.totalTimeouts.Add(1)
		n.log().Warn("noise generation timed out", "texture", desc, "timeout", n.cfg.GenerationTimeout)
		http.Error(w, fmt.Sprintf("generation of %s timed out", desc), http.StatusGatewayTimeout)
		return
	}

	if out.err != nil {
		n.log().Error("failed to generate noise", "texture", desc, "error", out.err)
		http.Error(w, fmt.Sprintf("failed to generate %s: %v", desc, out.err), errorStatus(out.err))
		return
	}
	n.log().Info("noise generated on-demand", "texture", desc, "format", format, "ms", time.Since(start).Milliseconds())

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Cache-Control", n.cfg.CacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.data)))
	if _, err := w.Write(out.data); err != nil {
		n.log().Debug("failed to write response", "error", err)
	}
}

func (n *OnDemandNoise) render(p noise.Params, format encode.Format) ([]byte, error) {
	img, err := n.gen.Generate(p)
	if err != nil {
		return nil, err
	}
	opt := n.encOpt
	opt.Format = format
	return encode.Bytes(img, opt)
}

// checkLimits rejects requests whose cost exceeds the configured bounds before
// they queue for a generation slot. Parameters the color ignores are not checked.
func (n *OnDemandNoise) checkLimits(p noise.Params) error {
	if p.Width > 0 && p.Height > 0 && int64(p.Width)*int64(p.Height) > int64(n.cfg.MaxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, p.Width, p.Height, n.cfg.MaxPixels)
	}
	if p.Color == noise.White {
		return nil
	}
	if p.Iterations > n.cfg.MaxIterations {
		return fmt.Errorf("%w: %d iterations exceeds %d", ErrTooLarge, p.Iterations, n.cfg.MaxIterations)
	}

	sigmas := []float32{p.Sigma}
	if p.Color.UsesBand() {
		sigmas = []float32{p.LowSigma, p.HighSigma}
	}
	for _, sigma := range sigmas {
		if sigma > n.cfg.MaxSigma {
			return fmt.Errorf("%w: sigma %g exceeds %g", ErrTooLarge, sigma, n.cfg.MaxSigma)
		}
	}
	return nil
}

func (n *OnDemandNoise) log() *slog.Logger {
	if n.logger != nil {
		return n.logger
	}
	return slog.Default()
}

// parseNoisePath parses a request path like /noise/red.png.
func parseNoisePath(requestPath string) (noise.Color, encode.Format, bool) {
	if !strings.HasPrefix(requestPath, "/noise/") {
		return 0, "", false
	}
	base := path.Base(requestPath)
	ext := path.Ext(base)
	if ext == "" {
		return 0, "", false
	}

	format, err := encode.ParseFormat(ext)
	if err != nil {
		return 0, "", false
	}
	color, err := noise.ParseColor(strings.TrimSuffix(base, ext))
	if err != nil {
		return 0, "", false
	}
	return color, format, true
}

func parseParams(color noise.Color, r *http.Request) (noise.Params, error) {
	q := r.URL.Query()
	p := noise.Params{Color: color}

	var err error
	if p.Width, err = queryInt(q.Get("width"), DefaultSize); err != nil {
		return p, fmt.Errorf("width: %w", err)
	}
	if p.Height, err = queryInt(q.Get("height"), DefaultSize); err != nil {
		return p, fmt.Errorf("height: %w", err)
	}
	if p.Iterations, err = queryInt(q.Get("iterations"), DefaultIterations); err != nil {
		return p, fmt.Errorf("iterations: %w", err)
	}
	if p.Sigma, err = queryFloat(q.Get("sigma"), DefaultSigma); err != nil {
		return p, fmt.Errorf("sigma: %w", err)
	}
	if p.LowSigma, err = queryFloat(q.Get("low_sigma"), DefaultLowSigma); err != nil {
		return p, fmt.Errorf("low_sigma: %w", err)
	}
	if p.HighSigma, err = queryFloat(q.Get("high_sigma"), DefaultHighSigma); err != nil {
		return p, fmt.Errorf("high_sigma: %w", err)
	}
	return p, nil
}

func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func queryFloat(s string, def float32) (float32, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

// describe names a request for logs and status output.
func describe(p noise.Params) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %dx%d", p.Color, p.Width, p.Height)
	switch {
	case p.Color.UsesSigma():
		fmt.Fprintf(&b, " i%d σ%g", p.Iterations, p.Sigma)
	case p.Color.UsesBand():
		fmt.Fprintf(&b, " i%d σ%g-%g", p.Iterations, p.LowSigma, p.HighSigma)
	}
	return b.String()
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, noise.ErrInvalidDimensions),
		errors.Is(err, noise.ErrInvalidIterations),
		errors.Is(err, noise.ErrInvalidSigma),
		errors.Is(err, noise.ErrInvalidBandOrdering),
		errors.Is(err, noise.ErrUnknownColor),
		errors.Is(err, strconv.ErrSyntax),
		errors.Is(err, strconv.ErrRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// setCORS allows browser-based playgrounds to request textures.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
