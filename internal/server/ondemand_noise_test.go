package server

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/spectralnoise/internal/encode"
	"github.com/MeKo-Tech/spectralnoise/internal/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowGenerator blocks until release is closed.
type slowGenerator struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *slowGenerator) Generate(p noise.Params) (*image.Gray, error) {
	g.calls.Add(1)
	<-g.release
	return image.NewGray(image.Rect(0, 0, p.Width, p.Height)), nil
}

func newTestNoise(t *testing.T, gen Generator, cfg OnDemandNoiseConfig) *OnDemandNoise {
	t.Helper()
	n, err := NewOnDemandNoise(gen, cfg, nil)
	require.NoError(t, err)
	return n
}

func TestParseNoisePath(t *testing.T) {
	tests := []struct {
		path   string
		color  noise.Color
		format encode.Format
		ok     bool
	}{
		{"/noise/red.png", noise.Red, encode.PNG, true},
		{"/noise/Purple.tif", noise.Purple, encode.TIFF, true},
		{"/noise/white.bmp", noise.White, encode.BMP, true},
		{"/noise/pink.png", 0, "", false},
		{"/noise/red.jpg", 0, "", false},
		{"/noise/red", 0, "", false},
		{"/other/red.png", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			color, format, ok := parseNoisePath(tt.path)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.color, color)
				assert.Equal(t, tt.format, format)
			}
		})
	}
}

func TestServeNoise(t *testing.T) {
	n := newTestNoise(t, noise.New(), OnDemandNoiseConfig{})

	req := httptest.NewRequest(http.MethodGet, "/noise/blue.png?width=24&height=16&iterations=2&sigma=1.5", nil)
	rec := httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	img, format, err := encode.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, encode.PNG, format)
	assert.Equal(t, image.Rect(0, 0, 24, 16), img.Bounds())

	status := n.Status()
	assert.Equal(t, int64(1), status.Render.TotalRendered)
	assert.Zero(t, status.Render.ActiveRenders)
}

func TestServeNoiseFormats(t *testing.T) {
	n := newTestNoise(t, noise.New(), OnDemandNoiseConfig{})

	for _, f := range []encode.Format{encode.TIFF, encode.BMP} {
		t.Run(string(f), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/noise/green"+f.Extension()+"?width=8&height=8", nil)
			rec := httptest.NewRecorder()
			n.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, f.ContentType(), rec.Header().Get("Content-Type"))

			_, got, err := encode.Decode(rec.Body)
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestServeNoiseErrors(t *testing.T) {
	n := newTestNoise(t, noise.New(), OnDemandNoiseConfig{
		MaxPixels:     1024,
		MaxIterations: 16,
		MaxSigma:      32,
		StrictBands:   true,
	})

	tests := []struct {
		name   string
		url    string
		status int
	}{
		{"unknown color", "/noise/pink.png", http.StatusNotFound},
		{"zero width", "/noise/red.png?width=0&height=8", http.StatusBadRequest},
		{"bad number", "/noise/red.png?width=abc", http.StatusBadRequest},
		{"negative sigma", "/noise/red.png?width=8&height=8&sigma=-1", http.StatusBadRequest},
		{"negative iterations", "/noise/blue.png?width=8&height=8&iterations=-2", http.StatusBadRequest},
		{"band ordering", "/noise/green.png?width=8&height=8&low_sigma=3&high_sigma=1", http.StatusBadRequest},
		{"too large", "/noise/white.png?width=64&height=64", http.StatusRequestEntityTooLarge},
		{"too many iterations", "/noise/red.png?width=8&height=8&iterations=17", http.StatusRequestEntityTooLarge},
		{"sigma too large", "/noise/red.png?width=8&height=8&sigma=1e20", http.StatusRequestEntityTooLarge},
		{"high sigma too large", "/noise/purple.png?width=8&height=8&high_sigma=64", http.StatusRequestEntityTooLarge},
		{"low sigma too large", "/noise/green.png?width=8&height=8&low_sigma=40&high_sigma=50", http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			n.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	assert.Zero(t, n.Status().Render.TotalRendered)
}

func TestServeNoiseLimitsBeforeQueueing(t *testing.T) {
	gen := &slowGenerator{release: make(chan struct{})}
	defer close(gen.release)
	n := newTestNoise(t, gen, OnDemandNoiseConfig{MaxIterations: 4, MaxSigma: 8})

	for _, url := range []string{
		"/noise/blue.png?width=4&height=4&iterations=1000000",
		"/noise/red.png?width=4&height=4&sigma=3.4e38",
	} {
		rec := httptest.NewRecorder()
		n.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, url)
	}
	assert.Zero(t, gen.calls.Load())
	assert.Zero(t, n.Status().Render.QueuedRenders)
}

func TestServeNoiseIgnoresUnusedParameters(t *testing.T) {
	n := newTestNoise(t, noise.New(), OnDemandNoiseConfig{MaxIterations: 4, MaxSigma: 8})

	// White noise never blurs, and red noise only reads sigma.
	for _, url := range []string{
		"/noise/white.png?width=4&height=4&iterations=99&sigma=1e9",
		"/noise/red.png?width=4&height=4&iterations=1&sigma=2&high_sigma=1e9",
	} {
		rec := httptest.NewRecorder()
		n.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusOK, rec.Code, url)
	}
}

func TestServeNoiseHugeSigmaWithinLimit(t *testing.T) {
	n := newTestNoise(t, noise.New(noise.WithBlurrer(noise.GiftBlur{})), OnDemandNoiseConfig{MaxSigma: 1e30})

	rec := httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/noise/red.png?width=8&height=8&iterations=1&sigma=1e20", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServeNoiseOptions(t *testing.T) {
	n := newTestNoise(t, noise.New(), OnDemandNoiseConfig{})

	rec := httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/noise/red.png", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestServeNoiseTimeout(t *testing.T) {
	gen := &slowGenerator{release: make(chan struct{})}
	n := newTestNoise(t, gen, OnDemandNoiseConfig{GenerationTimeout: 20 * time.Millisecond})

	rec := httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/noise/white.png?width=4&height=4", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, int64(1), n.Status().Render.TotalTimeouts)
	// The generation is still running and holds its slot.
	assert.Equal(t, 1, n.Status().Render.ActiveRenders)

	close(gen.release)
	require.Eventually(t, func() bool {
		return n.Status().Render.ActiveRenders == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), n.Status().Render.TotalRendered)
}

func TestStatusHandler(t *testing.T) {
	n := newTestNoise(t, noise.New(), OnDemandNoiseConfig{MaxConcurrentGenerations: 3})

	rec := httptest.NewRecorder()
	n.StatusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status NoiseStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, 3, status.Render.MaxConcurrent)
	assert.Empty(t, status.Render.CurrentTextures)
}

func TestStatusStreamHandler(t *testing.T) {
	n := newTestNoise(t, noise.New(), OnDemandNoiseConfig{MaxConcurrentGenerations: 2})
	srv := httptest.NewServer(n.StatusStreamHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	for range 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(line, "data: "), line)

		var status NoiseStatus
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &status))
		assert.Equal(t, 2, status.Render.MaxConcurrent)

		blank, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "\n", blank)
	}
}

func TestNewOnDemandNoiseRejectsBadCompression(t *testing.T) {
	_, err := NewOnDemandNoise(noise.New(), OnDemandNoiseConfig{PNGCompression: "ultra"}, nil)
	require.Error(t, err)
}
