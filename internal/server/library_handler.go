package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/spectralnoise/internal/encode"
	"github.com/MeKo-Tech/spectralnoise/internal/library"
)

// LibraryHandler serves textures from a library database.
type LibraryHandler struct {
	reader       *library.Reader
	logger       *slog.Logger
	cacheControl string
}

// LibraryConfig configures the library handler.
type LibraryConfig struct {
	LibraryPath  string
	CacheControl string
}

// LibraryEntry is the JSON form of a stored texture.
type LibraryEntry struct {
	ID         int64   `json:"id"`
	Key        string  `json:"key"`
	Color      string  `json:"color"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Iterations int     `json:"iterations"`
	Sigma      float32 `json:"sigma,omitempty"`
	LowSigma   float32 `json:"low_sigma,omitempty"`
	HighSigma  float32 `json:"high_sigma,omitempty"`
	Variant    int     `json:"variant"`
	Format     string  `json:"format"`
	Size       int     `json:"size"`
	URL        string  `json:"url"`
}

// NewLibraryHandler opens the library at cfg.LibraryPath.
func NewLibraryHandler(cfg LibraryConfig, logger *slog.Logger) (*LibraryHandler, error) {
	reader, err := library.OpenReader(cfg.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "public, max-age=3600"
	}

	return &LibraryHandler{
		reader:       reader,
		logger:       logger,
		cacheControl: cfg.CacheControl,
	}, nil
}

// Handler returns the HTTP handler function.
func (h *LibraryHandler) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.URL.Path == "/library" || r.URL.Path == "/library/" {
			h.serveList(w)
			return
		}
		h.serveTexture(w, r)
	}
}

func (h *LibraryHandler) serveList(w http.ResponseWriter) {
	entries, err := h.reader.List()
	if err != nil {
		h.log().Error("failed to list library", "error", err)
		http.Error(w, "failed to list library", http.StatusInternalServerError)
		return
	}

	out := make([]LibraryEntry, 0, len(entries))
	for _, e := range entries {
		p := e.Key.Params
		out = append(out, LibraryEntry{
			ID:         e.ID,
			Key:        e.Key.String(),
			Color:      p.Color.String(),
			Width:      p.Width,
			Height:     p.Height,
			Iterations: p.Iterations,
			Sigma:      p.Sigma,
			LowSigma:   p.LowSigma,
			HighSigma:  p.HighSigma,
			Variant:    e.Key.Variant,
			Format:     e.Format,
			Size:       e.Size,
			URL:        fmt.Sprintf("/library/%d.%s", e.ID, e.Format),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.log().Error("failed to encode library list", "error", err)
	}
}

// serveTexture serves one stored texture by row id, e.g. /library/12.png, or
// by key, e.g. /library/red_256x256_i5_s2_v0.png.
func (h *LibraryHandler) serveTexture(w http.ResponseWriter, r *http.Request) {
	var (
		data   []byte
		format string
		err    error
	)
	if id, ok := parseLibraryPath(r.URL.Path); ok {
		var entry library.Entry
		entry, data, err = h.reader.ReadByID(id)
		format = entry.Format
	} else if key, ok := parseLibraryKey(r.URL.Path); ok {
		data, format, err = h.reader.ReadTexture(key)
	} else {
		http.NotFound(w, r)
		return
	}

	if errors.Is(err, library.ErrNotFound) {
		http.Error(w, "texture not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log().Error("failed to read texture", "path", r.URL.Path, "error", err)
		http.Error(w, "failed to read texture", http.StatusInternalServerError)
		return
	}

	contentType := "application/octet-stream"
	if f, err := encode.ParseFormat(format); err == nil {
		contentType = f.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", h.cacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	if _, err := w.Write(data); err != nil {
		h.log().Error("failed to write response", "error", err)
	}
}

// Close closes the library reader.
func (h *LibraryHandler) Close() error {
	return h.reader.Close()
}

func (h *LibraryHandler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// parseLibraryPath extracts the row id from /library/{id}.{ext}. The extension
// is informational; the stored format decides the content type.
func parseLibraryPath(requestPath string) (int64, bool) {
	if !strings.HasPrefix(requestPath, "/library/") {
		return 0, false
	}
	base := path.Base(requestPath)
	name := strings.TrimSuffix(base, path.Ext(base))

	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseLibraryKey extracts a texture key from /library/{key}.{ext}.
func parseLibraryKey(requestPath string) (library.Key, bool) {
	if !strings.HasPrefix(requestPath, "/library/") {
		return library.Key{}, false
	}
	base := path.Base(requestPath)

	key, err := library.ParseKey(strings.TrimSuffix(base, path.Ext(base)))
	if err != nil {
		return library.Key{}, false
	}
	return key, true
}
