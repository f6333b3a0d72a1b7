package library

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/MeKo-Tech/spectralnoise/internal/noise"
)

// ErrNotFound is returned when a texture is not in the library.
var ErrNotFound = errors.New("texture not found")

// Reader reads textures from a library database.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens a library database for reading.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='textures'").Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("database does not contain textures table")
	}

	return &Reader{
		db:   db,
		path: path,
	}, nil
}

// ReadTexture returns the decompressed texture data and its format.
func (r *Reader) ReadTexture(key Key) ([]byte, string, error) {
	k := key.normalized()
	p := k.Params

	var (
		format     string
		compressed []byte
	)
	err := r.db.QueryRow(`SELECT format, texture_data FROM textures
		WHERE color=? AND width=? AND height=? AND iterations=?
		AND sigma=? AND low_sigma=? AND high_sigma=? AND variant=?`,
		p.Color.String(), p.Width, p.Height, p.Iterations,
		float64(p.Sigma), float64(p.LowSigma), float64(p.HighSigma), k.Variant,
	).Scan(&format, &compressed)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query texture: %w", err)
	}

	data, err := gzipDecompress(compressed)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decompress texture: %w", err)
	}
	return data, format, nil
}

// ReadByID returns the entry and decompressed data of the texture with the given row id.
func (r *Reader) ReadByID(id int64) (Entry, []byte, error) {
	row := r.db.QueryRow(`SELECT `+entryColumns+`, texture_data FROM textures WHERE id=?`, id)

	var compressed []byte
	entry, err := scanEntry(row, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, nil, fmt.Errorf("failed to query texture: %w", err)
	}

	data, err := gzipDecompress(compressed)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("failed to decompress texture: %w", err)
	}
	return entry, data, nil
}

// List returns every stored texture ordered by id.
func (r *Reader) List() ([]Entry, error) {
	rows, err := r.db.Query(`SELECT ` + entryColumns + ` FROM textures ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query textures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan texture row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating textures: %w", err)
	}
	return entries, nil
}

// Metadata reads metadata from the database.
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	metaMap := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		metaMap[name] = value
	}

	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	return Metadata{
		Name:        metaMap["name"],
		Description: metaMap["description"],
		Version:     metaMap["version"],
		Generator:   metaMap["generator"],
	}, nil
}

// Close closes the database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const entryColumns = `id, color, width, height, iterations, sigma, low_sigma, high_sigma,
	variant, format, length(texture_data)`

// scanEntry scans entryColumns followed by any extra destinations.
func scanEntry(row rowScanner, extra ...any) (Entry, error) {
	var (
		e                          Entry
		colorName                  string
		sigma, lowSigma, highSigma float64
	)
	dest := []any{&e.ID, &colorName, &e.Key.Params.Width, &e.Key.Params.Height, &e.Key.Params.Iterations,
		&sigma, &lowSigma, &highSigma, &e.Key.Variant, &e.Format, &e.Size}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return Entry{}, err
	}

	c, err := noise.ParseColor(colorName)
	if err != nil {
		return Entry{}, err
	}
	e.Key.Params.Color = c
	e.Key.Params.Sigma = float32(sigma)
	e.Key.Params.LowSigma = float32(lowSigma)
	e.Key.Params.HighSigma = float32(highSigma)
	return e, nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
