package library

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultBatchSize is the number of textures to buffer before flushing to the database.
	DefaultBatchSize = 64
)

type pendingTexture struct {
	key    Key
	format string
	data   []byte
}

// Writer writes textures to a library database.
type Writer struct {
	db        *sql.DB
	path      string
	batch     []pendingTexture
	batchSize int
	mu        sync.Mutex
}

// New creates a library writer.
// The database is created if it doesn't exist, and the schema is initialized.
func New(path string, metadata Metadata) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := insertMetadata(db, metadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to insert metadata: %w", err)
	}

	return &Writer{
		db:        db,
		path:      path,
		batch:     make([]pendingTexture, 0, DefaultBatchSize),
		batchSize: DefaultBatchSize,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS textures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			color TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			sigma REAL NOT NULL,
			low_sigma REAL NOT NULL,
			high_sigma REAL NOT NULL,
			variant INTEGER NOT NULL,
			format TEXT NOT NULL,
			texture_data BLOB NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS texture_index ON textures
			(color, width, height, iterations, sigma, low_sigma, high_sigma, variant);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

func insertMetadata(db *sql.DB, meta Metadata) error {
	if _, err := db.Exec("DELETE FROM metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	stmt, err := db.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.ToMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert metadata %q: %w", key, err)
		}
	}

	return nil
}

// WriteTexture adds an encoded texture to the batch. When the batch is full, it is
// flushed. Data is gzip-compressed before storage; an existing row with the same
// key is replaced.
func (w *Writer) WriteTexture(key Key, format string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.batch = append(w.batch, pendingTexture{key: key.normalized(), format: format, data: data})

	if len(w.batch) >= w.batchSize {
		return w.flushLocked()
	}

	return nil
}

// Flush writes any buffered textures to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked must be called with the lock held.
func (w *Writer) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO textures
		(color, width, height, iterations, sigma, low_sigma, high_sigma, variant, format, texture_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range w.batch {
		compressed, err := gzipCompress(t.data)
		if err != nil {
			return fmt.Errorf("failed to compress texture %s: %w", t.key, err)
		}

		p := t.key.Params
		if _, err := stmt.Exec(
			p.Color.String(), p.Width, p.Height, p.Iterations,
			float64(p.Sigma), float64(p.LowSigma), float64(p.HighSigma),
			t.key.Variant, t.format, compressed,
		); err != nil {
			return fmt.Errorf("failed to insert texture %s: %w", t.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.batch = w.batch[:0]
	return nil
}

// Close flushes any remaining textures and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.db.Close()
		return err
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)

	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}

	if err := gw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
