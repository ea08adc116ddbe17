// Package catalog keeps a searchable SQLite index of FITS headers.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"example.com/fitsgate/internal/fits"
	"example.com/fitsgate/internal/report"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL UNIQUE,
	size       INTEGER NOT NULL,
	sha256     TEXT NOT NULL,
	blake3     TEXT NOT NULL,
	valid      INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	indexed_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS hdus (
	file_id    INTEGER NOT NULL,
	idx        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	bitpix     INTEGER NOT NULL,
	encoding   TEXT NOT NULL,
	axes       TEXT NOT NULL,
	data_bytes INTEGER NOT NULL,
	PRIMARY KEY (file_id, idx)
);
CREATE TABLE IF NOT EXISTS keys (
	file_id INTEGER NOT NULL,
	hdu     INTEGER NOT NULL,
	keyword TEXT NOT NULL,
	kind    TEXT NOT NULL,
	value_text TEXT NOT NULL,
	num        REAL
);
CREATE INDEX IF NOT EXISTS keys_keyword ON keys(keyword, value_text);
`

// Catalog wraps the SQLite database.
type Catalog struct {
	db   *sql.DB
	path string
}

// File is one indexed file.
type File struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	BLAKE3    string    `json:"blake3"`
	Valid     bool      `json:"valid"`
	Error     string    `json:"error,omitempty"`
	HDUs      int       `json:"hdus"`
	IndexedAt time.Time `json:"indexedAt"`
}

// Match is one header keyword hit.
type Match struct {
	Path    string `json:"path"`
	HDU     int    `json:"hdu"`
	Kind    string `json:"kind"`
	Keyword string `json:"keyword"`
	Value   string `json:"value"`
}

// Open opens or creates the catalog at path. ":memory:" is accepted.
func Open(path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path is empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// A single connection keeps a :memory: database alive and shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

func (c *Catalog) Path() string { return c.path }

func (c *Catalog) Close() error {
	return c.db.Close()
}

// IndexFile summarizes path and indexes the result.
func (c *Catalog) IndexFile(ctx context.Context, path string, opts fits.ReadOptions) (report.Summary, error) {
	s, err := report.Summarize(path, opts)
	if err != nil {
		return s, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		s.File = abs
	}
	return s, c.Index(ctx, s)
}

// Index stores s, replacing any earlier entry for the same file path.
func (c *Catalog) Index(ctx context.Context, s report.Summary) error {
	if s.File == "" {
		return errors.New("summary has no file path")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteFile(ctx, tx, s.File); err != nil {
		return fmt.Errorf("index %s: %w", s.File, err)
	}
	indexedAt := s.CreatedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO files (path, size, sha256, blake3, valid, error, indexed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.File, s.Size, s.SHA256, s.BLAKE3, s.Valid, s.Error, indexedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index %s: %w", s.File, err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	hduStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO hdus (file_id, idx, kind, bitpix, encoding, axes, data_bytes) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer hduStmt.Close()
	keyStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO keys (file_id, hdu, keyword, kind, value_text, num) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer keyStmt.Close()

	for _, h := range s.HDUs {
		if _, err := hduStmt.ExecContext(ctx, fileID, h.Index, h.Kind, h.Bitpix, h.Encoding, axesText(h.Axes), h.DataBytes); err != nil {
			return fmt.Errorf("index %s hdu %d: %w", s.File, h.Index, err)
		}
		for _, kw := range h.Header.Keys() {
			v := h.Header[kw]
			if _, err := keyStmt.ExecContext(ctx, fileID, h.Index, kw, v.Kind.String(), valueText(v), valueNum(v)); err != nil {
				return fmt.Errorf("index %s %s: %w", s.File, kw, err)
			}
		}
	}
	return tx.Commit()
}

// Remove drops path from the catalog.
func (c *Catalog) Remove(ctx context.Context, path string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteFile(ctx, tx, path); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteFile(ctx context.Context, tx *sql.Tx, path string) error {
	for _, q := range []string{
		`DELETE FROM keys WHERE file_id IN (SELECT id FROM files WHERE path = ?)`,
		`DELETE FROM hdus WHERE file_id IN (SELECT id FROM files WHERE path = ?)`,
		`DELETE FROM files WHERE path = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, path); err != nil {
			return err
		}
	}
	return nil
}

// Files lists indexed files ordered by path.
func (c *Catalog) Files(ctx context.Context) ([]File, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT f.path, f.size, f.sha256, f.blake3, f.valid, f.error, f.indexed_at,
       (SELECT COUNT(*) FROM hdus h WHERE h.file_id = f.id)
FROM files f ORDER BY f.path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []File
	for rows.Next() {
		var f File
		var indexed string
		if err := rows.Scan(&f.Path, &f.Size, &f.SHA256, &f.BLAKE3, &f.Valid, &f.Error, &indexed, &f.HDUs); err != nil {
			return nil, err
		}
		f.IndexedAt, _ = time.Parse(time.RFC3339Nano, indexed)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Query returns every HDU whose header carries keyword. A non-empty value
// restricts hits to that value: strings compare case-insensitively with
// trailing blanks ignored, numbers compare numerically.
func (c *Catalog) Query(ctx context.Context, keyword, value string) ([]Match, error) {
	keyword = strings.ToUpper(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, errors.New("keyword is required")
	}
	q := `
SELECT f.path, k.hdu, h.kind, k.keyword, k.value_text
FROM keys k
JOIN files f ON f.id = k.file_id
JOIN hdus h ON h.file_id = k.file_id AND h.idx = k.hdu
WHERE k.keyword = ?`
	args := []interface{}{keyword}
	if value != "" {
		v := fits.ParseValue(value)
		if n := valueNum(v); n != nil {
			q += ` AND k.num = ?`
			args = append(args, n)
		} else {
			q += ` AND k.value_text = ? COLLATE NOCASE`
			args = append(args, valueText(v))
		}
	}
	q += ` ORDER BY f.path, k.hdu`
	return c.matches(ctx, q, args...)
}

// QueryRange returns numeric keyword hits with lo <= value <= hi.
func (c *Catalog) QueryRange(ctx context.Context, keyword string, lo, hi float64) ([]Match, error) {
	keyword = strings.ToUpper(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, errors.New("keyword is required")
	}
	return c.matches(ctx, `
SELECT f.path, k.hdu, h.kind, k.keyword, k.value_text
FROM keys k
JOIN files f ON f.id = k.file_id
JOIN hdus h ON h.file_id = k.file_id AND h.idx = k.hdu
WHERE k.keyword = ? AND k.num BETWEEN ? AND ?
ORDER BY f.path, k.hdu`, keyword, lo, hi)
}

func (c *Catalog) matches(ctx context.Context, q string, args ...interface{}) ([]Match, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Path, &m.HDU, &m.Kind, &m.Keyword, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func valueText(v fits.Value) string {
	if v.Kind == fits.KindString {
		return strings.TrimRight(v.Str, " ")
	}
	return v.String()
}

func valueNum(v fits.Value) interface{} {
	switch v.Kind {
	case fits.KindInteger:
		return float64(v.Int)
	case fits.KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil
		}
		return v.Float
	}
	return nil
}

func axesText(axes []int) string {
	parts := make([]string, len(axes))
	for i, n := range axes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "x")
}
