package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/roster/internal/models"
)

// UpsertEntry inserts or replaces the row for e.Path. A source URL already
// on record is kept when e carries none (rebuilds from disk cannot know it).
func (db *DB) UpsertEntry(e models.CacheEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO cache_entries (path, record_id, source_url, size_bytes, digest, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			record_id  = excluded.record_id,
			source_url = CASE WHEN excluded.source_url = '' THEN cache_entries.source_url ELSE excluded.source_url END,
			size_bytes = excluded.size_bytes,
			digest     = excluded.digest,
			updated_at = excluded.updated_at
	`, e.Path, e.RecordID, e.SourceURL, e.SizeBytes, e.Digest, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert entry: %w", err)
	}
	return nil
}

// DeleteEntry removes the row for path. Missing rows are not an error.
func (db *DB) DeleteEntry(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM cache_entries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete entry: %w", err)
	}
	return nil
}

// DeleteAll empties the index.
func (db *DB) DeleteAll() error {
	if _, err := db.conn.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("index: delete all: %w", err)
	}
	return nil
}

// GetEntry returns the row for path, or nil if not indexed.
func (db *DB) GetEntry(path string) (*models.CacheEntry, error) {
	var e models.CacheEntry
	err := db.conn.QueryRow(`
		SELECT path, record_id, source_url, size_bytes, digest, updated_at
		FROM cache_entries WHERE path = ?
	`, path).Scan(&e.Path, &e.RecordID, &e.SourceURL, &e.SizeBytes, &e.Digest, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: get entry: %w", err)
	}
	return &e, nil
}

// ListEntries returns every row ordered by record id then path.
func (db *DB) ListEntries() ([]models.CacheEntry, error) {
	rows, err := db.conn.Query(`
		SELECT path, record_id, source_url, size_bytes, digest, updated_at
		FROM cache_entries ORDER BY record_id, path
	`)
	if err != nil {
		return nil, fmt.Errorf("index: list entries: %w", err)
	}
	defer rows.Close()

	out := []models.CacheEntry{}
	for rows.Next() {
		var e models.CacheEntry
		if err := rows.Scan(&e.Path, &e.RecordID, &e.SourceURL, &e.SizeBytes, &e.Digest, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Totals returns the number of indexed files and their combined size.
func (db *DB) Totals() (int, int64, error) {
	var count int
	var size int64
	err := db.conn.QueryRow(`SELECT count(*), coalesce(sum(size_bytes), 0) FROM cache_entries`).Scan(&count, &size)
	if err != nil {
		return 0, 0, fmt.Errorf("index: totals: %w", err)
	}
	return count, size, nil
}

// AllSizes returns path → size for every indexed file.
func (db *DB) AllSizes() (map[string]int64, error) {
	rows, err := db.conn.Query(`SELECT path, size_bytes FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("index: all sizes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var p string
		var size int64
		if err := rows.Scan(&p, &size); err != nil {
			return nil, err
		}
		out[p] = size
	}
	return out, rows.Err()
}
