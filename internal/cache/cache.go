// Package cache provides an incremental generation cache with hash-based
// invalidation. Every written unit is recorded with its content
// fingerprint and the size and mtime of the file on disk, so unchanged
// units are not rewritten and stale units can be found after a type
// disappears from the descriptor.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"autoclose/internal/logging"
)

// cacheVersion is incremented when the fingerprint scheme changes.
// Entries with a different version are treated as misses.
const cacheVersion = 1

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("cache is closed")

// Entry is the record of one generated unit.
type Entry struct {
	Path        string
	Type        string
	Fingerprint string
	Size        int64
	ModTime     time.Time
	RunID       string
	UpdatedAt   time.Time
	Version     int
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache records generated units in a SQLite database.
type Cache struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	closed bool

	// Statistics (atomic for lock-free reads)
	hits   atomic.Int64
	misses atomic.Int64
}

// Open creates or opens the cache database at path. The special path
// ":memory:" keeps the cache in memory.
func Open(path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// An in-memory database lives in a single connection.
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, dbPath: path}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.Get(logging.CategoryCache).Debug("opened cache %s", path)
	return c, nil
}

// initSchema creates the database schema.
func (c *Cache) initSchema() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS units (
		path TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		size INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_units_type ON units(type);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.dbPath
}

// Close closes the database connection. Closing twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// Fingerprint returns the content hash recorded for src.
func Fingerprint(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the entry recorded for path.
func (c *Cache) Lookup(ctx context.Context, path string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Entry{}, false, ErrClosed
	}
	return c.lookup(ctx, path)
}

func (c *Cache) lookup(ctx context.Context, path string) (Entry, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT path, type, fingerprint, size, mod_time, run_id, updated_at, version
		FROM units WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to look up %s: %w", path, err)
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var modTime, updatedAt int64
	if err := s.Scan(&e.Path, &e.Type, &e.Fingerprint, &e.Size, &modTime, &e.RunID, &updatedAt, &e.Version); err != nil {
		return Entry{}, err
	}
	e.ModTime = time.Unix(0, modTime)
	e.UpdatedAt = time.Unix(0, updatedAt)
	return e, nil
}

// Entries returns every recorded unit ordered by path.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT path, type, fingerprint, size, mod_time, run_id, updated_at, version
		FROM units ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Forget removes the entry for path.
func (c *Cache) Forget(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM units WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to forget %s: %w", path, err)
	}
	return nil
}

// Fresh reports whether the file at path still holds exactly the content
// with fingerprint fp, as last recorded. It never reads the file; size and
// mtime stand in for the content.
func (c *Cache) Fresh(ctx context.Context, path, fp string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false, ErrClosed
	}
	e, ok, err := c.lookup(ctx, path)
	if err != nil || !ok {
		return false, err
	}
	if e.Version != cacheVersion || e.Fingerprint != fp {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	return info.Size() == e.Size && info.ModTime().Equal(e.ModTime), nil
}

// WriteUnit writes src to path unless the cache shows the file already
// holds it. It reports whether the file was written.
func (c *Cache) WriteUnit(ctx context.Context, path, typ, runID string, src []byte) (bool, error) {
	log := logging.Get(logging.CategoryCache)
	fp := Fingerprint(src)

	fresh, err := c.Fresh(ctx, path, fp)
	if err != nil {
		return false, err
	}
	if fresh {
		c.hits.Add(1)
		log.Debug("unchanged %s", path)
		return false, nil
	}
	c.misses.Add(1)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, src, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return true, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	entry := Entry{
		Path:        path,
		Type:        typ,
		Fingerprint: fp,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		RunID:       runID,
		UpdatedAt:   time.Now(),
		Version:     cacheVersion,
	}
	if err := c.Record(ctx, entry); err != nil {
		return true, err
	}
	log.Debug("wrote %s", path)
	return true, nil
}

// Record stores e, replacing any earlier entry for the same path.
func (c *Cache) Record(ctx context.Context, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if e.Version == 0 {
		e.Version = cacheVersion
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO units (path, type, fingerprint, size, mod_time, run_id, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			type = excluded.type,
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			mod_time = excluded.mod_time,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at,
			version = excluded.version`,
		e.Path, e.Type, e.Fingerprint, e.Size, e.ModTime.UnixNano(), e.RunID, e.UpdatedAt.UnixNano(), e.Version)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Path, err)
	}
	return nil
}

// Stats returns hit and miss counts since Open.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
