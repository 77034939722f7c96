// Package state persists hostnet bookkeeping in a small SQLite database.
//
// Two buckets live here: the checkpoint journal, so a checkpoint left
// open by a crashed daemon can still be rolled back, and the bounded
// apply history shown by "hostnet history".
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"grimm.is/hostnet/internal/clock"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrBucketExists  = errors.New("bucket already exists")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

// Store is what the buckets need from the backing database.
type Store interface {
	CreateBucket(name string) error
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	List(bucket string) (map[string][]byte, error)
	ListKeys(bucket string) ([]string, error)
	GetJSON(bucket, key string, v any) error
	SetJSON(bucket, key string, v any) error
	Close() error
}

// SQLiteStore implements Store on top of modernc.org/sqlite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	clock  clock.Clock
	closed bool
}

// Options configures the SQLite store.
type Options struct {
	Path    string // ":memory:" keeps everything in process
	WALMode bool
	Clock   clock.Clock
}

// DefaultOptions returns WAL-mode options for a database file.
func DefaultOptions(path string) Options {
	return Options{Path: path, WALMode: true}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket     TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      BLOB,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (bucket, key)
);`

// NewSQLiteStore opens (creating if needed) the database at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	memory := opts.Path == ":memory:"
	dsn := opts.Path
	if opts.WALMode && !memory {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if memory {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SQLiteStore{db: db, clock: clk}, nil
}

// EnsureBucket creates a bucket unless it already exists.
func EnsureBucket(s Store, name string) error {
	if err := s.CreateBucket(name); err != nil && !errors.Is(err, ErrBucketExists) {
		return err
	}
	return nil
}

// CreateBucket registers a new bucket name.
func (s *SQLiteStore) CreateBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", name, s.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBucketExists
	}
	return nil
}

// Get returns the raw value stored under key.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var value []byte
	err := s.db.QueryRow("SELECT value FROM entries WHERE bucket = ? AND key = ?", bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if !s.bucketExists(bucket) {
		return ErrBucketMissing
	}

	_, err := s.db.Exec(`INSERT INTO entries (bucket, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		bucket, key, value, s.clock.Now())
	return err
}

func (s *SQLiteStore) bucketExists(name string) bool {
	var one int
	return s.db.QueryRow("SELECT 1 FROM buckets WHERE name = ?", name).Scan(&one) == nil
}

// Delete removes key, returning ErrNotFound when it was not stored.
func (s *SQLiteStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec("DELETE FROM entries WHERE bucket = ? AND key = ?", bucket, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every entry of a bucket.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.query(func(rows *sql.Rows) error {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		out[key] = value
		return nil
	}, "SELECT key, value FROM entries WHERE bucket = ?", bucket)
	return out, err
}

// ListKeys returns the keys of a bucket in ascending order.
func (s *SQLiteStore) ListKeys(bucket string) ([]string, error) {
	var keys []string
	err := s.query(func(rows *sql.Rows) error {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	}, "SELECT key FROM entries WHERE bucket = ? ORDER BY key", bucket)
	return keys, err
}

// query runs a read and hands each row to fn.
func (s *SQLiteStore) query(fn func(*sql.Rows) error, q string, args ...any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetJSON decodes the JSON value stored under key into v.
func (s *SQLiteStore) GetJSON(bucket, key string, v any) error {
	data, err := s.Get(bucket, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON stores v encoded as JSON.
func (s *SQLiteStore) SetJSON(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", bucket, key, err)
	}
	return s.Set(bucket, key, data)
}

// Close releases the database. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
