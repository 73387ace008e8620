// Package sqlite implements db.Store over an embedded SQLite database.
// Documents are JSON text rows; pub/sub is delivered in process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kailas-cloud/cmskit/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds the SQLite connection parameters.
type Config struct {
	// DSN is a file path or a modernc DSN, e.g. "file:cms.db?_pragma=busy_timeout(5000)".
	// Empty means a private in-memory database.
	DSN string
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store implements db.Store on database/sql with the modernc driver.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	subs   map[string]map[uint64]func([]byte)
	nextID uint64
	closed bool
}

// NewStore opens the database and creates the documents table.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, &db.Error{Op: db.OpMigrate, Err: err}
	}
	return &Store{db: conn, subs: make(map[string]map[uint64]func([]byte))}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the database and drops every subscriber.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.subs = make(map[string]map[uint64]func([]byte))
	s.mu.Unlock()
	_ = s.db.Close()
}

// WaitForReady returns once Ping succeeds or the timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("timeout waiting for database: %w", err)
	}
	return nil
}

// JSONSet stores a whole document. Only db.RootPath is supported.
func (s *Store) JSONSet(ctx context.Context, key, path string, data []byte) error {
	if path != db.RootPath {
		return &db.Error{Op: db.OpJSONSet, Err: fmt.Errorf("unsupported path %q", path)}
	}
	if !json.Valid(data) {
		return &db.Error{Op: db.OpJSONSet, Err: errors.New("invalid JSON document")}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return &db.Error{Op: db.OpJSONSet, Err: err}
	}
	return nil
}

// JSONGet retrieves the document at key.
func (s *Store) JSONGet(ctx context.Context, key string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpJSONGet, Err: err}
	}
	return []byte(data), nil
}

// JSONGetMulti fetches several documents with one query.
func (s *Store) JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data FROM documents WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, &db.Error{Op: db.OpJSONGet, Err: err}
	}
	defer rows.Close()

	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, &db.Error{Op: db.OpJSONGet, Err: err}
		}
		found[key] = []byte(data)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpJSONGet, Err: err}
	}

	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = found[k]
	}
	return out, nil
}

// Del deletes a key.
func (s *Store) Del(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key); err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists checks if a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return n > 0, nil
}

// Scan lists keys matching a glob pattern, in key order.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM documents WHERE key GLOB ? ORDER BY key`, pattern)
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	return keys, nil
}

// Publish delivers payload synchronously to the current subscribers of
// channel.
func (s *Store) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &db.Error{Op: db.OpPublish, Err: db.ErrClosed}
	}
	fns := make([]func([]byte), 0, len(s.subs[channel]))
	for _, fn := range s.subs[channel] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

// Subscribe registers fn for channel until the returned function is called
// or ctx is done.
func (s *Store) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &db.Error{Op: db.OpSubscribe, Err: db.ErrClosed}
	}
	s.nextID++
	id := s.nextID
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[uint64]func([]byte))
	}
	s.subs[channel][id] = fn
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[channel], id)
			if len(s.subs[channel]) == 0 {
				delete(s.subs, channel)
			}
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}, nil
}
