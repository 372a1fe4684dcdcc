// Package store provides the durable key-value layer underneath the
// knowledge base: memory documents and user preferences in a single
// embedded SQLite database.
//
// Durability follows SQLite's standard journal semantics: Put and Delete
// return after their implicit transaction commits. Iteration order is
// primary-key (lexicographic) order, which callers must not confuse with
// insertion order.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrKeyNotFound is returned by Get and Delete for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// Key prefixes partition the key space. Anything without a reserved
// prefix is treated as a memory id during the startup scan.
const (
	PrefixPreference = "pref:"
	PrefixMeta       = "meta:"
)

var reservedPrefixes = []string{PrefixPreference, PrefixMeta}

// IsReserved reports whether key belongs to a reserved (non-memory)
// key range.
func IsReserved(key string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// PreferenceKey maps a caller-chosen preference name into the reserved
// preference key range.
func PreferenceKey(key string) string {
	return PrefixPreference + key
}

type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at path. Failure here is fatal to
// engine construction.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record store %s: %w", path, err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}
	return nil
}

// Put upserts value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Delete removes key. Returns ErrKeyNotFound if the key was absent.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// IterateAll streams every (key, value) pair to fn in key order. A
// non-nil error from fn aborts the pass. Each call starts a fresh pass.
func (s *Store) IterateAll(ctx context.Context, fn func(key string, value []byte) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv ORDER BY key")
	if err != nil {
		return fmt.Errorf("iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("iterate scan: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Compact reclaims free pages.
func (s *Store) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
