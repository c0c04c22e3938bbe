// Package cache persists small JSON snapshots in SQLite, keyed by name and
// stamped with the time the snapshot was fetched from its origin.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	mu   sync.Mutex
	now  func() time.Time
}

// Result describes a lookup. Age and Stale are measured from FetchedAt, not
// from when the row was written.
type Result struct {
	Hit       bool
	Value     []byte
	FetchedAt time.Time
	Age       time.Duration
	Stale     bool
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS snapshots (key TEXT PRIMARY KEY, value BLOB NOT NULL, fetched_at INTEGER NOT NULL, written_at INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath), now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes snapshots fetched more than maxAge ago.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-maxAge).UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Get loads key. A snapshot is stale once it is older than ttl.
func (s *Store) Get(ctx context.Context, key string, ttl time.Duration) (Result, error) {
	var value []byte
	var fetchedMillis int64
	err := s.db.QueryRowContext(ctx, "SELECT value, fetched_at FROM snapshots WHERE key = ?", key).Scan(&value, &fetchedMillis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	fetchedAt := time.UnixMilli(fetchedMillis).UTC()
	age := s.now().Sub(fetchedAt)
	if age < 0 {
		age = 0
	}
	return Result{
		Hit:       true,
		Value:     value,
		FetchedAt: fetchedAt,
		Age:       age,
		Stale:     age > ttl,
	}, nil
}

// Put stores value under key. Writers across processes serialize on the
// lock file.
func (s *Store) Put(ctx context.Context, key string, value []byte, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, value, fetched_at, written_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			fetched_at=excluded.fetched_at,
			written_at=excluded.written_at
	`, key, value, fetchedAt.UTC().UnixMilli(), s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
