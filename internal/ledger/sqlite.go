package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in one table; the autoincrement sequence is the
// append order.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
	mu   sync.Mutex
}

func OpenSQLite(path, lockPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	if lockPath == "" {
		lockPath = path + ".lock"
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL UNIQUE,
			ts INTEGER NOT NULL,
			platform TEXT NOT NULL,
			user_id TEXT NOT NULL,
			wallet TEXT NOT NULL,
			netuid INTEGER NOT NULL,
			result TEXT NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_records_user ON records(platform, user_id, seq);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init history schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, lock: flock.New(lockPath)}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock history: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock history: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (record_id, ts, platform, user_id, wallet, netuid, result, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Timestamp.UTC().UnixMilli(), rec.Platform, rec.UserID, rec.Wallet, rec.Netuid, string(rec.Result), payload)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Record, error) {
	where := []string{"platform = ?", "user_id = ?"}
	args := []any{q.Platform, q.UserID}
	if strings.TrimSpace(q.Wallet) != "" {
		where = append(where, "wallet = ?")
		args = append(args, q.Wallet)
	}
	if q.HasNetuid {
		where = append(where, "netuid = ?")
		args = append(args, q.Netuid)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM records WHERE "+strings.Join(where, " AND ")+" ORDER BY seq ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}

// Open picks a backend by name: "jsonl" (default) or "sqlite".
func Open(backend, path, lockPath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "jsonl":
		store, err := OpenJSONL(path, lockPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := OpenSQLite(path, lockPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
