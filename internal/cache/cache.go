// Package cache keeps serialized command results in a local sqlite file so repeated
// position and band reads inside a TTL skip the RPC round trips. Entries are tagged
// with the command path that produced them.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const lockTimeout = 5 * time.Second

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

// Entry is one result to write. TTLs below a second are stored as one second.
type Entry struct {
	Command string
	Key     string
	Value   []byte
	TTL     time.Duration
}

type CommandStats struct {
	Command string `json:"command"`
	Entries int64  `json:"entries"`
	Expired int64  `json:"expired"`
	Bytes   int64  `json:"bytes"`
}

var schema = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	`CREATE TABLE IF NOT EXISTS results (
		key TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		value BLOB NOT NULL,
		created_ms INTEGER NOT NULL,
		ttl_ms INTEGER NOT NULL
	);`,
	"CREATE INDEX IF NOT EXISTS results_command ON results (command);",
}

type Option func(*Store)

// WithClock replaces time.Now for entry ages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func Open(path, lockPath string, opts ...Option) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	for _, query := range schema {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	_, _ = store.Prune(context.Background())
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune drops entries whose TTL has fully elapsed and returns how many were removed.
// Open calls it once.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var removed int64
	err := s.withLock(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM results WHERE created_ms + ttl_ms < ?", s.nowMS())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return removed, nil
}

// Get reads key. A negative maxStale never marks a stale entry TooStale.
func (s *Store) Get(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	var (
		value     []byte
		createdMS int64
		ttlMS     int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, created_ms, ttl_ms FROM results WHERE key = ?", key).Scan(&value, &createdMS, &ttlMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := time.Duration(s.nowMS()-createdMS) * time.Millisecond
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlMS) * time.Millisecond
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

func (s *Store) Set(ctx context.Context, entry Entry) error {
	ttl := entry.TTL
	if ttl < time.Second {
		ttl = time.Second
	}
	err := s.withLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO results (key, command, value, created_ms, ttl_ms)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				command=excluded.command,
				value=excluded.value,
				created_ms=excluded.created_ms,
				ttl_ms=excluded.ttl_ms
		`, entry.Key, entry.Command, entry.Value, s.nowMS(), ttl.Milliseconds())
		return err
	})
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Clear removes the entries written by command, or every entry when command is empty.
func (s *Store) Clear(ctx context.Context, command string) (int64, error) {
	var removed int64
	err := s.withLock(ctx, func() error {
		var (
			res sql.Result
			err error
		)
		if command == "" {
			res, err = s.db.ExecContext(ctx, "DELETE FROM results")
		} else {
			res, err = s.db.ExecContext(ctx, "DELETE FROM results WHERE command = ?", command)
		}
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return removed, nil
}

// Stats groups the stored entries by command, sorted by command path.
func (s *Store) Stats(ctx context.Context) ([]CommandStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command,
			COUNT(*),
			COALESCE(SUM(CASE WHEN created_ms + ttl_ms < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(LENGTH(value)), 0)
		FROM results
		GROUP BY command
		ORDER BY command
	`, s.nowMS())
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	stats := []CommandStats{}
	for rows.Next() {
		var item CommandStats
		if err := rows.Scan(&item.Command, &item.Entries, &item.Expired, &item.Bytes); err != nil {
			return nil, fmt.Errorf("cache stats: %w", err)
		}
		stats = append(stats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// withLock serializes writers across processes sharing the cache file.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return errors.New("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) nowMS() int64 {
	return s.now().UTC().UnixMilli()
}
