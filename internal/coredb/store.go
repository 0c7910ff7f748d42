package coredb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver with database/sql

	"github.com/zubot/central/internal/pkg/logs"
)

// Options configures Open. BusyTimeout follows the SQL Gateway's
// db_queue_busy_timeout_ms config key (spec §6); a zero value falls back to
// a conservative default so a Store opened outside the Gateway (e.g. in
// tests) still behaves sanely under contention.
type Options struct {
	Path        string
	BusyTimeout time.Duration
}

// Store owns the SQLite connection and exposes narrowly-typed operations
// over the schema in schema.go. SQLite allows only one writer at a time, so
// the connection pool is capped at a single connection (mirrors the
// other_examples bobbydeveaux-starbucks-mugs sqlite_queue.go convention):
// every Store method serializes through that one connection, so two
// goroutines never interleave a multi-statement transaction. Daemon
// components call these methods directly; the SQL Gateway
// (internal/sqlgateway) serves only the Control API's ad-hoc SQL requests.
type Store struct {
	db *sql.DB
}

const defaultBusyTimeout = 5 * time.Second

// Open opens (or creates) the SQLite database at opts.Path, applies pragmas
// and the schema, and returns a ready Store. Pass ":memory:" for ephemeral
// test databases.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("coredb: path is required")
	}
	if opts.Path != ":memory:" {
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("coredb: create db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("coredb: open %q: %w", opts.Path, err)
	}

	// Single writer: SQLite only ever allows one. Capping the pool at one
	// connection means every Store call is already implicitly serialized at
	// the driver level, which is what lets claim-then-update calls below be
	// correct without SELECT ... FOR UPDATE.
	db.SetMaxOpenConns(1)

	busyTimeout := opts.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("coredb: apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("coredb: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw *sql.DB for the SQL Gateway, which is the only caller
// permitted to run arbitrary caller-submitted SQL against it. Every other
// package in this module goes through the typed methods below.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("coredb: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logs.Warn("[coredb] rollback after error failed: %v (original: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("coredb: commit tx: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
