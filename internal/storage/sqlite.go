package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/ernie/mcauth/internal/domain"
	_ "modernc.org/sqlite"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// formatTimestamp converts time.Time to a UTC ISO8601 string. The fixed
// layout keeps lexical and chronological order identical.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

//go:embed schema.sql
var schema string

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides database access. It owns every table; nothing else in the
// process writes to the database.
type Store struct {
	db         *sql.DB
	pendingTTL time.Duration
	now        func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithPendingTTL makes pending authorizations expire after d. Zero keeps
// them until redeemed or cleared.
func WithPendingTTL(d time.Duration) Option {
	return func(s *Store) { s.pendingTTL = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new Store with the given database path
func New(dbPath string, opts ...Option) (*Store, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		// Take the write lock when a transaction starts so concurrent
		// processes fail fast on busy_timeout instead of mid-transaction.
		dsn += "?_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also serialises every transaction issued by this process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing if it returns nil
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// pendingCutoff returns the oldest created_at still considered valid.
// Every stored timestamp sorts after the empty string.
func (s *Store) pendingCutoff() string {
	if s.pendingTTL <= 0 {
		return ""
	}
	return formatTimestamp(s.now().Add(-s.pendingTTL))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// Counts returns the number of rows in each table
func (s *Store) Counts(ctx context.Context) (domain.Counts, error) {
	var c domain.Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM account_links),
			(SELECT COUNT(*) FROM pending_authorizations WHERE created_at > ?),
			(SELECT COUNT(*) FROM alts),
			(SELECT COUNT(*) FROM bans)
	`, s.pendingCutoff()).Scan(&c.Links, &c.Pending, &c.Alts, &c.Bans)
	if err != nil {
		return c, fmt.Errorf("counting rows: %w", err)
	}
	return c, nil
}
