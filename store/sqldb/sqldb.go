/*
Package sqldb provides a database/sql implementation of the fuel store contracts.

PURPOSE:
  Implements fuel.TxStore, fuel.Notifier and fuel.AuditLog on SQLite
  (mattn/go-sqlite3) or PostgreSQL (jackc/pgx/v5/stdlib). Both dialects
  share one schema and one set of queries; placeholders are written as "?"
  and rebound to "$n" for PostgreSQL.

KEY TABLES:
  tanks:              config + stock projection (version = optimistic lock)
  ledger_entries:     append-only history, UNIQUE(tank_id, seq)
  adjustments:        proposals and their decisions
  sales:              external sales with the tank_deducted flag
  calibration_points: per-tank charts, ordered by position
  readings:           operator closing readings
  notifications:      low stock, recovery, discrepancy, clamped sales
  audit_log:          compliance trail

APPEND-ONLY ENFORCEMENT:
  No UPDATE statement touches ledger_entries. The only DELETE is Reset,
  which wipes every table for tests and demos.

CONCURRENCY:
  SQLite: a single pooled connection plus a store mutex around WithTx.
  PostgreSQL: WithTx runs at SERIALIZABLE; serialization failures (40001)
  and deadlocks (40P01) surface as fuel.ErrConcurrentModification so the
  ledger retries them.

ENCODING:
  Quantities are TEXT (decimal strings, no float rounding). Timestamps are
  TEXT in a fixed-width UTC layout so string order equals time order.
  Booleans are INTEGER 0/1 in both dialects.

MIGRATION:
  Schema is auto-migrated on open. For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - fuel/store.go: interface definitions
  - fuel/store/memory.go: in-memory implementation for tests
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/fuelstock/fuel"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// timeLayout is fixed width so lexical and chronological order agree.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements fuel.TxStore, fuel.Notifier and fuel.AuditLog.
type Store struct {
	*repo
	db *sql.DB
	mu sync.Mutex
}

var (
	_ fuel.TxStore  = (*Store)(nil)
	_ fuel.Notifier = (*Store)(nil)
	_ fuel.AuditLog = (*Store)(nil)
)

// OpenSQLite opens (or creates) a SQLite database at path.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" is per connection, and SQLite has one writer anyway.
	db.SetMaxOpenConns(1)
	return newStore(context.Background(), db, dialectSQLite)
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return newStore(ctx, db, dialectPostgres)
}

// Open picks the dialect by driver name ("sqlite3" or "pgx").
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "", "sqlite3", "sqlite":
		return OpenSQLite(dsn)
	case "pgx", "postgres":
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func newStore(ctx context.Context, db *sql.DB, d dialect) (*Store, error) {
	s := &Store{db: db, repo: &repo{q: db, db: db, d: d}}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (fuel.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(fuel.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.d == dialectSQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	var opts *sql.TxOptions
	if s.d == dialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return wrap("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&repo{q: tx, d: s.d}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit transaction", err)
	}
	return nil
}

// =============================================================================
// REPOSITORY - Queries shared by the pool and by transactions
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo runs queries against q. db is set only outside a transaction.
type repo struct {
	q  queryer
	db *sql.DB
	d  dialect
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.rebind(query), args...)
}

func (r *repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.rebind(query), args...)
}

func (r *repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.rebind(query), args...)
}

// atomic runs fn in a transaction unless r already is one.
func (r *repo) atomic(ctx context.Context, fn func(*repo) error) error {
	if r.db == nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&repo{q: tx, d: r.d}); err != nil {
		return err
	}
	return wrap("commit transaction", tx.Commit())
}

// rebind turns "?" placeholders into "$1..$n" for PostgreSQL.
func (r *repo) rebind(query string) string {
	if r.d != dialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// =============================================================================
// HELPERS
// =============================================================================

// filter accumulates WHERE clauses.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, arg any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, arg)
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// wrap classifies a driver error. Serialization failures become retryable.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isSerializationFailure(err) {
		return fmt.Errorf("%s: %w", op, fuel.ErrConcurrentModification)
	}
	return &fuel.PersistenceError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
