// Package sqlstore persists users, rooms, meetings, devices and credentials
// in SQLite or PostgreSQL through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
	"github.com/ksti/meeting-room/internal/scheduler"
	"github.com/ksti/meeting-room/internal/session"
)

// Config describes a database connection.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// Store is the SQL implementation of the repositories and of the booking and
// session units of work.
type Store struct {
	db      *sql.DB
	dialect dialect.Dialect
	mapper  *ErrorMapper
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialect.Parse(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if d == dialect.SQLite {
		dsn = sqliteDSN(dsn, cfg.BusyTimeout)
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}
	configurePool(db, d, cfg)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", d, err)
	}
	return New(db, d), nil
}

// New wraps an existing handle.
func New(db *sql.DB, d dialect.Dialect) *Store {
	return &Store{db: db, dialect: d, mapper: NewErrorMapper()}
}

// sqliteDSN adds the pragmas every connection needs. Foreign keys are off by
// default in SQLite.
func sqliteDSN(dsn string, busy time.Duration) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if !strings.Contains(dsn, ":memory:") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

func configurePool(db *sql.DB, d dialect.Dialect, cfg Config) {
	if d == dialect.SQLite {
		// One writer at a time; a second connection would also see a
		// different :memory: database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the back end in use.
func (s *Store) Dialect() dialect.Dialect { return s.dialect }

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping tests the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Bookings exposes the store to the booking scheduler.
func (s *Store) Bookings() scheduler.Store { return bookingStore{s: s} }

// Sessions exposes the store to the session manager.
func (s *Store) Sessions() session.Store { return sessionStore{s: s} }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction. The transaction is rolled back when fn
// fails or panics.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", s.mapper.MapError(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", s.mapper.MapError(err))
	}
	return nil
}

func (s *Store) rebind(query string) string { return s.dialect.Rebind(query) }

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
