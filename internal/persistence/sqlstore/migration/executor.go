package migration

import (
	"context"
	"database/sql"
	"time"

	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
)

// SQLExecutor implements Executor over database/sql.
type SQLExecutor struct {
	db      *sql.DB
	dialect dialect.Dialect
	now     func() time.Time
}

// NewExecutor creates an executor for db speaking d.
func NewExecutor(db *sql.DB, d dialect.Dialect) *SQLExecutor {
	return &SQLExecutor{db: db, dialect: d, now: time.Now}
}

func (e *SQLExecutor) versionTableDDL() string {
	if e.dialect == dialect.Postgres {
		return `CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms BIGINT NOT NULL DEFAULT 0
		)`
	}
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL DEFAULT 0
	)`
}

// InitializeVersionTable creates schema_migrations when missing.
func (e *SQLExecutor) InitializeVersionTable(ctx context.Context) error {
	ddl := e.versionTableDDL()
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return NewDatabaseError("", ddl, "create schema_migrations table", err)
	}
	return nil
}

// Apply runs every statement of m and records it, all in one transaction.
func (e *SQLExecutor) Apply(ctx context.Context, m Migration) (elapsed time.Duration, err error) {
	started := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewDatabaseError(m.Version, "", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	statements := Statements(m.SQL)
	if len(statements) == 0 {
		return 0, NewMigrationError(m.Version, m.FilePath, "parse SQL", ErrInvalidMigrationFile)
	}
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return 0, NewDatabaseError(m.Version, stmt, "execute statement", err)
		}
	}

	elapsed = e.now().Sub(started)
	insert := e.dialect.Rebind(`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`)
	if _, err = tx.ExecContext(ctx, insert, m.Version, e.dialect.Time(e.now()), m.Checksum, elapsed.Milliseconds()); err != nil {
		return 0, NewDatabaseError(m.Version, insert, "record migration", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, NewDatabaseError(m.Version, "", "commit transaction", err)
	}
	return elapsed, nil
}

// AppliedVersions lists recorded migrations ordered by version.
func (e *SQLExecutor) AppliedVersions(ctx context.Context) ([]AppliedMigration, error) {
	query := `SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations ORDER BY version ASC`
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewDatabaseError("", query, "get applied versions", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			a         AppliedMigration
			appliedAt dialect.Timestamp
			ms        int64
		)
		if err := rows.Scan(&a.Version, &appliedAt, &a.Checksum, &ms); err != nil {
			return nil, NewDatabaseError("", query, "scan applied migration", err)
		}
		a.AppliedAt = appliedAt.Time
		a.ExecutionTime = time.Duration(ms) * time.Millisecond
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("", query, "iterate applied migrations", err)
	}
	return applied, nil
}
