package migration

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"

	"github.com/ksti/meeting-room/internal/persistence/sqlstore/dialect"
)

func newMockExecutor(t *testing.T, d dialect.Dialect) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewExecutor(db, d), mock
}

func TestSQLExecutor_InitializeVersionTable(t *testing.T) {
	t.Parallel()

	exec, mock := newMockExecutor(t, dialect.Postgres)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := exec.InitializeVersionTable(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLExecutor_Apply(t *testing.T) {
	t.Parallel()

	t.Run("commits statements and record", func(t *testing.T) {
		t.Parallel()

		exec, mock := newMockExecutor(t, dialect.Postgres)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id TEXT)")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id TEXT)")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES ($1, $2, $3, $4)")).
			WithArgs("001", sqlmock.AnyArg(), "sum", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err := exec.Apply(context.Background(), Migration{
			Version:  "001",
			SQL:      "CREATE TABLE a (id TEXT);\nCREATE TABLE b (id TEXT);",
			Checksum: "sum",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		t.Parallel()

		exec, mock := newMockExecutor(t, dialect.SQLite)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id TEXT)")).WillReturnError(boom)
		mock.ExpectRollback()

		_, err := exec.Apply(context.Background(), Migration{Version: "001", SQL: "CREATE TABLE a (id TEXT);"})
		var dbErr *DatabaseError
		if !errors.As(err, &dbErr) {
			t.Fatalf("expected DatabaseError, got %v", err)
		}
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped cause, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})
}

func TestSQLExecutor_AppliedVersions(t *testing.T) {
	t.Parallel()

	exec, mock := newMockExecutor(t, dialect.SQLite)
	rows := sqlmock.NewRows([]string{"version", "applied_at", "checksum", "execution_time_ms"}).
		AddRow("001", "2026-03-02T09:00:00.000000000Z", "abc", int64(12)).
		AddRow("002", "2026-03-02T09:00:01.000000000Z", "def", int64(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations")).
		WillReturnRows(rows)

	applied, err := exec.AppliedVersions(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied migrations, got %d", len(applied))
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !applied[0].AppliedAt.Equal(want) {
		t.Fatalf("expected applied_at %v, got %v", want, applied[0].AppliedAt)
	}
	if applied[0].ExecutionTime != 12*time.Millisecond {
		t.Fatalf("expected 12ms, got %v", applied[0].ExecutionTime)
	}
}

func TestSQLExecutor_SQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	exec := NewExecutor(db, dialect.SQLite)
	if err := exec.InitializeVersionTable(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := exec.Apply(ctx, Migration{Version: "001", SQL: "CREATE TABLE a (id TEXT PRIMARY KEY);", Checksum: "x"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// A failing migration leaves neither its table nor its record behind.
	_, err = exec.Apply(ctx, Migration{Version: "002", SQL: "CREATE TABLE b (id TEXT);\nINSERT INTO missing VALUES (1);"})
	if err == nil {
		t.Fatal("expected error for broken migration")
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'b'").Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Fatal("expected table b to be rolled back")
	}

	applied, err := exec.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "001" {
		t.Fatalf("expected only 001 applied, got %+v", applied)
	}
}
