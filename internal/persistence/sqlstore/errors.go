package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ksti/meeting-room/internal/persistence"
	"github.com/ksti/meeting-room/internal/scheduler"
)

// ErrDatabaseBusy reports that SQLite gave up waiting for the write lock.
var ErrDatabaseBusy = errors.New("database is busy")

// ErrorMapper translates driver errors into persistence errors.
type ErrorMapper struct{}

// NewErrorMapper creates a new error mapper.
func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{}
}

// MapError maps driver specific errors. Unknown errors are returned as is.
func (em *ErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		if mapped := mapSQLiteCode(sqliteErr.Code()); mapped != nil {
			return wrap(mapped, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return wrap(persistence.ErrDuplicate, err)
		case "23503":
			return wrap(persistence.ErrForeignKeyViolation, err)
		case "23514", "23502":
			return wrap(persistence.ErrConstraintViolation, err)
		case "23P01":
			return scheduler.ErrRoomUnavailable.Wrap(err)
		}
		return err
	}

	msg := err.Error()
	switch {
	case containsAny(msg, "UNIQUE constraint failed", "duplicate key"):
		return wrap(persistence.ErrDuplicate, err)
	case containsAny(msg, "FOREIGN KEY constraint failed", "foreign key constraint"):
		return wrap(persistence.ErrForeignKeyViolation, err)
	case containsAny(msg, "CHECK constraint failed", "NOT NULL constraint failed"):
		return wrap(persistence.ErrConstraintViolation, err)
	case containsAny(msg, "database is locked", "SQLITE_BUSY"):
		return wrap(ErrDatabaseBusy, err)
	}
	return err
}

func mapSQLiteCode(code int) error {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return persistence.ErrDuplicate
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return persistence.ErrForeignKeyViolation
	case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return persistence.ErrConstraintViolation
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ErrDatabaseBusy
	}
	return nil
}

func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %v", sentinel, err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
