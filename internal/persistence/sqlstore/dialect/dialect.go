// Package dialect papers over the differences between the SQLite and
// PostgreSQL back ends: placeholders, timestamp encoding and row locks.
package dialect

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect names a supported SQL back end.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Parse accepts the configured driver name.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// DriverName is the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// Rebind rewrites ? placeholders to $n for PostgreSQL. Placeholders inside
// single quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ForUpdate is the row lock suffix for SELECT statements.
func (d Dialect) ForUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// LockRow returns a statement that takes a write lock on the row of table
// with the given id. SQLite has no row locks, so a no-op update acquires the
// database write lock instead.
func (d Dialect) LockRow(table string) string {
	if d == Postgres {
		return "SELECT id FROM " + table + " WHERE id = $1 FOR UPDATE"
	}
	return "UPDATE " + table + " SET updated_at = updated_at WHERE id = ?"
}

// timeLayout is fixed width so that SQLite text comparison orders instants.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Time encodes t for a query argument.
func (d Dialect) Time(t time.Time) any {
	if d == Postgres {
		return t.UTC()
	}
	return t.UTC().Format(timeLayout)
}

// NullTime encodes an optional instant.
func (d Dialect) NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.Time(*t)
}

// Timestamp scans either a native timestamp or the SQLite text encoding.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time, ts.Valid = time.Time{}, false
		return nil
	case time.Time:
		ts.Time, ts.Valid = v.UTC(), true
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	}
	return fmt.Errorf("dialect: cannot scan %T into Timestamp", src)
}

func (ts *Timestamp) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time, ts.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("dialect: invalid timestamp %q", s)
}

// Value implements driver.Valuer using the SQLite text encoding.
func (ts Timestamp) Value() (driver.Value, error) {
	if !ts.Valid {
		return nil, nil
	}
	return ts.Time.UTC().Format(timeLayout), nil
}

// Ptr returns nil for NULL.
func (ts Timestamp) Ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
