package migration

import (
	"context"
	"time"
)

// Migration is one versioned schema file.
type Migration struct {
	Version     string // numeric prefix of the file name, e.g. "001"
	Description string
	SQL         string
	FilePath    string
	Checksum    string // sha256 of SQL
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Status summarises the applied and pending migrations.
type Status struct {
	CurrentVersion string
	Applied        []AppliedMigration
	Pending        []Migration
}

// Source lists the available migrations in version order.
type Source interface {
	Migrations() ([]Migration, error)
}

// Executor applies migrations and tracks which ones ran.
type Executor interface {
	InitializeVersionTable(ctx context.Context) error
	// Apply runs m and records it in the same transaction.
	Apply(ctx context.Context, m Migration) (time.Duration, error)
	AppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}
