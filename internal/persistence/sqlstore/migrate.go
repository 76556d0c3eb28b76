package sqlstore

import (
	"context"
	"embed"
	"log/slog"

	"github.com/ksti/meeting-room/internal/persistence/sqlstore/migration"
)

//go:embed schema
var schemaFS embed.FS

// Migrations returns the embedded migration source for the store's dialect.
func (s *Store) Migrations() migration.Source {
	return migration.NewScanner(schemaFS, "schema/"+string(s.dialect))
}

// Migrate applies pending schema migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) (int, error) {
	mgr := migration.NewManager(s.Migrations(), migration.NewExecutor(s.db, s.dialect), logger)
	return mgr.Run(ctx)
}

// MigrationStatus reports applied and pending migrations.
func (s *Store) MigrationStatus(ctx context.Context, logger *slog.Logger) (migration.Status, error) {
	mgr := migration.NewManager(s.Migrations(), migration.NewExecutor(s.db, s.dialect), logger)
	return mgr.Status(ctx)
}
