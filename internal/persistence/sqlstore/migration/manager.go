package migration

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager applies pending migrations from a Source through an Executor.
type Manager struct {
	source   Source
	executor Executor
	logger   *slog.Logger
}

// NewManager wires a manager. A nil logger falls back to slog.Default.
func NewManager(source Source, executor Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{source: source, executor: executor, logger: logger.With("component", "migration")}
}

// Run applies every pending migration in version order and returns how many
// ran. It stops at the first failure.
func (m *Manager) Run(ctx context.Context) (int, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	if len(status.Pending) == 0 {
		m.logger.InfoContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return 0, nil
	}

	for i, mig := range status.Pending {
		elapsed, err := m.executor.Apply(ctx, mig)
		if err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", mig.Version, "file", mig.FilePath, "error", err)
			return i, NewMigrationError(mig.Version, mig.FilePath, "execute migration",
				fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}
		m.logger.InfoContext(ctx, "migration applied",
			"version", mig.Version,
			"description", mig.Description,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return len(status.Pending), nil
}

// Status compares the source with the version table. Applied files whose
// checksum changed are reported as ErrChecksumMismatch.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}
	available, err := m.source.Migrations()
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.AppliedVersions(ctx)
	if err != nil {
		return Status{}, err
	}

	byVersion := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		byVersion[a.Version] = a
	}

	status := Status{Applied: applied}
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}
	for _, mig := range available {
		a, ok := byVersion[mig.Version]
		if !ok {
			status.Pending = append(status.Pending, mig)
			continue
		}
		if a.Checksum != "" && a.Checksum != mig.Checksum {
			return Status{}, NewMigrationError(mig.Version, mig.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return status, nil
}
