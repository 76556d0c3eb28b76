// Package migration applies versioned schema files to a SQLite or PostgreSQL
// database.
//
// Files are read from an fs.FS, usually an embedded directory, and follow the
// naming convention {version}_{description}.sql (e.g. "001_initial_schema.sql").
// Each file runs in its own transaction and is recorded in the
// schema_migrations table so it is never applied twice.
//
// Example usage:
//
//	manager := migration.NewManager(
//		migration.NewScanner(schemaFS, "schema/sqlite"),
//		migration.NewExecutor(db, dialect.SQLite),
//		logger,
//	)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
