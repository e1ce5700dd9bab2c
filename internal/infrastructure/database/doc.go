// Package database provides SQLite connectivity for Gray ORM persistence units.
//
// This package manages:
//   - The connection pool of one unit, with WAL mode and foreign keys on
//   - Versioned migrations and the auto_schema modes (none, create, validate)
//   - Column introspection used by schema validation
//   - Classification of constraint failures reported by the driver
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/staff.db", WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.EnsureSchema(ctx, unit.AutoSchema); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are registered with RegisterMigrations. Files are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql,
// and each one runs in its own transaction.
package database
