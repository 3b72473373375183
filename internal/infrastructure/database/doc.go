// Package database provides SQLite connectivity for fleetctl's local state.
//
// This package manages:
//   - Opening a SQLite file with a busy timeout so several CLI processes
//     can share it
//   - Schema migrations read from any fs.FS (the binary embeds them)
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is created 0600 in a 0700 directory
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Migrations are additive only.
package database
