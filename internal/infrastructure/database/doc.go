// Package database provides SQLite connectivity for Cragline Core.
//
// It manages:
//   - the connection, opened in WAL mode with a bounded busy timeout
//   - versioned schema migrations read from an fs.FS
//   - health checks and lifecycle
//
// Every transaction is opened with BEGIN IMMEDIATE (see DSN). Refresh-token
// rotation relies on this: two concurrent rotations of the same token queue
// on the write lock and the second one sees the row already gone.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
