// Package database provides the SQLite store behind the bridge event
// journal.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations loaded from an fs.FS (normally embedded)
//   - Health checks for status reporting
//
// Only one writer exists (the bridge loop), so the pool is pinned to a
// single connection.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql.
package database
