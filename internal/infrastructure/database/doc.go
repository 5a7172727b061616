// Package database provides the SQLite handle behind the message history.
//
// It opens the database with WAL mode and a busy timeout taken from the
// configuration, and applies forward-only schema migrations read from an
// fs.FS (normally the embedded migrations.FS).
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
