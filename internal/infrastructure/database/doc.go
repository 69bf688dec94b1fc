// Package database provides SQLite storage for the node's persistent settings.
//
// The node keeps very little on disk: its identity, credentials and portal
// account. SQLite gives those values atomic updates that survive a power cut
// mid-write, which a flat file rewritten in place does not.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
