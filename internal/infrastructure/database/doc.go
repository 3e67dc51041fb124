// Package database opens the bridge's SQLite database.
//
// The database holds the identity of every bound appliance (id, address,
// encryption scheme and key) so a restart does not need to rediscover and
// rebind devices. It is small and written rarely.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/greemqtt.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Security: the file holds device keys and is created with mode 0600.
package database
