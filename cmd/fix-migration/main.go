// Package main clears a dirty flag left in schema_migrations when a migration
// was interrupted. golang-migrate refuses to run against a dirty version, so
// the server cannot start until the flag is cleared. Inspect the schema by
// hand before running this.
package main

import (
	"log"
	"os"

	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	version, changed, err := db.ClearDirty(database)
	if err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}
	if !changed {
		log.Printf("Migration state is already clean (version=%d)", version)
		return
	}
	log.Printf("Cleared dirty flag at version %d", version)
}
