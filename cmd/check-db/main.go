// Package main is a diagnostic tool for database connectivity. It loads the
// server configuration, connects, reports the migration version and prints
// row counts for the main tables. It exits non-zero on any failure so it can
// gate a deployment step.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/db"
)

var counts = []struct {
	label string
	query string
}{
	{"users", "SELECT COUNT(*) FROM users"},
	{"admins", "SELECT COUNT(*) FROM users WHERE is_admin"},
	{"access keys (unused)", "SELECT COUNT(*) FROM access_keys WHERE NOT is_used"},
	{"access keys (used)", "SELECT COUNT(*) FROM access_keys WHERE is_used"},
	{"agents", "SELECT COUNT(*) FROM agents"},
	{"active threads", "SELECT COUNT(*) FROM user_threads WHERE is_active"},
	{"messages", "SELECT COUNT(*) FROM messages"},
	{"sessions", "SELECT COUNT(*) FROM sessions"},
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n\n", version, dirty)

	for _, c := range counts {
		var n int64
		if err := database.QueryRow(c.query).Scan(&n); err != nil {
			log.Fatalf("Query for %s failed: %v", c.label, err)
		}
		fmt.Printf("%-22s %d\n", c.label+":", n)
	}
}
