//go:build ignore

// generate-key prints a fresh registration access key and the SQL to insert
// it, for seeding a local database without going through the admin API:
//
//	go run scripts/generate-key.go [count]
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/agentdesk/agentdesk/internal/auth"
)

func main() {
	count := 1
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n < 1 {
			log.Fatalf("count must be a positive integer, got %q", os.Args[1])
		}
		count = n
	}

	fmt.Println("INSERT INTO access_keys (id, key_value) VALUES")
	for i := 0; i < count; i++ {
		key, err := auth.GenerateAccessKey()
		if err != nil {
			log.Fatal(err)
		}
		sep := ","
		if i == count-1 {
			sep = ";"
		}
		fmt.Printf("  ('%s', '%s')%s\n", uuid.New().String(), key, sep)
	}
}
