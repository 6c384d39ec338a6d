// Package main prints the bcrypt hash of a password using the same cost and
// policy checks as the server. It is used to seed or reset a user row by hand:
//
//	go run ./cmd/hash 'N3w-Passw0rd'
package main

import (
	"fmt"
	"os"

	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/validation"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(2)
	}

	password := os.Args[1]
	if err := validation.ValidatePassword(password); err != nil {
		fmt.Fprintf(os.Stderr, "password rejected: %v\n", err)
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
