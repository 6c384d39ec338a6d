// Package main is a post-deployment smoke test. It calls the public probes
// of a running server and exits non-zero if any of them fails.
//
//	go run ./cmd/test-api http://localhost:8080
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = strings.TrimRight(os.Args[1], "/")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	failed := false
	for _, path := range []string{"/health", "/ready", "/version", "/api/v1/setup/status"} {
		resp, err := client.Get(baseURL + path)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failed = true
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		status := "OK  "
		if resp.StatusCode != http.StatusOK {
			status = "FAIL"
			failed = true
		}
		fmt.Printf("%s %s %d %s\n", status, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if failed {
		os.Exit(1)
	}
}
