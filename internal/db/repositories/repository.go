// Package repositories implements the data access layer for agentdesk.
// Each repository type encapsulates all database queries for one entity; handlers
// and services never issue SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so single-statement helpers
// can run inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
