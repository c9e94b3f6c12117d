// Package postgres implements store.Durable using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// DefaultTable is the job table created by the embedded migrations.
const DefaultTable = "backjob_jobs"

// Store provides a PostgreSQL-backed job table.
type Store struct {
	db    *sql.DB
	table string
}

// New connects to PostgreSQL and verifies the connection.
// An empty table selects DefaultTable.
func New(ctx context.Context, databaseURL, table string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewWithDB(db, table), nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Table returns the unquoted table name.
func (s *Store) Table() string { return s.table }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) quotedTable() string {
	return pq.QuoteIdentifier(s.table)
}
