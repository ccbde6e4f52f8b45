package database

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgDriverName = "pgx"

type Database struct {
	db *sql.DB
}

// NewDatabase wraps an existing pool, used by tests with a mock driver.
func NewDatabase(db *sql.DB) *Database {
	return &Database{db: db}
}

func Connect(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open(pgDriverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// nullString maps empty strings to NULL so optional text columns stay NULL
// instead of collecting empties.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
