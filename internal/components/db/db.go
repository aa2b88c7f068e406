package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db: tx,
	}
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
	}

	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	sqlite.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = sqlite.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			sqlite.Close()
			return nil, fmt.Errorf("open db: %w", err)
		}
	}

	_, err = sqlite.Exec(Schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		sqlite.Close()
		return nil, err
	}
	return sqlite, nil
}
