package db

import (
	"context"
	"database/sql"
	"errors"
)

// Journal is the run journal. Single statements go through the embedded
// Queries, statements that must land together go through InTx.
type Journal struct {
	*Queries
	db *sql.DB
}

func NewJournal(sqlite *sql.DB) *Journal {
	return &Journal{Queries: New(sqlite), db: sqlite}
}

// InTx runs fn inside one transaction. It commits when fn returns nil and
// rolls back otherwise.
func (j *Journal) InTx(ctx context.Context, fn func(tx *Queries) error) error {
	sqltx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	err = fn(j.Queries.WithTx(sqltx))
	if err != nil {
		return errors.Join(err, sqltx.Rollback())
	}
	return sqltx.Commit()
}
