package db

import (
	"context"
)

const createRun = `-- name: CreateRun :exec
insert into run (id, target_date, started_at, status)
values (?, ?, ?, ?)
`

type CreateRunParams struct {
	ID         string
	TargetDate string
	StartedAt  int64
	Status     RunStatus
}

func (q *Queries) CreateRun(ctx context.Context, arg CreateRunParams) error {
	_, err := q.db.ExecContext(ctx, createRun,
		arg.ID,
		arg.TargetDate,
		arg.StartedAt,
		arg.Status,
	)
	return err
}

const setRunStage = `-- name: SetRunStage :exec
update run set stage = ? where id = ?
`

type SetRunStageParams struct {
	Stage string
	ID    string
}

func (q *Queries) SetRunStage(ctx context.Context, arg SetRunStageParams) error {
	_, err := q.db.ExecContext(ctx, setRunStage, arg.Stage, arg.ID)
	return err
}

const setRunCounts = `-- name: SetRunCounts :exec
update run set
    rows_extracted = ?,
    rows_replaced = ?,
    rows_unmapped = ?,
    rows_total = ?
where id = ?
`

type SetRunCountsParams struct {
	RowsExtracted int64
	RowsReplaced  int64
	RowsUnmapped  int64
	RowsTotal     int64
	ID            string
}

func (q *Queries) SetRunCounts(ctx context.Context, arg SetRunCountsParams) error {
	_, err := q.db.ExecContext(ctx, setRunCounts,
		arg.RowsExtracted,
		arg.RowsReplaced,
		arg.RowsUnmapped,
		arg.RowsTotal,
		arg.ID,
	)
	return err
}

const finishRun = `-- name: FinishRun :exec
update run set finished_at = ?, status = ?, error = ? where id = ?
`

type FinishRunParams struct {
	FinishedAt int64
	Status     RunStatus
	Error      string
	ID         string
}

func (q *Queries) FinishRun(ctx context.Context, arg FinishRunParams) error {
	_, err := q.db.ExecContext(ctx, finishRun,
		arg.FinishedAt,
		arg.Status,
		arg.Error,
		arg.ID,
	)
	return err
}

const selectRunColumns = `id, target_date, started_at, finished_at, status, stage, error,
    rows_extracted, rows_replaced, rows_unmapped, rows_total`

const getRun = `-- name: GetRun :one
select ` + selectRunColumns + ` from run where id = ?
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var i Run
	err := row.Scan(
		&i.ID,
		&i.TargetDate,
		&i.StartedAt,
		&i.FinishedAt,
		&i.Status,
		&i.Stage,
		&i.Error,
		&i.RowsExtracted,
		&i.RowsReplaced,
		&i.RowsUnmapped,
		&i.RowsTotal,
	)
	return i, err
}

func (q *Queries) GetRun(ctx context.Context, id string) (Run, error) {
	row := q.db.QueryRowContext(ctx, getRun, id)
	return scanRun(row)
}

const listRuns = `-- name: ListRuns :many
select ` + selectRunColumns + ` from run order by started_at desc limit ?
`

func (q *Queries) ListRuns(ctx context.Context, limit int64) ([]Run, error) {
	rows, err := q.db.QueryContext(ctx, listRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Run
	for rows.Next() {
		i, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const lastSucceededRun = `-- name: LastSucceededRun :one
select ` + selectRunColumns + ` from run
where status = 'succeeded' and target_date = ?
order by started_at desc limit 1
`

func (q *Queries) LastSucceededRun(ctx context.Context, targetDate string) (Run, error) {
	row := q.db.QueryRowContext(ctx, lastSucceededRun, targetDate)
	return scanRun(row)
}
