package db

import "database/sql"

type RunStatus string

const (
	RUN_RUNNING   RunStatus = "running"
	RUN_SUCCEEDED RunStatus = "succeeded"
	RUN_FAILED    RunStatus = "failed"
)

type Run struct {
	ID            string
	TargetDate    string
	StartedAt     int64
	FinishedAt    sql.NullInt64
	Status        RunStatus
	Stage         string
	Error         string
	RowsExtracted int64
	RowsReplaced  int64
	RowsUnmapped  int64
	RowsTotal     int64
}
