package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunJournal(t *testing.T) {
	sqlite, err := Open(":memory:")
	require.NoError(t, err)
	defer sqlite.Close()

	ctx := context.Background()
	qry := New(sqlite)

	require.NoError(t, qry.CreateRun(ctx, CreateRunParams{
		ID:         "a",
		TargetDate: "15-01-2026",
		StartedAt:  100,
		Status:     RUN_RUNNING,
	}))
	require.NoError(t, qry.CreateRun(ctx, CreateRunParams{
		ID:         "b",
		TargetDate: "16-01-2026",
		StartedAt:  200,
		Status:     RUN_RUNNING,
	}))

	journal := NewJournal(sqlite)
	err = journal.InTx(ctx, func(tx *Queries) error {
		err := tx.SetRunStage(ctx, SetRunStageParams{Stage: "reconcile", ID: "a"})
		if err != nil {
			return err
		}
		err = tx.SetRunCounts(ctx, SetRunCountsParams{
			RowsExtracted: 3,
			RowsReplaced:  2,
			RowsUnmapped:  1,
			RowsTotal:     10,
			ID:            "a",
		})
		if err != nil {
			return err
		}
		return tx.FinishRun(ctx, FinishRunParams{
			FinishedAt: 150,
			Status:     RUN_SUCCEEDED,
			ID:         "a",
		})
	})
	require.NoError(t, err)

	run, err := qry.GetRun(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, RUN_SUCCEEDED, run.Status)
	require.Equal(t, "reconcile", run.Stage)
	require.Equal(t, int64(3), run.RowsExtracted)
	require.Equal(t, int64(150), run.FinishedAt.Int64)

	runs, err := qry.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].ID)

	last, err := qry.LastSucceededRun(ctx, "15-01-2026")
	require.NoError(t, err)
	require.Equal(t, "a", last.ID)
}

func TestFailedTxLeavesNoTrace(t *testing.T) {
	sqlite, err := Open(":memory:")
	require.NoError(t, err)
	defer sqlite.Close()

	ctx := context.Background()
	journal := NewJournal(sqlite)
	err = journal.InTx(ctx, func(tx *Queries) error {
		err := tx.CreateRun(ctx, CreateRunParams{ID: "x", TargetDate: "d", StartedAt: 1, Status: RUN_RUNNING})
		require.NoError(t, err)
		return errors.New("counts rejected")
	})
	require.ErrorContains(t, err, "counts rejected")

	runs, err := journal.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 0)
}

func TestOpenCreatesDirectoryInWALMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "runs.db")
	sqlite, err := Open(path)
	require.NoError(t, err)
	defer sqlite.Close()

	var mode string
	require.NoError(t, sqlite.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	// reopening an existing journal keeps its schema
	require.NoError(t, NewJournal(sqlite).CreateRun(context.Background(), CreateRunParams{ID: "a", TargetDate: "d", StartedAt: 1, Status: RUN_RUNNING}))
	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	_, err = New(again).GetRun(context.Background(), "a")
	require.NoError(t, err)
}
