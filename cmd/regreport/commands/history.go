package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int64

var historyCmd = &cobra.Command{
	Use:   "history [--limit n]",
	Short: "Lists the most recent runs from the run journal.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlite, journal, err := openJournal()
		if err != nil {
			return err
		}
		defer sqlite.Close()

		runs, err := journal.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Run", "Target", "Started", "Status", "Stage", "Extracted", "Replaced", "Unmapped", "Rows", "Error"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				run.ID,
				run.TargetDate,
				time.Unix(run.StartedAt, 0).Format(time.DateTime),
				run.Status,
				run.Stage,
				run.RowsExtracted,
				run.RowsReplaced,
				run.RowsUnmapped,
				run.RowsTotal,
				run.Error,
			})
		}
		t.Render()
		return nil
	},
}

func init() {
	historyCmd.Flags().Int64Var(&historyLimit, "limit", 20, "How many runs to show.")
	rootCmd.AddCommand(historyCmd)
}
