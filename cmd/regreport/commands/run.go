package commands

import (
	"fmt"
	"log/slog"
	"regreport/internal/pipeline"

	"github.com/spf13/cobra"
)

type runFlags struct {
	date       string
	through    string
	extraction string
}

func addRunFlags(cmd *cobra.Command, flags *runFlags, extraction, through bool) {
	cmd.Flags().StringVar(&flags.date, "date", "", "The day to extract as YYYY-MM-DD, defaults to yesterday.")
	if extraction {
		cmd.Flags().StringVar(&flags.extraction, "extraction", "", "Use this extraction file instead of scraping the dashboard.")
	}
	if through {
		cmd.Flags().StringVar(&flags.through, "through", string(pipeline.StageSend), "The last stage to run: scrape, reconcile, render or send.")
	}
}

func runPlan(cmd *cobra.Command, flags runFlags, through pipeline.Stage) error {
	clock, err := newClock()
	if err != nil {
		return err
	}
	target, err := parseTarget(flags.date, clock)
	if err != nil {
		return err
	}
	if flags.through != "" {
		through, err = pipeline.ParseStage(flags.through)
		if err != nil {
			return err
		}
	}

	p, sqlite, err := newPipeline(cfg, clock)
	if err != nil {
		return err
	}
	defer sqlite.Close()

	res, err := p.Run(cmd.Context(), pipeline.Plan{
		Target:     target,
		Extraction: flags.extraction,
		Through:    through,
	})
	if err != nil {
		return fmt.Errorf("run %s failed at %s: %w", res.RunID, res.Stage, err)
	}

	slog.Info(
		"run finished",
		"run", res.RunID,
		"target", target.Format("2006-01-02"),
		"through", res.Stage,
		"extraction", res.Extraction,
		"extracted", res.Report.Extracted,
		"replaced", res.Report.Replaced,
		"unmapped", res.Report.UnmappedRows,
		"rows", res.Report.Total,
	)
	if res.Image != "" {
		slog.Info("report image", "path", res.Image)
	}
	return nil
}

var (
	runOpts       runFlags
	scrapeOpts    runFlags
	reconcileOpts runFlags
)

var runCmd = &cobra.Command{
	Use:   "run [--date YYYY-MM-DD] [--through stage] [--extraction file]",
	Short: "Scrapes the day's extraction, reconciles it into the workbook, renders the pivot and mails it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd, runOpts, pipeline.StageSend)
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--date YYYY-MM-DD]",
	Short: "Logs into the dashboard and downloads the day's extraction.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd, scrapeOpts, pipeline.StageScrape)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile --extraction file [--date YYYY-MM-DD]",
	Short: "Merges an extraction file into the workbook as the rows of the given day.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reconcileOpts.extraction == "" {
			return fmt.Errorf("--extraction is required")
		}
		return runPlan(cmd, reconcileOpts, pipeline.StageReconcile)
	},
}

func init() {
	addRunFlags(runCmd, &runOpts, true, true)
	addRunFlags(scrapeCmd, &scrapeOpts, false, false)
	addRunFlags(reconcileCmd, &reconcileOpts, true, false)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(reconcileCmd)
}
