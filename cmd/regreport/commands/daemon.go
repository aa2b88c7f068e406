package commands

import (
	"context"
	"log/slog"
	"regreport/internal/components/chrono"
	"regreport/internal/components/telemetry"
	"regreport/internal/config"
	"regreport/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	daemonForce bool
	daemonNow   bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon [--now] [--force]",
	Short: "Runs the full pipeline for the previous day on the configured cron schedule.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		clock, err := newClock()
		if err != nil {
			return err
		}
		p, sqlite, err := newPipeline(daemonConfig(cfg), clock)
		if err != nil {
			return err
		}
		defer sqlite.Close()

		telemetry.InstrumentPerfStats(ctx)

		job := func() {
			runScheduled(ctx, p, clock)
		}

		cron := chrono.NewStandardCron(clock, tel)
		defer cron.Stop()
		runNow, err := cron.Cron(cfg.Schedule.Cron, job)
		if err != nil {
			return err
		}
		slog.Info("daemon started", "schedule", cfg.Schedule.Cron, "timezone", cfg.Schedule.Timezone)

		if daemonNow {
			go runNow()
		}
		<-ctx.Done()
		return nil
	},
}

// daemonConfig is the configuration of scheduled runs. Nobody watches them, so
// an interruption fails the run at once.
func daemonConfig(c config.Config) config.Config {
	return c.WithUnattended()
}

func runScheduled(ctx context.Context, p pipeline.Pipeline, clock chrono.API) {
	target := chrono.Yesterday(clock)
	if !daemonForce {
		if done, ok := p.Succeeded(ctx, target); ok {
			slog.Info("target already reported, skipping", "target", target.Format("2006-01-02"), "run", done.ID)
			return
		}
	}

	res, err := p.Run(ctx, pipeline.Plan{Target: target})
	if err != nil {
		slog.Error("scheduled run failed", "run", res.RunID, "stage", res.Stage, "err", err)
		return
	}
	slog.Info("scheduled run finished", "run", res.RunID, "rows", res.Report.Total)
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForce, "force", false, "Run even when the target day already has a successful run.")
	daemonCmd.Flags().BoolVar(&daemonNow, "now", false, "Also run once right away.")
	rootCmd.AddCommand(daemonCmd)
}
