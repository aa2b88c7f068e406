package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regreport/internal/components/chrono"
	"regreport/internal/components/db"
	"regreport/internal/components/telemetry"
	"regreport/internal/config"
	"regreport/internal/mailer"
	"regreport/internal/pipeline"
	"regreport/internal/reconcile"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	cfg  config.Config
	otel telemetry.Otel
	tel  telemetry.API = telemetry.SlogAPI{}
)

var rootCmd = &cobra.Command{
	Use:           "regreport",
	Short:         "regreport extracts the daily registration report and keeps the registration workbook up to date.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = attendedConfig(cfg, isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()))
		telemetry.InitSlog(verbose || cfg.Telemetry.Verbose)

		otel, err = telemetry.SetupOtel(cmd.Context(), "regreport", cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("setup otel: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return otel.Shutdown(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "The config file, merged with its .local variant and the environment.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// attendedConfig keeps attended sessions only when someone is at a terminal
// to clear an interruption.
func attendedConfig(c config.Config, terminal bool) config.Config {
	if terminal {
		return c
	}
	return c.WithUnattended()
}

func newClock() (chrono.API, error) {
	clock, err := chrono.NewStandardImpl(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	return clock, nil
}

// parseTarget reads a --date flag, accepting 2006-01-02 and 02-01-2006. An
// empty value is yesterday in the configured timezone.
func parseTarget(value string, clock chrono.API) (time.Time, error) {
	if value == "" {
		return chrono.Yesterday(clock), nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err == nil {
		return day, nil
	}
	day, err = reconcile.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", value)
	}
	return day, nil
}

func openJournal() (*sql.DB, *db.Journal, error) {
	path := cfg.OutputPath(cfg.Files.JournalFile)
	sqlite, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return sqlite, db.NewJournal(sqlite), nil
}

// newPipeline wires the production stages. The caller closes the returned
// database.
func newPipeline(c config.Config, clock chrono.API) (pipeline.Pipeline, *sql.DB, error) {
	sqlite, journal, err := openJournal()
	if err != nil {
		return pipeline.Pipeline{}, nil, err
	}
	p := pipeline.New(pipeline.Options{
		Config:  c,
		Scraper: pipeline.NewSessionScraper(c, tel),
		Sender:  mailer.New(c.MailOptions(), tel),
		Journal: journal,
		Clock:   clock,
	}, tel)
	return p, sqlite, nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
