package commands

import (
	"fmt"
	"log/slog"
	"regreport/internal/mailer"
	"regreport/internal/workbook"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Renders the pivot sheet of the workbook to the report image.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clock, err := newClock()
		if err != nil {
			return err
		}
		p, sqlite, err := newPipeline(cfg, clock)
		if err != nil {
			return err
		}
		defer sqlite.Close()

		image, err := p.Render(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("rendered", "path", image)
		return nil
	},
}

var sendImage string

var sendCmd = &cobra.Command{
	Use:   "send [--image file]",
	Short: "Mails the report image to the configured recipients.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := cfg.ValidateMail()
		if err != nil {
			return err
		}
		image := sendImage
		if image == "" {
			image = cfg.OutputPath(cfg.Files.ImageFile)
		}
		err = mailer.New(cfg.MailOptions(), tel).SendReport(cmd.Context(), image)
		if err != nil {
			return err
		}
		slog.Info("sent", "image", image, "recipients", cfg.Mail.Recipients)
		return nil
	},
}

var pivotCmd = &cobra.Command{
	Use:   "pivot",
	Short: "Prints the pivot sheet of the workbook.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := workbook.ReadPivot(cfg.Files.DatasetFile)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("pivot sheet of %s is empty", cfg.Files.DatasetFile)
		}

		t := newTable()
		t.AppendHeader(toRow(rows[0]))
		for i, row := range rows[1:] {
			if i == len(rows)-2 {
				t.AppendSeparator()
			}
			t.AppendRow(toRow(row))
		}
		t.Render()
		return nil
	},
}

func toRow(values []string) table.Row {
	row := make(table.Row, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

func init() {
	sendCmd.Flags().StringVar(&sendImage, "image", "", "The image to send, defaults to the configured report image.")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(pivotCmd)
}
