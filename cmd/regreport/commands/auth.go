package commands

import (
	"fmt"
	"log/slog"
	"regreport/internal/mailer"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Runs the OAuth consent flow for the mail account and stores the token.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		options := cfg.MailOptions()
		if !options.OAuth.Enabled() {
			return fmt.Errorf("mail.client_id is not configured")
		}

		store := mailer.NewTokenStore(options.OAuth)
		tok, err := store.Authorize(cmd.Context(), func(consentURL string) {
			fmt.Println("Open the following URL in a browser and grant access:")
			fmt.Println()
			fmt.Println(consentURL)
			fmt.Println()
		})
		if err != nil {
			return err
		}
		slog.Info("token stored", "path", options.OAuth.TokenFile, "expiry", tok.Expiry)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
