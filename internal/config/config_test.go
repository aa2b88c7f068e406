package config

import (
	"os"
	"path/filepath"
	"regreport/internal/session"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"TECHGIG_USERNAME": "legacy-user",
		"SITE_PASSWORD":    "secret",
		"TECHGIG_PASSWORD": "ignored",
		"HEADLESS":         "false",
		"NAV_TIMEOUT_MS":   "5000",
		"GITHUB_ACTIONS":   "true",
		"RECIPIENT_EMAIL":  "a@example.com",
	}))
	require.NoError(t, err)
	require.Equal(t, "legacy-user", cfg.Site.Username)
	require.Equal(t, "secret", cfg.Site.Password)
	require.False(t, *cfg.Session.Headless)
	require.True(t, *cfg.Session.Unattended)
	require.Equal(t, 5000, cfg.Session.NavTimeoutMs)
	require.Equal(t, "a@example.com", cfg.Mail.Recipients)

	_, err = FromEnv(env(map[string]string{"NAV_TIMEOUT_MS": "soon"}))
	require.ErrorContains(t, err, "NAV_TIMEOUT_MS")

	cfg, err = FromEnv(env(nil))
	require.NoError(t, err)
	require.Nil(t, cfg.Session.Headless)
	require.Nil(t, cfg.Session.Unattended)
}

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"SITE_USERNAME", "SITE_PASSWORD", "TECHGIG_USERNAME", "TECHGIG_PASSWORD",
		"HEADLESS", "NAV_TIMEOUT_MS", "OUTPUT_DIR", "RECIPIENT_EMAIL",
		"SMTP_PASSWORD", "OAUTH_CLIENT_SECRET", "CI", "GITHUB_ACTIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json5"))
	require.NoError(t, err)

	require.True(t, cfg.Headless())
	require.False(t, cfg.Unattended())
	require.Equal(t, DefaultLoginURL, cfg.Site.LoginURL)
	require.Equal(t, "exports", cfg.Files.OutputDir)
	require.Equal(t, filepath.Join("exports", "runs.db"), cfg.OutputPath(cfg.Files.JournalFile))
	require.Equal(t, "Asia/Kolkata", cfg.Schedule.Timezone)

	sc := cfg.SessionConfig()
	require.Equal(t, 60*time.Second, sc.NavTimeout)
	require.Equal(t, 10*time.Minute, sc.InterruptionTimeout)
	require.Equal(t, session.DefaultSelector(), sc.Selector)

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrConfigurationMissing)
	require.ErrorContains(t, err, "site.username")
	require.ErrorContains(t, err, "site.password")

	require.ErrorIs(t, cfg.ValidateMail(), ErrConfigurationMissing)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		site: { username: "file-user", password: "file-pass" },
		session: { headless: false, result_row_offset: 0, window_days: 10 },
		files: { output_dir: "out" },
		mail: { email_address: "bot@example.com", client_id: "cid" },
	}`), 0600))
	t.Setenv("SITE_USERNAME", "env-user")
	t.Setenv("OUTPUT_DIR", "/tmp/reports")
	t.Setenv("RECIPIENT_EMAIL", "a@example.com;b@example.com")

	cfg, err := Load(filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateMail())

	require.Equal(t, "env-user", cfg.Site.Username)
	require.Equal(t, "file-pass", cfg.Site.Password)
	require.False(t, cfg.Headless())
	require.Equal(t, 10, cfg.Session.WindowDays)
	require.Equal(t, "/tmp/reports", cfg.Files.OutputDir)

	// an explicit zero offset survives the defaults
	require.Equal(t, session.OffsetSelector{Offset: 0, MinRows: 3}, cfg.SessionConfig().Selector)

	mail := cfg.MailOptions()
	require.Equal(t, []string{"a@example.com", "b@example.com"}, mail.Recipients)
	require.True(t, mail.OAuth.Enabled())
	require.Equal(t, "token.json", mail.OAuth.TokenFile)
	require.Equal(t, filepath.Join("/tmp/reports", ".pages"), cfg.PageOptions().TraceDir)
}
