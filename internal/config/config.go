// Package config loads the configuration of every stage of a run: the json5
// config file (with its .local override) overlaid with the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regreport/internal/components/telemetry"
	"regreport/internal/lookup"
	"regreport/internal/mailer"
	"regreport/internal/session"
	"regreport/internal/session/webpage"
	"regreport/pkg/configutil"
	"strconv"
	"strings"
	"time"
)

var ErrConfigurationMissing = errors.New("configuration missing")

const (
	DefaultLoginURL  = "https://www.techgig.com/mis/link.php"
	DefaultReportURL = "https://www.techgig.com/mis/mis_tg_reg_stats.php"
)

type SiteConfig struct {
	LoginURL          string  `json:"login_url"`
	ReportURL         string  `json:"report_url"`
	Username          string  `json:"username"`
	Password          string  `json:"password"`
	UserAgent         string  `json:"user_agent"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

type SessionConfig struct {
	Headless   *bool `json:"headless"`
	Unattended *bool `json:"unattended"`

	NavTimeoutMs          int `json:"nav_timeout_ms"`
	FieldTimeoutMs        int `json:"field_timeout_ms"`
	DownloadTimeoutMs     int `json:"download_timeout_ms"`
	InterruptionTimeoutMs int `json:"interruption_timeout_ms"`
	PollIntervalMs        int `json:"poll_interval_ms"`

	WindowDays      int  `json:"window_days"`
	ResultRowOffset *int `json:"result_row_offset"`
	MinResultRows   int  `json:"min_result_rows"`
}

type FilesConfig struct {
	OutputDir   string `json:"output_dir"`
	LookupFile  string `json:"lookup_file"`
	LookupSheet string `json:"lookup_sheet"`
	DatasetFile string `json:"dataset_file"`
	TokenFile   string `json:"token_file"`
	// the paths below are relative to OutputDir unless absolute
	ProcessedFile string `json:"processed_file"`
	ImageFile     string `json:"image_file"`
	JournalFile   string `json:"journal_file"`
}

type MailConfig struct {
	Recipients   string `json:"recipients"`
	SenderName   string `json:"sender_name"`
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type ScheduleConfig struct {
	Timezone string `json:"timezone"`
	Cron     string `json:"cron"`
}

type Config struct {
	Site      SiteConfig       `json:"site"`
	Session   SessionConfig    `json:"session"`
	Files     FilesConfig      `json:"files"`
	Mail      MailConfig       `json:"mail"`
	Schedule  ScheduleConfig   `json:"schedule"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func defaults() Config {
	return Config{
		Site: SiteConfig{
			LoginURL:          DefaultLoginURL,
			ReportURL:         DefaultReportURL,
			RequestsPerSecond: 2,
		},
		Session: SessionConfig{
			NavTimeoutMs:          60_000,
			FieldTimeoutMs:        15_000,
			DownloadTimeoutMs:     60_000,
			InterruptionTimeoutMs: 10 * 60_000,
			PollIntervalMs:        2_000,
			WindowDays:            7,
			MinResultRows:         3,
		},
		Files: FilesConfig{
			OutputDir:     "exports",
			LookupFile:    "Source_TG_Latest.xlsx",
			LookupSheet:   lookup.DefaultSheet,
			DatasetFile:   "Registration_Template.xlsx",
			ProcessedFile: "Processed_User_Summary.xlsx",
			ImageFile:     mailer.AttachmentName,
			JournalFile:   "runs.db",
			TokenFile:     "token.json",
		},
		Mail: MailConfig{
			Server:     "smtp.gmail.com",
			Port:       587,
			SenderName: "Registration Report",
		},
		Schedule: ScheduleConfig{
			Timezone: "Asia/Kolkata",
			Cron:     "0 9 * * *",
		},
	}
}

// Load reads name (usually config.json5), overlays the environment and fills
// defaults. A missing config file is not an error, the environment alone may
// be enough.
func Load(name string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](name)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file, using environment and defaults", "name", name)
		err = nil
	}
	if err != nil {
		return Config{}, err
	}

	env, err := FromEnv(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	// mergo merges into the pointee of a non-nil pointer, so the optional
	// flags are applied by hand
	flags := env.Session
	env.Session.Headless, env.Session.Unattended, env.Session.ResultRowOffset = nil, nil, nil
	err = configutil.Overlay(&cfg, env)
	if err != nil {
		return Config{}, err
	}
	if flags.Headless != nil {
		cfg.Session.Headless = flags.Headless
	}
	if flags.Unattended != nil {
		cfg.Session.Unattended = flags.Unattended
	}

	err = configutil.Defaults(&cfg, defaults())
	if err != nil {
		return Config{}, err
	}
	if cfg.Session.Headless == nil {
		cfg.Session.Headless = boolPtr(true)
	}
	if cfg.Session.Unattended == nil {
		cfg.Session.Unattended = boolPtr(false)
	}
	if cfg.Session.ResultRowOffset == nil {
		cfg.Session.ResultRowOffset = intPtr(1)
	}
	return cfg, nil
}

// FromEnv returns a Config holding only the fields set by the environment.
func FromEnv(lookupEnv func(string) (string, bool)) (Config, error) {
	var cfg Config
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lookupEnv(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	truthy := func(v string) bool {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	}

	cfg.Site.Username = get("SITE_USERNAME", "TECHGIG_USERNAME")
	cfg.Site.Password = get("SITE_PASSWORD", "TECHGIG_PASSWORD")
	cfg.Files.OutputDir = get("OUTPUT_DIR")
	cfg.Mail.Recipients = get("RECIPIENT_EMAIL")
	cfg.Mail.Password = get("SMTP_PASSWORD")
	cfg.Mail.ClientSecret = get("OAUTH_CLIENT_SECRET")

	if v := get("HEADLESS"); v != "" {
		cfg.Session.Headless = boolPtr(truthy(v))
	}
	if v := get("NAV_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("NAV_TIMEOUT_MS: not a positive integer: %q", v)
		}
		cfg.Session.NavTimeoutMs = ms
	}
	if truthy(get("CI")) || truthy(get("GITHUB_ACTIONS")) {
		cfg.Session.Unattended = boolPtr(true)
	}
	return cfg, nil
}

func missing(fields []string) error {
	return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(fields, ", "))
}

// Validate checks what the scrape stage needs before any browsing starts.
func (c Config) Validate() error {
	var fields []string
	if c.Site.Username == "" {
		fields = append(fields, "site.username (SITE_USERNAME)")
	}
	if c.Site.Password == "" {
		fields = append(fields, "site.password (SITE_PASSWORD)")
	}
	if c.Site.LoginURL == "" {
		fields = append(fields, "site.login_url")
	}
	if c.Site.ReportURL == "" {
		fields = append(fields, "site.report_url")
	}
	if len(fields) > 0 {
		return missing(fields)
	}
	if c.Session.ResultRowOffset != nil && *c.Session.ResultRowOffset < 0 {
		return fmt.Errorf("session.result_row_offset must not be negative")
	}
	return nil
}

// ValidateMail checks what the send stage needs.
func (c Config) ValidateMail() error {
	var fields []string
	if len(mailer.ParseRecipients(c.Mail.Recipients)) == 0 {
		fields = append(fields, "mail.recipients (RECIPIENT_EMAIL)")
	}
	if c.Mail.Server == "" {
		fields = append(fields, "mail.server")
	}
	if c.Mail.EmailAddress == "" {
		fields = append(fields, "mail.email_address")
	}
	if len(fields) > 0 {
		return missing(fields)
	}
	return nil
}

// OutputPath resolves p against the output directory.
func (c Config) OutputPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Files.OutputDir, p)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c Config) Headless() bool {
	return c.Session.Headless == nil || *c.Session.Headless
}

func (c Config) Unattended() bool {
	return c.Session.Unattended != nil && *c.Session.Unattended
}

// WithUnattended returns a copy of c whose sessions fail on an interruption
// instead of waiting for someone to clear it.
func (c Config) WithUnattended() Config {
	c.Session.Unattended = boolPtr(true)
	return c
}

func (c Config) SessionConfig() session.Config {
	selector := session.DefaultSelector()
	if c.Session.ResultRowOffset != nil {
		selector.Offset = *c.Session.ResultRowOffset
	}
	if c.Session.MinResultRows > 0 {
		selector.MinRows = c.Session.MinResultRows
	}
	return session.Config{
		LoginURL:            c.Site.LoginURL,
		ReportURL:           c.Site.ReportURL,
		Username:            c.Site.Username,
		Password:            c.Site.Password,
		Unattended:          c.Unattended(),
		OutputDir:           c.Files.OutputDir,
		NavTimeout:          ms(c.Session.NavTimeoutMs),
		FieldTimeout:        ms(c.Session.FieldTimeoutMs),
		DownloadTimeout:     ms(c.Session.DownloadTimeoutMs),
		InterruptionTimeout: ms(c.Session.InterruptionTimeoutMs),
		PollInterval:        ms(c.Session.PollIntervalMs),
		Selector:            selector,
	}
}

func (c Config) PageOptions() webpage.Options {
	return webpage.Options{
		Headless:          c.Headless(),
		TraceDir:          c.OutputPath(".pages"),
		UserAgent:         c.Site.UserAgent,
		RequestsPerSecond: c.Site.RequestsPerSecond,
		Timeout:           ms(c.Session.NavTimeoutMs),
		PollInterval:      ms(c.Session.PollIntervalMs),
	}
}

func (c Config) MailOptions() mailer.Options {
	options := mailer.Options{
		Smtp: mailer.SmtpConfig{
			Server:       c.Mail.Server,
			Port:         c.Mail.Port,
			EmailAddress: c.Mail.EmailAddress,
			Password:     c.Mail.Password,
		},
		Recipients: mailer.ParseRecipients(c.Mail.Recipients),
		SenderName: c.Mail.SenderName,
	}
	if c.Mail.ClientID != "" {
		options.OAuth = mailer.OAuthConfig{
			ClientID:     c.Mail.ClientID,
			ClientSecret: c.Mail.ClientSecret,
			TokenFile:    c.Files.TokenFile,
		}
	}
	return options
}
