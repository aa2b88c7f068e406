package session

import "time"

// DownloadName is the stable base name of the captured extraction.
const DownloadName = "Registered_User_Source_Summary"

// ErrorPageName is the file the current page is dumped to when a run fails.
const ErrorPageName = "error_page.html"

type Config struct {
	LoginURL  string
	ReportURL string
	Username  string
	Password  string

	// Unattended is true when no human can clear an interruption.
	Unattended bool
	OutputDir  string

	NavTimeout          time.Duration
	FieldTimeout        time.Duration
	NetworkIdleTimeout  time.Duration
	DownloadTimeout     time.Duration
	InterruptionTimeout time.Duration
	PollInterval        time.Duration

	Classifier Classifier
	Selector   RowSelector
	Locators   Locators
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 60 * time.Second
	}
	if c.FieldTimeout <= 0 {
		c.FieldTimeout = 15 * time.Second
	}
	if c.NetworkIdleTimeout <= 0 {
		c.NetworkIdleTimeout = c.NavTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}
	if c.InterruptionTimeout <= 0 {
		c.InterruptionTimeout = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.OutputDir == "" {
		c.OutputDir = "exports"
	}
	if c.Classifier == nil {
		c.Classifier = DefaultClassifier()
	}
	if c.Selector == nil {
		c.Selector = DefaultSelector()
	}
	if c.Locators == (Locators{}) {
		c.Locators = DefaultLocators()
	}
	return c
}
