package pipeline

import (
	"context"
	"regreport/internal/components/telemetry"
	"regreport/internal/config"
	"regreport/internal/session"
	"regreport/internal/session/webpage"
	"time"
)

// SessionScraper scrapes with a fresh dashboard session per call.
type SessionScraper struct {
	cfg config.Config
	tel telemetry.API
}

func NewSessionScraper(cfg config.Config, tel telemetry.API) SessionScraper {
	return SessionScraper{cfg: cfg, tel: tel}
}

func (s SessionScraper) Scrape(ctx context.Context, target time.Time) (string, error) {
	page, err := webpage.New(s.cfg.PageOptions(), s.tel)
	if err != nil {
		return "", err
	}
	machine := session.NewMachine(page, s.cfg.SessionConfig(), s.tel)
	return machine.Run(ctx, session.WindowFor(target, s.cfg.Session.WindowDays))
}
