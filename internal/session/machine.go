// Package session drives the authenticated dashboard session that produces
// the daily registration extraction.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regreport/internal/components/assert"
	"regreport/internal/components/telemetry"
	"regreport/pkg/fsutil"
	"regreport/pkg/htmlutil"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_machine_transition     = "machine.transition"
	report_machine_login          = "machine.login"
	report_machine_set_date_range = "machine.set-date-range"
	report_machine_search         = "machine.search"
	report_machine_select_row     = "machine.select-row"
	report_machine_download       = "machine.download"
	report_machine_interruption   = "machine.interruption"
	report_machine_dump_page      = "machine.dump-page"
)

const snippetLength = 200

var tracer = otel.Tracer("regreport.internal.session")

// Machine runs one session against a Page. It is not safe for concurrent use
// and is meant to be run once.
type Machine struct {
	page Page
	cfg  Config
	tel  telemetry.API

	state         State
	authenticated bool
	target        string
	last          Classification
	span          trace.Span
}

func NewMachine(page Page, cfg Config, tel telemetry.API) *Machine {
	assert.NotNil(page)
	assert.NotNil(tel)

	cfg = cfg.withDefaults()
	assert.NotEmptyStr(cfg.LoginURL)
	assert.NotEmptyStr(cfg.ReportURL)

	return &Machine{
		page:  page,
		cfg:   cfg,
		tel:   telemetry.NewScopedAPI("session", tel),
		state: Init,
	}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Authenticated() bool {
	return m.authenticated
}

// LastClassification is the classification of the last page observed.
func (m *Machine) LastClassification() Classification {
	return m.last
}

// Run logs in, searches r and downloads the row picked by the configured
// RowSelector. It returns the path of the saved extraction. Every failure is
// an *Error.
func (m *Machine) Run(ctx context.Context, r DateRange) (path string, err error) {
	ctx, span := tracer.Start(ctx, "session.Run")
	defer span.End()
	span.SetAttributes(attribute.String("date_range", r.String()))
	m.span = span

	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.dumpPage()
	}()

	err = m.login(ctx)
	if err != nil {
		return "", err
	}
	err = m.setDateRange(ctx, r)
	if err != nil {
		return "", err
	}
	err = m.search(ctx)
	if err != nil {
		return "", err
	}
	link, err := m.selectRow()
	if err != nil {
		return "", err
	}
	return m.download(ctx, link)
}

func (m *Machine) login(ctx context.Context) error {
	m.transition(LoggingIn)

	err := m.navigate(ctx, m.cfg.LoginURL)
	if err != nil {
		return err
	}
	err = m.ensureClear(ctx)
	if err != nil {
		return err
	}

	fieldCtx, cancel := context.WithTimeout(ctx, m.cfg.FieldTimeout)
	defer cancel()
	for _, loc := range []Locator{m.cfg.Locators.LoginID, m.cfg.Locators.Password} {
		err = m.page.WaitVisible(fieldCtx, loc)
		if err != nil {
			return m.fail(report_machine_login, ErrLoginFormNotFound, err, loc.String())
		}
	}

	err = m.page.Fill(ctx, m.cfg.Locators.LoginID, m.cfg.Username)
	if err != nil {
		return m.fail(report_machine_login, ErrLoginFormNotFound, err, "fill login id")
	}
	err = m.page.Fill(ctx, m.cfg.Locators.Password, m.cfg.Password)
	if err != nil {
		return m.fail(report_machine_login, ErrLoginFormNotFound, err, "fill password")
	}

	submitCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()
	if m.page.Count(m.cfg.Locators.LoginSubmit) > 0 {
		err = m.page.Click(submitCtx, m.cfg.Locators.LoginSubmit)
	} else {
		m.tel.ReportDebug("no submit button, pressing enter on the password field")
		err = m.page.PressEnter(submitCtx, m.cfg.Locators.Password)
	}
	if err != nil {
		return m.fail(report_machine_login, ErrNavigationFailed, err, "submit credentials")
	}

	m.waitNetworkIdle(ctx, report_machine_login)
	err = m.ensureClear(ctx)
	if err != nil {
		return err
	}

	m.authenticated = true
	m.transition(Authenticated)
	return nil
}

func (m *Machine) setDateRange(ctx context.Context, r DateRange) error {
	m.transition(NavigatingToReport)

	err := m.navigate(ctx, m.cfg.ReportURL)
	if err != nil {
		return err
	}
	err = m.ensureClear(ctx)
	if err != nil {
		return err
	}

	m.transition(SettingDateRange)

	fields := r.fields(m.cfg.Locators)

	fieldCtx, cancel := context.WithTimeout(ctx, m.cfg.FieldTimeout)
	defer cancel()
	for _, f := range fields {
		err = m.page.WaitVisible(fieldCtx, f.loc)
		if err != nil {
			return m.fail(
				report_machine_set_date_range, ErrFieldNotApplied, err,
				fmt.Sprintf("%s (%s) not visible", f.name, f.loc),
			)
		}
	}

	for _, f := range fields {
		err = m.page.Select(ctx, f.loc, f.value)
		if err != nil {
			return m.fail(
				report_machine_set_date_range, ErrFieldNotApplied, err,
				fmt.Sprintf("set %s to %q", f.name, f.value),
			)
		}
		err = m.verifyField(f)
		if err != nil {
			return err
		}
		m.tel.ReportDebug("field applied", f.name, f.value)
	}

	// a later field may reset an earlier one (e.g. the day list is rebuilt
	// when the month changes)
	for _, f := range fields {
		err = m.verifyField(f)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) verifyField(f dateField) error {
	actual, err := m.page.Value(f.loc)
	if err != nil {
		return m.fail(
			report_machine_set_date_range, ErrFieldNotApplied, err,
			fmt.Sprintf("read back %s", f.name),
		)
	}
	if actual != f.value {
		return m.fail(
			report_machine_set_date_range, ErrFieldNotApplied, nil,
			fmt.Sprintf("%s: expected %q, got %q", f.name, f.value, actual),
		)
	}
	return nil
}

func (m *Machine) search(ctx context.Context) error {
	clickCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()
	err := m.page.Click(clickCtx, m.cfg.Locators.Search)
	if err != nil {
		return m.fail(report_machine_search, ErrNavigationFailed, err, "click search")
	}
	m.target = m.page.URL()

	m.waitNetworkIdle(ctx, report_machine_search)
	err = m.ensureClear(ctx)
	if err != nil {
		return err
	}

	m.transition(AwaitingResults)
	return nil
}

func (m *Machine) selectRow() (Link, error) {
	links := m.page.Links(m.cfg.Locators.ResultLinks)
	if len(links) == 0 {
		m.tel.ReportWarning(
			report_machine_select_row,
			"no links in the result column, trying any table link",
			m.cfg.Locators.ResultLinks.String(),
		)
		links = nonEmptyLinks(m.page.Links(m.cfg.Locators.FallbackResultLinks))
	}
	m.tel.ReportDebug("result links", len(links))

	link, err := m.cfg.Selector.Select(links)
	if err != nil {
		return Link{}, m.fail(report_machine_select_row, ErrInsufficientResultRows, err, "")
	}
	m.tel.ReportDebug("selected result link", link.Text, link.Href)
	return link, nil
}

func (m *Machine) download(ctx context.Context, link Link) (string, error) {
	m.transition(Downloading)

	downloadCtx, cancel := context.WithTimeout(ctx, m.cfg.DownloadTimeout)
	defer cancel()
	dl, err := m.page.Download(downloadCtx, link)
	if err != nil {
		return "", m.fail(report_machine_download, ErrDownloadTimeout, err, link.Href)
	}
	if len(dl.Content) == 0 {
		return "", m.fail(report_machine_download, ErrDownloadTimeout, nil, "empty download")
	}

	name := DownloadName + filepath.Ext(dl.SuggestedName)
	path := filepath.Join(m.cfg.OutputDir, name)
	err = fsutil.WriteFileAtomic(path, dl.Content, 0644)
	if err != nil {
		return "", m.fail(report_machine_download, ErrDownloadTimeout, err, "save "+path)
	}
	m.tel.ReportCount("session.download-bytes", int64(len(dl.Content)))

	m.transition(Done)
	return path, nil
}

func (m *Machine) navigate(ctx context.Context, url string) error {
	m.target = url
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()
	err := m.page.Navigate(navCtx, url)
	if err != nil {
		return m.fail(report_machine_transition, ErrNavigationFailed, err, url)
	}
	return nil
}

// waitNetworkIdle is advisory, a page that never goes idle is still used.
func (m *Machine) waitNetworkIdle(ctx context.Context, id string) {
	idleCtx, cancel := context.WithTimeout(ctx, m.cfg.NetworkIdleTimeout)
	defer cancel()
	err := m.page.WaitNetworkIdle(idleCtx)
	if err != nil {
		m.tel.ReportWarning(id, "network idle not reached, continuing", err)
	}
}

// ensureClear classifies the current page. An interruption is fatal when
// unattended, otherwise the page is refreshed every PollInterval until the
// interruption clears or InterruptionTimeout passes.
func (m *Machine) ensureClear(ctx context.Context) error {
	m.last = m.cfg.Classifier.Classify(m.page.Content())
	switch m.last {
	case Normal:
		return nil
	case ErrorPage:
		return m.fail(report_machine_transition, ErrNavigationFailed, nil, "page classified as "+m.last.String())
	}

	prior := m.state
	m.transition(Interrupted)

	if m.cfg.Unattended {
		return m.fail(report_machine_interruption, ErrInterruptionUnresolvable, nil, "no one is available to clear it")
	}

	var cookies []string
	if handoff, ok := m.page.(Handoff); ok {
		cookies = handoff.Cookies()
	}
	m.tel.ReportWarning(
		report_machine_interruption,
		"human verification required, open the url with these cookies and solve it to continue",
		m.page.URL(),
		strings.Join(cookies, "; "),
		m.cfg.InterruptionTimeout.String(),
	)

	deadline := time.NewTimer(m.cfg.InterruptionTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.fail(report_machine_interruption, ErrInterruptionUnresolvable, ctx.Err(), "")
		case <-deadline.C:
			return m.fail(
				report_machine_interruption, ErrInterruptionUnresolvable, nil,
				fmt.Sprintf("not cleared within %s", m.cfg.InterruptionTimeout),
			)
		case <-ticker.C:
		}

		refreshCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
		err := m.page.Refresh(refreshCtx)
		cancel()
		if err != nil {
			m.tel.ReportWarning(report_machine_interruption, "refresh while waiting", err)
			continue
		}

		m.last = m.cfg.Classifier.Classify(m.page.Content())
		if m.last != Interruption {
			m.tel.ReportDebug("interruption cleared")
			m.transition(prior)
			return nil
		}
	}
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to

	url := m.page.URL()
	snippet := m.snippet()
	m.tel.ReportDebug(
		fmt.Sprintf("%s -> %s", from, to),
		"url", url,
		"target", m.target,
		"snippet", snippet,
	)
	if m.span != nil {
		m.span.AddEvent("transition", trace.WithAttributes(
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
			attribute.String("url", url),
		))
	}
}

func (m *Machine) fail(id string, kind, cause error, detail string) *Error {
	var sessionErr *Error
	if errors.As(cause, &sessionErr) {
		return sessionErr
	}
	e := &Error{
		Kind:    kind,
		State:   m.state,
		URL:     m.page.URL(),
		Snippet: m.snippet(),
		Detail:  detail,
		Cause:   cause,
	}
	m.tel.ReportBroken(id, e, e.Snippet)
	return e
}

// dumpPage writes the current page next to the outputs so a failed run can be
// inspected after the fact.
func (m *Machine) dumpPage() {
	content := m.page.Content()
	if content == "" {
		return
	}
	path := filepath.Join(m.cfg.OutputDir, ErrorPageName)
	err := os.MkdirAll(m.cfg.OutputDir, 0755)
	if err == nil {
		err = os.WriteFile(path, []byte(content), 0644)
	}
	if err != nil {
		m.tel.ReportWarning(report_machine_dump_page, err, path)
		return
	}
	m.tel.ReportDebug("page saved", path)
}

func (m *Machine) snippet() string {
	content := m.page.Content()
	if content == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		if len(content) > snippetLength {
			return content[:snippetLength]
		}
		return content
	}
	return htmlutil.Snippet(doc, snippetLength)
}

func nonEmptyLinks(links []Link) []Link {
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if strings.TrimSpace(l.Text) != "" {
			out = append(out, l)
		}
	}
	return out
}
