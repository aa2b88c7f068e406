// Package webpage implements session.Page over plain http: pages are fetched
// with resty, parsed with goquery and form state is kept in memory until a
// form is submitted.
package webpage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"regreport/internal/components/assert"
	"regreport/internal/components/telemetry"
	"regreport/internal/session"
	"regreport/pkg/htmlutil"
	"regreport/pkg/restyutil"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	report_page_load     = "page.load"
	report_page_download = "page.download"
)

// ErrNotDownload is returned when a download link serves a page instead of a
// file.
var ErrNotDownload = errors.New("link did not serve a file")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Options struct {
	// Headless disables the on-disk trace of every http exchange written to
	// TraceDir.
	Headless bool
	TraceDir string

	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
	// PollInterval is how often WaitVisible reloads a page that was fetched
	// with GET while the element is missing.
	PollInterval time.Duration
}

type Page struct {
	http *resty.Client
	tel  telemetry.API
	opts Options

	url    *url.URL
	raw    string
	doc    *goquery.Document
	method string
	// values holds the form state changed since the page was loaded
	values map[*html.Node]string
}

var _ session.Page = (*Page)(nil)

func New(opts Options, tel telemetry.API) (*Page, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("webpage", tel)

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(opts.Timeout)

	// max burst >= requests per second just means that no requests will be dropped
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	var output restyutil.Output
	if !opts.Headless && opts.TraceDir != "" {
		fsOutput, err := restyutil.NewFilesystemOutput(opts.TraceDir)
		if err != nil {
			return nil, err
		}
		output = fsOutput
	}
	telemetry.InstrumentResty(client, tel, output)

	return &Page{
		http:   client,
		tel:    tel,
		opts:   opts,
		values: map[*html.Node]string{},
	}, nil
}

func (p *Page) URL() string {
	if p.url == nil {
		return ""
	}
	return p.url.String()
}

func (p *Page) Content() string {
	return p.raw
}

func (p *Page) Navigate(ctx context.Context, target string) error {
	resolved, err := p.resolve(target)
	if err != nil {
		return err
	}
	res, err := p.http.R().
		SetContext(ctx).
		Get(resolved.String())
	if err != nil {
		return err
	}
	return p.load(res)
}

var _ session.Handoff = (*Page)(nil)

func (p *Page) Cookies() []string {
	if p.url == nil {
		return nil
	}
	var out []string
	for _, c := range p.http.GetClient().Jar.Cookies(p.url) {
		out = append(out, c.Name+"="+c.Value)
	}
	return out
}

func (p *Page) Refresh(ctx context.Context) error {
	if p.url == nil {
		return fmt.Errorf("refresh: no page loaded")
	}
	return p.Navigate(ctx, p.url.String())
}

func (p *Page) load(res *resty.Response) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		p.tel.ReportBroken(report_page_load, fmt.Errorf("parse: %w", err), res.Request.URL)
		return err
	}

	if res.RawResponse != nil && res.RawResponse.Request != nil {
		p.url = res.RawResponse.Request.URL
		p.method = res.RawResponse.Request.Method
	} else {
		p.url, _ = url.Parse(res.Request.URL)
		p.method = res.Request.Method
	}
	p.raw = string(res.Body())
	p.doc = doc
	p.values = map[*html.Node]string{}

	if res.IsError() {
		p.tel.ReportWarning(report_page_load, "error status", res.Status(), p.URL())
	}
	return nil
}

func (p *Page) resolve(target string) (*url.URL, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if p.url != nil {
		parsed = p.url.ResolveReference(parsed)
	}
	return parsed, nil
}

func (p *Page) find(loc session.Locator) []*html.Node {
	if p.doc == nil {
		return nil
	}

	var nodes []*html.Node
	if loc.FollowsText != "" {
		node := htmlutil.FollowingElement(p.doc, loc.FollowsText, loc.CSS)
		if node != nil {
			nodes = []*html.Node{node}
		}
	} else {
		nodes = p.doc.Find(loc.CSS).Nodes
	}

	if loc.Text == "" {
		return nodes
	}
	filtered := []*html.Node{}
	for _, n := range nodes {
		if htmlutil.NormalizeSpace(htmlutil.GetText(n)) == loc.Text ||
			(n.Data == "input" && htmlutil.Attr(n, "value") == loc.Text) {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

func (p *Page) first(loc session.Locator) (*html.Node, error) {
	nodes := p.find(loc)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, loc)
	}
	return nodes[0], nil
}

// firstVisible is first, preferring an element that would be rendered.
func (p *Page) firstVisible(loc session.Locator) (*html.Node, error) {
	nodes := p.find(loc)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, loc)
	}
	for _, n := range nodes {
		if visible(n) {
			return n, nil
		}
	}
	return nodes[0], nil
}

func (p *Page) Count(loc session.Locator) int {
	return len(p.find(loc))
}

// WaitVisible reloads pages fetched with GET until the element shows up, a
// page produced by a form submission is only checked once.
func (p *Page) WaitVisible(ctx context.Context, loc session.Locator) error {
	for {
		for _, n := range p.find(loc) {
			if visible(n) {
				return nil
			}
		}
		if p.method != http.MethodGet {
			return fmt.Errorf("%w: %s", session.ErrNotFound, loc)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", session.ErrNotFound, loc, ctx.Err())
		case <-time.After(p.opts.PollInterval):
		}

		err := p.Refresh(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
	}
}

func (p *Page) Fill(ctx context.Context, loc session.Locator, value string) error {
	n, err := p.first(loc)
	if err != nil {
		return err
	}
	if n.Data != "input" && n.Data != "textarea" {
		return fmt.Errorf("fill %s: not a text field (<%s>)", loc, n.Data)
	}
	p.values[n] = value
	return nil
}

// Select picks the option with the given value. An option that does not
// exist leaves the field unchanged.
func (p *Page) Select(ctx context.Context, loc session.Locator, value string) error {
	n, err := p.first(loc)
	if err != nil {
		return err
	}
	if n.Data != "select" {
		return fmt.Errorf("select %s: not a select (<%s>)", loc, n.Data)
	}
	for _, opt := range options(n) {
		if optionValue(opt) == value {
			p.values[n] = value
			return nil
		}
	}
	p.tel.ReportDebug("option not available", loc.String(), value)
	return nil
}

func (p *Page) Value(loc session.Locator) (string, error) {
	n, err := p.first(loc)
	if err != nil {
		return "", err
	}
	return p.valueOf(n), nil
}

func (p *Page) valueOf(n *html.Node) string {
	if v, ok := p.values[n]; ok {
		return v
	}
	switch n.Data {
	case "select":
		return selectedValue(n)
	case "textarea":
		return htmlutil.GetText(n)
	}
	return htmlutil.Attr(n, "value")
}

func (p *Page) Click(ctx context.Context, loc session.Locator) error {
	n, err := p.firstVisible(loc)
	if err != nil {
		return err
	}

	switch {
	case n.Data == "a":
		href := htmlutil.Attr(n, "href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return fmt.Errorf("click %s: link has no navigable href %q", loc, href)
		}
		return p.Navigate(ctx, href)
	case isSubmitter(n):
		form := closestForm(n)
		if form == nil {
			return fmt.Errorf("click %s: submit control outside of a form", loc)
		}
		return p.submit(ctx, form, n)
	}
	return fmt.Errorf("click %s: <%s> does not navigate", loc, n.Data)
}

func (p *Page) PressEnter(ctx context.Context, loc session.Locator) error {
	n, err := p.first(loc)
	if err != nil {
		return err
	}
	form := closestForm(n)
	if form == nil {
		return fmt.Errorf("press enter on %s: not inside a form", loc)
	}
	return p.submit(ctx, form, nil)
}

// WaitNetworkIdle returns immediately, every request made by the page has
// completed by the time the call that made it returns.
func (p *Page) WaitNetworkIdle(ctx context.Context) error {
	return ctx.Err()
}

func (p *Page) Links(loc session.Locator) []session.Link {
	nodes := p.find(loc)
	if len(nodes) == 0 {
		return nil
	}
	anchors := htmlutil.GetAnchors(p.url, p.doc.FindNodes(nodes...))
	links := make([]session.Link, len(anchors))
	for i, a := range anchors {
		links[i] = session.Link{Text: a.Name, Href: a.Url.String()}
	}
	return links
}

// Download fetches link without leaving the current page.
func (p *Page) Download(ctx context.Context, link session.Link) (session.Download, error) {
	target, err := p.resolve(link.Href)
	if err != nil {
		return session.Download{}, err
	}
	res, err := p.http.R().
		SetContext(ctx).
		Get(target.String())
	if err != nil {
		return session.Download{}, err
	}
	if res.IsError() {
		return session.Download{}, fmt.Errorf("download %s: %s", target, res.Status())
	}

	name, attachment := attachmentName(res.Header().Get("content-disposition"))
	mediaType, _, _ := mime.ParseMediaType(res.Header().Get("content-type"))
	if !attachment && mediaType == "text/html" {
		p.tel.ReportWarning(report_page_download, "link served a page", target.String())
		return session.Download{}, fmt.Errorf("%w: %s", ErrNotDownload, target)
	}
	if name == "" {
		finalURL := target
		if res.RawResponse != nil && res.RawResponse.Request != nil {
			finalURL = res.RawResponse.Request.URL
		}
		name = path.Base(finalURL.Path)
	}

	return session.Download{
		SuggestedName: name,
		Content:       res.Body(),
	}, nil
}

func attachmentName(header string) (name string, attachment bool) {
	if header == "" {
		return "", false
	}
	disposition, params, err := mime.ParseMediaType(header)
	if err != nil {
		return "", false
	}
	return params["filename"], disposition == "attachment" || params["filename"] != ""
}
