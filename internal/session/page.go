package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Page when a locator matches nothing.
var ErrNotFound = errors.New("element not found")

// Locator identifies an element on the current page.
//
// CSS is a css selector. When FollowsText is set, CSS is an element name and
// the locator matches the first such element after an element whose text
// contains FollowsText. When Text is set, only elements whose normalized text
// (or value, for inputs) equals Text match.
type Locator struct {
	CSS         string
	FollowsText string
	Text        string
}

func (l Locator) String() string {
	s := l.CSS
	if l.FollowsText != "" {
		s = fmt.Sprintf("%s following %q", s, l.FollowsText)
	}
	if l.Text != "" {
		s = fmt.Sprintf("%s with text %q", s, l.Text)
	}
	return s
}

// Link is an anchor on the current page.
type Link struct {
	Text string
	Href string
}

// Download is a file captured from the remote surface.
type Download struct {
	// SuggestedName is the file name proposed by the server, it may carry a
	// variable prefix but its extension is meaningful.
	SuggestedName string
	Content       []byte
}

// Page is the single live browsing surface a Machine drives. Waiting methods
// are bounded by the deadline of ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Refresh(ctx context.Context) error
	URL() string
	// Content returns the markup of the current page.
	Content() string

	// WaitVisible blocks until loc matches a visible element.
	WaitVisible(ctx context.Context, loc Locator) error
	Count(loc Locator) int
	Fill(ctx context.Context, loc Locator, value string) error
	Select(ctx context.Context, loc Locator, value string) error
	// Value reads the current value of a form field back from the page.
	Value(loc Locator) (string, error)
	Click(ctx context.Context, loc Locator) error
	// PressEnter submits the form that contains loc.
	PressEnter(ctx context.Context, loc Locator) error
	// WaitNetworkIdle blocks until no requests are in flight.
	WaitNetworkIdle(ctx context.Context) error

	// Links returns the anchors matched by loc in document order.
	Links(loc Locator) []Link
	// Download follows link and captures the file it serves.
	Download(ctx context.Context, link Link) (Download, error)
}

// Handoff is implemented by pages whose session a person can take over in
// their own browser. Cookies returns the live session as name=value pairs.
type Handoff interface {
	Cookies() []string
}

// Locators are the elements of the dashboard the session interacts with.
type Locators struct {
	LoginID     Locator
	Password    Locator
	LoginSubmit Locator

	StartDay   Locator
	StartMonth Locator
	StartYear  Locator
	EndDay     Locator
	EndMonth   Locator
	EndYear    Locator
	Search     Locator

	// ResultLinks matches the links of the "Total of Registration" column,
	// FallbackResultLinks is tried when it matches nothing.
	ResultLinks         Locator
	FallbackResultLinks Locator
}

func DefaultLocators() Locators {
	return Locators{
		LoginID:     Locator{CSS: "input", FollowsText: "Login ID"},
		Password:    Locator{CSS: "input", FollowsText: "Password"},
		LoginSubmit: Locator{CSS: `button, input[type="submit"]`, Text: "Submit"},

		StartDay:   Locator{CSS: "#start_day"},
		StartMonth: Locator{CSS: "#start_month"},
		StartYear:  Locator{CSS: "#start_year"},
		EndDay:     Locator{CSS: "#end_day"},
		EndMonth:   Locator{CSS: "#end_month"},
		EndYear:    Locator{CSS: "#end_year"},
		Search:     Locator{CSS: "button, input, a", Text: "Search"},

		ResultLinks:         Locator{CSS: "table tr > td:nth-child(2) a"},
		FallbackResultLinks: Locator{CSS: "table tbody tr td a"},
	}
}
