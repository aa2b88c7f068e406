package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLoginFormNotFound        = errors.New("login form not found")
	ErrFieldNotApplied          = errors.New("field not applied")
	ErrInsufficientResultRows   = errors.New("insufficient result rows")
	ErrInterruptionUnresolvable = errors.New("interruption unresolvable")
	ErrDownloadTimeout          = errors.New("download timeout")
	// ErrNavigationFailed is returned when a page cannot be loaded or a form
	// cannot be submitted at all.
	ErrNavigationFailed = errors.New("navigation failed")
)

// Error is a fatal session failure with the context needed to diagnose it
// after the fact. Kind is one of the sentinel errors of this package.
type Error struct {
	Kind    error
	State   State
	URL     string
	Snippet string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("session %s: %v", e.State, e.Kind)}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	msg := strings.Join(parts, ": ")
	if e.URL != "" {
		msg += fmt.Sprintf(" (url: %s)", e.URL)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
