// Package browser drives a headless Chrome tab for the submission workflow.
package browser

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds every single browser operation.
const DefaultTimeout = 20 * time.Second

var (
	// ErrNotFound is returned when no candidate element is visible in time.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout is returned when a wait elapses without the expected change.
	ErrTimeout = errors.New("browser wait timed out")
)

// Kind selects how a Locator query is resolved.
type Kind string

const (
	KindCSS    Kind = "css"
	KindXPath  Kind = "xpath"
	KindScript Kind = "script" // JS expression evaluating to an element
)

// Locator identifies one element candidate on a page.
type Locator struct {
	Kind  Kind
	Query string
	// Name labels the candidate in logs; Query is used when empty.
	Name string
}

// CSS returns a CSS selector locator.
func CSS(q string) Locator { return Locator{Kind: KindCSS, Query: q} }

// XPath returns an XPath locator.
func XPath(q string) Locator { return Locator{Kind: KindXPath, Query: q} }

// Script returns a locator resolved by evaluating a JS expression.
func Script(q string) Locator { return Locator{Kind: KindScript, Query: q} }

// Named labels a locator.
func (l Locator) Named(name string) Locator {
	l.Name = name
	return l
}

func (l Locator) String() string {
	if l.Name != "" {
		return l.Name
	}
	return string(l.Kind) + ":" + l.Query
}

// Option is one entry of a <select>.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// Page is one browser tab owned by a single workflow run.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	// Visible reports whether loc currently matches a visible element without waiting.
	Visible(ctx context.Context, loc Locator) (bool, error)
	Click(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, value string) error
	// FillRich sets the HTML of a rich-text editor.
	FillRich(ctx context.Context, loc Locator, html string) error
	// Check ensures a checkbox is checked.
	Check(ctx context.Context, loc Locator) error
	Value(ctx context.Context, loc Locator) (string, error)
	Text(ctx context.Context, loc Locator) (string, error)
	Attribute(ctx context.Context, loc Locator, name string) (string, bool, error)
	Options(ctx context.Context, loc Locator) ([]Option, error)
	SelectOption(ctx context.Context, loc Locator, value string) error
	URL(ctx context.Context) (string, error)
	// WaitURLChange blocks until the URL differs from 'from'.
	WaitURLChange(ctx context.Context, from string, timeout time.Duration) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the tab, browser and process. Safe to call twice.
	Close() error
}

// Launcher opens isolated browser sessions.
type Launcher interface {
	Open(ctx context.Context, opts SessionOptions) (Page, error)
}
