// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bravapress/bravapress/internal/adapter/browser"
)

// Element is a fake DOM node.
type Element struct {
	Visible bool
	Value   string
	Text    string
	HTML    string
	Checked bool
	Attrs   map[string]string
	Options []browser.Option
	// OnClick runs after a click, without the page lock held.
	OnClick func(p *Page)
}

type key struct {
	kind  browser.Kind
	query string
}

func keyOf(l browser.Locator) key { return key{l.Kind, l.Query} }

// Page is a scriptable browser.Page. Routes rebuild the DOM on navigation.
type Page struct {
	mu       sync.Mutex
	url      string
	elements map[key]*Element
	actions  []string
	closed   int

	// Routes maps a URL to the function that builds its DOM.
	Routes map[string]func(p *Page)
	// Poll is the wait granularity.
	Poll time.Duration
}

// NewPage creates an empty page at about:blank.
func NewPage() *Page {
	return &Page{
		url:      "about:blank",
		elements: make(map[key]*Element),
		Routes:   make(map[string]func(p *Page)),
		Poll:     time.Millisecond,
	}
}

// Set places an element; it replaces any element with the same locator.
func (p *Page) Set(loc browser.Locator, el *Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[keyOf(loc)] = el
	return el
}

// Show places a visible element with no state.
func (p *Page) Show(loc browser.Locator) *Element {
	return p.Set(loc, &Element{Visible: true})
}

// Element returns the element at loc, or nil.
func (p *Page) Element(loc browser.Locator) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[keyOf(loc)]
}

// SetURL changes the URL without rebuilding the DOM, like a client-side route.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// Go navigates and rebuilds the DOM from Routes.
func (p *Page) Go(u string) {
	p.mu.Lock()
	p.url = u
	p.elements = make(map[key]*Element)
	route := p.Routes[u]
	p.mu.Unlock()
	if route != nil {
		route(p)
	}
}

// Actions returns the recorded interaction log.
func (p *Page) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

// Closed returns how many times Close was called.
func (p *Page) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) record(format string, args ...any) {
	p.actions = append(p.actions, fmt.Sprintf(format, args...))
}

func (p *Page) visible(loc browser.Locator) (*Element, error) {
	el := p.elements[keyOf(loc)]
	if el == nil || !el.Visible {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, loc)
	}
	return el, nil
}

func (p *Page) present(loc browser.Locator) (*Element, error) {
	el := p.elements[keyOf(loc)]
	if el == nil {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, loc)
	}
	return el, nil
}

func (p *Page) wait(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(p.Poll)
	}
}

func (p *Page) Navigate(ctx context.Context, u string) error {
	p.mu.Lock()
	p.record("navigate %s", u)
	p.mu.Unlock()
	p.Go(u)
	return nil
}

func (p *Page) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	ok := p.wait(ctx, timeout, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, err := p.visible(loc)
		return err == nil
	})
	if !ok {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, loc)
	}
	return nil
}

func (p *Page) Visible(ctx context.Context, loc browser.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.visible(loc)
	return err == nil, nil
}

func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	p.mu.Lock()
	el, err := p.visible(loc)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if _, disabled := el.Attrs["disabled"]; disabled {
		p.mu.Unlock()
		return fmt.Errorf("%s is disabled", loc)
	}
	p.record("click %s", loc.Query)
	onClick := el.OnClick
	p.mu.Unlock()

	if onClick != nil {
		onClick(p)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.visible(loc)
	if err != nil {
		return err
	}
	if _, ro := el.Attrs["readonly"]; ro {
		return nil
	}
	el.Value = value
	p.record("fill %s", loc.Query)
	return nil
}

func (p *Page) FillRich(ctx context.Context, loc browser.Locator, html string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.visible(loc)
	if err != nil {
		return err
	}
	el.HTML = html
	el.Text = html
	p.record("fillrich %s", loc.Query)
	return nil
}

func (p *Page) Check(ctx context.Context, loc browser.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.present(loc)
	if err != nil {
		return err
	}
	el.Checked = true
	p.record("check %s", loc.Query)
	return nil
}

func (p *Page) Value(ctx context.Context, loc browser.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.present(loc)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (p *Page) Text(ctx context.Context, loc browser.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.present(loc)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (p *Page) Attribute(ctx context.Context, loc browser.Locator, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.present(loc)
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

func (p *Page) Options(ctx context.Context, loc browser.Locator) ([]browser.Option, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.present(loc)
	if err != nil {
		return nil, err
	}
	return append([]browser.Option(nil), el.Options...), nil
}

func (p *Page) SelectOption(ctx context.Context, loc browser.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.present(loc)
	if err != nil {
		return err
	}
	for _, o := range el.Options {
		if o.Value == value {
			el.Value = value
			p.record("select %s=%s", loc.Query, value)
			return nil
		}
	}
	return fmt.Errorf("select %s has no option %q", loc, value)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) WaitURLChange(ctx context.Context, from string, timeout time.Duration) (string, error) {
	var u string
	ok := p.wait(ctx, timeout, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		u = p.url
		return u != from
	})
	if !ok {
		return "", fmt.Errorf("%w: url still %s", browser.ErrTimeout, from)
	}
	return u, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Launcher hands out one Page.
type Launcher struct {
	Page *Page
	Err  error

	mu    sync.Mutex
	opens []browser.SessionOptions
}

func (l *Launcher) Open(ctx context.Context, opts browser.SessionOptions) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens = append(l.opens, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Page, nil
}

// Opens returns the options of every Open call.
func (l *Launcher) Opens() []browser.SessionOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.SessionOptions(nil), l.opens...)
}
