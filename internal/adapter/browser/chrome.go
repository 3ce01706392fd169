package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Options configures ChromeLauncher.
type Options struct {
	ExecPath  string
	Timeout   time.Duration
	UserAgent string
}

// SessionOptions are read once per job.
type SessionOptions struct {
	Headless bool
}

// ChromeLauncher starts a fresh Chrome process for every session.
type ChromeLauncher struct {
	opts Options
}

// NewLauncher creates a ChromeLauncher.
func NewLauncher(opts Options) *ChromeLauncher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0 Safari/537.36"
	}
	return &ChromeLauncher{opts: opts}
}

// Open starts an isolated allocator, browser and tab.
func (l *ChromeLauncher) Open(ctx context.Context, so SessionOptions) (Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", so.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1366, 900),
		chromedp.UserAgent(l.opts.UserAgent),
	)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}

	// Close owns the session lifetime, not the caller's ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	page := &chromePage{
		timeout: l.opts.Timeout,
		cancels: []context.CancelFunc{allocCancel, browserCancel},
	}

	// First Run on each context must not use a derived deadline, or the
	// browser and tab die with it.
	if err := chromedp.Run(browserCtx); err != nil {
		page.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	page.tab = tabCtx
	page.cancels = append(page.cancels, tabCancel)
	if err := chromedp.Run(tabCtx); err != nil {
		page.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := ctx.Err(); err != nil {
		page.Close()
		return nil, err
	}
	return page, nil
}

type chromePage struct {
	tab     context.Context
	timeout time.Duration

	closeOnce sync.Once
	cancels   []context.CancelFunc
}

// run executes actions on the tab bounded by timeout and the caller's ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func by(l Locator) chromedp.QueryOption {
	switch l.Kind {
	case KindXPath:
		return chromedp.BySearch
	case KindScript:
		return chromedp.ByJSPath
	}
	return chromedp.ByQuery
}

// callOn runs a JS function with 'this' bound to the first node matching loc.
func (p *chromePage) callOn(ctx context.Context, loc Locator, fn string, res any, args ...any) error {
	return p.run(ctx, p.timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(loc.Query, &nodes, by(loc), chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		if len(nodes) == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		obj, err := dom.ResolveNode().WithNodeID(nodes[0].NodeID).Do(ctx)
		if err != nil {
			return err
		}
		// Release fails once the page navigated away; nothing to clean up then.
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)
		return chromedp.CallFunctionOn(fn, res, func(params *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return params.WithObjectID(obj.ObjectID)
		}, args...).Do(ctx)
	}))
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.timeout, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.WaitVisible(loc.Query, by(loc))); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, loc, err)
	}
	return nil
}

const jsVisible = `function() {
	const s = window.getComputedStyle(this);
	return s.visibility !== 'hidden' && s.display !== 'none' &&
		!!(this.offsetWidth || this.offsetHeight || this.getClientRects().length);
}`

func (p *chromePage) Visible(ctx context.Context, loc Locator) (bool, error) {
	var visible bool
	err := p.callOn(ctx, loc, jsVisible, &visible)
	if err != nil {
		return false, nil
	}
	return visible, nil
}

func (p *chromePage) Click(ctx context.Context, loc Locator) error {
	return p.run(ctx, p.timeout, chromedp.Click(loc.Query, by(loc), chromedp.NodeVisible))
}

// jsSetValue goes through the native setter so framework-bound inputs see the change.
const jsSetValue = `function(v) {
	const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const d = Object.getOwnPropertyDescriptor(proto, 'value');
	if (d && d.set) { d.set.call(this, v); } else { this.value = v; }
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

func (p *chromePage) Fill(ctx context.Context, loc Locator, value string) error {
	return p.callOn(ctx, loc, jsSetValue, nil, value)
}

const jsSetHTML = `function(html) {
	this.innerHTML = html;
	this.dispatchEvent(new Event('input', { bubbles: true }));
}`

func (p *chromePage) FillRich(ctx context.Context, loc Locator, html string) error {
	return p.callOn(ctx, loc, jsSetHTML, nil, html)
}

const jsCheck = `function() {
	if (!this.checked) { this.click(); }
	return this.checked;
}`

func (p *chromePage) Check(ctx context.Context, loc Locator) error {
	var checked bool
	if err := p.callOn(ctx, loc, jsCheck, &checked); err != nil {
		return err
	}
	if !checked {
		return fmt.Errorf("checkbox %s did not stay checked", loc)
	}
	return nil
}

const jsValue = `function() { return this.value === undefined ? '' : String(this.value); }`

func (p *chromePage) Value(ctx context.Context, loc Locator) (string, error) {
	var v string
	err := p.callOn(ctx, loc, jsValue, &v)
	return v, err
}

const jsText = `function() { return (this.innerText || this.textContent || '').trim(); }`

func (p *chromePage) Text(ctx context.Context, loc Locator) (string, error) {
	var v string
	err := p.callOn(ctx, loc, jsText, &v)
	return v, err
}

const jsAttribute = `function(name) { return this.hasAttribute(name) ? this.getAttribute(name) : null; }`

// Attribute returns immediately when loc matches nothing, unlike chromedp.AttributeValue.
func (p *chromePage) Attribute(ctx context.Context, loc Locator, name string) (string, bool, error) {
	var v *string
	if err := p.callOn(ctx, loc, jsAttribute, &v, name); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

const jsOptions = `function() {
	return Array.from(this.options || []).map(o => ({ value: o.value, text: o.text.trim() }));
}`

func (p *chromePage) Options(ctx context.Context, loc Locator) ([]Option, error) {
	var opts []Option
	err := p.callOn(ctx, loc, jsOptions, &opts)
	return opts, err
}

const jsSelect = `function(v) {
	this.value = v;
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return this.value === v;
}`

func (p *chromePage) SelectOption(ctx context.Context, loc Locator, value string) error {
	var ok bool
	if err := p.callOn(ctx, loc, jsSelect, &ok, value); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("select %s rejected value %q", loc, value)
	}
	return nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, p.timeout, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) WaitURLChange(ctx context.Context, from string, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		if u, err := p.URL(ctx); err == nil && u != from {
			return u, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("%w: url still %s", ErrTimeout, from)
		case <-tick.C:
		}
	}
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.timeout, chromedp.FullScreenshot(&buf, 80))
	return buf, err
}

// Close cancels tab, browser and allocator in that order, which kills the process.
func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		for i := len(p.cancels) - 1; i >= 0; i-- {
			p.cancels[i]()
		}
	})
	return nil
}
