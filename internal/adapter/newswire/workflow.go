// Package newswire drives the distribution site's purchase and submission
// forms through a browser session.
package newswire

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bravapress/bravapress/internal/adapter/browser"
	"github.com/bravapress/bravapress/internal/domain"
	"github.com/bravapress/bravapress/internal/retry"
)

// Stage names as they appear in step events and processing logs.
const (
	StageSession      = "session"
	StagePurchase     = "purchase"
	StageContent      = "content"
	StageAdvance      = "advance"
	StageDistribution = "distribution"
	StagePublish      = "publish"
	StageCapture      = "capture"
)

const defaultTier = "basic"

// Config holds site credentials and timing.
type Config struct {
	BaseURL     string
	Email       string
	Password    string
	PackageTier string
	// StepTimeout bounds the wait for each locator candidate.
	StepTimeout time.Duration
	// StageTimeout bounds waits for page transitions.
	StageTimeout time.Duration
	Retry        retry.Policy
}

// ValidationError is the text of a validation banner the site showed
// instead of the preview.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation rejected: " + e.Message
}

// Workflow implements domain.Submitter.
type Workflow struct {
	launcher browser.Launcher
	cfg      Config
	logger   *slog.Logger
}

var _ domain.Submitter = (*Workflow)(nil)

// New creates a Workflow. Zero timeouts and retry policy take defaults.
func New(launcher browser.Launcher, cfg Config, logger *slog.Logger) *Workflow {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 5 * time.Second
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = browser.DefaultTimeout
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Default
	}
	if cfg.PackageTier == "" {
		cfg.PackageTier = defaultTier
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Workflow{launcher: launcher, cfg: cfg, logger: logger}
}

// Submit runs every stage against a fresh browser session. It never returns
// an error; failures are reported in the result.
func (w *Workflow) Submit(ctx context.Context, req domain.SubmitRequest, rec domain.StepRecorder) (res domain.WorkflowResult) {
	if rec == nil {
		rec = func(context.Context, domain.StepEvent) {}
	}
	if req.Submission == nil {
		res.Permanent = true
		res.Purchase.Error = "no submission to process"
		return res
	}
	if w.cfg.BaseURL == "" || w.cfg.Email == "" || w.cfg.Password == "" {
		res.Permanent = true
		res.Purchase.Error = "newswire credentials are not configured"
		return res
	}

	page, err := w.launcher.Open(ctx, browser.SessionOptions{Headless: req.Headless})
	if err != nil {
		res.Purchase.Error = fmt.Sprintf("launch browser: %v", err)
		return res
	}
	defer page.Close()
	defer func() {
		if p := recover(); p != nil {
			w.logger.ErrorContext(ctx, "workflow panic", "submission_id", req.Submission.ID, "panic", p)
			msg := fmt.Sprintf("unexpected failure: %v", p)
			if res.Purchase.Success || res.AwaitingApproval {
				res.Submission.Success = false
				res.Submission.Error = msg
			} else {
				res.Purchase.Error = msg
			}
		}
	}()

	r := &run{
		w:      w,
		page:   page,
		req:    req,
		sub:    req.Submission,
		rec:    rec,
		logger: w.logger.With("submission_id", req.Submission.ID),
	}
	r.execute(ctx, &res)
	return res
}

// run is the state of one Submit call.
type run struct {
	w      *Workflow
	page   browser.Page
	req    domain.SubmitRequest
	sub    *domain.Submission
	rec    domain.StepRecorder
	logger *slog.Logger

	readbacks []readback
	missing   []string
}

type readback struct {
	name string
	loc  browser.Locator
	rich bool
}

func (r *run) execute(ctx context.Context, res *domain.WorkflowResult) {
	if err := r.stage(ctx, StageSession, r.session); err != nil {
		res.Purchase.Error = err.Error()
		res.Purchase.Screenshots, _ = r.capture(ctx)
		return
	}

	err := r.stage(ctx, StagePurchase, func(ctx context.Context) (string, error) {
		return r.purchase(ctx, res)
	})
	if err != nil {
		res.Purchase = domain.PurchaseResult{Error: err.Error()}
		res.Purchase.Screenshots, _ = r.capture(ctx)
		return
	}
	if res.AwaitingApproval {
		return
	}

	steps := []struct {
		name string
		fn   func(context.Context) (string, error)
	}{
		{StageContent, func(ctx context.Context) (string, error) { return r.content(ctx, res) }},
		{StageAdvance, r.advance},
		{StageDistribution, r.distribution},
		{StagePublish, r.publish},
	}
	for _, s := range steps {
		if err := r.stage(ctx, s.name, s.fn); err != nil {
			res.Submission.Error = err.Error()
			res.Submission.Screenshots, _ = r.capture(ctx)
			return
		}
	}

	shots, current := r.capture(ctx)
	res.Submission.Success = true
	res.Submission.SubmissionID = r.releaseID(ctx)
	res.Submission.ConfirmationURL = current
	res.Submission.Screenshots = shots
}

type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skip(reason string) error { return &skipError{reason: reason} }

// stage emits started and a terminal event around fn. A skip is not a failure.
func (r *run) stage(ctx context.Context, name string, fn func(context.Context) (string, error)) error {
	start := time.Now()
	r.rec(ctx, domain.StepEvent{Stage: name, Status: domain.StepStarted})

	details, err := fn(ctx)
	ev := domain.StepEvent{Stage: name, Status: domain.StepSucceeded, Details: details, Duration: time.Since(start)}
	var s *skipError
	switch {
	case errors.As(err, &s):
		ev.Status = domain.StepSkipped
		ev.Details = s.reason
		err = nil
	case err != nil:
		ev.Status = domain.StepFailed
		ev.Details = err.Error()
	}
	r.rec(ctx, ev)
	return err
}

func (r *run) session(ctx context.Context) (string, error) {
	details := "logged in"
	err := retry.Do(ctx, r.w.cfg.Retry, func(ctx context.Context, attempt int) error {
		if err := r.page.Navigate(ctx, r.url(pathHome)); err != nil {
			return fmt.Errorf("open site: %w", err)
		}
		if _, err := browser.FirstVisible(ctx, r.page, userMarkers, r.w.cfg.StepTimeout); err == nil {
			details = "existing session"
			return nil
		}

		if err := r.page.Navigate(ctx, r.url(pathLogin)); err != nil {
			return fmt.Errorf("open login: %w", err)
		}
		from, err := r.page.URL(ctx)
		if err != nil {
			return err
		}
		if err := r.fill(ctx, "email", emailInputs, r.w.cfg.Email); err != nil {
			return err
		}
		if err := r.fill(ctx, "password", passwordInputs, r.w.cfg.Password); err != nil {
			return err
		}
		if err := r.click(ctx, "login", loginButtons); err != nil {
			return err
		}

		_, raceErr := browser.RaceNavigationOrVisible(ctx, r.page, from, userMarkers[0], r.w.cfg.StageTimeout)
		if banner, ok := r.anyVisible(ctx, loginErrors); ok {
			return fmt.Errorf("login failed: %s", r.text(ctx, banner, "credentials rejected"))
		}
		if raceErr != nil {
			return fmt.Errorf("login not confirmed: %w", raceErr)
		}
		r.logger.DebugContext(ctx, "logged in", "attempt", attempt)
		return nil
	})
	return details, err
}

func (r *run) purchase(ctx context.Context, res *domain.WorkflowResult) (string, error) {
	if id := r.req.PurchasedOrderID; id != "" {
		res.Purchase = domain.PurchaseResult{Success: true, OrderID: id}
		return "", skip("already purchased as order " + id)
	}
	if r.req.PaymentMode == domain.PaymentManual {
		res.AwaitingApproval = true
		return "", skip("manual payment mode, awaiting approval")
	}

	tier := r.req.PackageType
	if tier == "" {
		tier = r.w.cfg.PackageTier
	}
	err := retry.Do(ctx, r.w.cfg.Retry, func(ctx context.Context, _ int) error {
		if err := r.page.Navigate(ctx, r.url(pathPricing)); err != nil {
			return fmt.Errorf("open pricing: %w", err)
		}
		return r.click(ctx, "package "+tier, tierLocators(tier))
	})
	if err != nil {
		return "", err
	}

	if r.req.PaymentMode == domain.PaymentCredit {
		if err := r.click(ctx, "credit option", creditOptions); err != nil {
			r.logger.WarnContext(ctx, "credit payment unavailable", "error", err)
			res.AwaitingApproval = true
			return "", skip("credit balance unavailable, awaiting approval")
		}
	}

	// Checkout charges money and is never retried here.
	if err := r.click(ctx, "checkout", checkoutButtons); err != nil {
		return "", err
	}
	found, err := browser.WaitAny(ctx, r.page, concat(orderConfirmations, paymentErrors), r.w.cfg.StageTimeout)
	if err != nil {
		return "", fmt.Errorf("order not confirmed: %w", err)
	}
	if contains(paymentErrors, found) {
		return "", fmt.Errorf("payment rejected: %s", r.text(ctx, found, "no reason given"))
	}

	orderID := r.orderID(ctx)
	res.Purchase = domain.PurchaseResult{Success: true, OrderID: orderID}
	return fmt.Sprintf("tier %s, order %s", tier, orderID), nil
}

func (r *run) content(ctx context.Context, res *domain.WorkflowResult) (string, error) {
	err := retry.Do(ctx, r.w.cfg.Retry, func(ctx context.Context, _ int) error {
		if err := r.page.Navigate(ctx, r.url(pathCompose)); err != nil {
			return err
		}
		_, err := browser.WaitAny(ctx, r.page, titleField.locs, r.w.cfg.StageTimeout)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("open release form: %w", err)
	}

	s := r.sub
	loc := domain.ParseLocation(s.Location)
	r.fillField(ctx, titleField, s.Title)
	r.fillField(ctx, summaryField, s.Summary)
	r.fillBody(ctx, s.Body)
	r.fillField(ctx, cityField, loc.City)
	r.fillField(ctx, stateField, loc.State)
	r.fillField(ctx, countryField, loc.Country)
	r.fillField(ctx, companyField, s.Company)
	r.fillField(ctx, contactName, s.ContactName)
	r.fillField(ctx, contactEmail, s.ContactEmail)
	r.fillField(ctx, contactPhone, s.ContactPhone)
	r.fillField(ctx, websiteField, s.Website)
	timing, err := r.releaseTiming(ctx)
	if err != nil {
		return "", err
	}

	for _, rb := range r.readbacks {
		var v string
		var err error
		if rb.rich {
			v, err = r.page.Text(ctx, rb.loc)
		} else {
			v, err = r.page.Value(ctx, rb.loc)
		}
		if err != nil || strings.TrimSpace(v) == "" {
			r.missing = append(r.missing, rb.name)
		}
	}
	res.Submission.MissingFields = r.missing

	details := "release " + timing
	if len(r.missing) > 0 {
		details += "; missing required fields: " + strings.Join(r.missing, ", ")
		r.logger.WarnContext(ctx, "required fields missing after fill", "fields", r.missing)
	}
	return details, nil
}

// fillField fills f when value is set. Required fields that cannot be
// filled go straight to the missing list; the rest are read back later.
func (r *run) fillField(ctx context.Context, f field, value string) {
	if value == "" {
		if f.required {
			r.missing = append(r.missing, f.name)
		}
		return
	}
	loc, err := browser.FillFirst(ctx, r.page, f.locs, value, r.w.cfg.StepTimeout)
	if err != nil {
		r.logger.DebugContext(ctx, "field not filled", "field", f.name, "error", err)
		if f.required {
			r.missing = append(r.missing, f.name)
		}
		return
	}
	r.logger.DebugContext(ctx, "filled", "field", f.name, "locator", loc.String())
	if f.required {
		r.readbacks = append(r.readbacks, readback{name: f.name, loc: loc})
	}
}

// fillBody prefers the rich text editor and falls back to a plain textarea.
func (r *run) fillBody(ctx context.Context, body string) {
	if body == "" {
		r.missing = append(r.missing, bodyField.name)
		return
	}
	if loc, err := browser.FirstVisible(ctx, r.page, bodyRich, r.w.cfg.StepTimeout); err == nil {
		if err := r.page.FillRich(ctx, loc, bodyHTML(body)); err == nil {
			r.logger.DebugContext(ctx, "filled", "field", bodyField.name, "locator", loc.String())
			r.readbacks = append(r.readbacks, readback{name: bodyField.name, loc: loc, rich: true})
			return
		}
	}
	r.fillField(ctx, bodyField, body)
}

func (r *run) releaseTiming(ctx context.Context) (string, error) {
	at := r.sub.ReleaseAt
	if at == nil || !at.After(time.Now()) {
		if loc, err := browser.FirstVisible(ctx, r.page, releaseImmediate, r.w.cfg.StepTimeout); err == nil {
			if err := r.page.Check(ctx, loc); err != nil {
				return "", fmt.Errorf("select immediate release: %w", err)
			}
		}
		return "immediate", nil
	}

	tz := releaseLocation(r.sub.Timezone)
	local := at.In(tz)
	loc, err := browser.FirstVisible(ctx, r.page, releaseScheduled, r.w.cfg.StepTimeout)
	if err != nil {
		return "", fmt.Errorf("scheduled release option: %w", err)
	}
	if err := r.page.Check(ctx, loc); err != nil {
		return "", fmt.Errorf("select scheduled release: %w", err)
	}
	r.fillField(ctx, releaseDate, local.Format("2006-01-02"))
	r.fillField(ctx, releaseTime, local.Format("15:04"))
	if _, ok := r.choose(ctx, releaseTimezone, tz.String()); !ok {
		r.logger.DebugContext(ctx, "timezone not selected", "timezone", tz.String())
	}
	return "scheduled " + local.Format(time.RFC3339), nil
}

func releaseLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// advance moves to the preview. A validation banner stops retries: the same
// content would be rejected again.
func (r *run) advance(ctx context.Context) (string, error) {
	watch := concat(previewMarkers, validationBanners)
	var details string
	err := retry.Do(ctx, r.w.cfg.Retry, func(ctx context.Context, _ int) error {
		if err := r.click(ctx, "preview", advanceButtons); err != nil {
			return err
		}
		found, err := browser.WaitAny(ctx, r.page, watch, r.w.cfg.StageTimeout)
		if err != nil {
			return fmt.Errorf("preview did not load: %w", err)
		}
		if contains(validationBanners, found) {
			return retry.Stop(&ValidationError{Message: r.text(ctx, found, "form rejected")})
		}
		details = "preview shown"
		return nil
	})
	return details, err
}

func (r *run) distribution(ctx context.Context) (string, error) {
	if err := r.click(ctx, "continue", continueButtons); err != nil {
		r.logger.DebugContext(ctx, "no continue control", "error", err)
	}

	var picked []string
	if text, ok := r.choose(ctx, industrySelects, r.sub.Industry); ok {
		picked = append(picked, "industry "+text)
	}
	if text, ok := r.choose(ctx, countrySelects, domain.ParseLocation(r.sub.Location).Country); ok {
		picked = append(picked, "country "+text)
	}
	if len(picked) == 0 {
		return "", skip("no matching distribution options")
	}
	return strings.Join(picked, ", "), nil
}

// choose selects the option of the first visible select whose text matches want.
func (r *run) choose(ctx context.Context, selects []browser.Locator, want string) (string, bool) {
	if strings.TrimSpace(want) == "" {
		return "", false
	}
	loc, err := browser.FirstVisible(ctx, r.page, selects, r.w.cfg.StepTimeout)
	if err != nil {
		return "", false
	}
	opts, err := r.page.Options(ctx, loc)
	if err != nil {
		return "", false
	}
	opt, ok := matchOption(opts, want)
	if !ok {
		r.logger.DebugContext(ctx, "no option matches", "select", loc.String(), "want", want)
		return "", false
	}
	if err := r.page.SelectOption(ctx, loc, opt.Value); err != nil {
		r.logger.WarnContext(ctx, "select failed", "select", loc.String(), "error", err)
		return "", false
	}
	return opt.Text, true
}

// matchOption prefers an exact case-insensitive text match over a substring match.
func matchOption(opts []browser.Option, want string) (browser.Option, bool) {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return browser.Option{}, false
	}
	for _, o := range opts {
		if o.Value != "" && strings.ToLower(strings.TrimSpace(o.Text)) == want {
			return o, true
		}
	}
	for _, o := range opts {
		if o.Value != "" && strings.Contains(strings.ToLower(o.Text), want) {
			return o, true
		}
	}
	return browser.Option{}, false
}

func (r *run) publish(ctx context.Context) (string, error) {
	if err := r.click(ctx, "submit for review", publishButtons); err != nil {
		return "", err
	}
	found, err := browser.WaitAny(ctx, r.page, concat(confirmModals, successMarkers), r.w.cfg.StageTimeout)
	if err != nil {
		return "", fmt.Errorf("no response to submit: %w", err)
	}
	if !contains(confirmModals, found) {
		return "submitted", nil
	}

	how, err := r.confirm(ctx)
	if err != nil {
		return "", err
	}
	if _, err := browser.WaitAny(ctx, r.page, successMarkers, r.w.cfg.StageTimeout); err != nil {
		return "", fmt.Errorf("submission not acknowledged: %w", err)
	}
	return "confirmed via " + how, nil
}

// confirm ticks the acknowledgement boxes and clicks an enabled confirm
// control, or navigates to the modal's link when none is usable.
func (r *run) confirm(ctx context.Context) (string, error) {
	for _, box := range acknowledgementBoxes {
		if err := r.page.Check(ctx, box); err == nil {
			r.logger.DebugContext(ctx, "acknowledged", "locator", box.String())
		}
	}

	for _, btn := range confirmButtons {
		if ok, _ := r.page.Visible(ctx, btn); !ok {
			continue
		}
		if _, disabled, err := r.page.Attribute(ctx, btn, "disabled"); err != nil || disabled {
			continue
		}
		if err := r.page.Click(ctx, btn); err == nil {
			return btn.String(), nil
		}
	}

	for _, link := range confirmLinks {
		href, ok, err := r.page.Attribute(ctx, link, "href")
		if err != nil || !ok || href == "" {
			continue
		}
		target, err := r.resolve(href)
		if err != nil {
			continue
		}
		r.logger.InfoContext(ctx, "confirm control unavailable, following link", "href", target)
		if err := r.page.Navigate(ctx, target); err != nil {
			return "", fmt.Errorf("follow confirm link: %w", err)
		}
		return "link " + target, nil
	}
	return "", fmt.Errorf("confirm control: %w", browser.ErrNotFound)
}

// capture takes a screenshot and reads the URL; failures are recorded, not returned.
func (r *run) capture(ctx context.Context) ([]string, string) {
	start := time.Now()
	r.rec(ctx, domain.StepEvent{Stage: StageCapture, Status: domain.StepStarted})

	var shots []string
	var problems []string
	if png, err := r.page.Screenshot(ctx); err == nil {
		shots = append(shots, base64.StdEncoding.EncodeToString(png))
	} else {
		problems = append(problems, "screenshot: "+err.Error())
	}
	current, err := r.page.URL(ctx)
	if err != nil {
		problems = append(problems, "url: "+err.Error())
	}

	ev := domain.StepEvent{Stage: StageCapture, Status: domain.StepSucceeded, Details: current, Duration: time.Since(start)}
	if len(problems) > 0 {
		ev.Status = domain.StepFailed
		ev.Details = strings.Join(problems, "; ")
	}
	r.rec(ctx, ev)
	return shots, current
}

func (r *run) orderID(ctx context.Context) string {
	for _, loc := range orderNumbers {
		if ok, _ := r.page.Visible(ctx, loc); !ok {
			continue
		}
		if v, ok, err := r.page.Attribute(ctx, loc, "data-order-id"); err == nil && ok && v != "" {
			return v
		}
		if t, err := r.page.Text(ctx, loc); err == nil && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	if current, err := r.page.URL(ctx); err == nil {
		if m := orderPattern.FindStringSubmatch(current); m != nil {
			return m[1]
		}
	}
	return ""
}

func (r *run) releaseID(ctx context.Context) string {
	for _, loc := range releaseIDs {
		if v, ok, err := r.page.Attribute(ctx, loc, "data-release-id"); err == nil && ok {
			return v
		}
	}
	return ""
}

func (r *run) click(ctx context.Context, what string, locs []browser.Locator) error {
	loc, err := browser.ClickFirst(ctx, r.page, locs, r.w.cfg.StepTimeout)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	r.logger.DebugContext(ctx, "clicked", "target", what, "locator", loc.String())
	return nil
}

func (r *run) fill(ctx context.Context, what string, locs []browser.Locator, value string) error {
	loc, err := browser.FillFirst(ctx, r.page, locs, value, r.w.cfg.StepTimeout)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	r.logger.DebugContext(ctx, "filled", "field", what, "locator", loc.String())
	return nil
}

func (r *run) anyVisible(ctx context.Context, locs []browser.Locator) (browser.Locator, bool) {
	for _, loc := range locs {
		if ok, _ := r.page.Visible(ctx, loc); ok {
			return loc, true
		}
	}
	return browser.Locator{}, false
}

func (r *run) text(ctx context.Context, loc browser.Locator, fallback string) string {
	t, err := r.page.Text(ctx, loc)
	if t = strings.Join(strings.Fields(t), " "); err != nil || t == "" {
		return fallback
	}
	return t
}

func (r *run) url(path string) string {
	return r.w.cfg.BaseURL + path
}

func (r *run) resolve(href string) (string, error) {
	base, err := url.Parse(r.w.cfg.BaseURL + "/")
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func concat(lists ...[]browser.Locator) []browser.Locator {
	var out []browser.Locator
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func contains(locs []browser.Locator, loc browser.Locator) bool {
	for _, l := range locs {
		if l.Kind == loc.Kind && l.Query == loc.Query {
			return true
		}
	}
	return false
}
