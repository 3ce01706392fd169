package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NotFoundError lists every candidate a cascade tried.
type NotFoundError struct {
	Tried []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element not found (tried %s)", strings.Join(e.Tried, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// FirstVisible tries each locator in order, waiting at most per for each,
// and returns the first one that becomes visible.
func FirstVisible(ctx context.Context, page Page, locs []Locator, per time.Duration) (Locator, error) {
	tried := make([]string, 0, len(locs))
	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			return Locator{}, err
		}
		if err := page.WaitVisible(ctx, loc, per); err == nil {
			return loc, nil
		}
		tried = append(tried, loc.String())
	}
	return Locator{}, &NotFoundError{Tried: tried}
}

// ClickFirst clicks the first visible locator and returns it.
func ClickFirst(ctx context.Context, page Page, locs []Locator, per time.Duration) (Locator, error) {
	loc, err := FirstVisible(ctx, page, locs, per)
	if err != nil {
		return loc, err
	}
	return loc, page.Click(ctx, loc)
}

// FillFirst fills the first visible locator and returns it.
func FillFirst(ctx context.Context, page Page, locs []Locator, value string, per time.Duration) (Locator, error) {
	loc, err := FirstVisible(ctx, page, locs, per)
	if err != nil {
		return loc, err
	}
	return loc, page.Fill(ctx, loc, value)
}

// WaitAny polls all locators together until one is visible. Unlike
// FirstVisible the candidates have no priority beyond list order per poll.
func WaitAny(ctx context.Context, page Page, locs []Locator, timeout time.Duration) (Locator, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		for _, loc := range locs {
			if ok, _ := page.Visible(ctx, loc); ok {
				return loc, nil
			}
		}
		select {
		case <-ctx.Done():
			tried := make([]string, len(locs))
			for i, l := range locs {
				tried[i] = l.String()
			}
			return Locator{}, &NotFoundError{Tried: tried}
		case <-tick.C:
		}
	}
}

// RaceResult tells which condition won RaceNavigationOrVisible.
type RaceResult string

const (
	RaceNavigated RaceResult = "navigated"
	RaceVisible   RaceResult = "visible"
)

// RaceNavigationOrVisible waits for the URL to leave 'from' or for marker to
// become visible, whichever happens first.
func RaceNavigationOrVisible(ctx context.Context, page Page, from string, marker Locator, timeout time.Duration) (RaceResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result RaceResult
		err    error
	}
	results := make(chan outcome, 2)

	go func() {
		_, err := page.WaitURLChange(ctx, from, timeout)
		results <- outcome{RaceNavigated, err}
	}()
	go func() {
		err := page.WaitVisible(ctx, marker, timeout)
		results <- outcome{RaceVisible, err}
	}()

	var errs []string
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err == nil {
			return o.result, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", o.result, o.err))
	}
	return "", fmt.Errorf("%w: %s", ErrTimeout, strings.Join(errs, "; "))
}
