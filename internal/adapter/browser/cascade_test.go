package browser_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bravapress/bravapress/internal/adapter/browser"
	"github.com/bravapress/bravapress/internal/adapter/browser/browsertest"
)

func TestFirstVisible(t *testing.T) {
	known := browser.CSS("#buy-basic")
	near := browser.XPath("//h3[contains(., 'Basic')]/following::button[1]")
	generic := browser.XPath("//button[contains(., 'Buy Now')]")

	tests := []struct {
		name    string
		visible []browser.Locator
		want    browser.Locator
		wantErr bool
	}{
		{"first wins", []browser.Locator{known, generic}, known, false},
		{"falls through to second", []browser.Locator{near}, near, false},
		{"last resort", []browser.Locator{generic}, generic, false},
		{"none visible", nil, browser.Locator{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage()
			for _, loc := range tt.visible {
				page.Show(loc)
			}
			if len(tt.visible) == 0 {
				page.Set(known, &browsertest.Element{Visible: false})
			}

			got, err := browser.FirstVisible(context.Background(), page,
				[]browser.Locator{known, near, generic}, 5*time.Millisecond)
			if tt.wantErr {
				if !errors.Is(err, browser.ErrNotFound) {
					t.Fatalf("FirstVisible() error = %v, want ErrNotFound", err)
				}
				if !strings.Contains(err.Error(), "#buy-basic") || !strings.Contains(err.Error(), "Buy Now") {
					t.Errorf("error %q does not list every candidate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FirstVisible() error = %v", err)
			}
			if got.Query != tt.want.Query {
				t.Errorf("FirstVisible() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFirstVisible_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := browser.FirstVisible(ctx, browsertest.NewPage(), []browser.Locator{browser.CSS("#x")}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FirstVisible() error = %v, want context.Canceled", err)
	}
}

func TestClickFirst(t *testing.T) {
	page := browsertest.NewPage()
	clicked := false
	page.Set(browser.CSS("button.primary"), &browsertest.Element{
		Visible: true,
		OnClick: func(p *browsertest.Page) { clicked = true },
	})

	loc, err := browser.ClickFirst(context.Background(), page,
		[]browser.Locator{browser.CSS("#missing"), browser.CSS("button.primary")}, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("ClickFirst() error = %v", err)
	}
	if loc.Query != "button.primary" || !clicked {
		t.Errorf("ClickFirst() = %s, clicked = %v", loc, clicked)
	}
}

func TestWaitAny(t *testing.T) {
	page := browsertest.NewPage()
	banner := browser.CSS(".alert-danger")
	preview := browser.CSS("#preview")

	go func() {
		time.Sleep(20 * time.Millisecond)
		page.Show(preview)
	}()

	got, err := browser.WaitAny(context.Background(), page, []browser.Locator{banner, preview}, time.Second)
	if err != nil {
		t.Fatalf("WaitAny() error = %v", err)
	}
	if got.Query != preview.Query {
		t.Errorf("WaitAny() = %s, want %s", got, preview)
	}

	_, err = browser.WaitAny(context.Background(), browsertest.NewPage(), []browser.Locator{banner}, 10*time.Millisecond)
	if !errors.Is(err, browser.ErrNotFound) {
		t.Errorf("WaitAny() error = %v, want ErrNotFound", err)
	}
}

func TestRaceNavigationOrVisible(t *testing.T) {
	marker := browser.CSS(".user-menu")

	t.Run("navigation wins", func(t *testing.T) {
		page := browsertest.NewPage()
		page.SetURL("https://site.test/login")
		go func() {
			time.Sleep(10 * time.Millisecond)
			page.SetURL("https://site.test/dashboard")
		}()

		got, err := browser.RaceNavigationOrVisible(context.Background(), page, "https://site.test/login", marker, time.Second)
		if err != nil {
			t.Fatalf("Race() error = %v", err)
		}
		if got != browser.RaceNavigated {
			t.Errorf("Race() = %q, want %q", got, browser.RaceNavigated)
		}
	})

	t.Run("marker wins", func(t *testing.T) {
		page := browsertest.NewPage()
		page.SetURL("https://site.test/login")
		page.Show(marker)

		got, err := browser.RaceNavigationOrVisible(context.Background(), page, "https://site.test/login", marker, time.Second)
		if err != nil {
			t.Fatalf("Race() error = %v", err)
		}
		if got != browser.RaceVisible {
			t.Errorf("Race() = %q, want %q", got, browser.RaceVisible)
		}
	})

	t.Run("neither", func(t *testing.T) {
		page := browsertest.NewPage()
		page.SetURL("https://site.test/login")

		_, err := browser.RaceNavigationOrVisible(context.Background(), page, "https://site.test/login", marker, 20*time.Millisecond)
		if !errors.Is(err, browser.ErrTimeout) {
			t.Errorf("Race() error = %v, want ErrTimeout", err)
		}
	})
}

func TestLocator_String(t *testing.T) {
	if got := browser.CSS("#a").String(); got != "css:#a" {
		t.Errorf("String() = %q", got)
	}
	if got := browser.XPath("//a").Named("login link").String(); got != "login link" {
		t.Errorf("String() = %q", got)
	}
}
