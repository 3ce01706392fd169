package newswire

import (
	"strings"
	"testing"

	"github.com/bravapress/bravapress/internal/adapter/browser"
)

func TestMatchOption(t *testing.T) {
	opts := []browser.Option{
		{Value: "", Text: "Choose an industry"},
		{Value: "biotech", Text: "Biotechnology & Technology Services"},
		{Value: "tech", Text: "Technology"},
		{Value: "us", Text: "United States"},
	}

	tests := []struct {
		want  string
		value string
		ok    bool
	}{
		{"technology", "tech", true},
		{"  TECHNOLOGY ", "tech", true},
		{"biotech", "biotech", true},
		{"united", "us", true},
		{"choose", "", false},
		{"France", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := matchOption(opts, tt.want)
		if ok != tt.ok || got.Value != tt.value {
			t.Errorf("matchOption(%q) = %q, %v; want %q, %v", tt.want, got.Value, ok, tt.value, tt.ok)
		}
	}
}

func TestBodyHTML(t *testing.T) {
	got := bodyHTML("First <b>line</b>\nsame para\r\n\r\n\n\nSecond")
	want := "<p>First &lt;b&gt;line&lt;/b&gt;<br>same para</p><p>Second</p>"
	if got != want {
		t.Errorf("bodyHTML() = %q, want %q", got, want)
	}
}

func TestTierLocators(t *testing.T) {
	locs := tierLocators("Premium")
	if locs[0].Query != "[data-package='premium'] button" {
		t.Errorf("first strategy = %s", locs[0].Query)
	}
	last := locs[len(locs)-1]
	if last.Kind != browser.KindScript || !strings.Contains(last.Query, `"premium"`) {
		t.Errorf("last strategy = %s %s", last.Kind, last.Query)
	}
	if len(locs) != 3+len(callToActionPhrases)+1 {
		t.Errorf("got %d strategies", len(locs))
	}
}

func TestTierLocators_QuotesTier(t *testing.T) {
	locs := tierLocators(`Pro's "Choice"`)

	if want := `[data-package='pro\'s "choice"'] button`; locs[0].Query != want {
		t.Errorf("css = %s, want %s", locs[0].Query, want)
	}
	if want := `[id='package-pro\'s "choice"'] .btn-purchase`; locs[1].Query != want {
		t.Errorf("id css = %s, want %s", locs[1].Query, want)
	}
	if want := `concat('pro', "'", 's "choice"')`; !strings.Contains(locs[2].Query, want) {
		t.Errorf("xpath = %s, want literal %s", locs[2].Query, want)
	}
	last := locs[len(locs)-1]
	if !strings.Contains(last.Query, `const tier = "pro's \"choice\"";`) {
		t.Errorf("script = %s", last.Query)
	}
}

func TestXPathString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"basic", `'basic'`},
		{"pro's", `"pro's"`},
		{`say "hi"`, `'say "hi"'`},
		{`'"`, `concat("'", '"')`},
	}
	for _, tt := range tests {
		if got := xpathString(tt.in); got != tt.want {
			t.Errorf("xpathString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOrderPattern(t *testing.T) {
	m := orderPattern.FindStringSubmatch("https://newswire.test/account/orders/ORD-991?ok=1")
	if m == nil || m[1] != "ORD-991" {
		t.Errorf("orderPattern match = %v", m)
	}
}
