package newswire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bravapress/bravapress/internal/adapter/browser"
)

var (
	css   = browser.CSS
	xpath = browser.XPath
)

// Site paths, relative to Config.BaseURL.
const (
	pathHome    = "/"
	pathLogin   = "/login"
	pathPricing = "/pricing"
	pathCompose = "/press-release/new"
)

// Session.
var (
	userMarkers = []browser.Locator{
		css(".user-menu"),
		css("[data-testid='user-menu']"),
		xpath("//a[contains(@href, '/logout')]"),
	}
	emailInputs = []browser.Locator{
		css("input[name='email']"),
		css("#email"),
		css("input[type='email']"),
	}
	passwordInputs = []browser.Locator{
		css("input[name='password']"),
		css("#password"),
		css("input[type='password']"),
	}
	loginButtons = []browser.Locator{
		css("button[type='submit']"),
		css("input[type='submit']"),
		xpath("//button[contains(normalize-space(.), 'Log In') or contains(normalize-space(.), 'Sign In')]"),
	}
	loginErrors = []browser.Locator{
		css(".login-error"),
		css(".alert-danger"),
	}
)

// Purchase.
var (
	callToActionPhrases = []string{"Buy Now", "Select", "Get Started", "Choose Plan", "Purchase"}

	creditOptions = []browser.Locator{
		css("input[name='payment_method'][value='credit']"),
		css("#use-credits"),
		xpath("//label[contains(normalize-space(.), 'Use credit')]"),
	}
	checkoutButtons = []browser.Locator{
		css("#complete-purchase"),
		css("button.checkout-submit"),
		xpath("//button[contains(normalize-space(.), 'Complete Purchase') or contains(normalize-space(.), 'Place Order')]"),
	}
	orderConfirmations = []browser.Locator{
		css("[data-order-id]"),
		css(".order-confirmation"),
	}
	orderNumbers = []browser.Locator{
		css("[data-order-id]"),
		css(".order-number"),
	}
	paymentErrors = []browser.Locator{
		css(".payment-error"),
		css(".checkout .alert-danger"),
	}
)

// tierLocators builds the purchase cascade for a package tier, most specific first.
func tierLocators(tier string) []browser.Locator {
	lower := strings.ToLower(tier)
	locs := []browser.Locator{
		css(fmt.Sprintf("[data-package=%s] button", cssString(lower))).Named("known selector"),
		css(fmt.Sprintf("[id=%s] .btn-purchase", cssString("package-"+lower))).Named("known selector (id)"),
		xpath(fmt.Sprintf(
			"//*[contains(translate(normalize-space(text()), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), %s)]"+
				"/ancestor::*[.//button or .//a[contains(@class, 'btn')]][1]//*[self::button or self::a][1]", xpathString(lower))).
			Named("text proximity"),
	}
	for _, phrase := range callToActionPhrases {
		locs = append(locs, xpath(fmt.Sprintf(
			"(//button[contains(normalize-space(.), %[1]s)] | //a[contains(normalize-space(.), %[1]s)])[1]", xpathString(phrase))).
			Named("call to action "+phrase))
	}
	locs = append(locs, browser.Script(fmt.Sprintf(domScanScript, jsString(lower))).Named("dom scan"))
	return locs
}

// cssString quotes s as a single-quoted CSS string.
func cssString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\a `).Replace(s) + "'"
}

// xpathString quotes s as an XPath 1.0 literal. XPath has no escapes, so a
// value holding both quote kinds is built with concat().
func xpathString(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	var parts []string
	for i, p := range strings.Split(s, "'") {
		if i > 0 {
			parts = append(parts, `"'"`)
		}
		if p != "" {
			parts = append(parts, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(parts, ", ") + ")"
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// domScanScript finds an actionable control inside the closest block mentioning the tier.
const domScanScript = `(() => {
	const tier = %s;
	const cta = /buy|select|purchase|choose|get started|order/i;
	const controls = Array.from(document.querySelectorAll('button, a, [role="button"], input[type="submit"]'));
	return controls.find(el => {
		const block = el.closest('section, article, li, .card, div');
		return block && block.innerText.toLowerCase().includes(tier) && cta.test(el.innerText || el.value || '');
	}) || null;
})()`

// Content entry.
type field struct {
	name     string
	locs     []browser.Locator
	required bool
}

var (
	titleField = field{"title", []browser.Locator{
		css("#title"), css("input[name='title']"),
		xpath("//label[contains(normalize-space(.), 'Title')]/following::input[1]"),
	}, true}
	summaryField = field{"summary", []browser.Locator{
		css("#summary"), css("textarea[name='summary']"), css("input[name='subtitle']"),
	}, true}
	bodyRich = []browser.Locator{
		css(".ql-editor"), css("[contenteditable='true']"),
	}
	bodyField = field{"body", []browser.Locator{
		css("textarea[name='body']"), css("#body"),
	}, true}
	cityField    = field{"city", []browser.Locator{css("input[name='city']"), css("#city")}, true}
	stateField   = field{"state", []browser.Locator{css("input[name='state']"), css("#state")}, false}
	countryField = field{"country", []browser.Locator{css("input[name='country']"), css("#location-country")}, false}
	companyField = field{"company", []browser.Locator{css("input[name='company']"), css("#company")}, false}
	contactName  = field{"contact_name", []browser.Locator{css("input[name='contact_name']"), css("#contact-name")}, true}
	contactEmail = field{"contact_email", []browser.Locator{css("input[name='contact_email']"), css("#contact-email")}, true}
	contactPhone = field{"contact_phone", []browser.Locator{css("input[name='contact_phone']"), css("#contact-phone")}, false}
	websiteField = field{"website", []browser.Locator{css("input[name='website']"), css("#website")}, false}

	releaseImmediate = []browser.Locator{
		css("input[name='release_type'][value='immediate']"),
		css("#release-now"),
	}
	releaseScheduled = []browser.Locator{
		css("input[name='release_type'][value='scheduled']"),
		css("#release-later"),
	}
	releaseDate     = field{"release_date", []browser.Locator{css("input[name='release_date']"), css("#release-date")}, true}
	releaseTime     = field{"release_time", []browser.Locator{css("input[name='release_time']"), css("#release-time")}, true}
	releaseTimezone = []browser.Locator{css("select[name='timezone']"), css("#timezone")}
)

// Advance and validate.
var (
	advanceButtons = []browser.Locator{
		css("#preview-button"),
		css("button[name='next']"),
		xpath("//button[contains(normalize-space(.), 'Preview') or contains(normalize-space(.), 'Next')]"),
	}
	previewMarkers = []browser.Locator{
		css("#release-preview"),
		css(".preview-container"),
	}
	validationBanners = []browser.Locator{
		css(".validation-errors"),
		css(".alert-danger"),
		css(".form-error"),
	}
	continueButtons = []browser.Locator{
		css("#continue-distribution"),
		xpath("//button[contains(normalize-space(.), 'Continue')]"),
	}
)

// Distribution.
var (
	industrySelects = []browser.Locator{css("select[name='industry']"), css("#industry")}
	countrySelects  = []browser.Locator{css("select[name='country']"), css("select[name='region']")}
)

// Publish.
var (
	publishButtons = []browser.Locator{
		css("#submit-for-review"),
		xpath("//button[contains(normalize-space(.), 'Submit for Review') or contains(normalize-space(.), 'Publish')]"),
	}
	confirmModals = []browser.Locator{
		css(".modal.show"),
		css("[role='dialog']"),
	}
	acknowledgementBoxes = []browser.Locator{
		css("input[name='image_rights']"),
		css("input[name='not_promotional']"),
		css("input[name='terms']"),
		css(".modal input[type='checkbox'][required]"),
	}
	confirmButtons = []browser.Locator{
		css(".modal .btn-confirm"),
		css("[role='dialog'] button[type='submit']"),
	}
	confirmLinks = []browser.Locator{
		css(".modal a.btn-confirm"),
		css(".modal a[href*='confirm']"),
	}
	successMarkers = []browser.Locator{
		css(".submission-success"),
		css("[data-release-id]"),
		xpath("//*[contains(normalize-space(.), 'submitted for review')]"),
	}
	releaseIDs = []browser.Locator{
		css("[data-release-id]"),
	}
)
