package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/siteforge/internal/types"
)

const ctaPage = `<html><body>
<header>
  <a href="tel:+1-555-123-4567">Call (555) 123-4567</a>
  <a href="/quote" class="btn">Get a Free Quote</a>
</header>
<main>
  <form action="/contact">
    <label>Your email</label><input name="email"><textarea name="message"></textarea>
    <button type="submit">Send</button>
  </form>
  <form role="search"><input name="q"></form>
  <p>Or call our office at 555.987.6543 today.</p>
  <script>var fallback = "555-000-1111";</script>
</main>
<footer>
  <a href="mailto:hi@acme.example?subject=Hello">hi@acme.example</a>
  <p>Phone: (555) 123-4567</p>
</footer>
</body></html>`

func TestAnalyzeCTA_Inventory(t *testing.T) {
	elements := AnalyzeCTA(ctaPage)

	assert.Equal(t, []types.CTAElement{
		{Type: types.CTATelLink, Text: "Call (555) 123-4567", Location: "header"},
		{Type: types.CTAMailto, Text: "hi@acme.example", Location: "footer"},
		{Type: types.CTAContactForm, Text: "Send", Location: "main"},
		{Type: types.CTAButton, Text: "Get a Free Quote", Location: "header"},
		{Type: types.CTAPhone, Text: "555.987.6543", Location: "body"},
	}, elements)

	for _, el := range elements {
		assert.True(t, el.Type.Valid(), "unexpected type %q", el.Type)
	}
}

func TestAnalyzeCTA_PhraseOnTelLinkIsNotDuplicated(t *testing.T) {
	elements := AnalyzeCTA(`<body><a href="tel:5551234567">Call now</a><button>Book Now</button></body>`)

	assert.Equal(t, []types.CTAElement{
		{Type: types.CTATelLink, Text: "Call now", Location: "body"},
		{Type: types.CTAButton, Text: "Book Now", Location: "body"},
	}, elements)
}

func TestAnalyzeCTA_EmptyTelLinkFallsBackToNumber(t *testing.T) {
	elements := AnalyzeCTA(`<body><nav><a href="tel:5551234567"></a></nav></body>`)
	assert.Equal(t, []types.CTAElement{
		{Type: types.CTATelLink, Text: "5551234567", Location: "nav"},
	}, elements)
}

func TestAnalyzeCTA_NoSignals(t *testing.T) {
	assert.Empty(t, AnalyzeCTA(`<html><body><p>Hello world</p><a href="/about">About</a></body></html>`))
	assert.Empty(t, AnalyzeCTA(""))
}

func TestAnalyzeCTA_LongDigitRunsAreNotPhones(t *testing.T) {
	elements := AnalyzeCTA(`<body><p>Order #123456789012 shipped. License 98765432101234.</p></body>`)
	assert.Empty(t, elements)

	elements = AnalyzeCTA(`<body><p>Order #123456789012 shipped. Questions? Call 555-123-4567.</p></body>`)
	assert.Equal(t, []types.CTAElement{
		{Type: types.CTAPhone, Text: "555-123-4567", Location: "body"},
	}, elements)
}

func TestPhoneDigits(t *testing.T) {
	assert.Equal(t, "5551234567", phoneDigits("+1 (555) 123-4567"))
	assert.Equal(t, "5551234567", phoneDigits("555.123.4567"))
	assert.Equal(t, "445551234567", phoneDigits("+44 555 123 4567"))
}
