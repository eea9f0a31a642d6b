package analysis

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/siteforge/internal/types"
)

var contactFieldKeywords = []string{
	"email", "e-mail", "phone", "tel", "message", "contact", "name", "quote",
	"estimate", "inquiry", "enquiry", "appointment", "booking", "request",
}

var ctaPhrases = []string{
	"get a quote", "get a free quote", "request a quote", "free quote", "free estimate",
	"book now", "book online", "call now", "call us", "contact us", "schedule",
	"learn more", "sign up", "get started", "request service", "get in touch",
}

var phonePattern = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)

const maxCTAText = 100

// AnalyzeCTA inventories the calls to action in html in document order within
// each category: tel links, mailto links, contact forms, CTA buttons and bare
// phone numbers. It has no side effects.
func AnalyzeCTA(html string) []types.CTAElement {
	doc := parseHTML(html)
	elements := []types.CTAElement{}
	telDigits := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "tel:"):
			number := strings.TrimSpace(href[len("tel:"):])
			telDigits[phoneDigits(number)] = true
			elements = append(elements, types.CTAElement{
				Type:     types.CTATelLink,
				Text:     linkText(s, number),
				Location: elementLocation(s),
			})
		case strings.HasPrefix(lower, "mailto:"):
			address, _, _ := strings.Cut(href[len("mailto:"):], "?")
			elements = append(elements, types.CTAElement{
				Type:     types.CTAMailto,
				Text:     linkText(s, address),
				Location: elementLocation(s),
			})
		}
	})

	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		if !isContactForm(s) {
			return
		}
		elements = append(elements, types.CTAElement{
			Type:     types.CTAContactForm,
			Text:     formLabel(s),
			Location: elementLocation(s),
		})
	})

	seen := map[string]bool{}
	doc.Find("a, button, input[type=submit], input[type=button]").Each(func(_ int, s *goquery.Selection) {
		href := strings.ToLower(strings.TrimSpace(s.AttrOr("href", "")))
		if strings.HasPrefix(href, "tel:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		text := collapseWhitespace(s.Text())
		if goquery.NodeName(s) == "input" {
			text = strings.TrimSpace(s.AttrOr("value", ""))
		}
		if text == "" || !matchesCTAPhrase(text) {
			return
		}
		location := elementLocation(s)
		key := strings.ToLower(text) + "|" + location
		if seen[key] {
			return
		}
		seen[key] = true
		elements = append(elements, types.CTAElement{
			Type:     types.CTAButton,
			Text:     truncate(text, maxCTAText),
			Location: location,
		})
	})

	for _, number := range visiblePhoneNumbers(doc) {
		digits := phoneDigits(number)
		if telDigits[digits] {
			continue
		}
		telDigits[digits] = true
		elements = append(elements, types.CTAElement{
			Type:     types.CTAPhone,
			Text:     number,
			Location: "body",
		})
	}

	return elements
}

func linkText(s *goquery.Selection, fallback string) string {
	if text := collapseWhitespace(s.Text()); text != "" {
		return truncate(text, maxCTAText)
	}
	return fallback
}

func isContactForm(form *goquery.Selection) bool {
	if strings.EqualFold(form.AttrOr("role", ""), "search") {
		return false
	}

	var b strings.Builder
	b.WriteString(form.AttrOr("id", ""))
	b.WriteString(" ")
	b.WriteString(form.AttrOr("class", ""))
	b.WriteString(" ")
	b.WriteString(form.AttrOr("action", ""))
	form.Find("input, textarea, select").Each(func(_ int, field *goquery.Selection) {
		for _, attr := range []string{"name", "id", "placeholder", "type", "aria-label"} {
			b.WriteString(" ")
			b.WriteString(field.AttrOr(attr, ""))
		}
	})
	form.Find("label").Each(func(_ int, label *goquery.Selection) {
		b.WriteString(" ")
		b.WriteString(label.Text())
	})

	haystack := strings.ToLower(b.String())
	if strings.Contains(haystack, "search") && form.Find("input, textarea, select").Length() <= 1 {
		return false
	}
	for _, keyword := range contactFieldKeywords {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

func formLabel(form *goquery.Selection) string {
	submit := form.Find("button, input[type=submit]").First()
	if submit.Length() > 0 {
		text := collapseWhitespace(submit.Text())
		if goquery.NodeName(submit) == "input" {
			text = strings.TrimSpace(submit.AttrOr("value", ""))
		}
		if text != "" {
			return truncate(text, maxCTAText)
		}
	}
	return "Contact form"
}

func matchesCTAPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range ctaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// visiblePhoneNumbers finds phone numbers in the visible text. A match that
// continues a longer digit run (order or licence numbers) is not a phone number.
func visiblePhoneNumbers(doc *goquery.Document) []string {
	text := visibleText(doc.Find("body"))
	var numbers []string
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		if loc[0] > 0 && isDigit(text[loc[0]-1]) {
			continue
		}
		numbers = append(numbers, text[loc[0]:loc[1]])
	}
	return numbers
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// phoneDigits keeps only digits and drops a leading North American country code.
func phoneDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}
