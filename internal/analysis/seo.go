package analysis

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/siteforge/internal/types"
)

// RobotsTimeout bounds the robots.txt lookup.
const RobotsTimeout = 10 * time.Second

// Fetcher is the subset of the safe fetcher the analyzers need.
type Fetcher interface {
	FetchWithTimeout(ctx context.Context, rawURL string, timeout time.Duration) (*types.CrawlResult, error)
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"for": true, "from": true, "home": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "our": true, "page": true, "the": true, "to": true, "we": true, "welcome": true,
	"with": true, "you": true, "your": true,
}

// ExtractMetaTags pulls title, description, headings, robots and lang from html.
func ExtractMetaTags(html string) types.MetaTags {
	doc := parseHTML(html)

	meta := types.MetaTags{
		Title: collapseWhitespace(doc.Find("title").First().Text()),
		H1:    headingTexts(doc, "h1"),
		H2:    headingTexts(doc, "h2"),
		Lang:  strings.TrimSpace(doc.Find("html").First().AttrOr("lang", "")),
	}
	meta.Description, _ = metaContent(doc, "description")
	meta.Robots, _ = metaContent(doc, "robots")
	return meta
}

func headingTexts(doc *goquery.Document, tag string) []string {
	out := []string{}
	doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
		out = append(out, collapseWhitespace(s.Text()))
	})
	return out
}

// ScoreSEO computes the additive 0-100 SEO score for extracted metadata.
func ScoreSEO(meta types.MetaTags) int {
	score := 0

	if meta.Title != "" {
		score += 15
		if n := utf8.RuneCountInString(meta.Title); n >= 15 && n <= 60 {
			score += 5
		}
	}
	if meta.Description != "" {
		score += 15
		if n := utf8.RuneCountInString(meta.Description); n >= 50 && n <= 160 {
			score += 5
		}
	}
	switch {
	case len(meta.H1) == 1:
		score += 15
	case len(meta.H1) > 1:
		score += 8
	}
	if len(meta.H2) > 0 {
		score += 10
		if len(meta.H2) >= 2 && len(meta.H2) <= 8 {
			score += 5
		}
	}
	if !strings.Contains(strings.ToLower(meta.Robots), "noindex") {
		score += 10
	}
	if meta.RobotsTxtFound {
		score += 5
	}
	if keywordOverlap(meta.Title, meta.H1) {
		score += 10
	}
	if meta.Lang != "" {
		score += 5
	}

	return clamp(score, 0, 100)
}

// AnalyzeSEO scores html given whether the origin serves a robots.txt. It has
// no side effects.
func AnalyzeSEO(html string, robotsTxtFound bool) types.SEOResult {
	meta := ExtractMetaTags(html)
	meta.RobotsTxtFound = robotsTxtFound
	return types.SEOResult{Score: ScoreSEO(meta), MetaTags: meta}
}

func keywordOverlap(title string, h1s []string) bool {
	titleTokens := keywordTokens(title)
	if len(titleTokens) == 0 {
		return false
	}
	for _, h1 := range h1s {
		for token := range keywordTokens(h1) {
			if titleTokens[token] {
				return true
			}
		}
	}
	return false
}

func keywordTokens(s string) map[string]bool {
	tokens := map[string]bool{}
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens[f] = true
	}
	return tokens
}

// SEOAnalyzer adds the robots.txt lookup to AnalyzeSEO.
type SEOAnalyzer struct {
	fetcher Fetcher
	timeout time.Duration
}

// NewSEOAnalyzer creates an SEO analyzer. A nil fetcher skips the robots.txt lookup.
func NewSEOAnalyzer(fetcher Fetcher) *SEOAnalyzer {
	return &SEOAnalyzer{fetcher: fetcher, timeout: RobotsTimeout}
}

// Analyze scores html fetched from pageURL.
func (a *SEOAnalyzer) Analyze(ctx context.Context, html, pageURL string) types.SEOResult {
	return AnalyzeSEO(html, a.RobotsTxtExists(ctx, pageURL))
}

// RobotsTxtExists reports whether the origin of pageURL serves a real
// robots.txt. HTML served at that path (soft 404s) does not count.
func (a *SEOAnalyzer) RobotsTxtExists(ctx context.Context, pageURL string) bool {
	if a.fetcher == nil {
		return false
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return false
	}
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()

	result, err := a.fetcher.FetchWithTimeout(ctx, robotsURL, a.timeout)
	if err != nil || !result.OK() {
		return false
	}
	lower := strings.ToLower(result.HTML)
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype") {
		return false
	}
	return true
}
