package analysis

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/siteforge/internal/types"
)

// ExternalScoreTimeout bounds the third-party mobile score lookup.
const ExternalScoreTimeout = 30 * time.Second

// ExternalScorer returns a 0-100 mobile performance score for a page.
type ExternalScorer interface {
	MobileScore(ctx context.Context, pageURL string) (int, error)
}

var (
	mediaQueryPattern  = regexp.MustCompile(`(?i)@media[^{]*\(`)
	flexGridPattern    = regexp.MustCompile(`(?i)display\s*:\s*(inline-)?(flex|grid)\b`)
	frameworkPattern   = regexp.MustCompile(`(?i)(bootstrap|tailwind|foundation|bulma|materialize)[\w.-]*\.(css|js)\b|cdn\.tailwindcss\.com`)
	breakpointPattern  = regexp.MustCompile(`\b(sm|md|lg|xl|2xl):[a-z]`)
	gridClassesPattern = regexp.MustCompile(`\bcol-(xs|sm|md|lg|xl)-\d+\b`)
)

// ScoreMobile scores html for mobile friendliness. external is the optional
// third-party score; nil means none was available. It has no side effects.
func ScoreMobile(html string, external *int) types.MobileResult {
	doc := parseHTML(html)
	result := types.MobileResult{ExternalScore: external}

	viewport, ok := metaContent(doc, "viewport")
	if ok {
		result.HasViewport = true
		result.ViewportContent = viewport
		params := parseViewport(viewport)
		result.DeviceWidth = params["width"] == "device-width"
		if scale, err := strconv.ParseFloat(params["initial-scale"], 64); err == nil && scale == 1 {
			result.InitialScaleOne = true
		}
	}
	result.ResponsiveSignals = responsiveSignals(html)

	score := 0
	if result.HasViewport {
		score += 25
		if result.DeviceWidth {
			score += 10
		}
		if result.InitialScaleOne {
			score += 5
		}
	}
	if len(result.ResponsiveSignals) > 0 {
		score += 20
	}
	if external != nil {
		score += int(math.Round(float64(clamp(*external, 0, 100)) * 0.4))
	} else if result.HasViewport && len(result.ResponsiveSignals) > 0 {
		score += 25
	}
	result.Score = clamp(score, 0, 100)
	return result
}

func parseViewport(content string) map[string]string {
	params := map[string]string{}
	for _, part := range strings.FieldsFunc(content, func(r rune) bool { return r == ',' || r == ';' }) {
		key, value, _ := strings.Cut(part, "=")
		params[strings.ToLower(strings.TrimSpace(key))] = strings.ToLower(strings.TrimSpace(value))
	}
	return params
}

func responsiveSignals(html string) []string {
	signals := []string{}
	if mediaQueryPattern.MatchString(html) {
		signals = append(signals, "media_query")
	}
	if frameworkPattern.MatchString(html) || breakpointPattern.MatchString(html) || gridClassesPattern.MatchString(html) {
		signals = append(signals, "css_framework")
	}
	if flexGridPattern.MatchString(html) {
		signals = append(signals, "flex_grid")
	}
	return signals
}

// MobileAnalyzer combines ScoreMobile with an optional external scorer.
type MobileAnalyzer struct {
	scorer  ExternalScorer
	timeout time.Duration
}

// NewMobileAnalyzer creates a mobile analyzer. scorer may be nil.
func NewMobileAnalyzer(scorer ExternalScorer) *MobileAnalyzer {
	return &MobileAnalyzer{scorer: scorer, timeout: ExternalScoreTimeout}
}

// Analyze scores html served from pageURL. A failed external lookup leaves the
// external score nil.
func (a *MobileAnalyzer) Analyze(ctx context.Context, html, pageURL string) types.MobileResult {
	return ScoreMobile(html, a.externalScore(ctx, pageURL))
}

func (a *MobileAnalyzer) externalScore(ctx context.Context, pageURL string) *int {
	if a.scorer == nil || pageURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	score, err := a.scorer.MobileScore(ctx, pageURL)
	if err != nil {
		return nil
	}
	return &score
}
