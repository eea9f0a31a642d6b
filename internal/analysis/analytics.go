package analysis

import (
	"regexp"

	"github.com/jonathan/siteforge/internal/types"
)

type signature struct {
	tool    string
	pattern *regexp.Regexp
}

var (
	googleAnalyticsSignatures = []*regexp.Regexp{
		regexp.MustCompile(`gtag\(\s*['"]config['"]\s*,\s*['"](G|UA|AW)-[A-Z0-9-]+['"]`),
		regexp.MustCompile(`googletagmanager\.com/gtag/js`),
		regexp.MustCompile(`google-analytics\.com/(analytics|ga)\.js`),
		regexp.MustCompile(`_gaq\.push|ga\(\s*['"]create['"]`),
	}
	metaPixelSignatures = []*regexp.Regexp{
		regexp.MustCompile(`fbq\(\s*['"]init['"]`),
		regexp.MustCompile(`connect\.facebook\.net/[^"']*/fbevents\.js`),
	}
	otherSignatures = []signature{
		{"google_tag_manager", regexp.MustCompile(`googletagmanager\.com/gtm\.js|GTM-[A-Z0-9]{4,}`)},
		{"hotjar", regexp.MustCompile(`static\.hotjar\.com|hjSiteSettings`)},
		{"fullstory", regexp.MustCompile(`fullstory\.com/s/fs\.js|_fs_org`)},
		{"microsoft_clarity", regexp.MustCompile(`clarity\.ms/tag`)},
		{"hubspot", regexp.MustCompile(`js\.hs-scripts\.com|js\.hsforms\.net|js\.hs-analytics\.net`)},
		{"salesforce_pardot", regexp.MustCompile(`pi\.pardot\.com|piAId`)},
		{"intercom", regexp.MustCompile(`widget\.intercom\.io|intercomSettings`)},
		{"segment", regexp.MustCompile(`cdn\.segment\.com/analytics\.js`)},
		{"tiktok_pixel", regexp.MustCompile(`analytics\.tiktok\.com`)},
		{"linkedin_insight", regexp.MustCompile(`snap\.licdn\.com/li\.lms-analytics`)},
		{"bing_uet", regexp.MustCompile(`bat\.bing\.com/bat\.js`)},
		{"callrail", regexp.MustCompile(`cdn\.callrail\.com`)},
	}
)

// AnalyzeAnalytics reports which tracking tools html loads. It has no side
// effects.
func AnalyzeAnalytics(html string) types.AnalyticsFlags {
	flags := types.AnalyticsFlags{
		GoogleAnalytics: matchesAny(html, googleAnalyticsSignatures),
		MetaPixel:       matchesAny(html, metaPixelSignatures),
		Other:           []string{},
	}
	for _, sig := range otherSignatures {
		if sig.pattern.MatchString(html) {
			flags.Other = append(flags.Other, sig.tool)
		}
	}
	return flags
}

func matchesAny(html string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(html) {
			return true
		}
	}
	return false
}
