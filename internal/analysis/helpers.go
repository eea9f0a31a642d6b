// Package analysis provides the deterministic page analyzers used by the audit
// pipeline: SEO, mobile friendliness, calls to action, analytics tags and DNS.
package analysis

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// parseHTML never fails the caller: unparseable input yields an empty document.
func parseHTML(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return doc
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clamp(score, low, high int) int {
	if score < low {
		return low
	}
	if score > high {
		return high
	}
	return score
}

// metaContent returns the content of the first <meta name=...> matching name
// case-insensitively, and whether such a tag exists.
func metaContent(doc *goquery.Document, name string) (string, bool) {
	var (
		content string
		found   bool
	)
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(s.AttrOr("name", "")), name) {
			content = strings.TrimSpace(s.AttrOr("content", ""))
			found = true
			return false
		}
		return true
	})
	return content, found
}

// elementLocation names the page region an element sits in.
func elementLocation(s *goquery.Selection) string {
	for node := s; node.Length() > 0; node = node.Parent() {
		switch goquery.NodeName(node) {
		case "header", "nav", "footer", "main", "aside":
			return goquery.NodeName(node)
		case "body", "html":
			return "body"
		}
		marker := strings.ToLower(node.AttrOr("id", "") + " " + node.AttrOr("class", ""))
		for _, region := range []string{"header", "footer", "hero", "nav", "sidebar"} {
			if strings.Contains(marker, region) {
				return region
			}
		}
	}
	return "body"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// visibleText joins the text nodes under sel with spaces, skipping script-like
// elements.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
