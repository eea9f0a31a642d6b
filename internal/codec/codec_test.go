package codec

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/siteforge/internal/directives"
	"github.com/jonathan/siteforge/internal/types"
)

func intPtr(v int) *int { return &v }

func testDirective(t *testing.T) types.DesignDirective {
	t.Helper()
	c, err := directives.Default()
	require.NoError(t, err)
	d, ok := c.Get(types.DirectiveBoldTrades)
	require.True(t, ok)
	return d
}

func TestBuild_IncludesEverySection(t *testing.T) {
	profile := types.BusinessProfile{Name: "Acme Plumbing", Industry: "plumbing", Phone: "(555) 123-4567"}
	job := &types.AuditJob{
		URL:         "https://acme.test/",
		SEOScore:    intPtr(62),
		MobileScore: intPtr(40),
		MetaTags:    &types.MetaTags{Title: "Home"},
		CTAElements: []types.CTAElement{{Type: types.CTATelLink, Text: "Call", Location: "header"}},
		AnalyticsFlags: &types.AnalyticsFlags{
			GoogleAnalytics: true,
			Other:           []string{},
		},
	}

	p, err := Build(profile, FindingsFromAudit(job), testDirective(t), ModeInline)
	require.NoError(t, err)

	assert.Contains(t, p.System, "Next.js")
	assert.Contains(t, p.User, `"name": "Acme Plumbing"`)
	assert.Contains(t, p.User, `"seo_score": 62`)
	assert.Contains(t, p.User, `"type": "tel_link"`)
	assert.Contains(t, p.User, `"id": "bold-trades"`)
	assert.Contains(t, p.User, `"primary": "#F59E0B"`)
	assert.Contains(t, p.User, "1. Include the files app/page.tsx, app/layout.tsx, package.json.")
	assert.Contains(t, p.User, "Do not import any package that package.json does not declare.")
	assert.Contains(t, p.User, "Respond with a single JSON object")
}

func TestBuild_WorkspaceMode(t *testing.T) {
	p, err := Build(types.BusinessProfile{Name: "Acme"}, FindingsFromAudit(nil), testDirective(t), ModeWorkspace)
	require.NoError(t, err)
	assert.Contains(t, p.User, "Write every file into the current working directory")
	assert.NotContains(t, p.User, "Respond with a single JSON object")
	assert.Contains(t, p.User, `"cta_elements": []`)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want types.ArtifactBundle
	}{
		{
			name: "plain object",
			text: `{"app/page.tsx": "page", "package.json": "{}"}`,
			want: types.ArtifactBundle{"app/page.tsx": "page", "package.json": "{}"},
		},
		{
			name: "fenced with preamble",
			text: "Here is the site:\n```json\n{\"app/page.tsx\": \"page\"}\n```\nLet me know!",
			want: types.ArtifactBundle{"app/page.tsx": "page"},
		},
		{
			name: "surrounding prose without fence",
			text: `Sure! {"README.md": "# Acme"} Done.`,
			want: types.ArtifactBundle{"README.md": "# Acme"},
		},
		{
			name: "fence inside file content",
			text: `{"README.md": "Run:\n` + "```" + `\nnpm run dev\n` + "```" + `"}`,
			want: types.ArtifactBundle{"README.md": "Run:\n```\nnpm run dev\n```"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no object", "I could not build the site."},
		{"truncated", `{"app/page.tsx": "export`},
		{"nested", `{"app": {"page.tsx": "x"}}`},
		{"non-string value", `{"package.json": {"name": "acme"}}`},
		{"empty object", `{}`},
		{"array", `["app/page.tsx"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text)
			assert.False(t, ok)
			assert.Nil(t, got)

			_, err := ParseStrict(tt.text)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestParse_LargeBundle(t *testing.T) {
	files := map[string]string{}
	for _, p := range []string{"app/page.tsx", "app/layout.tsx", "package.json", "components/Hero.tsx"} {
		files[p] = strings.Repeat("x", 2048)
	}
	data, err := json.Marshal(files)
	require.NoError(t, err)

	got, ok := Parse("```json\n" + string(data) + "\n```")
	require.True(t, ok)
	assert.Len(t, got, 4)
	assert.Equal(t, 4*2048, got.Size())
}
