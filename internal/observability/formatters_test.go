package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/siteforge/internal/generation"
	"github.com/jonathan/siteforge/internal/types"
)

func TestPrintStageEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintStageEvent(types.StageEvent{Index: 1, Total: 4, Stage: types.StageSEO, Message: "seo analysis complete"})
	p.PrintStageEvent(types.StageEvent{Index: 4, Total: 4, Stage: types.StageComplete, Message: "audit complete"})
	p.PrintStageEvent(types.StageEvent{Index: 0, Total: 4, Stage: types.StageError, Message: "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[1/4] seo")
	assert.True(t, strings.HasPrefix(lines[1], "✓"))
	assert.True(t, strings.HasPrefix(lines[2], "✗"))
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	seo, mobile := 85, 60
	registrar := "GoDaddy"
	job := &types.AuditJob{
		ID:                  uuid.New(),
		URL:                 "https://acme.example",
		Status:              types.AuditStatusComplete,
		SEOScore:            &seo,
		MobileScore:         &mobile,
		CompletedStageCount: 4,
		Degraded:            true,
		MetaTags:            &types.MetaTags{Title: "Acme Plumbing", H1: []string{"Fast plumbing", "Call now", "Since 1990", "Local"}},
		AnalyticsFlags:      &types.AnalyticsFlags{GoogleAnalytics: true},
		DNSInfo:             &types.DNSInfo{Nameservers: []string{"ns1.domaincontrol.com"}, Registrar: &registrar, Switchable: true},
		CTAElements: []types.CTAElement{
			{Type: types.CTATelLink, Text: "Call us", Location: "header"},
		},
	}

	p.PrintAudit(job)
	output := buf.String()

	assert.Contains(t, output, "AUDIT "+job.ID.String())
	assert.Contains(t, output, "complete (degraded)")
	assert.Contains(t, output, "85")
	assert.Contains(t, output, "GoDaddy")
	assert.Contains(t, output, "(+1)")
	assert.Contains(t, output, "CALLS TO ACTION (1)")
	assert.Contains(t, output, "tel_link")
}

func TestPrintAudit_MissingScores(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintAudit(&types.AuditJob{ID: uuid.New(), Status: types.AuditStatusError, Error: "dns lookup failed"})
	output := buf.String()

	assert.Contains(t, output, "n/a")
	assert.Contains(t, output, "dns lookup failed")
	assert.NotContains(t, output, "CALLS TO ACTION")
}

func TestPrintAudit_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintAudit(nil)
	assert.Empty(t, buf.String())
}

func TestPrintCTAs_Truncates(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	var elements []types.CTAElement
	for i := 0; i < 8; i++ {
		elements = append(elements, types.CTAElement{Type: types.CTAButton, Text: "Get a quote", Location: "body"})
	}
	p.printCTAs(elements)

	assert.Contains(t, buf.String(), "and 3 more")
}

func TestPrintGeneration(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	jobID := uuid.New()
	p.PrintGeneration(&generation.Result{
		Job: &types.GenerationJob{ID: jobID, SiteID: "acme", Status: types.JobStatusSucceeded},
		Attempts: []types.GenerationAttempt{
			{Version: 1, DirectiveID: types.DirectiveModernMinimal, Status: types.AttemptReady, PreviewURL: "https://preview.example/acme/v1"},
			{Version: 2, DirectiveID: types.DirectiveBoldTrades, Status: types.AttemptFailed, ErrorMessage: "bundle has no package.json"},
		},
	})
	output := buf.String()

	assert.Contains(t, output, "site=acme")
	assert.Contains(t, output, "https://preview.example/acme/v1")
	assert.Contains(t, output, "bundle has no package.json")
}

func TestPrintDirectives(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintDirectives([]types.DesignDirective{
		{ID: types.DirectiveWarmLocal, Name: "Warm Local", Layout: "story-led", Palette: types.Palette{Primary: "#b45309"}},
	})

	assert.Contains(t, buf.String(), "warm-local")
	assert.Contains(t, buf.String(), "#b45309")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", truncate("  a\n b "))
	long := strings.Repeat("x", 80)
	assert.Len(t, truncate(long), maxCellWidth)
	assert.True(t, strings.HasSuffix(truncate(long), "..."))
}
