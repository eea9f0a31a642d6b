// Package observability provides formatted output for the command line.
package observability

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jonathan/siteforge/internal/generation"
	"github.com/jonathan/siteforge/internal/types"
)

const (
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
	// maxCellWidth truncates long cell values
	maxCellWidth = 50
)

// Printer handles formatted output for CLI commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(title)
	tw.Style().Title.Align = text.AlignLeft
	return tw
}

// PrintStageEvent writes one progress line for a stage event.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintStageEvent(ev types.StageEvent) {
	marker := "•"
	switch ev.Stage {
	case types.StageComplete:
		marker = "✓"
	case types.StageError:
		marker = "✗"
	}
	fmt.Fprintf(p.out, "%s [%d/%d] %-8s %s\n", marker, ev.Index, ev.Total, ev.Stage, ev.Message)
}

// PrintAudit outputs a summary of a finished or running audit.
func (p *Printer) PrintAudit(job *types.AuditJob) {
	if job == nil {
		return
	}

	tw := p.newTable("AUDIT " + job.ID.String())
	tw.AppendRow(table.Row{"URL", job.URL})
	status := string(job.Status)
	if job.Degraded {
		status += " (degraded)"
	}
	tw.AppendRow(table.Row{"Status", status})
	tw.AppendRow(table.Row{"Stages", fmt.Sprintf("%d/%d", job.CompletedStageCount, types.TotalAuditStages)})
	tw.AppendRow(table.Row{"SEO score", score(job.SEOScore)})
	tw.AppendRow(table.Row{"Mobile score", score(job.MobileScore)})

	if m := job.MetaTags; m != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Title", truncate(m.Title)})
		tw.AppendRow(table.Row{"Description", truncate(m.Description)})
		tw.AppendRow(table.Row{"H1", listSummary(m.H1)})
		tw.AppendRow(table.Row{"robots.txt", yesNo(m.RobotsTxtFound)})
	}
	if a := job.AnalyticsFlags; a != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Google Analytics", yesNo(a.GoogleAnalytics)})
		tw.AppendRow(table.Row{"Meta Pixel", yesNo(a.MetaPixel)})
		if len(a.Other) > 0 {
			tw.AppendRow(table.Row{"Other trackers", listSummary(a.Other)})
		}
	}
	if d := job.DNSInfo; d != nil {
		tw.AppendSeparator()
		registrar := "unknown"
		if d.Registrar != nil {
			registrar = *d.Registrar
		}
		tw.AppendRow(table.Row{"Registrar", registrar})
		tw.AppendRow(table.Row{"Nameservers", listSummary(d.Nameservers)})
		tw.AppendRow(table.Row{"Switchable", yesNo(d.Switchable)})
	}
	if len(job.Screenshots) > 0 {
		tw.AppendRow(table.Row{"Screenshots", strconv.Itoa(len(job.Screenshots))})
	}
	if job.Error != "" {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Error", truncate(job.Error)})
	}
	tw.Render()

	p.printCTAs(job.CTAElements)
}

func (p *Printer) printCTAs(elements []types.CTAElement) {
	if len(elements) == 0 {
		return
	}
	tw := p.newTable(fmt.Sprintf("CALLS TO ACTION (%d)", len(elements)))
	tw.AppendHeader(table.Row{"Type", "Text", "Location"})
	count := min(len(elements), maxItemsToShow)
	for _, el := range elements[:count] {
		tw.AppendRow(table.Row{el.Type, truncate(el.Text), el.Location})
	}
	if len(elements) > maxItemsToShow {
		tw.Style().Format.Footer = text.FormatDefault
		tw.AppendFooter(table.Row{"", fmt.Sprintf("... and %d more", len(elements)-maxItemsToShow), ""})
	}
	tw.Render()
}

// PrintGeneration outputs one row per attempt of a generation job.
func (p *Printer) PrintGeneration(result *generation.Result) {
	if result == nil || result.Job == nil {
		return
	}

	tw := p.newTable(fmt.Sprintf("GENERATION %s  site=%s  status=%s", result.Job.ID, result.Job.SiteID, result.Job.Status))
	tw.AppendHeader(table.Row{"Version", "Directive", "Status", "Preview / Error"})
	for _, a := range result.Attempts {
		detail := a.PreviewURL
		if a.Status == types.AttemptFailed {
			detail = truncate(a.ErrorMessage)
		}
		if a.DeploymentURL != "" {
			detail = a.DeploymentURL
		}
		tw.AppendRow(table.Row{a.Version, a.DirectiveID, a.Status, detail})
	}
	tw.Render()
}

// PrintDirectives lists the design directives in catalog order.
func (p *Printer) PrintDirectives(directives []types.DesignDirective) {
	tw := p.newTable("DESIGN DIRECTIVES")
	tw.AppendHeader(table.Row{"ID", "Name", "Layout", "Primary"})
	for _, d := range directives {
		tw.AppendRow(table.Row{d.ID, d.Name, truncate(d.Layout), d.Palette.Primary})
	}
	tw.Render()
}

func score(v *int) string {
	if v == nil {
		return "n/a"
	}
	return strconv.Itoa(*v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}

func listSummary(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	count := min(len(items), 3)
	out := strings.Join(items[:count], ", ")
	if len(items) > count {
		out += fmt.Sprintf(" (+%d)", len(items)-count)
	}
	return truncate(out)
}
