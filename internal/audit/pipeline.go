// Package audit runs the staged website audit and records its progress.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/siteforge/internal/analysis"
	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/metrics"
	"github.com/jonathan/siteforge/internal/types"
)

// Fetcher retrieves the audit target.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*types.CrawlResult, error)
}

// Screenshotter captures and stores renderings of a page.
type Screenshotter interface {
	Capture(ctx context.Context, auditID, pageURL string) ([]string, error)
}

// Analyzers groups the network-backed analyzers. The CTA and analytics
// analyzers are plain functions.
type Analyzers struct {
	SEO    *analysis.SEOAnalyzer
	Mobile *analysis.MobileAnalyzer
	DNS    *analysis.DNSAnalyzer
}

// Pipeline runs the four audit stages in order for one job at a time.
type Pipeline struct {
	fetcher     Fetcher
	analyzers   Analyzers
	screenshots Screenshotter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithScreenshots enables best-effort screenshot capture in stage 1.
func WithScreenshots(s Screenshotter) PipelineOption {
	return func(p *Pipeline) { p.screenshots = s }
}

// WithMetrics records stage durations.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline. Nil analyzers are replaced with ones that
// skip network lookups.
func NewPipeline(fetcher Fetcher, analyzers Analyzers, opts ...PipelineOption) *Pipeline {
	if analyzers.SEO == nil {
		analyzers.SEO = analysis.NewSEOAnalyzer(nil)
	}
	if analyzers.Mobile == nil {
		analyzers.Mobile = analysis.NewMobileAnalyzer(nil)
	}
	if analyzers.DNS == nil {
		analyzers.DNS = analysis.NewDNSAnalyzer(nil)
	}
	p := &Pipeline{
		fetcher:   fetcher,
		analyzers: analyzers,
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the stages for job in a new goroutine and returns the channel of
// their events. The channel yields crawling, seo, mobile, cta, dns and then
// exactly one terminal event (complete or error) before it is closed. Each
// event carries the cumulative snapshot; Index is the number of completed
// stages.
func (p *Pipeline) Run(ctx context.Context, job *types.AuditJob) <-chan types.StageEvent {
	events := make(chan types.StageEvent, types.TotalAuditStages+3)
	jobID := job.ID.String()
	targetURL := job.URL

	go func() {
		defer close(events)
		r := &run{p: p, events: events, logger: logging.WithJob(p.logger, jobID)}
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("audit pipeline panicked", slog.Any("panic", rec))
				r.emit(types.StageError, r.completed, fmt.Sprintf("audit failed: %v", rec))
			}
		}()
		r.execute(ctx, jobID, targetURL)
	}()
	return events
}

type run struct {
	p         *Pipeline
	events    chan<- types.StageEvent
	logger    *slog.Logger
	snapshot  types.AuditSnapshot
	completed int
}

func (r *run) emit(stage types.StageName, index int, message string) {
	snap := r.snapshot
	if len(snap.CTAElements) > 0 {
		snap.CTAElements = append([]types.CTAElement(nil), snap.CTAElements...)
	}
	if len(snap.Screenshots) > 0 {
		snap.Screenshots = append([]string(nil), snap.Screenshots...)
	}
	r.events <- types.StageEvent{
		Index:     index,
		Total:     types.TotalAuditStages,
		Stage:     stage,
		Message:   message,
		Snapshot:  &snap,
		Timestamp: r.p.now(),
	}
}

// stage times fn and emits its event once it returns.
func (r *run) stage(ctx context.Context, name types.StageName, message string, fn func()) bool {
	if err := ctx.Err(); err != nil {
		r.emit(types.StageError, r.completed, fmt.Sprintf("audit cancelled: %v", err))
		return false
	}
	start := time.Now()
	fn()
	r.p.metrics.ObserveStage(string(name), time.Since(start))
	r.completed++
	r.emit(name, r.completed, message)
	return true
}

func (r *run) execute(ctx context.Context, jobID, targetURL string) {
	p := r.p
	r.emit(types.StageCrawling, 0, "Fetching "+targetURL)

	html, pageURL := r.crawl(ctx, targetURL)

	if !r.stage(ctx, types.StageSEO, "SEO and analytics analysis complete", func() {
		if p.screenshots != nil && html != "" {
			refs, err := p.screenshots.Capture(ctx, jobID, pageURL)
			if err != nil {
				logging.WithError(r.logger, err).Warn("screenshot capture failed")
			}
			r.snapshot.Screenshots = refs
		}
		seo := p.analyzers.SEO.Analyze(ctx, html, pageURL)
		analytics := analysis.AnalyzeAnalytics(html)
		r.snapshot.SEOScore = &seo.Score
		r.snapshot.MetaTags = &seo.MetaTags
		r.snapshot.AnalyticsFlags = &analytics
	}) {
		return
	}

	if !r.stage(ctx, types.StageMobile, "Mobile analysis complete", func() {
		mobile := p.analyzers.Mobile.Analyze(ctx, html, pageURL)
		r.snapshot.MobileScore = &mobile.Score
	}) {
		return
	}

	if !r.stage(ctx, types.StageCTA, "Call-to-action analysis complete", func() {
		r.snapshot.CTAElements = analysis.AnalyzeCTA(html)
	}) {
		return
	}

	if !r.stage(ctx, types.StageDNS, "DNS analysis complete", func() {
		dns := p.analyzers.DNS.Analyze(ctx, pageURL)
		r.snapshot.DNSInfo = &dns
	}) {
		return
	}

	r.emit(types.StageComplete, r.completed, "Audit complete")
}

// crawl fetches the target. Any failure degrades to an empty document so the
// remaining stages still run.
func (r *run) crawl(ctx context.Context, targetURL string) (html, pageURL string) {
	start := time.Now()
	defer func() { r.p.metrics.ObserveStage(string(types.StageCrawling), time.Since(start)) }()

	result, err := r.p.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		logging.WithError(r.logger, err).Warn("fetch failed, continuing with empty document")
		return "", targetURL
	}
	pageURL = targetURL
	if result.FinalURL != "" {
		pageURL = result.FinalURL
	}
	if !result.OK() {
		r.logger.Warn("fetch returned non-success status", slog.Int("status", result.StatusCode))
		return "", pageURL
	}
	return result.HTML, pageURL
}
