package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/metrics"
	"github.com/jonathan/siteforge/internal/progress"
	"github.com/jonathan/siteforge/internal/retry"
	"github.com/jonathan/siteforge/internal/safefetch"
	"github.com/jonathan/siteforge/internal/types"
)

// DefaultTimeout bounds a whole audit run.
const DefaultTimeout = 3 * time.Minute

// finalWriteTimeout bounds the terminal write including its retries.
const finalWriteTimeout = 30 * time.Second

// Store persists audit jobs. UpdateAuditStage must never lower the stored
// completed stage count.
type Store interface {
	CreateAudit(ctx context.Context, job *types.AuditJob) error
	GetAudit(ctx context.Context, id uuid.UUID) (*types.AuditJob, error)
	UpdateAuditStage(ctx context.Context, id uuid.UUID, completed int, snapshot *types.AuditSnapshot) error
	FinishAudit(ctx context.Context, id uuid.UUID, completion types.AuditCompletion) error
}

// URLValidator rejects targets the fetcher may not contact.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) (*url.URL, error)
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Pipeline  *Pipeline
	Validator URLValidator
	Store     Store
	Bridge    progress.Bridge
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Timeout   time.Duration
	Retry     retry.Policy
}

// Service starts audits, persists their progress and answers status queries.
type Service struct {
	pipeline  *Pipeline
	validator URLValidator
	store     Store
	bridge    progress.Bridge
	metrics   *metrics.Metrics
	logger    *slog.Logger
	timeout   time.Duration
	retry     retry.Policy
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		pipeline:  cfg.Pipeline,
		validator: cfg.Validator,
		store:     cfg.Store,
		bridge:    cfg.Bridge,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
		retry:     cfg.Retry,
		now:       time.Now,
	}
	if s.bridge == nil {
		s.bridge = progress.NewMemory()
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.retry.Attempts == 0 {
		s.retry = retry.DefaultPolicy
	}
	return s
}

// Start validates rawURL, records a new job and runs it in the background.
// A blocked target is returned as a *safefetch.BlockedError and creates no job.
// A pre-check that fails without blocking (DNS timeout) still creates the job;
// its fetch then fails softly inside the pipeline.
func (s *Service) Start(ctx context.Context, rawURL string) (*types.AuditJob, error) {
	job, err := s.create(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	snapshot := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), job)
	}()
	return &snapshot, nil
}

// RunSync validates rawURL, records a new job and runs it to completion.
func (s *Service) RunSync(ctx context.Context, rawURL string) (*types.AuditJob, error) {
	job, err := s.create(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, job), nil
}

// Wait blocks until every background audit has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) create(ctx context.Context, rawURL string) (*types.AuditJob, error) {
	normalized, err := s.validator.Validate(ctx, rawURL)
	if err != nil {
		var blocked *safefetch.BlockedError
		if errors.As(err, &blocked) {
			s.metrics.FetchBlocked(blocked.Reason)
			return nil, err
		}
		if normalized == nil {
			return nil, err
		}
		logging.WithError(s.logger, err).Warn("target pre-check failed, auditing anyway", slog.String("url", normalized.String()))
	}

	now := s.now().UTC()
	job := &types.AuditJob{
		ID:          uuid.New(),
		URL:         normalized.String(),
		Status:      types.AuditStatusRunning,
		CTAElements: []types.CTAElement{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAudit(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create audit job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.AuditsStarted.Inc()
	}
	return job, nil
}

// run consumes the pipeline's events. Stage writes are best-effort and mark
// the job degraded when they fail; the terminal write is retried.
func (s *Service) run(ctx context.Context, job *types.AuditJob) *types.AuditJob {
	jobID := job.ID.String()
	logger := logging.WithJob(s.logger, jobID)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	degraded := false
	var terminal types.StageEvent
	for ev := range s.pipeline.Run(runCtx, job) {
		ev.Snapshot.Apply(job)
		job.CompletedStageCount = ev.Index
		job.UpdatedAt = s.now().UTC()

		if ev.Stage.Terminal() {
			terminal = ev
			continue
		}
		if ev.Stage != types.StageCrawling {
			if err := s.store.UpdateAuditStage(runCtx, job.ID, ev.Index, ev.Snapshot); err != nil {
				degraded = true
				s.metrics.PersistFailed("stage_update")
				logging.WithError(logger, err).Error("failed to persist audit stage; stored record will lag",
					slog.String("stage", string(ev.Stage)))
			}
		}
		s.push(runCtx, logger, jobID, ev)
	}

	if !terminal.Stage.Terminal() {
		terminal = types.StageEvent{
			Index:     job.CompletedStageCount,
			Total:     types.TotalAuditStages,
			Stage:     types.StageError,
			Message:   "audit ended without a result",
			Snapshot:  job.Snapshot(),
			Timestamp: s.now(),
		}
	}

	job.Status = types.AuditStatusComplete
	if terminal.Stage == types.StageError {
		job.Status = types.AuditStatusError
		job.Error = terminal.Message
	}

	if err := s.finish(ctx, job, degraded); err != nil {
		degraded = true
		s.metrics.PersistFailed("finish")
		logging.WithError(logger, err).Error("failed to persist terminal audit state after retries")
	}
	job.Degraded = degraded
	if degraded {
		terminal.Message += " (some results could not be saved)"
	}
	s.push(ctx, logger, jobID, terminal)

	s.metrics.AuditFinished(string(job.Status), degraded)
	logger.Info("audit finished",
		slog.String("status", string(job.Status)),
		slog.Int("completed_stages", job.CompletedStageCount),
		slog.Bool("degraded", degraded))
	return job
}

func (s *Service) finish(ctx context.Context, job *types.AuditJob, degraded bool) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	completion := types.AuditCompletion{
		Status:              job.Status,
		CompletedStageCount: job.CompletedStageCount,
		Snapshot:            job.Snapshot(),
		Degraded:            degraded,
		Error:               job.Error,
	}
	return retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.FinishAudit(ctx, job.ID, completion)
	})
}

func (s *Service) push(ctx context.Context, logger *slog.Logger, jobID string, ev types.StageEvent) {
	if err := s.bridge.Push(context.WithoutCancel(ctx), jobID, ev); err != nil {
		s.metrics.PersistFailed("bridge_push")
		logging.WithError(logger, err).Warn("failed to publish stage event", slog.String("stage", string(ev.Stage)))
	}
}

// Get returns the persisted audit job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*types.AuditJob, error) {
	return s.store.GetAudit(ctx, id)
}

// Events reads the raw event log after a cursor.
func (s *Service) Events(ctx context.Context, id uuid.UUID, after int) (*progress.Page, error) {
	return s.bridge.Read(ctx, id.String(), after)
}

// Status is the polling view of an audit.
type Status struct {
	JobID    uuid.UUID            `json:"job_id"`
	Status   types.AuditStatus    `json:"status"`
	Stage    types.StageName      `json:"stage"`
	Index    int                  `json:"index"`
	Total    int                  `json:"total"`
	Complete bool                 `json:"complete"`
	Degraded bool                 `json:"degraded"`
	Message  string               `json:"message,omitempty"`
	Snapshot *types.AuditSnapshot `json:"snapshot,omitempty"`
	Cursor   int                  `json:"cursor"`
}

// Status reports the latest stage and snapshot of an audit. It reads the
// event log first and falls back to the persisted record when the log is
// empty, as it is on a process that did not run the audit.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Status, error) {
	page, err := s.bridge.Read(ctx, id.String(), 0)
	if err != nil {
		logging.WithError(s.logger, err).Warn("event log read failed, using stored record")
	}
	if err == nil && len(page.Events) > 0 {
		last := page.Events[len(page.Events)-1]
		st := &Status{
			JobID:    id,
			Status:   types.AuditStatusRunning,
			Stage:    last.Stage,
			Index:    last.Index,
			Total:    last.Total,
			Complete: page.Complete,
			Message:  last.Message,
			Snapshot: last.Snapshot,
			Cursor:   page.Cursor,
		}
		if page.Complete {
			st.Status = types.AuditStatusComplete
			if last.Stage == types.StageError {
				st.Status = types.AuditStatusError
			}
			if job, err := s.store.GetAudit(ctx, id); err == nil {
				st.Degraded = job.Degraded
			}
		}
		return st, nil
	}

	job, err := s.store.GetAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusFromJob(job), nil
}

func statusFromJob(job *types.AuditJob) *Status {
	st := &Status{
		JobID:    job.ID,
		Status:   job.Status,
		Index:    job.CompletedStageCount,
		Total:    types.TotalAuditStages,
		Complete: job.IsTerminal(),
		Degraded: job.Degraded,
		Message:  job.Error,
		Snapshot: job.Snapshot(),
	}
	switch job.Status {
	case types.AuditStatusComplete:
		st.Stage = types.StageComplete
	case types.AuditStatusError:
		st.Stage = types.StageError
	default:
		st.Stage = StageAfter(job.CompletedStageCount)
	}
	return st
}

// StageAfter names the last stage finished when completed stages are done.
func StageAfter(completed int) types.StageName {
	switch completed {
	case 0:
		return types.StageCrawling
	case 1:
		return types.StageSEO
	case 2:
		return types.StageMobile
	case 3:
		return types.StageCTA
	default:
		return types.StageDNS
	}
}
