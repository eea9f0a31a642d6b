// Package generation fans a site generation job out into one attempt per
// design directive and records each attempt's terminal state.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/siteforge/internal/codec"
	"github.com/jonathan/siteforge/internal/codegen"
	"github.com/jonathan/siteforge/internal/deploy"
	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/metrics"
	"github.com/jonathan/siteforge/internal/objstore"
	"github.com/jonathan/siteforge/internal/retry"
	"github.com/jonathan/siteforge/internal/types"
	"github.com/jonathan/siteforge/internal/validation"
)

const (
	// DefaultAttemptTimeout bounds one code-generation call.
	DefaultAttemptTimeout = 15 * time.Minute
	// DefaultPreviewBaseURL prefixes synthesized preview addresses.
	DefaultPreviewBaseURL = "http://localhost:3000/previews"

	finalWriteTimeout = 30 * time.Second
)

var (
	// ErrNotReady is returned when deploying an attempt that is not ready.
	ErrNotReady = errors.New("attempt is not ready")
	// ErrDeployDisabled is returned when no deployer is configured.
	ErrDeployDisabled = errors.New("deployment is not configured")
)

// Store persists generation jobs and attempts. FinishAttempt must not
// overwrite an attempt that is already terminal.
type Store interface {
	CreateGenerationJob(ctx context.Context, job *types.GenerationJob, attempts []types.GenerationAttempt) error
	GetGenerationJob(ctx context.Context, id uuid.UUID) (*types.GenerationJob, error)
	FinishGenerationJob(ctx context.Context, id uuid.UUID, status types.JobStatus, completedAt time.Time) error
	GetAttempt(ctx context.Context, jobID uuid.UUID, version int) (*types.GenerationAttempt, error)
	ListAttempts(ctx context.Context, jobID uuid.UUID) ([]types.GenerationAttempt, error)
	FinishAttempt(ctx context.Context, attempt *types.GenerationAttempt) error
	RecordDeployment(ctx context.Context, jobID uuid.UUID, version int, deploymentID, deploymentURL string) error
}

// Request asks for one attempt per directive.
type Request struct {
	SiteID     string
	Profile    types.BusinessProfile
	Audit      *types.AuditJob
	Directives []types.DesignDirective
}

// Result is a job together with its attempts ordered by version.
type Result struct {
	Job      *types.GenerationJob      `json:"job"`
	Attempts []types.GenerationAttempt `json:"attempts"`
}

// Succeeded reports whether at least one attempt is ready.
func (r *Result) Succeeded() bool {
	for _, a := range r.Attempts {
		if a.Status == types.AttemptReady {
			return true
		}
	}
	return false
}

// Config holds the collaborators and limits of an Orchestrator.
type Config struct {
	Service  codegen.Service
	Store    Store
	Objects  objstore.Store
	Deployer deploy.Deployer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Concurrency caps the attempts running at once. Zero runs every
	// attempt of a job at the same time.
	Concurrency    int
	AttemptTimeout time.Duration
	MaxTurns       int
	Model          string
	// AllowedTools restricts the tools of agentic attempts. Empty leaves the
	// service default in place.
	AllowedTools   []string
	PreviewBaseURL string
	Requirements   *validation.Requirements
	// WorkspaceRoot is where agentic attempts get their temporary
	// directories. Empty uses the system temp dir.
	WorkspaceRoot string
	Retry         retry.Policy
}

// Orchestrator runs generation jobs.
type Orchestrator struct {
	service        codegen.Service
	store          Store
	objects        objstore.Store
	deployer       deploy.Deployer
	metrics        *metrics.Metrics
	logger         *slog.Logger
	concurrency    int
	attemptTimeout time.Duration
	maxTurns       int
	model          string
	allowedTools   []string
	previewBase    string
	requirements   validation.Requirements
	workspaceRoot  string
	retry          retry.Policy
	now            func() time.Time
	wg             sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("code generation service is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	o := &Orchestrator{
		service:        cfg.Service,
		store:          cfg.Store,
		objects:        cfg.Objects,
		deployer:       cfg.Deployer,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		concurrency:    cfg.Concurrency,
		attemptTimeout: cfg.AttemptTimeout,
		maxTurns:       cfg.MaxTurns,
		model:          cfg.Model,
		allowedTools:   append([]string(nil), cfg.AllowedTools...),
		previewBase:    strings.TrimRight(cfg.PreviewBaseURL, "/"),
		requirements:   validation.DefaultRequirements,
		workspaceRoot:  cfg.WorkspaceRoot,
		retry:          cfg.Retry,
		now:            time.Now,
	}
	if cfg.Requirements != nil {
		o.requirements = *cfg.Requirements
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.attemptTimeout <= 0 {
		o.attemptTimeout = DefaultAttemptTimeout
	}
	if o.previewBase == "" {
		o.previewBase = DefaultPreviewBaseURL
	}
	if o.retry.Attempts == 0 {
		o.retry = retry.DefaultPolicy
	}
	return o, nil
}

// Generate creates a job and runs every attempt to a terminal state. Attempt
// failures are recorded on the attempts; the returned error is non-nil only
// when the request is invalid or the job could not be created.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	job, attempts, err := o.create(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, job, attempts, req), nil
}

// Start creates a job and runs it in the background.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Result, error) {
	job, attempts, err := o.create(ctx, req)
	if err != nil {
		return nil, err
	}

	snapshot := &Result{Job: copyJob(job), Attempts: append([]types.GenerationAttempt(nil), attempts...)}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(context.WithoutCancel(ctx), job, attempts, req)
	}()
	return snapshot, nil
}

// Wait blocks until every background job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Get returns a stored job and its attempts.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*Result, error) {
	job, err := o.store.GetGenerationJob(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := o.store.ListAttempts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return &Result{Job: job, Attempts: attempts}, nil
}

func (o *Orchestrator) create(ctx context.Context, req Request) (*types.GenerationJob, []types.GenerationAttempt, error) {
	if strings.TrimSpace(req.SiteID) == "" {
		return nil, nil, fmt.Errorf("site id is required")
	}
	if len(req.Directives) == 0 {
		return nil, nil, fmt.Errorf("at least one directive is required")
	}

	now := o.now().UTC()
	job := &types.GenerationJob{
		ID:        uuid.New(),
		SiteID:    req.SiteID,
		Status:    types.JobStatusRunning,
		CreatedAt: now,
	}
	if req.Audit != nil {
		job.AuditJobID = req.Audit.ID
	}

	attempts := make([]types.GenerationAttempt, len(req.Directives))
	for i, d := range req.Directives {
		attempts[i] = types.GenerationAttempt{
			JobID:       job.ID,
			Version:     i + 1,
			DirectiveID: d.ID,
			Status:      types.AttemptGenerating,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	if err := o.store.CreateGenerationJob(ctx, job, attempts); err != nil {
		return nil, nil, fmt.Errorf("failed to create generation job: %w", err)
	}
	return job, attempts, nil
}

// run fans the attempts out and waits for all of them. Each goroutine writes
// only its own slot of results.
func (o *Orchestrator) run(ctx context.Context, job *types.GenerationJob, attempts []types.GenerationAttempt, req Request) *Result {
	logger := logging.WithJob(o.logger, job.ID.String())
	logger.Info("generation started", slog.String("site_id", job.SiteID), slog.Int("attempts", len(attempts)))

	results := make([]types.GenerationAttempt, len(attempts))
	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i := range attempts {
		g.Go(func() error {
			results[i] = o.execute(ctx, logger, req, req.Directives[i], attempts[i])
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Job: copyJob(job), Attempts: results}
	result.Job.Status = types.JobStatusFailed
	if result.Succeeded() {
		result.Job.Status = types.JobStatusSucceeded
	}
	completed := o.now().UTC()
	result.Job.CompletedAt = &completed

	if err := o.persist(ctx, func(ctx context.Context) error {
		return o.store.FinishGenerationJob(ctx, job.ID, result.Job.Status, completed)
	}); err != nil {
		o.metrics.PersistFailed("generation_finish")
		logging.WithError(logger, err).Error("failed to persist generation job status after retries")
	}

	ready := 0
	for _, a := range results {
		if a.Status == types.AttemptReady {
			ready++
		}
	}
	logger.Info("generation finished",
		slog.String("status", string(result.Job.Status)),
		slog.Int("ready", ready),
		slog.Int("failed", len(results)-ready))
	return result
}

// execute runs one attempt and records its terminal state. It never returns
// an attempt in the generating state.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, req Request, directive types.DesignDirective, attempt types.GenerationAttempt) types.GenerationAttempt {
	logger = logging.WithAttempt(logger, attempt.Version, string(directive.ID))
	start := o.now()

	ref, err := o.safeProduce(ctx, req, directive, attempt.Version)
	if err != nil {
		attempt.Status = types.AttemptFailed
		attempt.ErrorMessage = err.Error()
	} else {
		attempt.Status = types.AttemptReady
		attempt.ArtifactURL = ref
		attempt.PreviewURL = o.previewURL(req.SiteID, attempt.Version)
	}
	attempt.UpdatedAt = o.now().UTC()

	if perr := o.persist(ctx, func(ctx context.Context) error {
		return o.store.FinishAttempt(ctx, &attempt)
	}); perr != nil {
		o.metrics.PersistFailed("attempt_finish")
		logging.WithError(logger, perr).Error("failed to persist attempt status after retries")
	}

	elapsed := o.now().Sub(start)
	o.metrics.AttemptFinished(string(attempt.Status), string(directive.ID), elapsed)
	if err != nil {
		logging.WithError(logger, err).Warn("attempt failed", logging.Duration(elapsed))
	} else {
		logger.Info("attempt ready", slog.String("artifact_url", ref), logging.Duration(elapsed))
	}
	return attempt
}

func (o *Orchestrator) safeProduce(ctx context.Context, req Request, directive types.DesignDirective, version int) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt panicked: %v", r)
		}
	}()
	return o.produce(ctx, req, directive, version)
}

// produce generates, validates and stores the bundle of one attempt.
func (o *Orchestrator) produce(ctx context.Context, req Request, directive types.DesignDirective, version int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	mode := o.service.Mode()
	workspace := ""
	if mode == codec.ModeWorkspace {
		dir, err := os.MkdirTemp(o.workspaceRoot, fmt.Sprintf("siteforge-v%d-", version))
		if err != nil {
			return "", fmt.Errorf("failed to create workspace: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		workspace = dir
	}

	prompt, err := codec.BuildWith(req.Profile, codec.FindingsFromAudit(req.Audit), directive, mode, o.requirements)
	if err != nil {
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}

	resp, err := o.service.Generate(ctx, codegen.Request{
		System:       prompt.System,
		User:         prompt.User,
		Workspace:    workspace,
		AllowedTools: o.allowedTools,
		Model:        o.model,
		MaxTurns:     o.maxTurns,
		Timeout:      o.attemptTimeout,
	})
	if err != nil {
		return "", err
	}

	bundle := resp.Bundle
	if bundle == nil {
		bundle, err = codec.ParseStrict(resp.Text)
		if err != nil {
			return "", err
		}
	}
	if err := validation.ValidateWith(bundle, o.requirements); err != nil {
		return "", err
	}

	return objstore.PutBundle(ctx, o.objects, req.SiteID, version, bundle)
}

func (o *Orchestrator) previewURL(siteID string, version int) string {
	return fmt.Sprintf("%s/%s/v%d", o.previewBase, url.PathEscape(siteID), version)
}

// persist retries a terminal write on a context detached from the caller.
func (o *Orchestrator) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	return retry.Do(ctx, o.retry, fn)
}

// Deploy triggers a deployment of a ready attempt and records it.
func (o *Orchestrator) Deploy(ctx context.Context, jobID uuid.UUID, version int) (*types.GenerationAttempt, error) {
	if o.deployer == nil {
		return nil, ErrDeployDisabled
	}
	job, err := o.store.GetGenerationJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	attempt, err := o.store.GetAttempt(ctx, jobID, version)
	if err != nil {
		return nil, err
	}
	if attempt.Status != types.AttemptReady {
		return nil, fmt.Errorf("%w: version %d is %s", ErrNotReady, version, attempt.Status)
	}

	logger := logging.WithAttempt(logging.WithJob(o.logger, jobID.String()), version, string(attempt.DirectiveID))
	d, err := o.deployer.Deploy(ctx, job.SiteID, attempt.ArtifactURL)
	if err != nil {
		o.metrics.DeploymentFinished("error")
		logging.WithError(logger, err).Warn("deployment failed")
		return nil, err
	}
	if err := o.store.RecordDeployment(ctx, jobID, version, d.ID, d.URL); err != nil {
		o.metrics.DeploymentFinished("unrecorded")
		return nil, fmt.Errorf("deployment %s started but could not be recorded: %w", d.ID, err)
	}
	o.metrics.DeploymentFinished("success")
	logger.Info("deployment started", slog.String("deployment_id", d.ID), slog.String("url", d.URL))

	attempt.DeploymentID = d.ID
	attempt.DeploymentURL = d.URL
	return attempt, nil
}

func copyJob(j *types.GenerationJob) *types.GenerationJob {
	c := *j
	return &c
}
