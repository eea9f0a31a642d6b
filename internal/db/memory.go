package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/siteforge/internal/types"
)

// Memory is an in-process store with the same semantics as DB. It backs
// single-process deployments and tests.
type Memory struct {
	mu       sync.RWMutex
	audits   map[uuid.UUID]*types.AuditJob
	jobs     map[uuid.UUID]*types.GenerationJob
	attempts map[uuid.UUID]map[int]*types.GenerationAttempt
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		audits:   make(map[uuid.UUID]*types.AuditJob),
		jobs:     make(map[uuid.UUID]*types.GenerationJob),
		attempts: make(map[uuid.UUID]map[int]*types.GenerationAttempt),
		now:      time.Now,
	}
}

func copyAudit(j *types.AuditJob) *types.AuditJob {
	c := *j
	c.Snapshot().Apply(&c)
	if c.CTAElements == nil {
		c.CTAElements = []types.CTAElement{}
	}
	return &c
}

// CreateAudit stores a new audit job.
func (m *Memory) CreateAudit(_ context.Context, job *types.AuditJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits[job.ID] = copyAudit(job)
	return nil
}

// GetAudit returns a copy of the stored audit job.
func (m *Memory) GetAudit(_ context.Context, id uuid.UUID) (*types.AuditJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.audits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAudit(job), nil
}

// ListAudits returns the most recent audit jobs, newest first.
func (m *Memory) ListAudits(_ context.Context, limit int) ([]types.AuditJob, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	jobs := make([]types.AuditJob, 0, len(m.audits))
	for _, j := range m.audits {
		jobs = append(jobs, *copyAudit(j))
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// UpdateAuditStage records a finished stage without lowering stored progress.
func (m *Memory) UpdateAuditStage(_ context.Context, id uuid.UUID, completed int, snapshot *types.AuditSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.audits[id]
	if !ok {
		return ErrNotFound
	}
	if completed < job.CompletedStageCount || job.IsTerminal() {
		return nil
	}
	mergeSnapshot(job, snapshot)
	job.CompletedStageCount = completed
	job.UpdatedAt = m.now().UTC()
	return nil
}

// FinishAudit writes the terminal state of an audit job.
func (m *Memory) FinishAudit(_ context.Context, id uuid.UUID, completion types.AuditCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.audits[id]
	if !ok {
		return ErrNotFound
	}
	mergeSnapshot(job, completion.Snapshot)
	job.Status = completion.Status
	job.CompletedStageCount = max(job.CompletedStageCount, completion.CompletedStageCount)
	job.Degraded = completion.Degraded
	job.Error = completion.Error
	job.UpdatedAt = m.now().UTC()
	return nil
}

// mergeSnapshot keeps stored values for fields the snapshot leaves unset,
// matching the COALESCE writes of the SQL store.
func mergeSnapshot(job *types.AuditJob, s *types.AuditSnapshot) {
	if s == nil {
		s = &types.AuditSnapshot{}
	}
	if s.SEOScore != nil {
		v := *s.SEOScore
		job.SEOScore = &v
	}
	if s.MobileScore != nil {
		v := *s.MobileScore
		job.MobileScore = &v
	}
	if s.MetaTags != nil {
		v := *s.MetaTags
		job.MetaTags = &v
	}
	if s.AnalyticsFlags != nil {
		v := *s.AnalyticsFlags
		job.AnalyticsFlags = &v
	}
	if s.DNSInfo != nil {
		v := *s.DNSInfo
		job.DNSInfo = &v
	}
	job.CTAElements = append([]types.CTAElement{}, s.CTAElements...)
	job.Screenshots = append([]string(nil), s.Screenshots...)
}

// CreateGenerationJob stores a job and its attempts.
func (m *Memory) CreateGenerationJob(_ context.Context, job *types.GenerationJob, attempts []types.GenerationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	m.jobs[job.ID] = &j
	byVersion := make(map[int]*types.GenerationAttempt, len(attempts))
	for i := range attempts {
		a := attempts[i]
		a.JobID = job.ID
		byVersion[a.Version] = &a
	}
	m.attempts[job.ID] = byVersion
	return nil
}

// GetGenerationJob returns a copy of the stored job.
func (m *Memory) GetGenerationJob(_ context.Context, id uuid.UUID) (*types.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j := *job
	return &j, nil
}

// FinishGenerationJob records the aggregate outcome of a job.
func (m *Memory) FinishGenerationJob(_ context.Context, id uuid.UUID, status types.JobStatus, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.CompletedAt = &completedAt
	return nil
}

// GetAttempt returns a copy of one attempt.
func (m *Memory) GetAttempt(_ context.Context, jobID uuid.UUID, version int) (*types.GenerationAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[jobID][version]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// ListAttempts returns a job's attempts ordered by version.
func (m *Memory) ListAttempts(_ context.Context, jobID uuid.UUID) ([]types.GenerationAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attempts := make([]types.GenerationAttempt, 0, len(m.attempts[jobID]))
	for _, a := range m.attempts[jobID] {
		attempts = append(attempts, *a)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Version < attempts[j].Version })
	return attempts, nil
}

// FinishAttempt moves a generating attempt to a terminal state.
func (m *Memory) FinishAttempt(_ context.Context, a *types.GenerationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.attempts[a.JobID][a.Version]
	if !ok {
		return ErrNotFound
	}
	if stored.Status.Terminal() {
		return nil
	}
	stored.Status = a.Status
	stored.ArtifactURL = a.ArtifactURL
	stored.PreviewURL = a.PreviewURL
	stored.ErrorMessage = a.ErrorMessage
	stored.UpdatedAt = m.now().UTC()
	return nil
}

// RecordDeployment stores the deployment of an attempt.
func (m *Memory) RecordDeployment(_ context.Context, jobID uuid.UUID, version int, deploymentID, deploymentURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.attempts[jobID][version]
	if !ok {
		return ErrNotFound
	}
	stored.DeploymentID = deploymentID
	stored.DeploymentURL = deploymentURL
	stored.UpdatedAt = m.now().UTC()
	return nil
}
