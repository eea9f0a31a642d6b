package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/siteforge/internal/types"
)

func intPtr(v int) *int { return &v }

func newAuditJob() *types.AuditJob {
	now := time.Now().UTC()
	return &types.AuditJob{
		ID:          uuid.New(),
		URL:         "https://example.com/",
		Status:      types.AuditStatusRunning,
		CTAElements: []types.CTAElement{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemory_AuditLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := newAuditJob()
	require.NoError(t, m.CreateAudit(ctx, job))

	require.NoError(t, m.UpdateAuditStage(ctx, job.ID, 1, &types.AuditSnapshot{SEOScore: intPtr(85)}))
	require.NoError(t, m.UpdateAuditStage(ctx, job.ID, 2, &types.AuditSnapshot{SEOScore: intPtr(85), MobileScore: intPtr(70)}))

	got, err := m.GetAudit(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedStageCount)
	assert.Equal(t, 85, *got.SEOScore)
	assert.Equal(t, 70, *got.MobileScore)

	require.NoError(t, m.FinishAudit(ctx, job.ID, types.AuditCompletion{
		Status:              types.AuditStatusComplete,
		CompletedStageCount: 4,
		Snapshot:            &types.AuditSnapshot{SEOScore: intPtr(85), MobileScore: intPtr(70)},
		Degraded:            true,
	}))

	got, err = m.GetAudit(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AuditStatusComplete, got.Status)
	assert.Equal(t, 4, got.CompletedStageCount)
	assert.True(t, got.Degraded)
	assert.NotNil(t, got.CTAElements)
}

func TestMemory_StageCountNeverDecreases(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := newAuditJob()
	require.NoError(t, m.CreateAudit(ctx, job))

	require.NoError(t, m.UpdateAuditStage(ctx, job.ID, 3, &types.AuditSnapshot{SEOScore: intPtr(90)}))
	require.NoError(t, m.UpdateAuditStage(ctx, job.ID, 1, &types.AuditSnapshot{SEOScore: intPtr(10)}))

	got, err := m.GetAudit(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CompletedStageCount)
	assert.Equal(t, 90, *got.SEOScore, "stale write must not overwrite newer results")

	require.NoError(t, m.FinishAudit(ctx, job.ID, types.AuditCompletion{
		Status:              types.AuditStatusError,
		CompletedStageCount: 2,
		Error:               "boom",
	}))
	got, err = m.GetAudit(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CompletedStageCount)
	assert.Equal(t, 90, *got.SEOScore)
}

func TestMemory_StageUpdateAfterFinishIgnored(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := newAuditJob()
	require.NoError(t, m.CreateAudit(ctx, job))
	require.NoError(t, m.FinishAudit(ctx, job.ID, types.AuditCompletion{Status: types.AuditStatusComplete, CompletedStageCount: 4}))

	require.NoError(t, m.UpdateAuditStage(ctx, job.ID, 4, &types.AuditSnapshot{SEOScore: intPtr(1)}))
	got, err := m.GetAudit(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SEOScore)
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()

	_, err := m.GetAudit(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.UpdateAuditStage(ctx, id, 1, nil), ErrNotFound)
	assert.ErrorIs(t, m.FinishAudit(ctx, id, types.AuditCompletion{}), ErrNotFound)
	_, err = m.GetGenerationJob(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetAttempt(ctx, id, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.RecordDeployment(ctx, id, 1, "d", "u"), ErrNotFound)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := newAuditJob()
	require.NoError(t, m.CreateAudit(ctx, job))
	require.NoError(t, m.UpdateAuditStage(ctx, job.ID, 3, &types.AuditSnapshot{
		CTAElements: []types.CTAElement{{Type: types.CTAPhone, Text: "555", Location: "body"}},
	}))

	got, err := m.GetAudit(ctx, job.ID)
	require.NoError(t, err)
	got.CTAElements[0].Text = "changed"

	again, err := m.GetAudit(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "555", again.CTAElements[0].Text)
}

func TestMemory_ListAuditsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	older := newAuditJob()
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newAuditJob()
	require.NoError(t, m.CreateAudit(ctx, older))
	require.NoError(t, m.CreateAudit(ctx, newer))

	jobs, err := m.ListAudits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID, jobs[0].ID)

	jobs, err = m.ListAudits(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestMemory_GenerationLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	job := &types.GenerationJob{ID: uuid.New(), SiteID: "acme", Status: types.JobStatusRunning, CreatedAt: now}
	attempts := []types.GenerationAttempt{
		{Version: 2, DirectiveID: types.DirectiveBoldTrades, Status: types.AttemptGenerating},
		{Version: 1, DirectiveID: types.DirectiveModernMinimal, Status: types.AttemptGenerating},
	}
	require.NoError(t, m.CreateGenerationJob(ctx, job, attempts))

	list, err := m.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Version)
	assert.Equal(t, job.ID, list[0].JobID)

	require.NoError(t, m.FinishAttempt(ctx, &types.GenerationAttempt{
		JobID: job.ID, Version: 1, Status: types.AttemptReady,
		ArtifactURL: "memory://sites/acme/v1.json", PreviewURL: "https://preview/acme/v1",
	}))
	// A terminal attempt cannot be overwritten.
	require.NoError(t, m.FinishAttempt(ctx, &types.GenerationAttempt{
		JobID: job.ID, Version: 1, Status: types.AttemptFailed, ErrorMessage: "late",
	}))

	a, err := m.GetAttempt(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.AttemptReady, a.Status)
	assert.Empty(t, a.ErrorMessage)

	require.NoError(t, m.RecordDeployment(ctx, job.ID, 1, "dep-1", "https://acme.example"))
	a, err = m.GetAttempt(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "dep-1", a.DeploymentID)

	require.NoError(t, m.FinishGenerationJob(ctx, job.ID, types.JobStatusSucceeded, now))
	got, err := m.GetGenerationJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, got.Status)
	require.NotNil(t, got.CompletedAt)
}
