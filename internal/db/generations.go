package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/siteforge/internal/types"
)

// -----------------------------------------------------------------------------
// Generation Job Methods
// -----------------------------------------------------------------------------

const attemptColumns = `job_id, version, directive_id, status, artifact_url, preview_url,
	error_message, deployment_id, deployment_url, created_at, updated_at`

// CreateGenerationJob inserts a generation job together with its attempts in
// one transaction.
func (db *DB) CreateGenerationJob(ctx context.Context, job *types.GenerationJob, attempts []types.GenerationAttempt) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var auditID *uuid.UUID
	if job.AuditJobID != uuid.Nil {
		auditID = &job.AuditJobID
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO generation_jobs (id, site_id, audit_job_id, status, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.SiteID, auditID, string(job.Status), job.CreatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create generation job: %w", err)
	}

	for _, a := range attempts {
		_, err = tx.Exec(ctx,
			`INSERT INTO generation_attempts (job_id, version, directive_id, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			job.ID, a.Version, string(a.DirectiveID), string(a.Status), a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create generation attempt v%d: %w", a.Version, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit generation job: %w", err)
	}
	return nil
}

// GetGenerationJob retrieves a generation job by ID.
func (db *DB) GetGenerationJob(ctx context.Context, id uuid.UUID) (*types.GenerationJob, error) {
	var job types.GenerationJob
	var status string
	var auditID *uuid.UUID
	err := db.pool.QueryRow(ctx,
		`SELECT id, site_id, audit_job_id, status, created_at, completed_at
		 FROM generation_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.SiteID, &auditID, &status, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}
	job.Status = types.JobStatus(status)
	if auditID != nil {
		job.AuditJobID = *auditID
	}
	return &job, nil
}

// FinishGenerationJob records the aggregate outcome of a generation job.
func (db *DB) FinishGenerationJob(ctx context.Context, id uuid.UUID, status types.JobStatus, completedAt time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE generation_jobs SET status = $2, completed_at = $3 WHERE id = $1`,
		id, string(status), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish generation job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAttempt(row pgx.Row) (*types.GenerationAttempt, error) {
	var a types.GenerationAttempt
	var directive, status string
	err := row.Scan(&a.JobID, &a.Version, &directive, &status, &a.ArtifactURL, &a.PreviewURL,
		&a.ErrorMessage, &a.DeploymentID, &a.DeploymentURL, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.DirectiveID = types.DirectiveID(directive)
	a.Status = types.AttemptStatus(status)
	return &a, nil
}

// GetAttempt retrieves one attempt of a generation job.
func (db *DB) GetAttempt(ctx context.Context, jobID uuid.UUID, version int) (*types.GenerationAttempt, error) {
	a, err := scanAttempt(db.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM generation_attempts WHERE job_id = $1 AND version = $2`,
		jobID, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get generation attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns a job's attempts ordered by version.
func (db *DB) ListAttempts(ctx context.Context, jobID uuid.UUID) ([]types.GenerationAttempt, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM generation_attempts WHERE job_id = $1 ORDER BY version`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation attempts: %w", err)
	}
	defer rows.Close()

	var attempts []types.GenerationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// FinishAttempt moves a generating attempt to a terminal state. An attempt
// already in a terminal state is left untouched.
func (db *DB) FinishAttempt(ctx context.Context, a *types.GenerationAttempt) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE generation_attempts
		 SET status = $3, artifact_url = $4, preview_url = $5, error_message = $6, updated_at = NOW()
		 WHERE job_id = $1 AND version = $2 AND status = 'generating'`,
		a.JobID, a.Version, string(a.Status), a.ArtifactURL, a.PreviewURL, a.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to finish generation attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.attemptExists(ctx, a.JobID, a.Version)
	}
	return nil
}

// RecordDeployment stores the deployment of a ready attempt.
func (db *DB) RecordDeployment(ctx context.Context, jobID uuid.UUID, version int, deploymentID, deploymentURL string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE generation_attempts
		 SET deployment_id = $3, deployment_url = $4, updated_at = NOW()
		 WHERE job_id = $1 AND version = $2`,
		jobID, version, deploymentID, deploymentURL,
	)
	if err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) attemptExists(ctx context.Context, jobID uuid.UUID, version int) error {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM generation_attempts WHERE job_id = $1 AND version = $2)`,
		jobID, version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check generation attempt: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}
