package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/siteforge/internal/types"
)

// -----------------------------------------------------------------------------
// Audit Job Methods
// -----------------------------------------------------------------------------

const auditColumns = `id, url, status, seo_score, mobile_score, cta_elements, meta_tags,
	analytics_flags, dns_info, screenshots, completed_stage_count, degraded,
	error_message, created_at, updated_at`

// snapshotColumns is the JSON encoding of a snapshot's document-valued fields.
type snapshotColumns struct {
	cta         []byte
	metaTags    []byte
	analytics   []byte
	dns         []byte
	screenshots []byte
}

func encodeSnapshot(s *types.AuditSnapshot) (*snapshotColumns, error) {
	if s == nil {
		s = &types.AuditSnapshot{}
	}
	cols := &snapshotColumns{}
	var err error

	cta := s.CTAElements
	if cta == nil {
		cta = []types.CTAElement{}
	}
	if cols.cta, err = json.Marshal(cta); err != nil {
		return nil, fmt.Errorf("failed to marshal cta elements: %w", err)
	}
	shots := s.Screenshots
	if shots == nil {
		shots = []string{}
	}
	if cols.screenshots, err = json.Marshal(shots); err != nil {
		return nil, fmt.Errorf("failed to marshal screenshots: %w", err)
	}
	if cols.metaTags, err = marshalNullable(s.MetaTags); err != nil {
		return nil, fmt.Errorf("failed to marshal meta tags: %w", err)
	}
	if cols.analytics, err = marshalNullable(s.AnalyticsFlags); err != nil {
		return nil, fmt.Errorf("failed to marshal analytics flags: %w", err)
	}
	if cols.dns, err = marshalNullable(s.DNSInfo); err != nil {
		return nil, fmt.Errorf("failed to marshal dns info: %w", err)
	}
	return cols, nil
}

// marshalNullable encodes v, or returns nil so the column is written as NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable[T any](data []byte) *T {
	if len(data) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return &v
}

func scanAudit(row pgx.Row) (*types.AuditJob, error) {
	var job types.AuditJob
	var status string
	var cols snapshotColumns
	err := row.Scan(&job.ID, &job.URL, &status, &job.SEOScore, &job.MobileScore,
		&cols.cta, &cols.metaTags, &cols.analytics, &cols.dns, &cols.screenshots,
		&job.CompletedStageCount, &job.Degraded, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = types.AuditStatus(status)

	job.CTAElements = []types.CTAElement{}
	if len(cols.cta) > 0 {
		_ = json.Unmarshal(cols.cta, &job.CTAElements)
	}
	if len(cols.screenshots) > 0 {
		_ = json.Unmarshal(cols.screenshots, &job.Screenshots)
	}
	job.MetaTags = unmarshalNullable[types.MetaTags](cols.metaTags)
	job.AnalyticsFlags = unmarshalNullable[types.AnalyticsFlags](cols.analytics)
	job.DNSInfo = unmarshalNullable[types.DNSInfo](cols.dns)
	return &job, nil
}

// CreateAudit inserts a new audit job.
func (db *DB) CreateAudit(ctx context.Context, job *types.AuditJob) error {
	cols, err := encodeSnapshot(job.Snapshot())
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO audit_jobs (id, url, status, seo_score, mobile_score, cta_elements, meta_tags,
		                         analytics_flags, dns_info, screenshots, completed_stage_count,
		                         degraded, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.URL, string(job.Status), job.SEOScore, job.MobileScore,
		cols.cta, cols.metaTags, cols.analytics, cols.dns, cols.screenshots,
		job.CompletedStageCount, job.Degraded, job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit job: %w", err)
	}
	return nil
}

// GetAudit retrieves an audit job by ID.
func (db *DB) GetAudit(ctx context.Context, id uuid.UUID) (*types.AuditJob, error) {
	job, err := scanAudit(db.pool.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit job: %w", err)
	}
	return job, nil
}

// ListAudits returns the most recent audit jobs, newest first.
func (db *DB) ListAudits(ctx context.Context, limit int) ([]types.AuditJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.AuditJob
	for rows.Next() {
		job, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateAuditStage records a finished stage. The stored completed stage count
// never decreases, and a write older than the stored progress changes nothing.
func (db *DB) UpdateAuditStage(ctx context.Context, id uuid.UUID, completed int, snapshot *types.AuditSnapshot) error {
	cols, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if snapshot == nil {
		snapshot = &types.AuditSnapshot{}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE audit_jobs
		 SET completed_stage_count = GREATEST(completed_stage_count, $2),
		     seo_score = COALESCE($3, seo_score),
		     mobile_score = COALESCE($4, mobile_score),
		     cta_elements = $5,
		     meta_tags = COALESCE($6, meta_tags),
		     analytics_flags = COALESCE($7, analytics_flags),
		     dns_info = COALESCE($8, dns_info),
		     screenshots = $9,
		     updated_at = NOW()
		 WHERE id = $1 AND completed_stage_count <= $2 AND status = 'running'`,
		id, completed, snapshot.SEOScore, snapshot.MobileScore,
		cols.cta, cols.metaTags, cols.analytics, cols.dns, cols.screenshots,
	)
	if err != nil {
		return fmt.Errorf("failed to update audit stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.auditExists(ctx, id)
	}
	return nil
}

// FinishAudit writes the terminal state of an audit job.
func (db *DB) FinishAudit(ctx context.Context, id uuid.UUID, completion types.AuditCompletion) error {
	cols, err := encodeSnapshot(completion.Snapshot)
	if err != nil {
		return err
	}
	snapshot := completion.Snapshot
	if snapshot == nil {
		snapshot = &types.AuditSnapshot{}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE audit_jobs
		 SET status = $2,
		     completed_stage_count = GREATEST(completed_stage_count, $3),
		     seo_score = COALESCE($4, seo_score),
		     mobile_score = COALESCE($5, mobile_score),
		     cta_elements = $6,
		     meta_tags = COALESCE($7, meta_tags),
		     analytics_flags = COALESCE($8, analytics_flags),
		     dns_info = COALESCE($9, dns_info),
		     screenshots = $10,
		     degraded = $11,
		     error_message = $12,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, string(completion.Status), completion.CompletedStageCount,
		snapshot.SEOScore, snapshot.MobileScore,
		cols.cta, cols.metaTags, cols.analytics, cols.dns, cols.screenshots,
		completion.Degraded, completion.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to finish audit job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) auditExists(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM audit_jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check audit job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}
