package types

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DirectiveID is the closed set of design directive identifiers.
type DirectiveID string

const (
	DirectiveModernMinimal  DirectiveID = "modern-minimal"
	DirectiveBoldTrades     DirectiveID = "bold-trades"
	DirectiveWarmLocal      DirectiveID = "warm-local"
	DirectiveCorporateClean DirectiveID = "corporate-clean"
)

// Valid reports whether id is a known directive.
func (id DirectiveID) Valid() bool {
	switch id {
	case DirectiveModernMinimal, DirectiveBoldTrades, DirectiveWarmLocal, DirectiveCorporateClean:
		return true
	}
	return false
}

// Palette is a directive's brand colour set, as CSS colour values.
type Palette struct {
	Primary    string `yaml:"primary" json:"primary"`
	Secondary  string `yaml:"secondary" json:"secondary"`
	Accent     string `yaml:"accent" json:"accent"`
	Background string `yaml:"background" json:"background"`
	Text       string `yaml:"text" json:"text"`
}

// DesignDirective describes one generation attempt's visual constraints.
type DesignDirective struct {
	ID          DirectiveID `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Layout      string      `yaml:"layout" json:"layout"`
	Typography  string      `yaml:"typography" json:"typography"`
	Palette     Palette     `yaml:"palette" json:"palette"`
}

// BusinessProfile is the caller-supplied description of the business.
type BusinessProfile struct {
	Name         string   `json:"name" validate:"required,min=1,max=200"`
	Industry     string   `json:"industry,omitempty" validate:"max=100"`
	Description  string   `json:"description,omitempty" validate:"max=4000"`
	Phone        string   `json:"phone,omitempty" validate:"max=40"`
	Email        string   `json:"email,omitempty" validate:"omitempty,email"`
	Address      string   `json:"address,omitempty" validate:"max=300"`
	ServiceAreas []string `json:"service_areas,omitempty" validate:"max=20,dive,max=100"`
	Services     []string `json:"services,omitempty" validate:"max=30,dive,max=120"`
}

// AttemptStatus is the state of a generation attempt.
type AttemptStatus string

const (
	AttemptGenerating AttemptStatus = "generating"
	AttemptReady      AttemptStatus = "ready"
	AttemptFailed     AttemptStatus = "failed"
)

// Terminal reports whether the attempt can no longer change state.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptReady || s == AttemptFailed
}

// JobStatus is the aggregate state of a generation job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// GenerationJob groups the attempts made for one site.
type GenerationJob struct {
	ID          uuid.UUID  `json:"id"`
	SiteID      string     `json:"site_id"`
	AuditJobID  uuid.UUID  `json:"audit_job_id"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GenerationAttempt is one (job, directive) generation run, identified by (JobID, Version).
type GenerationAttempt struct {
	JobID         uuid.UUID     `json:"job_id"`
	Version       int           `json:"version"`
	DirectiveID   DirectiveID   `json:"directive_id"`
	Status        AttemptStatus `json:"status"`
	ArtifactURL   string        `json:"artifact_url,omitempty"`
	PreviewURL    string        `json:"preview_url,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	DeploymentID  string        `json:"deployment_id,omitempty"`
	DeploymentURL string        `json:"deployment_url,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ArtifactBundle maps relative file paths to full file contents.
type ArtifactBundle map[string]string

// Paths returns the bundle's file paths in sorted order.
func (b ArtifactBundle) Paths() []string {
	paths := make([]string, 0, len(b))
	for p := range b {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Size returns the total content length of the bundle in bytes.
func (b ArtifactBundle) Size() int {
	n := 0
	for _, content := range b {
		n += len(content)
	}
	return n
}
