// Package types provides the domain types shared by the audit and generation pipelines.
package types

import (
	"time"

	"github.com/google/uuid"
)

// TotalAuditStages is the number of ordered stages in an audit run.
const TotalAuditStages = 4

// AuditStatus is the lifecycle state of an audit job.
type AuditStatus string

const (
	AuditStatusRunning  AuditStatus = "running"
	AuditStatusComplete AuditStatus = "complete"
	AuditStatusError    AuditStatus = "error"
)

// AuditJob is one run of the staged analysis pipeline against a target URL.
// Fields are filled stage by stage; CompletedStageCount is the only progress cursor.
type AuditJob struct {
	ID                  uuid.UUID       `json:"id"`
	URL                 string          `json:"url"`
	Status              AuditStatus     `json:"status"`
	SEOScore            *int            `json:"seo_score,omitempty"`
	MobileScore         *int            `json:"mobile_score,omitempty"`
	CTAElements         []CTAElement    `json:"cta_elements"`
	MetaTags            *MetaTags       `json:"meta_tags,omitempty"`
	AnalyticsFlags      *AnalyticsFlags `json:"analytics_flags,omitempty"`
	DNSInfo             *DNSInfo        `json:"dns_info,omitempty"`
	Screenshots         []string        `json:"screenshots,omitempty"`
	CompletedStageCount int             `json:"completed_stage_count"`
	Degraded            bool            `json:"degraded"`
	Error               string          `json:"error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the job has finished, successfully or not.
func (j *AuditJob) IsTerminal() bool {
	return j.Status == AuditStatusComplete || j.Status == AuditStatusError
}

// CrawlResult is the ephemeral outcome of fetching the audit target.
type CrawlResult struct {
	HTML       string `json:"-"`
	FinalURL   string `json:"final_url"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}

// OK reports whether the fetch produced a usable document.
func (c *CrawlResult) OK() bool {
	return c != nil && c.Error == "" && c.StatusCode >= 200 && c.StatusCode < 300
}

// MetaTags holds the SEO-relevant metadata extracted from a document.
type MetaTags struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	H1             []string `json:"h1"`
	H2             []string `json:"h2"`
	Robots         string   `json:"robots,omitempty"`
	Lang           string   `json:"lang,omitempty"`
	RobotsTxtFound bool     `json:"robots_txt_found"`
}

// SEOResult is the output of the SEO analyzer.
type SEOResult struct {
	Score    int      `json:"score"`
	MetaTags MetaTags `json:"meta_tags"`
}

// MobileResult is the output of the mobile-friendliness analyzer.
type MobileResult struct {
	Score             int      `json:"score"`
	HasViewport       bool     `json:"has_viewport"`
	ViewportContent   string   `json:"viewport_content,omitempty"`
	DeviceWidth       bool     `json:"device_width"`
	InitialScaleOne   bool     `json:"initial_scale_one"`
	ResponsiveSignals []string `json:"responsive_signals"`
	ExternalScore     *int     `json:"external_score,omitempty"`
}

// CTAType is the closed set of call-to-action element kinds.
type CTAType string

const (
	CTAPhone       CTAType = "phone"
	CTATelLink     CTAType = "tel_link"
	CTAContactForm CTAType = "contact_form"
	CTAMailto      CTAType = "mailto"
	CTAButton      CTAType = "cta_button"
)

// Valid reports whether t is one of the known CTA kinds.
func (t CTAType) Valid() bool {
	switch t {
	case CTAPhone, CTATelLink, CTAContactForm, CTAMailto, CTAButton:
		return true
	}
	return false
}

// CTAElement is one detected call to action.
type CTAElement struct {
	Type     CTAType `json:"type"`
	Text     string  `json:"text"`
	Location string  `json:"location"`
}

// AnalyticsFlags reports detected tracking tools.
type AnalyticsFlags struct {
	GoogleAnalytics bool     `json:"google_analytics"`
	MetaPixel       bool     `json:"meta_pixel"`
	Other           []string `json:"other"`
}

// DNSInfo is the inferred registrar/platform and whether the domain can be moved.
type DNSInfo struct {
	Domain      string   `json:"domain,omitempty"`
	Nameservers []string `json:"nameservers"`
	Registrar   *string  `json:"registrar"`
	Switchable  bool     `json:"switchable"`
}

// AuditSnapshot is the cumulative partial result attached to stage events.
type AuditSnapshot struct {
	SEOScore       *int            `json:"seo_score,omitempty"`
	MobileScore    *int            `json:"mobile_score,omitempty"`
	CTAElements    []CTAElement    `json:"cta_elements,omitempty"`
	MetaTags       *MetaTags       `json:"meta_tags,omitempty"`
	AnalyticsFlags *AnalyticsFlags `json:"analytics_flags,omitempty"`
	DNSInfo        *DNSInfo        `json:"dns_info,omitempty"`
	Screenshots    []string        `json:"screenshots,omitempty"`
}

// Snapshot copies the accumulated results of the job.
func (j *AuditJob) Snapshot() *AuditSnapshot {
	s := &AuditSnapshot{
		SEOScore:       j.SEOScore,
		MobileScore:    j.MobileScore,
		MetaTags:       j.MetaTags,
		AnalyticsFlags: j.AnalyticsFlags,
		DNSInfo:        j.DNSInfo,
	}
	if len(j.CTAElements) > 0 {
		s.CTAElements = append([]CTAElement(nil), j.CTAElements...)
	}
	if len(j.Screenshots) > 0 {
		s.Screenshots = append([]string(nil), j.Screenshots...)
	}
	return s
}

// AuditCompletion is the terminal write applied to an audit job.
type AuditCompletion struct {
	Status              AuditStatus
	CompletedStageCount int
	Snapshot            *AuditSnapshot
	Degraded            bool
	Error               string
}

// Apply copies the snapshot fields onto the job.
func (s *AuditSnapshot) Apply(j *AuditJob) {
	if s == nil {
		return
	}
	j.SEOScore = s.SEOScore
	j.MobileScore = s.MobileScore
	j.MetaTags = s.MetaTags
	j.AnalyticsFlags = s.AnalyticsFlags
	j.DNSInfo = s.DNSInfo
	if s.CTAElements != nil {
		j.CTAElements = append([]CTAElement(nil), s.CTAElements...)
	}
	if s.Screenshots != nil {
		j.Screenshots = append([]string(nil), s.Screenshots...)
	}
}
