package types

import "time"

// StageName is the closed set of stage identifiers carried by StageEvent.
type StageName string

const (
	StageCrawling StageName = "crawling"
	StageSEO      StageName = "seo"
	StageMobile   StageName = "mobile"
	StageCTA      StageName = "cta"
	StageDNS      StageName = "dns"
	StageComplete StageName = "complete"
	StageError    StageName = "error"
)

// Valid reports whether s is a known stage.
func (s StageName) Valid() bool {
	switch s {
	case StageCrawling, StageSEO, StageMobile, StageCTA, StageDNS, StageComplete, StageError:
		return true
	}
	return false
}

// Terminal reports whether s ends the event stream of a job.
func (s StageName) Terminal() bool {
	return s == StageComplete || s == StageError
}

// StageEvent is an immutable progress record emitted by the audit pipeline.
type StageEvent struct {
	Index     int            `json:"index"`
	Total     int            `json:"total"`
	Stage     StageName      `json:"stage"`
	Message   string         `json:"message"`
	Snapshot  *AuditSnapshot `json:"snapshot,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
