// Package codec builds generation prompts and parses generated bundles out of
// free-text model responses.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/siteforge/internal/llm"
	"github.com/jonathan/siteforge/internal/prompts"
	"github.com/jonathan/siteforge/internal/schemas"
	"github.com/jonathan/siteforge/internal/types"
	"github.com/jonathan/siteforge/internal/validation"
)

const promptFile = "generation.json"

// Mode selects how the code-generation service returns the bundle.
type Mode int

const (
	// ModeInline expects the bundle as JSON in the response text.
	ModeInline Mode = iota
	// ModeWorkspace expects the files to be written into a workspace.
	ModeWorkspace
)

// Prompt is a rendered pair of instructions for one attempt.
type Prompt struct {
	System string
	User   string
}

// Findings is the subset of an audit that informs generation.
type Findings struct {
	URL            string                `json:"url,omitempty"`
	SEOScore       *int                  `json:"seo_score,omitempty"`
	MobileScore    *int                  `json:"mobile_score,omitempty"`
	MetaTags       *types.MetaTags       `json:"meta_tags,omitempty"`
	CTAElements    []types.CTAElement    `json:"cta_elements"`
	AnalyticsFlags *types.AnalyticsFlags `json:"analytics_flags,omitempty"`
}

// FindingsFromAudit extracts generation findings from an audit job. A nil job
// yields empty findings.
func FindingsFromAudit(job *types.AuditJob) Findings {
	f := Findings{CTAElements: []types.CTAElement{}}
	if job == nil {
		return f
	}
	f.URL = job.URL
	f.SEOScore = job.SEOScore
	f.MobileScore = job.MobileScore
	f.MetaTags = job.MetaTags
	f.AnalyticsFlags = job.AnalyticsFlags
	if len(job.CTAElements) > 0 {
		f.CTAElements = append(f.CTAElements, job.CTAElements...)
	}
	return f
}

type instructionDocument struct {
	Business  types.BusinessProfile `json:"business"`
	Audit     Findings              `json:"audit"`
	Directive directiveSection      `json:"directive"`
	Files     []string              `json:"required_files"`
}

type directiveSection struct {
	ID          types.DirectiveID `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Layout      string            `json:"layout"`
	Typography  string            `json:"typography"`
	Palette     types.Palette     `json:"palette"`
}

// Build renders the instructions for one directive.
func Build(profile types.BusinessProfile, findings Findings, directive types.DesignDirective, mode Mode) (*Prompt, error) {
	return BuildWith(profile, findings, directive, mode, validation.DefaultRequirements)
}

// BuildWith renders the instructions with explicit bundle requirements.
func BuildWith(profile types.BusinessProfile, findings Findings, directive types.DesignDirective, mode Mode, req validation.Requirements) (*Prompt, error) {
	if findings.CTAElements == nil {
		findings.CTAElements = []types.CTAElement{}
	}
	doc := instructionDocument{
		Business: profile,
		Audit:    findings,
		Directive: directiveSection{
			ID:          directive.ID,
			Name:        directive.Name,
			Description: directive.Description,
			Layout:      directive.Layout,
			Typography:  directive.Typography,
			Palette:     directive.Palette,
		},
		Files: req.RequiredFiles(),
	}
	docJSON, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instruction document: %w", err)
	}

	constraints, err := prompts.Lines(promptFile, "constraints", map[string]any{
		"RequiredFiles":        req.RequiredFiles(),
		"RequiredDependencies": req.RequiredDependencies,
	})
	if err != nil {
		return nil, err
	}

	outputKey := "output-inline"
	if mode == ModeWorkspace {
		outputKey = "output-workspace"
	}
	output, err := prompts.Get(promptFile, outputKey)
	if err != nil {
		return nil, err
	}

	user, err := prompts.Render(promptFile, "user", map[string]any{
		"Document":           string(docJSON),
		"Constraints":        constraints,
		"OutputInstructions": output,
	})
	if err != nil {
		return nil, err
	}
	system, err := prompts.Get(promptFile, "system")
	if err != nil {
		return nil, err
	}
	return &Prompt{System: system, User: user}, nil
}

// ParseError describes why a response did not contain a bundle.
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Parse extracts a bundle from response text. It reports false instead of an
// error when the text holds no flat object of string values.
func Parse(text string) (types.ArtifactBundle, bool) {
	bundle, err := ParseStrict(text)
	if err != nil {
		return nil, false
	}
	return bundle, true
}

// ParseStrict is Parse with the reason for rejection.
func ParseStrict(text string) (types.ArtifactBundle, error) {
	span, ok := outermostObject(stripFences(text))
	if !ok {
		return nil, &ParseError{Message: "no JSON object in response"}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return nil, &ParseError{Message: "invalid JSON object", Cause: err}
	}
	if err := schemas.ValidateBundle([]byte(span)); err != nil {
		return nil, &ParseError{Message: "response is not a flat map of file contents", Cause: err}
	}

	bundle := make(types.ArtifactBundle, len(raw))
	for path, value := range raw {
		var content string
		if err := json.Unmarshal(value, &content); err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("value for %q is not a string", path), Cause: err}
		}
		bundle[path] = content
	}
	return bundle, nil
}

// stripFences removes a code fence that opens before the object. Fences inside
// file contents are left alone.
func stripFences(text string) string {
	fence := strings.Index(text, "```")
	brace := strings.Index(text, "{")
	if fence >= 0 && (brace < 0 || fence < brace) {
		return llm.CleanJSONBlock(text)
	}
	return text
}

// outermostObject returns the span from the first '{' to the last '}'.
func outermostObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
