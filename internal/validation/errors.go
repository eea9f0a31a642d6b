// Package validation checks generated artifact bundles before they are stored.
package validation

import (
	"fmt"
	"strings"
)

// Rule names a bundle check.
type Rule string

const (
	RuleRequiredFile  Rule = "required_file"
	RuleEmptyFile     Rule = "empty_file"
	RuleLayoutMarkers Rule = "layout_markers"
	RuleManifest      Rule = "manifest"
	RuleDependency    Rule = "missing_dependency"
	RuleStubPage      Rule = "stub_page"
)

// Violation is one failed check.
type Violation struct {
	Rule    Rule   `json:"rule"`
	File    string `json:"file,omitempty"`
	Message string `json:"message"`
}

// Error represents a bundle that failed validation
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	if len(e.Violations) == 0 {
		return "validation error"
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return fmt.Sprintf("validation error: %s", strings.Join(msgs, "; "))
}

// Has reports whether any violation matches rule.
func (e *Error) Has(rule Rule) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}
