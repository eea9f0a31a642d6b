package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/siteforge/internal/types"
)

// Requirements describes what a bundle must contain. Each file role accepts
// any of its candidate paths; the first present one is checked.
type Requirements struct {
	HomePage             []string
	Layout               []string
	Manifest             string
	RequiredDependencies []string
	MinHomePageBytes     int
}

// DefaultRequirements is the contract for a Next.js App Router site.
var DefaultRequirements = Requirements{
	HomePage:             []string{"app/page.tsx", "app/page.jsx", "src/app/page.tsx", "src/app/page.jsx"},
	Layout:               []string{"app/layout.tsx", "app/layout.jsx", "src/app/layout.tsx", "src/app/layout.jsx"},
	Manifest:             "package.json",
	RequiredDependencies: []string{"next", "react", "react-dom"},
	MinHomePageBytes:     400,
}

// RequiredFiles lists the primary path of every required file.
func (r Requirements) RequiredFiles() []string {
	files := make([]string, 0, 3)
	if len(r.HomePage) > 0 {
		files = append(files, r.HomePage[0])
	}
	if len(r.Layout) > 0 {
		files = append(files, r.Layout[0])
	}
	if r.Manifest != "" {
		files = append(files, r.Manifest)
	}
	return files
}

type manifest struct {
	Dependencies map[string]string `json:"dependencies"`
}

// Validate checks bundle against DefaultRequirements.
func Validate(bundle types.ArtifactBundle) error {
	return ValidateWith(bundle, DefaultRequirements)
}

// ValidateWith checks bundle against req and returns an *Error listing every
// violation, or nil.
func ValidateWith(bundle types.ArtifactBundle, req Requirements) error {
	var violations []Violation

	home, homeOK := pick(bundle, req.HomePage)
	layout, layoutOK := pick(bundle, req.Layout)
	manifestText, manifestOK := bundle[req.Manifest]

	if !homeOK {
		violations = append(violations, missing("home page", req.HomePage))
	}
	if !layoutOK {
		violations = append(violations, missing("root layout", req.Layout))
	}
	if !manifestOK {
		violations = append(violations, missing("dependency manifest", []string{req.Manifest}))
	}

	if homeOK {
		content := strings.TrimSpace(bundle[home])
		switch {
		case content == "":
			violations = append(violations, Violation{Rule: RuleEmptyFile, File: home, Message: home + " is empty"})
		case len(content) < req.MinHomePageBytes:
			violations = append(violations, Violation{
				Rule:    RuleStubPage,
				File:    home,
				Message: fmt.Sprintf("%s looks like a stub (%d bytes, need at least %d)", home, len(content), req.MinHomePageBytes),
			})
		}
	}

	if layoutOK {
		content := strings.ToLower(bundle[layout])
		if strings.TrimSpace(content) == "" {
			violations = append(violations, Violation{Rule: RuleEmptyFile, File: layout, Message: layout + " is empty"})
		} else {
			var absent []string
			if !strings.Contains(content, "<html") {
				absent = append(absent, "<html>")
			}
			if !strings.Contains(content, "<body") {
				absent = append(absent, "<body>")
			}
			if len(absent) > 0 {
				violations = append(violations, Violation{
					Rule:    RuleLayoutMarkers,
					File:    layout,
					Message: fmt.Sprintf("%s does not render %s", layout, strings.Join(absent, " or ")),
				})
			}
		}
	}

	if manifestOK {
		violations = append(violations, checkManifest(req, manifestText)...)
	}

	if len(violations) > 0 {
		return &Error{Violations: violations}
	}
	return nil
}

func checkManifest(req Requirements, text string) []Violation {
	var m manifest
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return []Violation{{Rule: RuleManifest, File: req.Manifest, Message: fmt.Sprintf("%s is not valid JSON: %v", req.Manifest, err)}}
	}
	var violations []Violation
	for _, dep := range req.RequiredDependencies {
		if _, ok := m.Dependencies[dep]; !ok {
			violations = append(violations, Violation{
				Rule:    RuleDependency,
				File:    req.Manifest,
				Message: fmt.Sprintf("%s does not declare dependency %q", req.Manifest, dep),
			})
		}
	}
	return violations
}

func pick(bundle types.ArtifactBundle, candidates []string) (string, bool) {
	for _, path := range candidates {
		if _, ok := bundle[path]; ok {
			return path, true
		}
	}
	return "", false
}

func missing(role string, candidates []string) Violation {
	file := ""
	if len(candidates) > 0 {
		file = candidates[0]
	}
	return Violation{
		Rule:    RuleRequiredFile,
		File:    file,
		Message: fmt.Sprintf("missing %s (%s)", role, strings.Join(candidates, " | ")),
	}
}
