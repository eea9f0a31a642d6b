package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get("generation.json", "system")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Next.js")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get("generation.json", "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestRender_Constraints(t *testing.T) {
	lines, err := Lines("generation.json", "constraints", map[string]any{
		"RequiredFiles":        []string{"app/page.tsx", "app/layout.tsx", "package.json"},
		"RequiredDependencies": []string{"next", "react"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Equal(t, "Include the files app/page.tsx, app/layout.tsx, package.json.", lines[0])
	assert.Contains(t, lines[2], "next, react")
}

func TestRender_NumberedConstraints(t *testing.T) {
	out, err := Render("generation.json", "user", map[string]any{
		"Document":           `{"business":{}}`,
		"Constraints":        []string{"first", "second"},
		"OutputInstructions": "OUTPUT FORMAT: json",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "1. first\n2. second\n")
	assert.Contains(t, out, `{"business":{}}`)
	assert.Contains(t, out, "OUTPUT FORMAT: json")
}

func TestRender_MissingKeyFails(t *testing.T) {
	_, err := Render("generation.json", "user", map[string]any{"Document": "{}"})
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	ClearCache()

	keys, err := List("generation.json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"system", "user", "output-inline", "output-workspace", "constraints"}, keys)
}
