package directives

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/siteforge/internal/types"
)

func TestDefault_LoadsEveryDirective(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	all := c.All()
	require.Len(t, all, 4)
	assert.Equal(t, types.DirectiveModernMinimal, all[0].ID)

	for _, d := range all {
		assert.True(t, d.ID.Valid())
		assert.NotEmpty(t, d.Name)
		assert.NotEmpty(t, d.Layout)
		assert.NotEmpty(t, d.Typography)
		assert.Regexp(t, `^#[0-9A-F]{6}$`, d.Palette.Primary)
	}
}

func TestResolve(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	got, err := c.Resolve([]types.DirectiveID{types.DirectiveWarmLocal, types.DirectiveBoldTrades})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.DirectiveWarmLocal, got[0].ID)

	all, err := c.Resolve(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = c.Resolve([]types.DirectiveID{"neon-rave"})
	assert.ErrorContains(t, err, "unknown directive")

	_, err = c.Resolve([]types.DirectiveID{types.DirectiveWarmLocal, types.DirectiveWarmLocal})
	assert.ErrorContains(t, err, "twice")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "directives: []", "empty"},
		{"unknown id", "directives:\n  - id: neon\n    palette: {primary: '#000', background: '#fff', text: '#000'}", "unknown directive id"},
		{"missing palette", "directives:\n  - id: modern-minimal", "palette"},
		{"duplicate", "directives:\n  - id: modern-minimal\n    palette: {primary: a, background: b, text: c}\n  - id: modern-minimal\n    palette: {primary: a, background: b, text: c}", "duplicate"},
		{"malformed", "directives: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
