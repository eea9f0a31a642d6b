package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"app/page.tsx\": \"x\"}\n```",
			expected: `{"app/page.tsx": "x"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"key\": \"value\"}\n```",
			expected: `{"key": "value"}`,
		},
		{
			name:     "language tag without newline content",
			input:    "```tsx\n{\"a\": \"b\"}```",
			expected: `{"a": "b"}`,
		},
		{
			name:     "preamble before fence",
			input:    "Here is your site:\n```json\n{\"a\": \"b\"}\n```\nEnjoy!",
			expected: `{"a": "b"}`,
		},
		{
			name:     "no fence",
			input:    "  {\"a\": \"b\"}  ",
			expected: `{"a": "b"}`,
		},
		{
			name:     "fence on same line as object",
			input:    "```{\"a\": \"b\"}```",
			expected: `{"a": "b"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}
