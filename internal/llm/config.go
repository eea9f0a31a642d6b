// Package llm provides the Gemini client used for single-shot site generation.
package llm

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-pro"

// Config holds the generation settings applied to every call.
type Config struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// DefaultConfig returns settings sized for whole-site responses.
func DefaultConfig() *Config {
	return &Config{
		Model:           DefaultModel,
		Temperature:     0.4,
		MaxOutputTokens: 65536,
	}
}

// WithModel returns a copy of c using model. An empty model keeps the current one.
func (c *Config) WithModel(model string) *Config {
	next := *c
	if model != "" {
		next.Model = model
	}
	return &next
}
