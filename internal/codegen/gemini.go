package codegen

import (
	"context"
	"fmt"

	"github.com/jonathan/siteforge/internal/codec"
	"github.com/jonathan/siteforge/internal/llm"
)

// Gemini is a single-shot service that returns the bundle in its response text.
type Gemini struct {
	client llm.Client
}

// NewGemini creates a Gemini-backed service.
func NewGemini(client llm.Client) *Gemini {
	return &Gemini{client: client}
}

// Mode implements Service.
func (g *Gemini) Mode() codec.Mode { return codec.ModeInline }

// Generate implements Service.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	text, err := g.client.Generate(ctx, llm.Request{
		System: req.System,
		User:   req.User,
		Model:  req.Model,
		JSON:   true,
	})
	if err != nil {
		if terr := timeoutError(ctx, err); terr != err {
			return nil, terr
		}
		return nil, &OutcomeError{Outcome: OutcomeFailed, Message: "model call failed", Cause: err}
	}
	if text == "" {
		return nil, &OutcomeError{Outcome: OutcomeFailed, Message: "empty response"}
	}
	return &Response{Outcome: OutcomeSuccess, Text: text, Turns: 1}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("failed to close model client: %w", err)
	}
	return nil
}
