// Package codegen invokes code-generation services and normalizes their
// outcomes.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/siteforge/internal/codec"
	"github.com/jonathan/siteforge/internal/types"
)

// Outcome is the terminal state reported by a code-generation service.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeMaxTurns Outcome = "error_max_turns"
	OutcomeFailed   Outcome = "error_during_execution"
	OutcomeTimeout  Outcome = "timeout"
)

// Request is one call into a code-generation service.
type Request struct {
	System string
	User   string
	// Workspace is the directory an agentic service writes into. Inline
	// services ignore it.
	Workspace    string
	AllowedTools []string
	Model        string
	MaxTurns     int
	Timeout      time.Duration
}

// Response is a successful call. Bundle is set when the service collected the
// files itself; otherwise Text carries them inline.
type Response struct {
	Outcome Outcome
	Text    string
	Bundle  types.ArtifactBundle
	Turns   int
}

// Service generates a site for one attempt.
type Service interface {
	// Mode reports whether the bundle arrives inline or in the workspace.
	Mode() codec.Mode
	Generate(ctx context.Context, req Request) (*Response, error)
}

// OutcomeError is returned when a service finished without success.
type OutcomeError struct {
	Outcome Outcome
	Message string
	Cause   error
}

func (e *OutcomeError) Error() string {
	msg := fmt.Sprintf("code generation ended with %s", e.Outcome)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *OutcomeError) Unwrap() error {
	return e.Cause
}

// timeoutError converts a deadline overrun into an OutcomeError.
func timeoutError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &OutcomeError{Outcome: OutcomeTimeout, Message: "time budget exhausted", Cause: err}
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
