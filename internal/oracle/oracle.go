// Package oracle defines the external collaborators a negotiation run
// calls: a proposal Generator, a constraint Refiner and a Narrator. It
// also provides the Adapter that validates generator output, bounded
// retry and timeout wrappers, and built-in implementations.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

var (
	// ErrNoGeneration is returned when no attempt produced any generation.
	ErrNoGeneration = errors.New("generator produced no usable generation")
	// ErrNoGenerator is returned by an Adapter with no generator configured.
	ErrNoGenerator = errors.New("no generator configured")
)

// Request is the structured input handed to a generator each round.
type Request struct {
	Outcome     string             `json:"outcome"`
	Round       int                `json:"round"`
	Attempt     int                `json:"attempt"`
	Structure   structuring.Result `json:"structure"`
	Constraints []constraint.Tag   `json:"constraints"`
	// Feedback lists the reasons earlier attempts in this round were
	// rejected.
	Feedback []string `json:"feedback,omitempty"`
}

// Generation is what a generator returns.
type Generation struct {
	Proposals []proposal.Proposal `json:"proposals" yaml:"proposals"`
	Tensions  []proposal.Tension  `json:"tensions,omitempty" yaml:"tensions,omitempty"`
}

// IsEmpty reports whether the generation carries nothing.
func (g Generation) IsEmpty() bool {
	return len(g.Proposals) == 0 && len(g.Tensions) == 0
}

// Generator produces proposals and tensions from a structured request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Generation, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Generation, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Generation, error) {
	return f(ctx, req)
}

// RefineRequest asks for a participant's updated constraints after an
// objection.
type RefineRequest struct {
	Participant constraint.ParticipantID `json:"participant"`
	Round       int                      `json:"round"`
	Current     []constraint.Tag         `json:"current"`
	// Feedback is free text describing why the participant objected.
	Feedback string `json:"feedback"`
}

// Refiner returns a participant's updated tag set.
type Refiner interface {
	Refine(ctx context.Context, req RefineRequest) ([]constraint.Tag, error)
}

// RefinerFunc adapts a function to Refiner.
type RefinerFunc func(ctx context.Context, req RefineRequest) ([]constraint.Tag, error)

// Refine calls f.
func (f RefinerFunc) Refine(ctx context.Context, req RefineRequest) ([]constraint.Tag, error) {
	return f(ctx, req)
}

// Narrator writes a participant-facing summary of a proposal. The
// confidence it returns is advisory.
type Narrator interface {
	Narrate(ctx context.Context, p proposal.Proposal, participant constraint.ParticipantID, tags []constraint.Tag) (proposal.Narration, error)
}

// NopRefiner leaves constraints unchanged.
type NopRefiner struct{}

// Refine returns the current tags.
func (NopRefiner) Refine(_ context.Context, req RefineRequest) ([]constraint.Tag, error) {
	return req.Current, nil
}

// Call runs fn with a per-attempt timeout and retries failures up to
// attempts times in total. It stops early when ctx ends.
func Call[T any](ctx context.Context, attempts int, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		callCtx := ctx
		cancel := func() {}
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, fmt.Errorf("after %d attempt(s): %w", attempts, lastErr)
}
