package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
)

// DefaultMaxAttempts is the generation budget per round.
const DefaultMaxAttempts = 2

// RejectionKind classifies why a generation was rejected.
type RejectionKind string

const (
	RejectEmpty          RejectionKind = "empty"
	RejectHallucination  RejectionKind = "hallucinated-constraint"
	RejectInfeasible     RejectionKind = "infeasible-without-tension"
	RejectGeneratorError RejectionKind = "generator-error"
)

// Rejection records one contract violation found in a generation.
type Rejection struct {
	Attempt  int           `json:"attempt" yaml:"attempt"`
	Kind     RejectionKind `json:"kind" yaml:"kind"`
	Proposal int           `json:"proposal" yaml:"proposal"`
	Reason   string        `json:"reason" yaml:"reason"`
}

// Result is the adapter's output for one round.
type Result struct {
	Generation
	Attempts int `json:"attempts" yaml:"attempts"`
	// Unverified is set when every attempt broke the contract and the best
	// generation was passed through anyway.
	Unverified bool        `json:"unverified,omitempty" yaml:"unverified,omitempty"`
	Rejections []Rejection `json:"rejections,omitempty" yaml:"rejections,omitempty"`
}

// Adapter wraps a Generator with contract validation and a bounded
// regeneration budget.
type Adapter struct {
	Generator Generator
	// MaxAttempts bounds generation calls per round. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int
	// AttemptTimeout bounds each generator call. Zero means no limit
	// beyond ctx.
	AttemptTimeout time.Duration
	Lexicon        *lexicon.Lexicon
	Logger         *slog.Logger
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Adapter) lexicon() *lexicon.Lexicon {
	if a.Lexicon != nil {
		return a.Lexicon
	}
	return lexicon.Default()
}

// Propose asks the generator for proposals, rejecting and regenerating
// output that breaks the contract. When the budget runs out the
// generation with the fewest violations is returned marked Unverified,
// with tensions added for any unreported bound violations. An error is
// returned only when no attempt produced a generation or ctx ended.
func (a *Adapter) Propose(ctx context.Context, req Request) (Result, error) {
	if a == nil {
		return Result{}, errors.New("adapter is nil")
	}
	if a.Generator == nil {
		return Result{}, ErrNoGenerator
	}
	maxAttempts := a.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	log := a.logger().With("round", req.Round)

	var (
		res       Result
		best      *Generation
		bestCount int
		lastErr   error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt
		req.Attempt = attempt

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if a.AttemptTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, a.AttemptTimeout)
		}
		gen, err := a.Generator.Generate(callCtx, req)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			lastErr = err
			res.Rejections = append(res.Rejections, Rejection{Attempt: attempt, Kind: RejectGeneratorError, Proposal: -1, Reason: err.Error()})
			log.Warn("generator call failed", "attempt", attempt, "error", err)
			req.Feedback = append(req.Feedback, "generator error: "+err.Error())
			continue
		}

		rejections := Validate(gen, req.Constraints, a.lexicon())
		if len(rejections) == 0 {
			res.Generation = gen
			return res, nil
		}
		for i := range rejections {
			rejections[i].Attempt = attempt
			log.Warn("generation rejected", "attempt", attempt, "kind", rejections[i].Kind, "reason", rejections[i].Reason)
			req.Feedback = append(req.Feedback, rejections[i].Reason)
		}
		res.Rejections = append(res.Rejections, rejections...)
		if best == nil || len(rejections) < bestCount {
			g := gen
			best, bestCount = &g, len(rejections)
		}
	}

	if best == nil {
		if lastErr != nil {
			return res, fmt.Errorf("%w: %v", ErrNoGeneration, lastErr)
		}
		return res, ErrNoGeneration
	}
	res.Generation = surfaceViolations(*best, req.Constraints, a.lexicon())
	res.Unverified = true
	log.Warn("passing unverified generation", "attempts", res.Attempts, "violations", bestCount)
	return res, nil
}

// Validate checks a generation against the constraint set: every
// addressed item must name a real constraint, and a proposal that breaks
// an explicit top-tier bound must come with a tension for it.
func Validate(gen Generation, tags []constraint.Tag, lex *lexicon.Lexicon) []Rejection {
	if lex == nil {
		lex = lexicon.Default()
	}
	if gen.IsEmpty() {
		return []Rejection{{Kind: RejectEmpty, Proposal: -1, Reason: "no proposals or tensions returned"}}
	}
	var out []Rejection
	for i, p := range gen.Proposals {
		if p.IsEmpty() {
			out = append(out, Rejection{Kind: RejectEmpty, Proposal: i, Reason: fmt.Sprintf("proposal %d has no content", i)})
			continue
		}
		for _, item := range p.Addressed() {
			if !namesConstraint(item, tags, lex) {
				out = append(out, Rejection{
					Kind:     RejectHallucination,
					Proposal: i,
					Reason:   fmt.Sprintf("proposal %d claims to address %q, which is not a stated constraint", i, item),
				})
			}
		}
		for _, v := range boundViolations(p, tags, lex) {
			if !reported(v.tag, gen.Tensions, lex) {
				out = append(out, Rejection{
					Kind:     RejectInfeasible,
					Proposal: i,
					Reason:   fmt.Sprintf("proposal %d %s, breaking %q, without a tension", i, v.evidence, v.tag.Text),
				})
			}
		}
	}
	return out
}

func namesConstraint(item string, tags []constraint.Tag, lex *lexicon.Lexicon) bool {
	for _, t := range tags {
		if lex.Covers(item, t.Text) || lex.Covers(t.Text, item) {
			return true
		}
	}
	return false
}

type boundViolation struct {
	tag      constraint.Tag
	evidence string
}

func boundViolations(p proposal.Proposal, tags []constraint.Tag, lex *lexicon.Lexicon) []boundViolation {
	var out []boundViolation
	for _, t := range tags {
		if !t.IsTopTier() {
			continue
		}
		check := satisfaction.CheckBounds(t.Text, p.Content, lex)
		if check.Violated {
			out = append(out, boundViolation{tag: t, evidence: check.Evidence})
		}
	}
	return out
}

func reported(tag constraint.Tag, tensions []proposal.Tension, lex *lexicon.Lexicon) bool {
	for _, tn := range tensions {
		for _, c := range tn.ConstraintsInvolved {
			if lex.Covers(c, tag.Text) || strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(tag.Text)) {
				return true
			}
		}
	}
	return false
}

// surfaceViolations adds a tension for every top-tier bound a proposal
// breaks without one.
func surfaceViolations(gen Generation, tags []constraint.Tag, lex *lexicon.Lexicon) Generation {
	out := Generation{
		Proposals: append([]proposal.Proposal(nil), gen.Proposals...),
		Tensions:  append([]proposal.Tension(nil), gen.Tensions...),
	}
	for _, p := range gen.Proposals {
		for _, v := range boundViolations(p, tags, lex) {
			if reported(v.tag, out.Tensions, lex) {
				continue
			}
			out.Tensions = append(out.Tensions, proposal.Tension{
				Description:         fmt.Sprintf("unverified proposal %s, breaking %q", v.evidence, v.tag.Text),
				ConstraintsInvolved: []string{v.tag.Text},
				PossibleResolutions: Resolutions([]constraint.Tag{v.tag}, p.Content, lex),
			})
		}
	}
	return out
}
