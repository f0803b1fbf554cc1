// Package convergence runs the round-based negotiation state machine:
// structure the constraints, ask the oracle for proposals, evaluate every
// participant in parallel, then converge, accept by majority, diverge,
// fork, or loop back with refined constraints.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
	"github.com/Dicklesworthstone/accord/internal/oracle"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// ErrNoParticipants is returned by Run when the input names nobody.
var ErrNoParticipants = errors.New("run has no participants")

// Input is everything a run starts from.
type Input struct {
	Outcome      string                     `json:"outcome" yaml:"outcome"`
	Participants []constraint.ParticipantID `json:"participants,omitempty" yaml:"participants,omitempty"`
	Tags         []constraint.Tag           `json:"tags" yaml:"tags"`
	// Commitments are facts already fixed for the plan, such as a planned
	// activity's length, that feasibility checks must respect.
	Commitments []string `json:"commitments,omitempty" yaml:"commitments,omitempty"`
	// Quarantined carries input already rejected at the boundary so the
	// run record keeps it.
	Quarantined []constraint.Quarantined `json:"quarantined,omitempty" yaml:"quarantined,omitempty"`
}

// participantList returns the declared participants followed by any tag
// owner not declared, without duplicates.
func (in Input) participantList() []constraint.ParticipantID {
	seen := make(map[constraint.ParticipantID]bool)
	var out []constraint.ParticipantID
	add := func(p constraint.ParticipantID) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range in.Participants {
		add(p)
	}
	for _, t := range in.Tags {
		add(t.Owner)
	}
	return out
}

// Engine runs negotiations. An Engine holds no per-run state and may run
// several negotiations concurrently.
type Engine struct {
	cfg         Config
	generator   oracle.Generator
	refiner     oracle.Refiner
	narrator    oracle.Narrator
	narratorSet bool
	lexicon     *lexicon.Lexicon
	logger      *slog.Logger
	observers   []Observer
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerator sets the proposal generator. The default is a Composer.
func WithGenerator(g oracle.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithRefiner sets the collaborator asked for refined constraints after an
// objection. The default leaves constraints unchanged.
func WithRefiner(r oracle.Refiner) Option {
	return func(e *Engine) { e.refiner = r }
}

// WithNarrator sets the narrative collaborator. Pass nil to skip narration.
func WithNarrator(n oracle.Narrator) Option {
	return func(e *Engine) {
		e.narrator = n
		e.narratorSet = true
	}
}

// WithLexicon sets the matcher used for structuring and classification.
func WithLexicon(l *lexicon.Lexicon) Option {
	return func(e *Engine) { e.lexicon = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers an observer for run events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an engine after validating cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	e := &Engine{
		cfg:     cfg,
		refiner: oracle.NopRefiner{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.lexicon == nil {
		e.lexicon = lexicon.Default()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.generator == nil {
		e.generator = &oracle.Composer{Lexicon: e.lexicon, Logger: e.logger}
	}
	if e.refiner == nil {
		e.refiner = oracle.NopRefiner{}
	}
	if e.narrator == nil && !e.narratorSet {
		e.narrator = oracle.SummaryNarrator{Lexicon: e.lexicon}
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run drives a negotiation to a terminal status. Timeouts and cancellation
// finalize the run as diverged with its partial history and a nil error.
// An error is returned for invalid input or a broken structuring
// invariant; the returned state is still populated in the latter case.
func (e *Engine) Run(ctx context.Context, in Input) (*RunState, error) {
	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}
	return e.run(ctx, in, 0, "")
}

func (e *Engine) run(ctx context.Context, in Input, depth int, parentID string) (*RunState, error) {
	participants := in.participantList()
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	st := &RunState{
		ID:           e.newID(),
		ParentID:     parentID,
		Depth:        depth,
		Outcome:      in.Outcome,
		Participants: participants,
		StartedAt:    e.now().UTC(),
		Quarantined:  append([]constraint.Quarantined(nil), in.Quarantined...),
	}
	r := &runner{
		e:          e,
		st:         st,
		in:         in,
		ledger:     constraint.NewLedger(),
		log:        e.logger.With("run_id", st.ID, "depth", depth),
		streaks:    make(map[constraint.ParticipantID]response.Streak),
		optedOut:   make(map[constraint.ParticipantID]bool),
		hardStreak: make(map[constraint.Category]int),
		workers:    e.cfg.workers(),
	}
	for _, t := range in.Tags {
		if t.Round == 0 {
			t.Round = 1
		}
		if _, err := r.ledger.Add(t); err != nil {
			q := constraint.Quarantined{
				Owner:  t.Owner,
				Raw:    constraint.RawTag{ID: t.ID, Text: t.Text, Kind: string(t.Kind), Priority: t.Priority(), Category: string(t.Category), Flexibility: t.Flexibility},
				Reason: err.Error(),
			}
			st.Quarantined = append(st.Quarantined, q)
			r.log.Warn("quarantined tag", "participant", t.Owner, "text", t.Text, "reason", q.Reason)
		}
	}
	r.log.Info("run started", "participants", len(participants), "tags", len(in.Tags), "workers", r.workers)
	return r.loop(ctx)
}

// runner holds the mutable state of one run. Only the orchestrating
// goroutine touches it.
type runner struct {
	e          *Engine
	st         *RunState
	in         Input
	ledger     *constraint.Ledger
	log        *slog.Logger
	streaks    map[constraint.ParticipantID]response.Streak
	optedOut   map[constraint.ParticipantID]bool
	hardStreak map[constraint.Category]int
	workers    int
}

func (r *runner) enter(to Status) error {
	from := r.st.Status
	if err := r.st.transition(to, r.e.now().UTC()); err != nil {
		r.log.Error("state machine rejected transition", "from", from, "to", to, "error", err)
		return err
	}
	r.log.Info("status transition", "round", r.st.Round, "from", from, "to", to)
	r.emit(Event{Type: EventStatus, Status: to})
	return nil
}

func (r *runner) active() []constraint.ParticipantID {
	var out []constraint.ParticipantID
	for _, p := range r.st.Participants {
		if !r.optedOut[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *runner) activeTags() []constraint.Tag {
	var out []constraint.Tag
	for _, t := range r.ledger.Current() {
		if !r.optedOut[t.Owner] {
			out = append(out, t)
		}
	}
	return out
}

func (r *runner) loop(ctx context.Context) (*RunState, error) {
	cfg := r.e.cfg
	adapter := &oracle.Adapter{
		Generator:      r.e.generator,
		MaxAttempts:    cfg.attempts(),
		AttemptTimeout: cfg.OracleTimeout,
		Lexicon:        r.e.lexicon,
		Logger:         r.log,
	}

	for round := 1; ; round++ {
		r.st.Round = round
		if err := r.enter(StatusStructuring); err != nil {
			return r.st, err
		}
		if err := ctx.Err(); err != nil {
			return r.abort(err)
		}

		active := r.active()
		tags := r.activeTags()
		structure := structuring.Structure(tags, structuring.Options{
			Lexicon:     r.e.lexicon,
			Commitments: r.in.Commitments,
			Logger:      r.log,
		})
		if err := structure.Validate(len(active)); err != nil {
			r.log.Error("structuring invariant violated", "round", round, "error", err)
			if ferr := r.finish(StatusDiverged, ReasonInvariantViolation, err); ferr != nil {
				return r.st, ferr
			}
			return r.st, fmt.Errorf("round %d: %w", round, err)
		}

		if err := r.enter(StatusProposing); err != nil {
			return r.st, err
		}
		pctx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.OracleTimeout > 0 {
			pctx, cancel = context.WithTimeout(ctx, cfg.OracleTimeout*time.Duration(cfg.attempts()))
		}
		gen, err := adapter.Propose(pctx, oracle.Request{
			Outcome:     r.in.Outcome,
			Round:       round,
			Structure:   structure,
			Constraints: tags,
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return r.abort(ctx.Err())
			}
			r.log.Error("proposal generation failed", "round", round, "error", err)
			return r.st, r.finish(StatusDiverged, ReasonOracleFailure, err)
		}

		if err := r.enter(StatusEvaluating); err != nil {
			return r.st, err
		}
		combined := proposal.Combine(gen.Proposals)
		evals, err := r.evaluate(ctx, combined, tags, active)
		if err != nil {
			// no partial-round decisions
			return r.abort(err)
		}

		rec := Round{
			Index:          round,
			Constraints:    tags,
			Questions:      structure.Questions,
			Couplings:      structure.Couplings,
			ConsensusItems: structure.ConsensusItems,
			Warnings:       structure.Warnings,
			Proposals:      gen.Proposals,
			Combined:       combined,
			Tensions:       gen.Tensions,
			Unverified:     gen.Unverified,
			Attempts:       gen.Attempts,
			Rejections:     gen.Rejections,
			Responses:      make(map[constraint.ParticipantID]response.Response, len(evals)),
		}
		for _, ev := range evals {
			rec.Responses[ev.participant] = ev.resp
			rec.Tally.Add(ev.resp.Type)
			if ev.narration != nil {
				if rec.Narrations == nil {
					rec.Narrations = make(map[constraint.ParticipantID]proposal.Narration)
				}
				rec.Narrations[ev.participant] = *ev.narration
			}
			if ev.streak.Rounds == 0 {
				delete(r.streaks, ev.participant)
			} else {
				r.streaks[ev.participant] = ev.streak
			}
		}
		rec.CompletedAt = r.e.now().UTC()
		r.st.History = append(r.st.History, rec)
		r.log.Info("round complete", "round", round, "tally", rec.Tally.String(),
			"proposals", len(rec.Proposals), "tensions", len(rec.Tensions), "unverified", rec.Unverified)
		tally := rec.Tally
		r.emit(Event{Type: EventRound, Status: StatusEvaluating, Tally: &tally})

		next, reason, forkOn := r.judge(rec, structure)
		switch next {
		case StatusForked:
			if err := r.enter(StatusForked); err != nil {
				return r.st, err
			}
			if err := r.fork(ctx, forkOn); err != nil {
				if ferr := r.finish(StatusForked, reason, err); ferr != nil {
					return r.st, ferr
				}
				return r.st, err
			}
			return r.st, r.finish(StatusForked, reason, nil)
		case StatusConverged, StatusMajorityAccepted, StatusDiverged:
			return r.st, r.finish(next, reason, nil)
		}

		r.refine(ctx, round, rec)
	}
}

// judge applies the transition rules, in order, to a completed round.
func (r *runner) judge(rec Round, structure structuring.Result) (Status, string, *structuring.Question) {
	cfg := r.e.cfg

	for p, resp := range rec.Responses {
		if resp.Type == response.TypeOptOut && !r.optedOut[p] {
			r.optedOut[p] = true
			delete(r.streaks, p)
			r.log.Info("participant opted out", "round", rec.Index, "participant", p)
		}
	}

	active, accepting := 0, 0
	nonNegotiablesMet := true
	for _, resp := range rec.Responses {
		if resp.Type == response.TypeOptOut {
			continue
		}
		active++
		if resp.Type.Accepting() {
			accepting++
		}
		if !resp.NonNegotiablesSatisfied {
			nonNegotiablesMet = false
		}
	}

	var forkOn *structuring.Question
	for _, q := range structure.Questions {
		hard := false
		for _, c := range q.HardConflicts() {
			if c.Kind == structuring.ConflictValue {
				hard = true
				break
			}
		}
		if !hard {
			delete(r.hardStreak, q.Category)
			continue
		}
		r.hardStreak[q.Category]++
		if forkOn == nil && r.hardStreak[q.Category] >= cfg.ForkAfterRounds {
			forkOn = &q
		}
	}

	switch {
	case len(r.optedOut) > cfg.MaxOptOuts:
		return StatusDiverged, ReasonOptOuts, nil
	case active == 0:
		return StatusDiverged, ReasonNoParticipants, nil
	case accepting == active && nonNegotiablesMet:
		return StatusConverged, ReasonConsensus, nil
	}

	if cfg.AllowForking && forkOn != nil && r.st.Depth < cfg.MaxForkDepth {
		if len(r.partition(*forkOn)) >= 2 {
			return StatusForked, ReasonValueConflict, forkOn
		}
	}

	if rec.Index >= cfg.MaxRounds {
		if rec.Tally.AcceptanceRate() >= cfg.AcceptanceThreshold {
			return StatusMajorityAccepted, ReasonMajority, nil
		}
		return StatusDiverged, ReasonMaxRounds, nil
	}
	return StatusStructuring, "", nil
}

// refine asks the refiner for updated constraints from every participant
// who objected, and folds the answers into the ledger for the next round.
func (r *runner) refine(ctx context.Context, round int, rec Round) {
	cfg := r.e.cfg
	var objectors []constraint.ParticipantID
	for p, resp := range rec.Responses {
		if resp.Type == response.TypeObject {
			objectors = append(objectors, p)
		}
	}
	sort.Slice(objectors, func(i, j int) bool { return objectors[i] < objectors[j] })

	for _, p := range objectors {
		resp := rec.Responses[p]
		feedback := resp.Reason
		for _, c := range resp.ConstraintAnalysis {
			if !c.Satisfied && c.Priority == constraint.SeverityNonNegotiable.String() {
				feedback += fmt.Sprintf("; %q is %s", c.Constraint, c.Outcome)
			}
		}
		req := oracle.RefineRequest{
			Participant: p,
			Round:       round,
			Current:     r.ledger.CurrentFor(p),
			Feedback:    feedback,
		}
		ref := Refinement{Round: round, Participant: p}
		updated, err := oracle.Call(ctx, cfg.attempts(), cfg.OracleTimeout, func(c context.Context) ([]constraint.Tag, error) {
			return r.e.refiner.Refine(c, req)
		})
		if err != nil {
			ref.Error = err.Error()
			r.st.Refinements = append(r.st.Refinements, ref)
			r.log.Warn("refinement failed; keeping constraints", "round", round, "participant", p, "error", err)
			continue
		}
		res, err := r.ledger.Reconcile(p, updated, round+1)
		if err != nil {
			ref.Error = err.Error()
			r.log.Warn("reconcile failed", "round", round, "participant", p, "error", err)
		}
		ref.Added = constraint.Texts(res.Added)
		ref.Regraded = res.Regraded
		ref.Retired = res.Retired
		ref.Quarantined = res.Quarantine
		for _, q := range res.Quarantine {
			r.log.Warn("quarantined tag", "participant", p, "text", q.Raw.Text, "reason", q.Reason)
		}
		if res.Changed() || ref.Error != "" || len(ref.Quarantined) > 0 {
			r.st.Refinements = append(r.st.Refinements, ref)
		}
	}
}

// abort finalizes a run stopped by its context.
func (r *runner) abort(cause error) (*RunState, error) {
	reason := ReasonCanceled
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	r.log.Warn("run stopped early", "reason", reason, "round", r.st.Round, "completed_rounds", len(r.st.History))
	if err := r.finish(StatusDiverged, reason, nil); err != nil {
		return r.st, err
	}
	return r.st, nil
}

// finish moves the run to a terminal status and writes its result.
func (r *runner) finish(status Status, reason string, cause error) error {
	if r.st.Status != status {
		if err := r.enter(status); err != nil {
			return err
		}
	}
	res := &Result{
		Status: status,
		Reason: reason,
		Rounds: len(r.st.History),
	}
	if cause != nil {
		res.Error = cause.Error()
	}
	if last, ok := r.st.LastRound(); ok {
		res.Tally = last.Tally
		res.AcceptanceRate = last.Tally.AcceptanceRate()
		res.UnresolvedTensions = last.Tensions
		res.Unverified = last.Unverified
		res.ViolatedNonNegotiables = violated(last)
	}
	for _, p := range r.st.Participants {
		if r.optedOut[p] {
			res.OptedOut = append(res.OptedOut, p)
		}
	}
	r.st.Result = res
	r.st.Ledger = r.ledger.All()
	r.st.Supersessions = r.ledger.Supersessions()
	r.st.FinishedAt = r.e.now().UTC()

	r.log.Info("run finished", "status", status, "reason", reason, "rounds", res.Rounds,
		"violated_non_negotiables", len(res.ViolatedNonNegotiables), "unresolved_tensions", len(res.UnresolvedTensions))
	r.emit(Event{Type: EventFinished, Status: status, Reason: reason})
	return nil
}

func violated(rec Round) []ViolatedConstraint {
	ids := make([]constraint.ParticipantID, 0, len(rec.Responses))
	for p := range rec.Responses {
		ids = append(ids, p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []ViolatedConstraint
	for _, p := range ids {
		for _, c := range rec.Responses[p].ConstraintAnalysis {
			if c.Satisfied || c.Priority != constraint.SeverityNonNegotiable.String() {
				continue
			}
			out = append(out, ViolatedConstraint{Participant: p, Constraint: c.Constraint, Outcome: c.Outcome, Evidence: c.Evidence})
		}
	}
	return out
}
