package convergence

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/oracle"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/response"
)

const taqueria = "Taqueria on 5th street, $18 average per person."

func nn(owner, text string) constraint.Tag {
	return constraint.Tag{Owner: constraint.ParticipantID(owner), Text: text, Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable}
}

func budgetFan(owner string) constraint.Tag { return nn(owner, "budget ≤ $20") }

func veganFan(owner string) constraint.Tag { return nn(owner, "fully vegan restaurant") }

func scripted(content string) oracle.Generator {
	return &oracle.ScriptedGenerator{Rounds: []oracle.Generation{{
		Proposals: []proposal.Proposal{{Question: "where to eat", Content: content}},
	}}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EvalWorkers = 2
	cfg.Patience = 0
	return cfg
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	var n atomic.Int64
	opts = append([]Option{WithIDGenerator(func() string {
		return fmt.Sprintf("run-%d", n.Add(1))
	})}, opts...)
	e, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func assertLegalTransitions(t *testing.T, st *RunState) {
	t.Helper()
	prev := Status("")
	for i, tr := range st.Transitions {
		if tr.From != prev {
			t.Fatalf("transition %d starts from %q, want %q", i, tr.From, prev)
		}
		if !tr.From.CanTransition(tr.To) {
			t.Fatalf("transition %d %q -> %q is illegal", i, tr.From, tr.To)
		}
		prev = tr.To
	}
	if prev != st.Status || !st.Status.IsTerminal() {
		t.Fatalf("final status %q, last transition to %q", st.Status, prev)
	}
}

func TestSingleRoundConsensus(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 1
	e := newEngine(t, cfg, WithGenerator(scripted(taqueria)))

	st, err := e.Run(context.Background(), Input{Outcome: "dinner", Tags: []constraint.Tag{budgetFan("alice")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != StatusConverged {
		t.Fatalf("status = %s (%+v), want converged", st.Status, st.Result)
	}
	if len(st.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(st.History))
	}
	resp := st.History[0].Responses["alice"]
	if resp.Type != response.TypeAccept || !resp.NonNegotiablesSatisfied {
		t.Errorf("response = %+v", resp)
	}
	if st.Result == nil || st.Result.Reason != ReasonConsensus || len(st.Result.ViolatedNonNegotiables) != 0 {
		t.Errorf("result = %+v", st.Result)
	}
	assertLegalTransitions(t, st)

	want := []Status{StatusStructuring, StatusProposing, StatusEvaluating, StatusConverged}
	if len(st.Transitions) != len(want) {
		t.Fatalf("transitions = %+v", st.Transitions)
	}
	for i, s := range want {
		if st.Transitions[i].To != s {
			t.Errorf("transition %d = %s, want %s", i, st.Transitions[i].To, s)
		}
	}
}

func TestTerminalOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		tags       []constraint.Tag
		maxRounds  int
		patience   int
		maxOptOuts int
		status     Status
		reason     string
		rounds     int
		violated   int
	}{
		{
			name:      "majority accepted at the round limit",
			tags:      []constraint.Tag{budgetFan("a"), budgetFan("b"), budgetFan("c"), veganFan("d")},
			maxRounds: 2,
			status:    StatusMajorityAccepted,
			reason:    ReasonMajority,
			rounds:    2,
			violated:  1,
		},
		{
			name:      "diverged below the threshold",
			tags:      []constraint.Tag{budgetFan("a"), veganFan("b")},
			maxRounds: 3,
			status:    StatusDiverged,
			reason:    ReasonMaxRounds,
			rounds:    3,
			violated:  1,
		},
		{
			name:       "diverged on opt-outs",
			tags:       []constraint.Tag{budgetFan("a"), veganFan("b"), veganFan("c")},
			maxRounds:  5,
			patience:   2,
			maxOptOuts: 1,
			status:     StatusDiverged,
			reason:     ReasonOptOuts,
			rounds:     2,
			violated:   2,
		},
		{
			name:       "converged among the remaining participants",
			tags:       []constraint.Tag{budgetFan("a"), veganFan("b")},
			maxRounds:  5,
			patience:   2,
			maxOptOuts: 1,
			status:     StatusConverged,
			reason:     ReasonConsensus,
			rounds:     2,
			violated:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRounds = tt.maxRounds
			cfg.Patience = tt.patience
			cfg.MaxOptOuts = tt.maxOptOuts
			e := newEngine(t, cfg, WithGenerator(scripted(taqueria)))

			st, err := e.Run(context.Background(), Input{Outcome: "dinner", Tags: tt.tags})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if st.Status != tt.status || st.Result.Reason != tt.reason {
				t.Fatalf("got %s/%s, want %s/%s", st.Status, st.Result.Reason, tt.status, tt.reason)
			}
			if len(st.History) != tt.rounds || st.Result.Rounds != tt.rounds {
				t.Errorf("rounds = %d, want %d", len(st.History), tt.rounds)
			}
			if got := len(st.Result.ViolatedNonNegotiables); got != tt.violated {
				t.Errorf("violated non-negotiables = %d, want %d (%+v)", got, tt.violated, st.Result.ViolatedNonNegotiables)
			}
			assertLegalTransitions(t, st)
		})
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 4
	var rounds []int
	var mu sync.Mutex
	obs := ObserverFunc(func(ev Event) {
		if ev.Type == EventRound {
			mu.Lock()
			rounds = append(rounds, ev.Round)
			mu.Unlock()
		}
	})
	e := newEngine(t, cfg, WithGenerator(scripted(taqueria)), WithObserver(obs))

	st, err := e.Run(context.Background(), Input{Tags: []constraint.Tag{budgetFan("a"), veganFan("b")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.History) != cfg.MaxRounds {
		t.Fatalf("history = %d rounds", len(st.History))
	}
	for i, r := range st.History {
		if r.Index != i+1 {
			t.Errorf("history[%d].Index = %d", i, r.Index)
		}
		if i > 0 && r.CompletedAt.Before(st.History[i-1].CompletedAt) {
			t.Errorf("round %d completed before round %d", r.Index, i)
		}
	}
	if !reflect.DeepEqual(rounds, []int{1, 2, 3, 4}) {
		t.Errorf("round events = %v", rounds)
	}
	loops := 0
	for _, tr := range st.Transitions {
		if tr.From == StatusEvaluating && tr.To == StatusStructuring {
			loops++
		}
	}
	if loops != cfg.MaxRounds-1 {
		t.Errorf("loop-backs = %d, want %d", loops, cfg.MaxRounds-1)
	}
	assertLegalTransitions(t, st)
}

func TestRefinementFeedsNextRound(t *testing.T) {
	cfg := testConfig()
	relaxed := constraint.Tag{Text: "fully vegan restaurant", Kind: constraint.KindConcern, Severity: constraint.SeverityPreference}
	refiner := &oracle.ScriptedRefiner{Updates: map[constraint.ParticipantID]map[int][]constraint.Tag{
		"bob": {1: {relaxed}},
	}}
	e := newEngine(t, cfg, WithGenerator(scripted(taqueria)), WithRefiner(refiner))

	st, err := e.Run(context.Background(), Input{Tags: []constraint.Tag{budgetFan("alice"), veganFan("bob")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != StatusConverged || len(st.History) != 2 {
		t.Fatalf("status %s after %d rounds", st.Status, len(st.History))
	}
	if st.History[0].Responses["bob"].Type != response.TypeObject {
		t.Errorf("bob round 1 = %s", st.History[0].Responses["bob"].Type)
	}
	if len(st.Refinements) != 1 || len(st.Refinements[0].Regraded) != 1 {
		t.Fatalf("refinements = %+v", st.Refinements)
	}
	if len(st.Supersessions) != 1 || len(st.Ledger) != 3 {
		t.Errorf("ledger = %d tags, %d supersessions", len(st.Ledger), len(st.Supersessions))
	}
	if st.History[0].Constraints[1].Severity != constraint.SeverityNonNegotiable {
		t.Error("round 1 snapshot was rewritten")
	}
}

func TestForkOnPersistentValueConflict(t *testing.T) {
	cfg := testConfig()
	cfg.AllowForking = true
	cfg.MaxRounds = 5
	tags := []constraint.Tag{
		{Owner: "alice", Text: "vegetarian", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Category: constraint.CategoryWhat},
		{Owner: "bob", Text: "steakhouse", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Category: constraint.CategoryWhat},
		{Owner: "carol", Text: "downtown", Kind: constraint.KindConcern, Severity: constraint.SeverityPreference, Category: constraint.CategoryWhere},
	}
	e := newEngine(t, cfg)

	st, err := e.Run(context.Background(), Input{Outcome: "dinner", Tags: tags})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != StatusForked {
		t.Fatalf("status = %s (%+v)", st.Status, st.Result)
	}
	if len(st.History) != cfg.ForkAfterRounds {
		t.Errorf("forked after %d rounds, want %d", len(st.History), cfg.ForkAfterRounds)
	}
	if len(st.Forks) != 2 {
		t.Fatalf("forks = %d", len(st.Forks))
	}
	members := map[string]int{}
	for _, f := range st.Forks {
		if f.ParentID != st.ID || f.Depth != 1 {
			t.Errorf("fork %s parent=%s depth=%d", f.ID, f.ParentID, f.Depth)
		}
		if f.Status != StatusConverged {
			t.Errorf("fork %v status = %s", f.Participants, f.Status)
		}
		for _, p := range f.Participants {
			members[string(p)]++
		}
	}
	if members["alice"] != 1 || members["bob"] != 1 || members["carol"] != 1 {
		t.Errorf("partition membership = %v", members)
	}
	count := 0
	st.Walk(func(*RunState) { count++ })
	if count != 3 {
		t.Errorf("Walk visited %d runs", count)
	}
}

// groupOnlyGenerator composes for the full group and fails for any
// smaller partition.
type groupOnlyGenerator struct {
	size  int
	inner oracle.Generator
}

func (g groupOnlyGenerator) Generate(ctx context.Context, req oracle.Request) (oracle.Generation, error) {
	owners := make(map[constraint.ParticipantID]bool)
	for _, c := range req.Constraints {
		owners[c.Owner] = true
	}
	if len(owners) < g.size {
		return oracle.Generation{}, errors.New("oracle offline")
	}
	return g.inner.Generate(ctx, req)
}

func TestFailedForkStillFinishesParent(t *testing.T) {
	cfg := testConfig()
	cfg.AllowForking = true
	cfg.MaxRounds = 5
	tags := []constraint.Tag{
		{Owner: "alice", Text: "vegetarian", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Category: constraint.CategoryWhat},
		{Owner: "bob", Text: "steakhouse", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Category: constraint.CategoryWhat},
		{Owner: "carol", Text: "downtown", Kind: constraint.KindConcern, Severity: constraint.SeverityPreference, Category: constraint.CategoryWhere},
	}
	e := newEngine(t, cfg, WithGenerator(groupOnlyGenerator{size: 3, inner: oracle.NewComposer(nil)}))

	st, err := e.Run(context.Background(), Input{Outcome: "dinner", Tags: tags})
	if !errors.Is(err, oracle.ErrNoGeneration) {
		t.Fatalf("Run error = %v, want ErrNoGeneration", err)
	}
	if st.Status != StatusForked {
		t.Fatalf("status = %s", st.Status)
	}
	if st.Result == nil || st.Result.Status != StatusForked || st.Result.Error == "" {
		t.Fatalf("result = %+v", st.Result)
	}
	if st.FinishedAt.IsZero() || len(st.Ledger) != len(tags) {
		t.Errorf("finished at %v with %d ledger tags", st.FinishedAt, len(st.Ledger))
	}
	failed := 0
	for _, f := range st.Forks {
		if f.Status != StatusDiverged {
			t.Errorf("fork %v status = %s", f.Participants, f.Status)
		}
		if f.Result != nil && f.Result.Reason == ReasonOracleFailure {
			failed++
		}
	}
	if failed == 0 {
		t.Errorf("no fork reports %s", ReasonOracleFailure)
	}
	assertLegalTransitions(t, st)
}

func TestForkingDisabledKeepsNegotiating(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 3
	tags := []constraint.Tag{
		{Owner: "alice", Text: "vegetarian", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Category: constraint.CategoryWhat},
		{Owner: "bob", Text: "steakhouse", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Category: constraint.CategoryWhat},
	}
	st, err := newEngine(t, cfg).Run(context.Background(), Input{Tags: tags})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != StatusDiverged || len(st.Forks) != 0 || len(st.History) != 3 {
		t.Fatalf("status %s, %d forks, %d rounds", st.Status, len(st.Forks), len(st.History))
	}
	if len(st.Result.UnresolvedTensions) == 0 {
		t.Error("diverged run should report the value conflict as a tension")
	}
}

func TestTimeoutPreservesHistory(t *testing.T) {
	cfg := testConfig()
	cfg.RunTimeout = 100 * time.Millisecond
	cfg.OracleTimeout = 0
	gen := oracle.GeneratorFunc(func(ctx context.Context, req oracle.Request) (oracle.Generation, error) {
		if req.Round >= 2 {
			<-ctx.Done()
			return oracle.Generation{}, ctx.Err()
		}
		return oracle.Generation{Proposals: []proposal.Proposal{{Content: taqueria}}}, nil
	})
	e := newEngine(t, cfg, WithGenerator(gen))

	st, err := e.Run(context.Background(), Input{Tags: []constraint.Tag{budgetFan("a"), veganFan("b")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != StatusDiverged || st.Result.Reason != ReasonTimeout {
		t.Fatalf("got %s/%s", st.Status, st.Result.Reason)
	}
	if len(st.History) != 1 || st.Result.Rounds != 1 {
		t.Errorf("history = %d rounds, want the completed first round", len(st.History))
	}
	if len(st.Result.ViolatedNonNegotiables) != 1 {
		t.Errorf("violated = %+v", st.Result.ViolatedNonNegotiables)
	}
	assertLegalTransitions(t, st)
}

func TestCanceledBeforeFirstRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := newEngine(t, testConfig()).Run(ctx, Input{Tags: []constraint.Tag{budgetFan("a")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != StatusDiverged || st.Result.Reason != ReasonCanceled || len(st.History) != 0 {
		t.Fatalf("got %s/%s with %d rounds", st.Status, st.Result.Reason, len(st.History))
	}
}

func TestOracleFailureDiverges(t *testing.T) {
	gen := oracle.GeneratorFunc(func(context.Context, oracle.Request) (oracle.Generation, error) {
		return oracle.Generation{}, errors.New("upstream down")
	})
	st, err := newEngine(t, testConfig(), WithGenerator(gen)).Run(context.Background(), Input{Tags: []constraint.Tag{budgetFan("a")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Status != StatusDiverged || st.Result.Reason != ReasonOracleFailure || st.Result.Error == "" {
		t.Fatalf("result = %+v", st.Result)
	}
}

func TestInvalidInput(t *testing.T) {
	if _, err := newEngine(t, testConfig()).Run(context.Background(), Input{}); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("err = %v, want ErrNoParticipants", err)
	}

	bad := testConfig()
	bad.MaxRounds = 0
	if _, err := New(bad); err == nil {
		t.Error("expected config error")
	}

	tags := []constraint.Tag{budgetFan("a"), {Owner: "a", Text: "loud music", Kind: constraint.KindConcern, Severity: "huge"}}
	cfg := testConfig()
	cfg.MaxRounds = 1
	st, err := newEngine(t, cfg, WithGenerator(scripted(taqueria))).Run(context.Background(), Input{Tags: tags})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.Quarantined) != 1 || st.Status != StatusConverged {
		t.Errorf("quarantined = %+v, status = %s", st.Quarantined, st.Status)
	}
}

func TestEvaluationIsOrderIndependent(t *testing.T) {
	var tags []constraint.Tag
	for i := 0; i < 8; i++ {
		if i%3 == 0 {
			tags = append(tags, veganFan(fmt.Sprintf("p%d", i)))
		} else {
			tags = append(tags, budgetFan(fmt.Sprintf("p%d", i)))
		}
	}
	run := func(workers int) map[constraint.ParticipantID]response.Response {
		cfg := testConfig()
		cfg.MaxRounds = 1
		cfg.EvalWorkers = workers
		st, err := newEngine(t, cfg, WithGenerator(scripted(taqueria)), WithNarrator(nil)).Run(context.Background(), Input{Tags: tags})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return st.History[0].Responses
	}
	serial, parallel := run(1), run(8)
	if !reflect.DeepEqual(serial, parallel) {
		t.Errorf("responses differ between 1 and 8 workers")
	}
	if len(serial) != 8 {
		t.Errorf("responses = %d", len(serial))
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{"", StatusStructuring, true},
		{StatusStructuring, StatusProposing, true},
		{StatusProposing, StatusEvaluating, true},
		{StatusEvaluating, StatusStructuring, true},
		{StatusEvaluating, StatusForked, true},
		{StatusProposing, StatusStructuring, false},
		{StatusStructuring, StatusConverged, false},
		{StatusConverged, StatusStructuring, false},
		{StatusDiverged, StatusConverged, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%q -> %q = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}

	st := &RunState{Status: StatusConverged}
	if err := st.transition(StatusStructuring, time.Now()); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("err = %v, want ErrIllegalTransition", err)
	}
}
