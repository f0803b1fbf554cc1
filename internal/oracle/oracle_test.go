package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

func concern(id, owner, text string, sev constraint.Severity) constraint.Tag {
	return constraint.Tag{ID: id, Owner: constraint.ParticipantID(owner), Text: text, Kind: constraint.KindConcern, Severity: sev}
}

func desire(id, owner, text string, in constraint.Intensity) constraint.Tag {
	return constraint.Tag{ID: id, Owner: constraint.ParticipantID(owner), Text: text, Kind: constraint.KindDesire, Intensity: in}
}

func request(tags []constraint.Tag, round int) Request {
	return Request{
		Outcome:     "group outing",
		Round:       round,
		Structure:   structuring.Structure(tags, structuring.Options{}),
		Constraints: tags,
	}
}

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func TestComposerSurfacesOverBudgetItem(t *testing.T) {
	budget := concern("a1", "alice", "budget max $400", constraint.SeverityNonNegotiable)
	ski := desire("b1", "bob", "ski trip", constraint.IntensityWouldLove)
	tags := []constraint.Tag{budget, ski}

	gen, err := NewComposer(nil).Generate(context.Background(), request(tags, 1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, p := range gen.Proposals {
		if strings.Contains(strings.ToLower(p.Content), "ski") {
			t.Errorf("proposal claims the over-budget item: %+v", p)
		}
		for _, item := range p.Addressed() {
			if item == ski.Text {
				t.Errorf("proposal lists %q as addressed", item)
			}
		}
	}

	var tension *proposal.Tension
	for i := range gen.Tensions {
		if gen.Tensions[i].Involves(ski.Text) {
			tension = &gen.Tensions[i]
		}
	}
	if tension == nil {
		t.Fatalf("no tension for the ski trip: %+v", gen.Tensions)
	}
	if !tension.Involves(budget.Text) {
		t.Errorf("tension should involve the budget, got %v", tension.ConstraintsInvolved)
	}
	if !strings.Contains(tension.Description, "$600+") {
		t.Errorf("description = %q, want the typical cost", tension.Description)
	}
	if !hasPrefix(tension.PossibleResolutions, "raise the budget to at least $600") {
		t.Errorf("missing budget resolution: %v", tension.PossibleResolutions)
	}
	if !hasPrefix(tension.PossibleResolutions, "replace ski trip with ") {
		t.Errorf("missing substitution resolution: %v", tension.PossibleResolutions)
	}

	if rej := Validate(gen, tags, nil); len(rej) != 0 {
		t.Errorf("composer output should validate, got %+v", rej)
	}
}

func TestComposerRotatesContestedPositions(t *testing.T) {
	tags := []constraint.Tag{
		concern("a1", "alice", "vegetarian", constraint.SeverityNonNegotiable),
		desire("b1", "bob", "steakhouse", constraint.IntensityMustHave),
	}
	for i := range tags {
		tags[i].Category = constraint.CategoryWhat
	}
	content := func(round int) string {
		t.Helper()
		gen, err := NewComposer(nil).Generate(context.Background(), request(tags, round))
		if err != nil {
			t.Fatalf("Generate(round %d): %v", round, err)
		}
		if len(gen.Proposals) != 1 {
			t.Fatalf("round %d: want 1 proposal, got %+v", round, gen.Proposals)
		}
		if len(gen.Tensions) == 0 || !hasPrefix(gen.Tensions[0].PossibleResolutions, "adopt ") {
			t.Errorf("round %d: value conflict should be reported with adopt options, got %+v", round, gen.Tensions)
		}
		return gen.Proposals[0].Content
	}

	r1, r2, r3 := content(1), content(2), content(3)
	if r1 == r2 {
		t.Errorf("rounds 1 and 2 proposed the same position %q", r1)
	}
	if r1 != r3 {
		t.Errorf("round 3 = %q, want rotation back to %q", r3, r1)
	}
}

func TestComposerHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewComposer(nil).Generate(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAdapterRetriesHallucination(t *testing.T) {
	tags := []constraint.Tag{concern("a1", "alice", "vegetarian options", constraint.SeverityNonNegotiable)}
	var feedback []string
	gen := GeneratorFunc(func(_ context.Context, req Request) (Generation, error) {
		if req.Attempt == 1 {
			return Generation{Proposals: []proposal.Proposal{{
				Content:           "a vegetarian cafe",
				AddressedConcerns: []string{"helicopter tour"},
			}}}, nil
		}
		feedback = req.Feedback
		return Generation{Proposals: []proposal.Proposal{{
			Content:           "a vegetarian cafe",
			AddressedConcerns: []string{"vegetarian options"},
		}}}, nil
	})

	a := &Adapter{Generator: gen}
	res, err := a.Propose(context.Background(), request(tags, 1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if res.Attempts != 2 || res.Unverified {
		t.Errorf("attempts=%d unverified=%v, want 2/false", res.Attempts, res.Unverified)
	}
	if len(res.Rejections) != 1 || res.Rejections[0].Kind != RejectHallucination {
		t.Errorf("rejections = %+v", res.Rejections)
	}
	if len(feedback) == 0 || !strings.Contains(feedback[0], "helicopter tour") {
		t.Errorf("second attempt feedback = %v", feedback)
	}
}

func TestAdapterPassesUnverifiedAfterBudget(t *testing.T) {
	budget := concern("a1", "alice", "budget max $400", constraint.SeverityNonNegotiable)
	var calls atomic.Int32
	gen := GeneratorFunc(func(context.Context, Request) (Generation, error) {
		calls.Add(1)
		return Generation{Proposals: []proposal.Proposal{{Content: "a ski trip in the mountains"}}}, nil
	})

	a := &Adapter{Generator: gen}
	res, err := a.Propose(context.Background(), request([]constraint.Tag{budget}, 1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if got := calls.Load(); got != DefaultMaxAttempts {
		t.Errorf("generator called %d times, want %d", got, DefaultMaxAttempts)
	}
	if !res.Unverified {
		t.Fatal("expected unverified result")
	}
	for _, r := range res.Rejections {
		if r.Kind != RejectInfeasible {
			t.Errorf("unexpected rejection %+v", r)
		}
	}
	if len(res.Tensions) != 1 || !res.Tensions[0].Involves(budget.Text) {
		t.Fatalf("expected a synthesized budget tension, got %+v", res.Tensions)
	}
	if !hasPrefix(res.Tensions[0].PossibleResolutions, "raise the budget to at least $600") {
		t.Errorf("resolutions = %v", res.Tensions[0].PossibleResolutions)
	}
}

func TestAdapterErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &Adapter{Generator: GeneratorFunc(func(context.Context, Request) (Generation, error) {
		return Generation{}, boom
	})}
	res, err := a.Propose(context.Background(), Request{Round: 1})
	if !errors.Is(err, ErrNoGeneration) {
		t.Fatalf("err = %v, want ErrNoGeneration", err)
	}
	if len(res.Rejections) != DefaultMaxAttempts {
		t.Errorf("rejections = %+v", res.Rejections)
	}

	if _, err := (&Adapter{}).Propose(context.Background(), Request{}); !errors.Is(err, ErrNoGenerator) {
		t.Errorf("err = %v, want ErrNoGenerator", err)
	}

	empty := &Adapter{Generator: GeneratorFunc(func(context.Context, Request) (Generation, error) {
		return Generation{}, nil
	}), MaxAttempts: 1}
	res, err = empty.Propose(context.Background(), Request{Round: 1})
	if err != nil {
		t.Fatalf("empty generation: %v", err)
	}
	if !res.Unverified || res.Rejections[0].Kind != RejectEmpty {
		t.Errorf("empty generation result = %+v", res)
	}
}

func TestAdapterAttemptTimeout(t *testing.T) {
	a := &Adapter{
		AttemptTimeout: 20 * time.Millisecond,
		Generator: GeneratorFunc(func(ctx context.Context, req Request) (Generation, error) {
			if req.Attempt == 1 {
				<-ctx.Done()
				return Generation{}, ctx.Err()
			}
			return Generation{Tensions: []proposal.Tension{{Description: "nothing fits"}}}, nil
		}),
	}
	res, err := a.Propose(context.Background(), Request{Round: 1})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if res.Attempts != 2 || res.Rejections[0].Kind != RejectGeneratorError {
		t.Errorf("result = %+v", res)
	}
}

func TestCall(t *testing.T) {
	n := 0
	v, err := Call(context.Background(), 3, 0, func(context.Context) (int, error) {
		n++
		if n < 2 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	if err != nil || v != 42 || n != 2 {
		t.Errorf("Call = %d, %v after %d calls", v, err, n)
	}

	_, err = Call(context.Background(), 2, 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestScriptedGenerator(t *testing.T) {
	s := &ScriptedGenerator{Rounds: []Generation{
		{Proposals: []proposal.Proposal{{Content: "first"}}},
		{Proposals: []proposal.Proposal{{Content: "second"}}},
	}}
	tests := []struct {
		round int
		want  string
	}{
		{1, "first"},
		{2, "second"},
		{5, "second"},
	}
	for _, tt := range tests {
		gen, err := s.Generate(context.Background(), Request{Round: tt.round})
		if err != nil {
			t.Fatalf("round %d: %v", tt.round, err)
		}
		if got := gen.Proposals[0].Content; got != tt.want {
			t.Errorf("round %d = %q, want %q", tt.round, got, tt.want)
		}
	}
	if s.Calls() != len(tests) {
		t.Errorf("Calls() = %d", s.Calls())
	}
}

func TestScriptedRefiner(t *testing.T) {
	r := &ScriptedRefiner{Updates: map[constraint.ParticipantID]map[int][]constraint.Tag{
		"bob": {1: {{Text: "any restaurant", Kind: constraint.KindConcern, Severity: constraint.SeverityPreference}}},
	}}
	current := []constraint.Tag{concern("b1", "bob", "steakhouse", constraint.SeverityNonNegotiable)}

	got, err := r.Refine(context.Background(), RefineRequest{Participant: "bob", Round: 1, Current: current})
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if len(got) != 1 || got[0].Text != "any restaurant" || got[0].Owner != "bob" {
		t.Errorf("refined = %+v", got)
	}

	got, _ = r.Refine(context.Background(), RefineRequest{Participant: "bob", Round: 2, Current: current})
	if len(got) != 1 || got[0].ID != "b1" {
		t.Errorf("unscripted round should keep current tags, got %+v", got)
	}
}

func TestHTTPGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Round == 9 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Generation{Proposals: []proposal.Proposal{{Content: req.Outcome}}})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, time.Second)
	gen, err := g.Generate(context.Background(), Request{Outcome: "dinner", Round: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(gen.Proposals) != 1 || gen.Proposals[0].Content != "dinner" {
		t.Errorf("gen = %+v", gen)
	}
	if _, err := g.Generate(context.Background(), Request{Round: 9}); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("err = %v, want server message", err)
	}
}

func TestSummaryNarrator(t *testing.T) {
	tags := []constraint.Tag{
		concern("a1", "alice", "vegan", constraint.SeverityNonNegotiable),
		desire("a2", "alice", "outdoor seating", constraint.IntensityWouldLike),
	}
	p := proposal.Proposal{Content: "a vegetarian bistro with outdoor seating"}
	n, err := SummaryNarrator{}.Narrate(context.Background(), p, "alice", tags)
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if n.Confidence != "low" {
		t.Errorf("confidence = %q, want low", n.Confidence)
	}
	if len(n.Concerns) == 0 || !strings.HasPrefix(n.Concerns[0], "vegan") {
		t.Errorf("concerns = %v", n.Concerns)
	}
}
