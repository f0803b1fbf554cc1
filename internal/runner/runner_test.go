package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Dicklesworthstone/accord/internal/config"
	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/logging"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/scenario"
)

func loadDinner(t *testing.T) *scenario.Scenario {
	t.Helper()
	s, err := scenario.Load(filepath.Join("..", "scenario", "testdata", "dinner.yaml"))
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	return s
}

func newRunner(t *testing.T, backend string, opts ...Option) *Runner {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.RecordDir = dir
	cfg.Storage.DBPath = filepath.Join(dir, "state.db")
	r, err := New(cfg, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

type eventLog struct {
	mu     sync.Mutex
	events []convergence.Event
}

func (l *eventLog) Observe(ev convergence.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func TestRunStoresEverywhere(t *testing.T) {
	r := newRunner(t, config.BackendBoth)
	if r.Files() == nil || r.Store() == nil || !r.HasStorage() {
		t.Fatal("both backends should be open")
	}

	var seen eventLog
	st, err := r.Run(context.Background(), loadDinner(t), WithRunID("dinner-1"), WithRunObserver(&seen))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.ID != "dinner-1" || st.Status != convergence.StatusConverged {
		t.Fatalf("run %s ended %s", st.ID, st.Status)
	}
	if len(seen.events) == 0 || seen.events[0].RunID != "dinner-1" {
		t.Errorf("observer saw %+v", seen.events)
	}

	rec, err := r.Load("dinner-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Config.MaxRounds != 3 {
		t.Errorf("record kept max_rounds %d, want the scenario override 3", rec.Config.MaxRounds)
	}
	row, err := r.Store().GetRun("dinner-1")
	if err != nil || row.Rounds != 2 {
		t.Errorf("db row = %+v, %v", row, err)
	}
	events, err := r.Store().Events("dinner-1", 0, 100)
	if err != nil || len(events) != len(seen.events) {
		t.Errorf("event log has %d events, observer saw %d (%v)", len(events), len(seen.events), err)
	}

	round, err := r.Round("dinner-1", 2)
	if err != nil || round.Tally.Accepting() != 3 {
		t.Errorf("round 2 = %+v, %v", round.Tally, err)
	}
	if _, err := r.Round("dinner-1", 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Round(7) error = %v", err)
	}

	runs, err := r.List()
	if err != nil || len(runs) != 1 || runs[0].ID != "dinner-1" {
		t.Errorf("List = %+v, %v", runs, err)
	}

	if err := r.Delete("dinner-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Load("dinner-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete error = %v", err)
	}
	if err := r.Delete("dinner-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v", err)
	}
}

func TestLoadFromDatabaseOnly(t *testing.T) {
	r := newRunner(t, config.BackendSQLite)
	if r.Files() != nil {
		t.Fatal("sqlite backend should not open a record directory")
	}
	if _, err := r.Run(context.Background(), loadDinner(t), WithRunID("db-only")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, err := r.Load("db-only")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Run.ID != "db-only" || len(rec.Run.History) != 2 || rec.RecordedAt.IsZero() {
		t.Errorf("record = %+v", rec)
	}
	runs, err := r.List()
	if err != nil || len(runs) != 1 || runs[0].Rounds != 2 {
		t.Errorf("List = %+v, %v", runs, err)
	}
}

func TestRunWithoutStorage(t *testing.T) {
	r := newRunner(t, config.BackendNone)
	if r.HasStorage() {
		t.Fatal("backend none should keep nothing")
	}
	st, err := r.Run(context.Background(), loadDinner(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.ID == "" {
		t.Error("a run without an explicit ID should get one")
	}
	if runs, err := r.List(); err != nil || len(runs) != 0 {
		t.Errorf("List = %+v, %v", runs, err)
	}
	if _, err := r.Load(st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v", err)
	}
}

func TestRootFirstIDs(t *testing.T) {
	next := rootFirst("root")
	if got := next(); got != "root" {
		t.Fatalf("first ID = %q", got)
	}
	a, b := next(), next()
	if a == "root" || a == b {
		t.Errorf("fork IDs %q and %q should be fresh", a, b)
	}
}

func TestStructure(t *testing.T) {
	r := newRunner(t, config.BackendNone)
	s := loadDinner(t)

	res, dropped, err := r.Structure(s.Participants, nil)
	if err != nil {
		t.Fatalf("Structure: %v", err)
	}
	if len(dropped) != 1 || dropped[0].Owner != "carol" {
		t.Errorf("quarantined = %+v", dropped)
	}
	if len(res.Questions) == 0 {
		t.Fatal("no questions")
	}
	if _, ok := res.Question(constraint.CategoryBudget); !ok {
		t.Errorf("no budget question in %+v", res.Questions)
	}
}

func TestClassify(t *testing.T) {
	r := newRunner(t, config.BackendNone)
	bob := loadDinner(t).Participants[1]

	view, resp, _ := r.Classify(bob.ID, bob.Constraints, proposal.Proposal{
		Question: "where to eat",
		Content:  "Taqueria on 5th street, $18 average per person.",
	})
	if view.NonNegotiablesSatisfied() || resp.Type.Accepting() {
		t.Errorf("taqueria: view %+v, response %s", view, resp.Type)
	}

	view, resp, _ = r.Classify(bob.ID, bob.Constraints, proposal.Proposal{
		Question:          "where to eat",
		Content:           "Green Leaf, a fully vegan restaurant downtown. $16 average per person.",
		AddressedConcerns: []string{"fully vegan restaurant"},
	})
	if !view.NonNegotiablesSatisfied() || !resp.Type.Accepting() {
		t.Errorf("green leaf: view %+v, response %s", view, resp.Type)
	}
}
