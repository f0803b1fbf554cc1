package state

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/response"
)

// testStore creates an in-memory store with migrations applied.
func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(id string, started time.Time) *convergence.RunState {
	tally := response.Tally{Accept: 1, Object: 1}
	return &convergence.RunState{
		ID:           id,
		Outcome:      "dinner",
		Participants: []constraint.ParticipantID{"alice", "bob"},
		Round:        2,
		Status:       convergence.StatusConverged,
		History: []convergence.Round{
			{
				Index:       1,
				Combined:    proposal.Proposal{Content: "Taqueria on 5th street."},
				Tally:       tally,
				CompletedAt: started.Add(time.Second),
			},
			{
				Index:       2,
				Combined:    proposal.Proposal{Content: "Green Leaf vegan cafe."},
				Tally:       response.Tally{Accept: 2},
				CompletedAt: started.Add(2 * time.Second),
			},
		},
		Ledger: []constraint.Tag{
			{ID: "t1", Owner: "alice", Text: "budget ≤ $20", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Round: 1},
			{ID: "t2", Owner: "bob", Text: "vegan", Kind: constraint.KindConcern, Severity: constraint.SeverityStrongPreference, Round: 1},
			{ID: "t3", Owner: "bob", Text: "fully vegan restaurant", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable, Round: 2},
		},
		Supersessions: []constraint.Supersession{{TagID: "t2", By: "t3", Round: 2}},
		Quarantined: []constraint.Quarantined{{
			Owner:  "carol",
			Raw:    constraint.RawTag{ID: "q1", Text: "cheap", Kind: "concern", Priority: "urgent"},
			Reason: "unknown severity",
		}},
		Result: &convergence.Result{
			Status:         convergence.StatusConverged,
			Reason:         convergence.ReasonConsensus,
			Rounds:         2,
			AcceptanceRate: 1,
		},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
}

func TestOpenCustomPath(t *testing.T) {
	customPath := filepath.Join(t.TempDir(), "custom", "db.sqlite")

	store, err := Open(customPath)
	if err != nil {
		t.Fatalf("Open(%q) error: %v", customPath, err)
	}
	defer store.Close()

	if store.Path() != customPath {
		t.Errorf("Path() = %q, want %q", store.Path(), customPath)
	}
	if _, err := os.Stat(customPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %q", customPath)
	}
}

func TestOpenDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\") error: %v", err)
	}
	defer store.Close()

	want := filepath.Join(home, ".config", "accord", "state.db")
	if store.Path() != want {
		t.Errorf("Path() = %q, want %q", store.Path(), want)
	}
}

func TestMigrate(t *testing.T) {
	store := testStore(t)

	for _, table := range []string{"runs", "rounds", "constraint_history", "event_log", "_migrations"} {
		r, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		if err != nil {
			t.Errorf("table %q should exist after migration: %v", table, err)
			continue
		}
		r.Close()
	}

	// A second pass is a no-op.
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
	var n int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("migrations recorded = %d, want 1", n)
	}
}

func TestTransactionRollback(t *testing.T) {
	store := testStore(t)

	boom := errors.New("boom")
	err := store.Transaction(func(tx *Tx) error {
		if err := tx.saveRun(sampleRun("rolled-back", time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction error = %v, want boom", err)
	}
	if _, err := store.GetRun("rolled-back"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun after rollback = %v, want ErrNotFound", err)
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	store := testStore(t)
	started := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	st := sampleRun("run-1", started)

	if err := store.SaveRun(st); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	// Saving again replaces rather than duplicates.
	if err := store.SaveRun(st); err != nil {
		t.Fatalf("second SaveRun: %v", err)
	}

	row, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if row.Status != convergence.StatusConverged || row.Reason != convergence.ReasonConsensus || row.Rounds != 2 {
		t.Errorf("row = %+v", row)
	}
	if !row.StartedAt.Equal(started) || !row.FinishedAt.Equal(started.Add(3*time.Second)) {
		t.Errorf("times = %v..%v", row.StartedAt, row.FinishedAt)
	}

	rounds, err := store.GetRounds("run-1")
	if err != nil {
		t.Fatalf("GetRounds: %v", err)
	}
	if len(rounds) != 2 || rounds[0].Index != 1 || rounds[1].Index != 2 {
		t.Fatalf("rounds = %+v", rounds)
	}
	if rounds[0].Tally != (response.Tally{Accept: 1, Object: 1}) || rounds[1].Content != "Green Leaf vegan cafe." {
		t.Errorf("round rows = %+v", rounds)
	}
	if rounds[1].Round.Combined.Content != rounds[1].Content {
		t.Errorf("decoded round content = %q", rounds[1].Round.Combined.Content)
	}

	one, err := store.GetRound("run-1", 2)
	if err != nil || one.Tally.Accept != 2 {
		t.Errorf("GetRound = %+v, %v", one, err)
	}
	if _, err := store.GetRound("run-1", 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRound missing = %v, want ErrNotFound", err)
	}

	loaded, err := store.LoadRunState("run-1")
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if loaded.Status != st.Status || len(loaded.History) != 2 || len(loaded.Ledger) != 3 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestConstraintHistory(t *testing.T) {
	store := testStore(t)
	if err := store.SaveRun(sampleRun("run-1", time.Now())); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	hist, err := store.ConstraintHistory("run-1")
	if err != nil {
		t.Fatalf("ConstraintHistory: %v", err)
	}
	tests := []struct {
		tag    string
		action ConstraintAction
		detail string
	}{
		{"t1", ConstraintAdded, "non-negotiable"},
		{"t2", ConstraintAdded, "strong-preference"},
		{"t3", ConstraintAdded, "non-negotiable"},
		{"t2", ConstraintSuperseded, "replaced by t3"},
		{"q1", ConstraintQuarantined, "unknown severity"},
	}
	if len(hist) != len(tests) {
		t.Fatalf("history = %+v", hist)
	}
	for i, tt := range tests {
		if hist[i].TagID != tt.tag || hist[i].Action != tt.action || hist[i].Detail != tt.detail {
			t.Errorf("history[%d] = %+v, want %s %s %q", i, hist[i], tt.tag, tt.action, tt.detail)
		}
	}
	if hist[3].Text != "vegan" || hist[3].Owner != "bob" || hist[3].Round != 2 {
		t.Errorf("superseded row = %+v", hist[3])
	}
}

func TestForksAndListing(t *testing.T) {
	store := testStore(t)
	now := time.Now().Truncate(time.Millisecond)

	parent := sampleRun("parent", now)
	parent.Status = convergence.StatusForked
	parent.Result.Status = convergence.StatusForked
	parent.Result.Reason = convergence.ReasonValueConflict
	for i, id := range []string{"fork-a", "fork-b"} {
		f := sampleRun(id, now.Add(time.Duration(i+1)*time.Second))
		f.ParentID = "parent"
		f.Depth = 1
		parent.Forks = append(parent.Forks, f)
	}
	older := sampleRun("older", now.Add(-time.Hour))

	for _, st := range []*convergence.RunState{parent, older} {
		if err := store.SaveRun(st); err != nil {
			t.Fatalf("SaveRun(%s): %v", st.ID, err)
		}
	}

	runs, err := store.ListRuns("")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "parent" || runs[1].ID != "older" {
		t.Fatalf("ListRuns = %+v", runs)
	}
	forked, _ := store.ListRuns(string(convergence.StatusForked))
	if len(forked) != 1 || forked[0].ID != "parent" {
		t.Errorf("ListRuns(forked) = %+v", forked)
	}

	forks, err := store.ListForks("parent")
	if err != nil {
		t.Fatalf("ListForks: %v", err)
	}
	if len(forks) != 2 || forks[0].ID != "fork-a" || forks[1].Depth != 1 {
		t.Errorf("ListForks = %+v", forks)
	}

	loaded, err := store.LoadRunState("parent")
	if err != nil {
		t.Fatalf("LoadRunState: %v", err)
	}
	if len(loaded.Forks) != 2 || loaded.Forks[1].ID != "fork-b" || loaded.Forks[0].ParentID != "parent" {
		t.Errorf("loaded forks = %+v", loaded.Forks)
	}

	if err := store.DeleteRun("parent"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	for _, id := range []string{"parent", "fork-a", "fork-b"} {
		if _, err := store.GetRun(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRun(%s) after delete = %v", id, err)
		}
	}
	if rounds, _ := store.GetRounds("fork-a"); len(rounds) != 0 {
		t.Errorf("rounds of deleted fork survive: %+v", rounds)
	}
	if err := store.DeleteRun("parent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRun = %v, want ErrNotFound", err)
	}
}

func TestEventLog(t *testing.T) {
	store := testStore(t)
	rec := NewRecorder(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runID := "run-a"
			if i%2 == 1 {
				runID = "run-b"
			}
			rec.Observe(convergence.Event{Type: convergence.EventStatus, RunID: runID, Round: i, Status: convergence.StatusProposing})
		}(i)
	}
	wg.Wait()

	tally := response.Tally{Accept: 3}
	seq, err := store.LogEvent(convergence.Event{
		Type:   convergence.EventFinished,
		RunID:  "run-a",
		Status: convergence.StatusConverged,
		Reason: convergence.ReasonConsensus,
		Tally:  &tally,
		At:     time.Now().Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	all, err := store.Events("", 0, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(all) != 11 {
		t.Fatalf("events = %d, want 11", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("events out of order: %d after %d", all[i].ID, all[i-1].ID)
		}
	}

	runA, _ := store.Events("run-a", 0, 0)
	if len(runA) != 6 {
		t.Errorf("run-a events = %d, want 6", len(runA))
	}
	last := runA[len(runA)-1]
	if last.ID != seq || last.Tally == nil || last.Tally.Accept != 3 || last.Reason != convergence.ReasonConsensus {
		t.Errorf("finished event = %+v", last)
	}

	page, _ := store.Events("", all[2].ID, 3)
	if len(page) != 3 || page[0].ID != all[3].ID {
		t.Errorf("page = %+v", page)
	}

	removed, err := store.PruneEvents(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}
}
