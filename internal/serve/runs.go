package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/runner"
	"github.com/Dicklesworthstone/accord/internal/scenario"
)

// maxFinished bounds finished runs kept in memory for servers without
// storage.
const maxFinished = 64

// RunView is what the API reports about a run it started.
type RunView struct {
	ID         string             `json:"id"`
	Outcome    string             `json:"outcome"`
	Status     convergence.Status `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Round      int                `json:"round"`
	Tally      *response.Tally    `json:"tally,omitempty"`
	Running    bool               `json:"running"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

type trackedRun struct {
	view   RunView
	state  *convergence.RunState
	cancel context.CancelFunc
	done   chan struct{}
}

// registry tracks runs started through the API.
type registry struct {
	mu       sync.RWMutex
	runs     map[string]*trackedRun
	finished []string
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*trackedRun)}
}

// add registers a new run, failing if id is taken by a run still in
// memory.
func (g *registry) add(id, outcome string, cancel context.CancelFunc) (RunView, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.runs[id]; ok {
		return RunView{}, false
	}
	t := &trackedRun{
		view: RunView{
			ID:        id,
			Outcome:   outcome,
			Status:    convergence.StatusStructuring,
			Running:   true,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	g.runs[id] = t
	return t.view, true
}

// observe folds a top-level run event into the tracked view.
func (g *registry) observe(ev convergence.Event) {
	if ev.Depth > 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.runs[ev.RunID]
	if !ok || !t.view.Running {
		return
	}
	t.view.Status = ev.Status
	t.view.Round = ev.Round
	if ev.Tally != nil {
		tally := *ev.Tally
		t.view.Tally = &tally
	}
	if ev.Reason != "" {
		t.view.Reason = ev.Reason
	}
}

// finish records the end of a run. With keep false the entry is dropped
// because a store holds it.
func (g *registry) finish(id string, st *convergence.RunState, runErr error, keep bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	t.view.Running = false
	t.view.FinishedAt = &now
	if runErr != nil {
		t.view.Error = runErr.Error()
	}
	if st != nil {
		t.state = st
		t.view.Status = st.Status
		t.view.Round = st.Round
		if st.Result != nil {
			t.view.Reason = st.Result.Reason
			tally := st.Result.Tally
			t.view.Tally = &tally
		}
	}
	close(t.done)

	if !keep && st != nil {
		delete(g.runs, id)
		return
	}
	g.finished = append(g.finished, id)
	for len(g.finished) > maxFinished {
		delete(g.runs, g.finished[0])
		g.finished = g.finished[1:]
	}
}

func (g *registry) get(id string) (RunView, *convergence.RunState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.runs[id]
	if !ok {
		return RunView{}, nil, false
	}
	return t.view, t.state, true
}

func (g *registry) cancel(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.runs[id]
	if !ok || !t.view.Running {
		return false
	}
	t.cancel()
	return true
}

func (g *registry) wait(ctx context.Context, id string) bool {
	g.mu.RLock()
	t, ok := g.runs[id]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-t.done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *registry) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runs, id)
	for i, f := range g.finished {
		if f == id {
			g.finished = append(g.finished[:i], g.finished[i+1:]...)
			break
		}
	}
}

func (g *registry) list() []RunView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RunView, 0, len(g.runs))
	for _, t := range g.runs {
		out = append(out, t.view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (g *registry) activeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, t := range g.runs {
		if t.view.Running {
			n++
		}
	}
	return n
}

func (s *Server) registerRunRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.With(s.RequirePermission(PermReadRuns)).Get("/", s.handleListRuns)
		r.With(s.RequirePermission(PermWriteRuns)).Post("/", s.handleStartRun)

		r.Route("/{runId}", func(r chi.Router) {
			r.With(s.RequirePermission(PermReadRuns)).Get("/", s.handleGetRun)
			r.With(s.RequirePermission(PermDeleteRuns)).Delete("/", s.handleDeleteRun)
			r.With(s.RequirePermission(PermWriteRuns)).Post("/cancel", s.handleCancelRun)
			r.With(s.RequirePermission(PermReadRuns)).Get("/rounds/{round}", s.handleGetRound)
			r.With(s.RequirePermission(PermReadEvents)).Get("/events", s.handleRunEvents)
		})
	})
}

// handleStartRun parses a scenario (YAML or JSON) from the body and runs
// it in the background. ?id= fixes the run ID; ?wait=true blocks until the
// run finishes and answers with its summary.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body", nil, reqID)
		return
	}
	sc, err := scenario.Parse(body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeScenarioInvalid, err.Error(), nil, reqID)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.runner.Load(id); err == nil {
		writeErrorResponse(w, http.StatusConflict, ErrCodeConflict, fmt.Sprintf("run %q already exists", id), nil, reqID)
		return
	}

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
		default:
			writeErrorResponse(w, http.StatusTooManyRequests, ErrCodeTooManyRuns,
				fmt.Sprintf("%d runs already in progress", cap(s.sem)), nil, reqID)
			return
		}
	}
	release := func() {
		if s.sem != nil {
			<-s.sem
		}
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	view, ok := s.runs.add(id, sc.Outcome, cancel)
	if !ok {
		cancel()
		release()
		writeErrorResponse(w, http.StatusConflict, ErrCodeConflict, fmt.Sprintf("run %q already exists", id), nil, reqID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		defer cancel()
		st, runErr := s.runner.Run(ctx, sc,
			runner.WithRunID(id),
			runner.WithRunObserver(convergence.ObserverFunc(s.runs.observe)),
			runner.WithRunObserver(s.wsHub),
		)
		if runErr != nil {
			s.logger.Error("run failed", "run_id", id, "error", runErr)
		}
		s.runs.finish(id, st, runErr, !s.runner.HasStorage())
	}()

	s.logger.Info("run started", "run_id", id, "participants", len(sc.Participants), "request_id", reqID)

	if r.URL.Query().Get("wait") == "true" {
		if !s.runs.wait(r.Context(), id) {
			writeErrorResponse(w, http.StatusRequestTimeout, ErrCodeBadRequest, "client went away before the run finished", nil, reqID)
			return
		}
		s.writeRun(w, r, id)
		return
	}

	writeSuccessResponse(w, http.StatusAccepted, map[string]interface{}{
		"run_id": id,
		"run":    view,
	}, reqID)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	stored, err := s.runner.List()
	if err != nil {
		s.logger.Error("list runs failed", "error", err, "request_id", reqID)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list runs", nil, reqID)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := stored[:0]
		for _, sum := range stored {
			if string(sum.Status) == status {
				filtered = append(filtered, sum)
			}
		}
		stored = filtered
	}
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"count":  len(stored),
		"runs":   stored,
		"active": s.runs.list(),
	}, reqID)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	s.writeRun(w, r, chi.URLParam(r, "runId"))
}

// writeRun answers with the tracked view of a run started here, the
// summary of a finished run, and the full state when ?full=true.
func (s *Server) writeRun(w http.ResponseWriter, r *http.Request, id string) {
	reqID := requestIDFromContext(r.Context())
	full := r.URL.Query().Get("full") == "true"

	view, st, tracked := s.runs.get(id)
	if tracked && view.Running {
		writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"run": view}, reqID)
		return
	}
	if st == nil {
		rec, err := s.runner.Load(id)
		switch {
		case err == nil:
			st = rec.Run
		case errors.Is(err, runner.ErrNotFound):
			if tracked {
				writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"run": view}, reqID)
				return
			}
			writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("run %q not found", id), nil, reqID)
			return
		default:
			s.logger.Error("load run failed", "run_id", id, "error", err, "request_id", reqID)
			writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load run", nil, reqID)
			return
		}
	}

	data := map[string]interface{}{"run": output.NewRunResponse(st)}
	if full {
		data["state"] = st
	}
	if tracked && view.Error != "" {
		data["run_error"] = view.Error
	}
	writeSuccessResponse(w, http.StatusOK, data, reqID)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	id := chi.URLParam(r, "runId")
	n, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil || n < 1 {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "round must be a positive integer", nil, reqID)
		return
	}

	if _, st, ok := s.runs.get(id); ok && st != nil {
		for _, round := range st.History {
			if round.Index == n {
				writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"run_id": id, "round": round}, reqID)
				return
			}
		}
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("run %q has no round %d", id, n), nil, reqID)
		return
	}

	round, err := s.runner.Round(id, n)
	if err != nil {
		if errors.Is(err, runner.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil, reqID)
			return
		}
		s.logger.Error("load round failed", "run_id", id, "round", n, "error", err, "request_id", reqID)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load round", nil, reqID)
		return
	}
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"run_id": id, "round": round}, reqID)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	id := chi.URLParam(r, "runId")
	if !s.runs.cancel(id) {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("no running run %q", id), nil, reqID)
		return
	}
	s.logger.Info("run canceled", "run_id", id, "request_id", reqID)
	writeSuccessResponse(w, http.StatusAccepted, map[string]interface{}{"run_id": id, "canceled": true}, reqID)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	id := chi.URLParam(r, "runId")

	view, _, tracked := s.runs.get(id)
	if tracked && view.Running {
		writeErrorResponse(w, http.StatusConflict, ErrCodeConflict, fmt.Sprintf("run %q is still running", id), nil, reqID)
		return
	}
	err := s.runner.Delete(id)
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrNotFound) && tracked:
	case errors.Is(err, runner.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("run %q not found", id), nil, reqID)
		return
	default:
		s.logger.Error("delete run failed", "run_id", id, "error", err, "request_id", reqID)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to delete run", nil, reqID)
		return
	}
	s.runs.remove(id)
	s.logger.Info("run deleted", "run_id", id, "request_id", reqID)
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"run_id": id, "deleted": true}, reqID)
}

// handleRunEvents pages through the persisted event log of a run:
// ?since= is the last sequence number seen, ?limit= caps the page.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	store := s.runner.Store()
	if store == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeStorageDisabled,
			"the event log needs the sqlite storage backend", nil, reqID)
		return
	}
	q := r.URL.Query()
	since, err := parseIntParam(q.Get("since"), 0)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "since: "+err.Error(), nil, reqID)
		return
	}
	limit, err := parseIntParam(q.Get("limit"), 500)
	if err != nil || limit < 1 || limit > 5000 {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 5000", nil, reqID)
		return
	}

	id := chi.URLParam(r, "runId")
	events, err := store.Events(id, int64(since), limit)
	if err != nil {
		s.logger.Error("read events failed", "run_id", id, "error", err, "request_id", reqID)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to read events", nil, reqID)
		return
	}
	next := since
	if len(events) > 0 {
		next = int(events[len(events)-1].ID)
	}
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"run_id": id,
		"count":  len(events),
		"events": events,
		"next":   next,
	}, reqID)
}

func parseIntParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid value %q", v)
	}
	return n, nil
}
