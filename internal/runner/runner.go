// Package runner is the layer the CLI, the TUI and the HTTP API share: it
// turns configuration into engines, runs scenarios, and keeps finished
// runs in the configured stores.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/accord/internal/config"
	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
	"github.com/Dicklesworthstone/accord/internal/logging"
	"github.com/Dicklesworthstone/accord/internal/oracle"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/record"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
	"github.com/Dicklesworthstone/accord/internal/scenario"
	"github.com/Dicklesworthstone/accord/internal/state"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// ErrNotFound is returned when no store holds the requested run.
var ErrNotFound = errors.New("run not found")

// Runner runs scenarios under one configuration.
type Runner struct {
	cfg       *config.Config
	lexicon   *lexicon.Lexicon
	store     *state.Store
	files     *record.FileStore
	ownsStore bool
	observers []convergence.Observer
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithStore uses s instead of opening the configured database.
func WithStore(s *state.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithFileStore uses fs instead of the configured record directory.
func WithFileStore(fs *record.FileStore) Option {
	return func(r *Runner) { r.files = fs }
}

// WithObserver adds an observer to every run.
func WithObserver(o convergence.Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// New builds a runner. Stores named by cfg.Storage.Backend are opened
// unless supplied as options.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Runner{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	lex, err := cfg.BuildLexicon()
	if err != nil {
		return nil, err
	}
	r.lexicon = lex

	backend := cfg.Storage.Backend
	if r.files == nil && (backend == config.BackendFile || backend == config.BackendBoth) {
		fs, err := record.NewFileStore(config.ExpandHome(cfg.Storage.RecordDir))
		if err != nil {
			return nil, err
		}
		r.files = fs.WithLogger(r.logger)
	}
	if r.store == nil && (backend == config.BackendSQLite || backend == config.BackendBoth) {
		path := config.ExpandHome(cfg.Storage.DBPath)
		if path == "" {
			if path, err = state.DefaultPath(); err != nil {
				return nil, err
			}
		}
		st, err := state.Open(path)
		if err != nil {
			return nil, err
		}
		r.store = st
		r.ownsStore = true
	}
	return r, nil
}

// Close releases the database if the runner opened it.
func (r *Runner) Close() error {
	if r.ownsStore && r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Config returns the runner's configuration.
func (r *Runner) Config() *config.Config { return r.cfg }

// Lexicon returns the compiled lexicon.
func (r *Runner) Lexicon() *lexicon.Lexicon { return r.lexicon }

// Store returns the SQLite store, or nil.
func (r *Runner) Store() *state.Store { return r.store }

// Files returns the record file store, or nil.
func (r *Runner) Files() *record.FileStore { return r.files }

// HasStorage reports whether finished runs are kept anywhere.
func (r *Runner) HasStorage() bool { return r.store != nil || r.files != nil }

// RunOption adjusts a single run.
type RunOption func(*runSettings)

type runSettings struct {
	id        string
	observers []convergence.Observer
	noSave    bool
}

// WithRunID fixes the ID of the top-level run so callers can refer to it
// before it finishes.
func WithRunID(id string) RunOption {
	return func(s *runSettings) { s.id = id }
}

// WithRunObserver adds an observer to this run only.
func WithRunObserver(o convergence.Observer) RunOption {
	return func(s *runSettings) { s.observers = append(s.observers, o) }
}

// WithoutSave skips persisting the finished run.
func WithoutSave() RunOption {
	return func(s *runSettings) { s.noSave = true }
}

// rootFirst hands out id once, then fresh IDs for forks. Forks start
// concurrently, hence the atomic.
func rootFirst(id string) func() string {
	var used atomic.Bool
	return func() string {
		if used.CompareAndSwap(false, true) {
			return id
		}
		return uuid.NewString()
	}
}

// EngineConfig returns the engine settings a scenario runs under.
func (r *Runner) EngineConfig(s *scenario.Scenario) convergence.Config {
	cfg := r.cfg.EngineConfig()
	if s != nil {
		cfg = s.Engine.Apply(cfg)
	}
	return cfg
}

// Engine builds the engine for s. The configured oracle endpoint is used
// unless the scenario scripts its own proposals.
func (r *Runner) Engine(s *scenario.Scenario, id string, observers ...convergence.Observer) (*convergence.Engine, error) {
	logger := logging.ForRun(r.logger, id)
	opts := []convergence.Option{
		convergence.WithLexicon(r.lexicon),
		convergence.WithLogger(logger),
		convergence.WithIDGenerator(rootFirst(id)),
	}
	if ep := r.cfg.Oracle.Endpoint; ep != "" {
		gen := oracle.NewHTTPGenerator(ep, r.cfg.Oracle.Timeout)
		if len(r.cfg.Oracle.Headers) > 0 {
			gen.Header = make(http.Header, len(r.cfg.Oracle.Headers))
			for k, v := range r.cfg.Oracle.Headers {
				gen.Header.Set(k, os.ExpandEnv(v))
			}
		}
		opts = append(opts, convergence.WithGenerator(gen))
	}
	scenarioOpts, err := s.Options(logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, scenarioOpts...)
	if r.store != nil {
		opts = append(opts, convergence.WithObserver(state.NewRecorder(r.store, logger)))
	}
	for _, o := range r.observers {
		opts = append(opts, convergence.WithObserver(o))
	}
	for _, o := range observers {
		opts = append(opts, convergence.WithObserver(o))
	}
	return convergence.New(r.EngineConfig(s), opts...)
}

// Run runs s to completion and stores the result. A run that ended in an
// invariant violation is stored too, and its error returned with it.
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario, opts ...RunOption) (*convergence.RunState, error) {
	var set runSettings
	for _, opt := range opts {
		opt(&set)
	}
	if set.id == "" {
		set.id = uuid.NewString()
	}
	logger := logging.ForRun(r.logger, set.id)

	engine, err := r.Engine(s, set.id, set.observers...)
	if err != nil {
		return nil, err
	}
	logger.Info("run starting", "outcome", s.Outcome, "participants", len(s.Participants), "scenario", s.Path)
	st, runErr := engine.Run(ctx, s.Input(logger))
	if st == nil {
		return nil, runErr
	}
	if !set.noSave {
		if err := r.Save(st, engine.Config()); err != nil {
			logger.Error("failed to store run", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}
	return st, runErr
}

// Save writes st to every configured store.
func (r *Runner) Save(st *convergence.RunState, cfg convergence.Config) error {
	var errs []error
	if r.files != nil {
		if err := r.files.Save(record.FromRunState(st, cfg)); err != nil {
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.store.SaveRun(st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load returns the record of a stored run. The record directory is
// preferred because it keeps the engine settings; runs only in the
// database are paired with the current settings.
func (r *Runner) Load(id string) (record.Record, error) {
	if r.files != nil {
		rec, err := r.files.Load(id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return record.Record{}, err
		}
	}
	if r.store != nil {
		st, err := r.store.LoadRunState(id)
		if err == nil {
			rec := record.FromRunState(st, r.cfg.EngineConfig())
			rec.RecordedAt = st.FinishedAt
			return rec, nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			return record.Record{}, err
		}
	}
	return record.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Round returns round n (1-based) of a stored run.
func (r *Runner) Round(id string, n int) (convergence.Round, error) {
	rec, err := r.Load(id)
	if err != nil {
		return convergence.Round{}, err
	}
	for _, round := range rec.Run.History {
		if round.Index == n {
			return round, nil
		}
	}
	return convergence.Round{}, fmt.Errorf("%w: %s has no round %d", ErrNotFound, id, n)
}

// List returns stored top-level runs, newest first.
func (r *Runner) List() ([]record.Summary, error) {
	if r.files != nil {
		return r.files.List()
	}
	if r.store == nil {
		return nil, nil
	}
	rows, err := r.store.ListRuns("")
	if err != nil {
		return nil, err
	}
	out := make([]record.Summary, 0, len(rows))
	for _, row := range rows {
		forks, err := r.store.ListForks(row.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, record.Summary{
			ID:         row.ID,
			Outcome:    row.Outcome,
			Status:     row.Status,
			Reason:     row.Reason,
			Rounds:     row.Rounds,
			Forks:      len(forks),
			StartedAt:  row.StartedAt,
			FinishedAt: row.FinishedAt,
		})
	}
	return out, nil
}

// Delete removes a run from every store that has it.
func (r *Runner) Delete(id string) error {
	found := false
	if r.files != nil {
		switch err := r.files.Delete(id); {
		case err == nil:
			found = true
		case !errors.Is(err, os.ErrNotExist):
			return err
		}
	}
	if r.store != nil {
		switch err := r.store.DeleteRun(id); {
		case err == nil:
			found = true
		case !errors.Is(err, state.ErrNotFound):
			return err
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Prune removes record files of runs finished more than maxAge ago and
// event log entries older than maxAge.
func (r *Runner) Prune(maxAge time.Duration) (int, error) {
	removed := 0
	if r.files != nil {
		n, err := r.files.CleanOld(maxAge)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if r.store != nil {
		if _, err := r.store.PruneEvents(maxAge); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Structure structures the constraints of participants without running
// the engine. The weight invariant is checked.
func (r *Runner) Structure(participants []scenario.Participant, commitments []string) (structuring.Result, []constraint.Quarantined, error) {
	var (
		tags    []constraint.Tag
		dropped []constraint.Quarantined
	)
	for _, p := range participants {
		t, q := constraint.Sanitize(constraint.ParticipantID(p.ID), p.Constraints, r.logger)
		tags = append(tags, t...)
		dropped = append(dropped, q...)
	}
	res := structuring.Structure(tags, structuring.Options{
		Lexicon:     r.lexicon,
		Commitments: commitments,
		Logger:      r.logger,
	})
	if err := res.Validate(len(participants)); err != nil {
		return res, dropped, err
	}
	return res, dropped, nil
}

// Classify reads a proposal from one participant's side and decides the
// response they would give in a first round.
func (r *Runner) Classify(participant string, raw []constraint.RawTag, p proposal.Proposal) (satisfaction.View, response.Response, []constraint.Quarantined) {
	id := constraint.ParticipantID(participant)
	tags, dropped := constraint.Sanitize(id, raw, r.logger)
	view := satisfaction.Classify(id, tags, p, r.lexicon)
	resp, _ := response.Decide(view, response.Streak{}, r.cfg.Engine.Policy())
	return view, resp, dropped
}
