// Package serve exposes the negotiation engine over HTTP: runs can be
// started, inspected and deleted through a JSON API, and round events are
// streamed over a websocket.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Dicklesworthstone/accord/internal/runner"
)

// Error codes carried in error_code of failed responses.
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "RUN_NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeTooManyRuns     = "TOO_MANY_RUNS"
	ErrCodeScenarioInvalid = "SCENARIO_INVALID"
	ErrCodeInvariant       = "INVARIANT_VIOLATION"
	ErrCodeStorageDisabled = "STORAGE_DISABLED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

const (
	requestIDHeader = "X-Request-Id"
	maxBodyBytes    = 1 << 20
)

type ctxKey int

const requestIDKey ctxKey = iota

// Config configures a Server.
type Config struct {
	Runner *runner.Runner
	Addr   string
	// MaxConcurrent bounds runs executing at once. Zero means unbounded.
	MaxConcurrent int
	// EventRetention is how long event log rows are kept. Zero disables
	// pruning.
	EventRetention time.Duration
	// Tokens maps bearer tokens to role names. Empty means every request
	// is admin.
	Tokens map[string]string
	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	runner    *runner.Runner
	addr      string
	tokens    map[string]Role
	retention time.Duration
	logger    *slog.Logger

	router chi.Router
	wsHub  *WSHub
	runs   *registry
	sem    chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a server. The websocket hub is started immediately; call
// Shutdown (or let Start return) to stop it.
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("serve: runner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner:    cfg.Runner,
		addr:      cfg.Addr,
		tokens:    make(map[string]Role, len(cfg.Tokens)),
		retention: cfg.EventRetention,
		logger:    logger,
		wsHub:     NewWSHub(),
		runs:      newRegistry(),
	}
	for token, role := range cfg.Tokens {
		s.tokens[token] = ParseRole(role)
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	s.wsHub.logger = logger
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	go s.wsHub.Run()
	s.router = s.routes()
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddlewareFunc)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.rbacMiddleware)
		r.With(s.RequirePermission(PermReadEvents)).Get("/ws", s.handleWS)
		r.Route("/api/v1", func(r chi.Router) {
			s.registerRunRoutes(r)
			s.registerAnalyzeRoutes(r)
		})
	})
	return r
}

// Start serves until ctx is canceled, then drains in-flight requests and
// cancels running negotiations.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.retention > 0 && s.runner.Store() != nil {
		go s.pruneEvents(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "addr", s.addr, "auth", len(s.tokens) > 0)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	return err
}

// Shutdown cancels running negotiations, waits for them to be stored and
// stops the websocket hub.
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.wsHub.Stop()
}

func (s *Server) pruneEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := s.runner.Store().PruneEvents(s.retention)
		if err != nil {
			s.logger.Warn("event prune failed", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned events", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"active_runs": s.runs.activeCount(),
		"ws_clients":  s.wsHub.ClientCount(),
		"storage":     s.runner.HasStorage(),
	}, requestIDFromContext(r.Context()))
}

func (s *Server) requestIDMiddlewareFunc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// writeSuccessResponse writes {success: true, timestamp, request_id} merged
// with data.
func writeSuccessResponse(w http.ResponseWriter, status int, data map[string]interface{}, reqID string) {
	body := map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if reqID != "" {
		body["request_id"] = reqID
	}
	for k, v := range data {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeErrorResponse writes the failure envelope. details are merged in
// under "details".
func writeErrorResponse(w http.ResponseWriter, status int, code, msg string, details map[string]interface{}, reqID string) {
	body := map[string]interface{}{
		"success":    false,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"error":      msg,
		"error_code": code,
	}
	if reqID != "" {
		body["request_id"] = reqID
	}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
