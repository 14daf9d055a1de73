// Package server provides the HTTP control API and event streams.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/infra/transport"
	"github.com/runoshun/autocrew/internal/usecase"
)

// Scheduler is the part of auto mode exposed over HTTP.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() usecase.AutoModeStatus
	RunFeature(ctx context.Context, id string, opts usecase.RunOptions) (*usecase.RunHandle, error)
	VerifyFeature(ctx context.Context, id string) (*usecase.RunHandle, error)
	ForceStop(ctx context.Context, id string) error
}

var _ Scheduler = (*usecase.AutoMode)(nil)

// Options holds the collaborators of the server.
type Options struct {
	Scheduler     Scheduler
	Events        domain.EventSubscriber
	Metrics       http.Handler // Mounted at /metrics when set
	Logger        domain.Logger
	ListFeatures  *usecase.ListFeatures
	ShowFeature   *usecase.ShowFeature
	ListWorktrees *usecase.ListWorktrees
	StopTimeout   time.Duration // Bound on POST /api/auto/stop, 0 for 30s

	// AllowedOrigins are browser origins trusted besides loopback pages.
	AllowedOrigins []string
}

// Server serves the control API.
type Server struct {
	opts    Options
	origins *transport.OriginPolicy
}

// New creates a new Server.
func New(opts Options) *Server {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	return &Server{opts: opts, origins: transport.NewOriginPolicy(opts.AllowedOrigins)}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auto mode
	mux.HandleFunc("POST /api/auto/start", s.handleAutoStart)
	mux.HandleFunc("POST /api/auto/stop", s.handleAutoStop)
	mux.HandleFunc("GET /api/auto/status", s.handleAutoStatus)

	// Features
	mux.HandleFunc("GET /api/features", s.handleFeatures)
	mux.HandleFunc("GET /api/features/{id}", s.handleFeature)
	mux.HandleFunc("POST /api/features/{id}/run", s.handleRun)
	mux.HandleFunc("POST /api/features/{id}/verify", s.handleVerify)
	mux.HandleFunc("POST /api/features/{id}/stop", s.handleForceStop)

	// Worktrees
	mux.HandleFunc("GET /api/worktrees", s.handleWorktrees)

	// Events
	mux.Handle("GET /api/events/ws", transport.NewWebSocketHandler(s.opts.Events, s.opts.Logger, s.origins))
	mux.Handle("GET /api/events/stream", transport.NewSSEHandler(s.opts.Events))

	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return s.loggingMiddleware(s.originMiddleware(mux))
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
// ready, if not nil, receives the bound address once the listener is open.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(addr string)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ready != nil {
		ready(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAutoStart(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Scheduler.Start(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.opts.Scheduler.Status())
}

func (s *Server) handleAutoStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StopTimeout)
	defer cancel()
	if err := s.opts.Scheduler.Stop(ctx); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.opts.Scheduler.Status())
}

func (s *Server) handleAutoStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.opts.Scheduler.Status())
}

// runResponse acknowledges an accepted run.
type runResponse struct {
	FeatureID string `json:"featureId"`
	Accepted  bool   `json:"accepted"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resume bool `json:"resume"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
	}
	h, err := s.opts.Scheduler.RunFeature(r.Context(), r.PathValue("id"), usecase.RunOptions{Resume: body.Resume})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, runResponse{FeatureID: h.FeatureID(), Accepted: true})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	h, err := s.opts.Scheduler.VerifyFeature(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, runResponse{FeatureID: h.FeatureID(), Accepted: true})
}

func (s *Server) handleForceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Scheduler.ForceStop(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	in := usecase.ListFeaturesInput{Category: r.URL.Query().Get("category")}
	for _, st := range r.URL.Query()["status"] {
		in.Statuses = append(in.Statuses, domain.Status(st))
	}
	out, err := s.opts.ListFeatures.Execute(r.Context(), in)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newFeatureList(out.Items))
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	out, err := s.opts.ShowFeature.Execute(r.Context(), usecase.ShowFeatureInput{
		ID:         r.PathValue("id"),
		RunID:      r.URL.Query().Get("run"),
		Transcript: r.URL.Query().Get("transcript") == "true",
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, featureDetail{
		Feature:    out.Feature,
		Blocking:   nonNil(out.Blocking),
		Dependents: out.Dependents,
		Running:    out.Running,
		Transcript: out.Transcript,
	})
}

func (s *Server) handleWorktrees(w http.ResponseWriter, r *http.Request) {
	out, err := s.opts.ListWorktrees.Execute(r.Context(), usecase.ListWorktreesInput{})
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := worktreeList{Worktrees: make([]worktreeItem, 0, len(out.Worktrees)), Missing: nonNilInfo(out.Missing)}
	for _, item := range out.Worktrees {
		wi := worktreeItem{WorktreeInfo: item.Info}
		if item.Feature != nil {
			wi.Status = item.Feature.Status
		}
		resp.Worktrees = append(resp.Worktrees, wi)
	}
	respondJSON(w, http.StatusOK, resp)
}

// originMiddleware refuses requests sent by pages of untrusted origins.
// Browsers attach Origin to cross-site POSTs and WebSocket handshakes even
// when the response itself is unreadable, so this guards every mutating route.
func (s *Server) originMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.origins.Allow(r) {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("", "server", fmt.Sprintf("rejected %s %s from origin %s", r.Method, r.URL.Path, r.Header.Get("Origin")))
			}
			respondJSON(w, http.StatusForbidden, errorResponse{Error: "origin not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Logger != nil {
			s.opts.Logger.Debug("", "server", r.Method+" "+r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

// respondError maps a use case error to a status code and writes it.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && s.opts.Logger != nil {
		s.opts.Logger.Error("", "server", err.Error())
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFeatureNotFound),
		errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrWorktreeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunActive),
		errors.Is(err, domain.ErrNoActiveRun),
		errors.Is(err, domain.ErrSchedulerRunning),
		errors.Is(err, domain.ErrSchedulerNotRunning),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidFeatureID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
