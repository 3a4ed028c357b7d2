// Package server exposes trigger ingestion, manual execution, run
// inspection and realtime status subscriptions over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// maxBodyBytes caps webhook and API request bodies.
const maxBodyBytes = 1 << 20

// Enqueuer hands a run to the durable substrate and returns its ID.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev durable.Event) (string, error)
}

// RunStats reports worker pool and queue state for health checks.
type RunStats interface {
	Metrics() engine.PoolMetrics
}

// Store is the read side the API needs.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.RunSummary, error)
	ListRunEvents(ctx context.Context, runID string, since int64) ([]*store.RunEvent, error)
	ReplayRun(ctx context.Context, runID string) (*store.RunSummary, error)
}

// Deps holds the dependencies for the server.
type Deps struct {
	Runs   Enqueuer
	Stats  RunStats
	Store  Store
	Hub    streaming.EventHub
	Tokens *streaming.TokenIssuer
	Logger *slog.Logger

	// Heartbeat is the SSE keep-alive interval. Zero selects 15s.
	Heartbeat time.Duration
}

// Server routes HTTP requests.
type Server struct {
	deps   Deps
	router chi.Router
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		if s.deps.Stats != nil {
			body["runs"] = s.deps.Stats.Metrics()
		}
		writeJSON(w, http.StatusOK, body)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/telegram", s.webhook(normalizeTelegram))
		r.Post("/google-form", s.webhook(normalizeGoogleForm))
		r.Post("/stripe", s.webhook(normalizeStripe))
	})

	r.Get("/workflows", s.handleListWorkflows)
	r.Get("/workflows/{id}", s.handleGetWorkflow)
	r.Get("/workflows/{id}/diagram", s.handleWorkflowDiagram)
	r.Post("/workflows/{id}/execute", s.handleExecute)

	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/events", s.handleRunEvents)

	r.Post("/realtime/token", s.handleIssueToken)
	r.Get("/realtime/subscribe", s.handleSubscribe)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler, delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.deps.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
