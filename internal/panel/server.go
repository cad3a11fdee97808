package panel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/internal/scheduler"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/streaming"
)

// SessionReplayer rebuilds a session summary from its event log.
// Satisfied by *store.LibSQLStore.
type SessionReplayer interface {
	ReplaySession(ctx context.Context, sessionID string) (*store.SessionSummary, error)
}

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Store  store.Store
	Hub    streaming.EventHub
	Sync   *scheduler.Scheduler // optional
	Layout graph.Options
	Logger *slog.Logger
}

// PanelServer serves the read API and live log streams.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Layout == (graph.Options{}) {
		deps.Layout = graph.DefaultOptions()
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Workflows.
	mux.HandleFunc("GET /api/workflows", s.handleWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/graph", s.handleGraph)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("GET /api/workflows/{id}/traces", s.handleTraces)

	// Sessions.
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /api/sessions/{id}/summary", s.handleSessionSummary)

	// Sync.
	mux.HandleFunc("GET /api/sync", s.handleSyncStatus)
	mux.HandleFunc("POST /api/sync", s.handleSyncNow)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)

	return mux
}

// Serve serves h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("panel listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
