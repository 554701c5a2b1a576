// Package panel serves the engine's control surface over HTTP: JSON status
// and control endpoints plus run events over Server-Sent Events or a
// WebSocket.
package panel

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/streaming"
	"github.com/rendis/cascade/pkg/schema"
)

// Controller is the engine façade. Satisfied by *engine.Engine.
type Controller interface {
	StartWorkflow(ctx context.Context, stageID string) error
	RetryBehavior(ctx context.Context) error
	Cancel(ctx context.Context) error
	Reset(ctx context.Context) error
	ConfirmUpdate(ctx context.Context) error
	RejectUpdate(ctx context.Context) error
	Snapshot() engine.Snapshot
	History() []schema.HistoryEntry
}

// TemplateSource yields the template currently executing.
type TemplateSource interface {
	Template() *schema.WorkflowTemplate
}

// HistoryReader serves persisted run history. Satisfied by *store.HistoryLog.
type HistoryReader interface {
	ListHistory(ctx context.Context, runID string, since int64) ([]*store.HistoryRecord, error)
	Runs(ctx context.Context, limit int) ([]string, error)
}

// TemplateLister lists stored template versions. Satisfied by
// *store.LibSQLStore.
type TemplateLister interface {
	ListTemplates(ctx context.Context, filter store.TemplateFilter) ([]*store.TemplateRecord, error)
}

// Deps holds the dependencies for the panel server. Engine and Pipeline are
// required; the rest switch endpoints on when present.
type Deps struct {
	Engine    Controller
	Pipeline  TemplateSource
	History   HistoryReader
	Templates TemplateLister
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server serves the panel API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	deps.Logger = deps.Logger.With(slog.String("component", "panel"))
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/template", s.handleTemplate)
	mux.HandleFunc("GET /api/templates", s.handleTemplates)
	mux.HandleFunc("GET /api/diagram", s.handleDiagram)

	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/cancel", s.control("cancel", s.deps.Engine.Cancel))
	mux.HandleFunc("POST /api/reset", s.control("reset", s.deps.Engine.Reset))
	mux.HandleFunc("POST /api/retry", s.control("retry", s.deps.Engine.RetryBehavior))
	mux.HandleFunc("POST /api/decide", s.handleDecide)

	mux.HandleFunc("GET /sse/events", s.handleSSE)
	mux.HandleFunc("GET /ws/events", s.handleWS)

	return mux
}

// ListenAndServe serves the panel on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.deps.Logger.Info("panel listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
