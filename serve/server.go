package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/everydev1618/devspace/internal/workspace"
	"github.com/everydev1618/devspace/pipeline"
	"github.com/everydev1618/devspace/realtime"
	"github.com/everydev1618/devspace/terminal"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string

	// SweepSchedule is the cron spec of the idle terminal sweep. Empty
	// disables it.
	SweepSchedule string

	// ActivityRetention bounds the activity feed. Zero keeps everything.
	ActivityRetention time.Duration

	// StopWorkspacesOnExit stops every mapped workspace container on shutdown.
	StopWorkspacesOnExit bool
}

// Deps are the components the server exposes.
type Deps struct {
	Workspaces *workspace.Manager
	Hub        *realtime.Hub
	Terminals  *terminal.Multiplexer
	Pipelines  *pipeline.Engine
	Files      FileStore
	Store      Store
	Activity   *ActivityLog

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP and WebSocket front end of devspace.
type Server struct {
	workspaces *workspace.Manager
	hub        *realtime.Hub
	terminals  *terminal.Multiplexer
	pipelines  *pipeline.Engine
	files      FileStore
	store      Store
	activity   *ActivityLog
	gatherer   prometheus.Gatherer

	cfg       Config
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	startedAt time.Time
}

// New creates a new Server.
func New(deps Deps, cfg Config) *Server {
	return &Server{
		workspaces: deps.Workspaces,
		hub:        deps.Hub,
		terminals:  deps.Terminals,
		pipelines:  deps.Pipelines,
		files:      deps.Files,
		store:      deps.Store,
		activity:   deps.Activity,
		gatherer:   deps.Gatherer,
		cfg:        cfg,
		upgrader:   newUpgrader(cfg.AllowedOrigins),
		heartbeat:  30 * time.Second,
		startedAt:  time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(mux)
}

// Start serves HTTP until ctx is cancelled, then shuts every component down.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	janitor, err := s.janitor()
	if err != nil {
		return err
	}
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.Start(janitorCtx)
	}()

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("devspace serve started", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error.
	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case serveErr = <-errCh:
	}

	stopJanitor()
	<-janitorDone

	// Close terminals and the SSE broker first so their handlers return and
	// the HTTP server can drain cleanly.
	s.terminals.CloseAll()
	s.activity.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := s.pipelines.Shutdown(shutdownCtx); err != nil {
		slog.Error("pipeline shutdown error", "error", err)
	}
	if s.cfg.StopWorkspacesOnExit {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.workspaces.StopAll(stopCtx); err != nil {
			slog.Error("failed to stop workspaces", "error", err)
		}
		cancel()
	}
	s.hub.Close()

	return serveErr
}

// janitor schedules the maintenance jobs.
func (s *Server) janitor() (*Janitor, error) {
	j := NewJanitor()
	if s.cfg.SweepSchedule != "" {
		err := j.AddJob("terminal-idle-sweep", s.cfg.SweepSchedule, func() {
			if n := s.terminals.EvictIdle(); n > 0 {
				slog.Info("evicted idle terminals", "count", n)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("terminal sweep: %w", err)
		}
	}
	if s.cfg.ActivityRetention > 0 {
		retention := s.cfg.ActivityRetention
		if err := j.AddJob("activity-prune", "@daily", func() { s.activity.Prune(retention) }); err != nil {
			return nil, fmt.Errorf("activity prune: %w", err)
		}
	}
	return j, nil
}

// registerRoutes adds all API routes to the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Workspaces
	mux.HandleFunc("GET /api/workspaces", s.handleListWorkspaces)
	mux.HandleFunc("POST /api/workspaces/{id}/start", s.handleStartWorkspace)
	mux.HandleFunc("POST /api/workspaces/{id}/stop", s.handleStopWorkspace)
	mux.HandleFunc("GET /api/workspaces/{id}/activity", s.handleActivity)

	// Files
	mux.HandleFunc("GET /api/workspaces/{id}/tree", s.handleTree)
	mux.HandleFunc("GET /api/workspaces/{id}/file", s.handleReadFile)
	mux.HandleFunc("PUT /api/workspaces/{id}/file", s.handleWriteFile)

	// Pipelines
	mux.HandleFunc("POST /api/workspaces/{id}/pipelines", s.handleCreatePipeline)
	mux.HandleFunc("GET /api/pipelines", s.handleListPipelines)
	mux.HandleFunc("GET /api/pipelines/{id}", s.handleGetPipeline)
	mux.HandleFunc("POST /api/pipelines/{id}/cancel", s.handleCancelPipeline)

	// Realtime
	mux.HandleFunc("GET /api/rooms/{room}/presence", s.handlePresence)
	mux.HandleFunc("GET /api/terminals", s.handleTerminals)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/events", s.handleSSE)
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// corsMiddleware adds permissive CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
