package serve

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/realtime"
	"github.com/everydev1618/devspace/terminal"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// --- Workspace Handlers ---

func (s *Server) handleStartWorkspace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := container.ValidateWorkspaceID(id); err != nil {
		writeError(w, err)
		return
	}

	ep := s.workspaces.Start(r.Context(), id)
	if ep.Fallback {
		s.activity.Record(id, KindWorkspaceFallback, userFromRequest(r), "workspace served by fallback IDE")
	} else {
		s.activity.Record(id, KindWorkspaceStarted, userFromRequest(r), "workspace started on port "+strconv.Itoa(ep.Port))
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleStopWorkspace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := container.ValidateWorkspaceID(id); err != nil {
		writeError(w, err)
		return
	}

	stopped := s.workspaces.Stop(r.Context(), id)
	if stopped {
		s.activity.Record(id, KindWorkspaceStopped, userFromRequest(r), "workspace stopped")
	}
	writeJSON(w, http.StatusOK, StopResponse{WorkspaceID: id, Stopped: stopped})
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workspaces.List())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxActivityLimit)
	}

	events, err := s.store.ListActivity(id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list activity", Details: err.Error()})
		return
	}
	if events == nil {
		events = []ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Pipeline Handlers ---

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := container.ValidateWorkspaceID(id); err != nil {
		writeError(w, err)
		return
	}

	p := s.pipelines.Create(id)
	if err := s.pipelines.Start(p.ID); err != nil {
		writeError(w, err)
		return
	}
	if cur, ok := s.pipelines.Get(p.ID); ok {
		p = cur
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipelines.List(r.URL.Query().Get("workspace")))
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelines.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "pipeline not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCancelPipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pipelines.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	p, _ := s.pipelines.Get(id)
	writeJSON(w, http.StatusOK, p)
}

// --- Realtime Handlers ---

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	users, err := s.hub.Presence(r.PathValue("room"))
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []realtime.Participant{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleTerminals(w http.ResponseWriter, r *http.Request) {
	sessions := s.terminals.Sessions()
	if sessions == nil {
		sessions = []terminal.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// --- Stats Handler ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := StatsResponse{
		Uptime:     time.Since(s.startedAt).Truncate(time.Second).String(),
		Workspaces: len(s.workspaces.List()),
		Terminals:  len(s.terminals.Sessions()),
		Pipelines:  make(map[string]int),
	}
	for _, p := range s.pipelines.List("") {
		stats.Pipelines[string(p.Status)]++
	}
	if hs, err := s.hub.Stats(); err == nil {
		stats.Hub = hs
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, devspace.ErrInvalidWorkspaceID), errors.Is(err, devspace.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.Is(err, devspace.ErrFileNotFound), errors.Is(err, devspace.ErrPipelineNotFound):
		status = http.StatusNotFound
	case errors.Is(err, devspace.ErrPipelineStarted):
		status = http.StatusConflict
	case errors.Is(err, devspace.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, devspace.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, devspace.ErrHubClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
