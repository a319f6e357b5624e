package serve

import (
	"time"

	"github.com/everydev1618/devspace/realtime"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ActivityEvent is one entry of a workspace's activity feed.
type ActivityEvent struct {
	ID          int64     `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	UserID      string    `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (e ActivityEvent) realtime() realtime.Activity {
	return realtime.Activity{
		ID:          e.ID,
		WorkspaceID: e.WorkspaceID,
		Kind:        e.Kind,
		Message:     e.Message,
		UserID:      e.UserID,
		CreatedAt:   e.CreatedAt,
	}
}

// Activity kinds.
const (
	KindWorkspaceStarted  = "workspace.started"
	KindWorkspaceFallback = "workspace.fallback"
	KindWorkspaceStopped  = "workspace.stopped"
	KindFileSaved         = "file.saved"
	KindPipelinePrefix    = "pipeline."
)

// FileEntry is a file in a workspace tree.
type FileEntry struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	IsDir       bool      `json:"is_dir"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	ContentType string    `json:"content_type,omitempty"`
}

// FileContent is a file with its content. Binary content is base64 encoded.
type FileContent struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Content     string    `json:"content"`
	Encoding    string    `json:"encoding"`
	ModTime     time.Time `json:"mod_time"`
}

// StopResponse reports the result of stopping a workspace.
type StopResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Stopped     bool   `json:"stopped"`
}

// StatsResponse summarizes server state.
type StatsResponse struct {
	Uptime     string         `json:"uptime"`
	Workspaces int            `json:"workspaces"`
	Terminals  int            `json:"terminals"`
	Pipelines  map[string]int `json:"pipelines"`
	Hub        realtime.Stats `json:"hub"`
}
