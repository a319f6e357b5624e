package serve

import "time"

// Store persists the activity feed.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// InsertActivity records an event and returns its id.
	InsertActivity(e ActivityEvent) (int64, error)

	// ListActivity returns recent events of a workspace, newest first. An
	// empty workspace id lists every workspace.
	ListActivity(workspaceID string, limit int) ([]ActivityEvent, error)

	// PruneActivity deletes events older than before and returns how many.
	PruneActivity(before time.Time) (int64, error)
}

// FileStore holds workspace sources keyed by (workspace id, path). Paths are
// slash separated and relative to the workspace root.
type FileStore interface {
	// ListFiles returns the files under prefix, recursively, ordered by path.
	ListFiles(workspaceID, prefix string) ([]FileEntry, error)

	// ReadFile returns a file's content.
	ReadFile(workspaceID, path string) (*FileContent, error)

	// WriteFile creates or replaces a file.
	WriteFile(workspaceID, path string, data []byte) (FileEntry, error)
}

// MaxFileSize bounds file reads and writes.
const MaxFileSize = 10 << 20
