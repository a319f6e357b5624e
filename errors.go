package devspace

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerNotFound is returned when no container matches an id or name.
	ErrContainerNotFound = errors.New("container not found")

	// ErrDockerUnavailable is returned when the Docker daemon cannot be reached.
	ErrDockerUnavailable = errors.New("docker not available")

	// ErrImagePull is returned when an image could not be pulled.
	ErrImagePull = errors.New("image pull failed")

	// ErrNoFreePort is returned when the port range is exhausted.
	ErrNoFreePort = errors.New("no free port")

	// ErrTerminalUnavailable is returned when a workspace container is missing or not running.
	ErrTerminalUnavailable = errors.New("terminal unavailable")

	// ErrNotSubscribed is returned when a connection writes to a terminal it has not joined.
	ErrNotSubscribed = errors.New("connection is not subscribed to terminal")

	// ErrUnauthenticated is returned when a connection carries no user id.
	ErrUnauthenticated = errors.New("unauthenticated connection")

	// ErrForbidden is returned when a user may not join a room.
	ErrForbidden = errors.New("forbidden")

	// ErrConnectionNotFound is returned for operations on an unregistered connection.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrHubClosed is returned after the realtime hub has shut down.
	ErrHubClosed = errors.New("realtime hub closed")

	// ErrPipelineNotFound is returned when a pipeline id is unknown.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrPipelineStarted is returned when running a pipeline that already ran.
	ErrPipelineStarted = errors.New("pipeline already started")

	// ErrInvalidWorkspaceID is returned for ids that cannot name a container.
	ErrInvalidWorkspaceID = errors.New("invalid workspace id")

	// ErrFileNotFound is returned when a workspace file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidPath is returned for file paths that are absolute or escape the workspace.
	ErrInvalidPath = errors.New("invalid file path")
)

// ProvisionError wraps a container-layer failure with the workspace and the
// operation that failed (mkdir, pull, create, start, ...).
type ProvisionError struct {
	WorkspaceID string
	Op          string
	Err         error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision workspace %s: %s: %v", e.WorkspaceID, e.Op, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// IsProvisionError reports whether err carries a *ProvisionError.
func IsProvisionError(err error) bool {
	var pe *ProvisionError
	return errors.As(err, &pe)
}
