package container

import (
	"context"
	"io"
	"time"
)

// Runtime is the capability surface the lifecycle, workspace and terminal
// layers need from a container engine. DockerRuntime is the production
// implementation; containertest.Runtime is an in-memory fake.
type Runtime interface {
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// CreateContainer creates (but does not start) a container and returns its id.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// InspectContainer looks a container up by id or name.
	// Returns devspace.ErrContainerNotFound when it does not exist.
	InspectContainer(ctx context.Context, idOrName string) (ContainerInfo, error)

	// FindContainer returns the id of the container with exactly this name.
	FindContainer(ctx context.Context, name string) (string, error)

	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string, force bool) error

	// Exec runs a one-shot command, copying stdout and stderr to out, and
	// returns the exit code once the stream ends.
	Exec(ctx context.Context, id string, cmd []string, out io.Writer) (int, error)

	// ExecInteractive starts a TTY exec with stdin attached.
	ExecInteractive(ctx context.Context, id string, opts InteractiveExecOptions) (ExecSession, error)

	// Logs copies the container's combined output to out. With follow set it
	// returns when the container stops.
	Logs(ctx context.Context, id string, follow bool, out io.Writer) error

	// Wait blocks until the container is no longer running and returns its exit code.
	Wait(ctx context.Context, id string) (int64, error)

	ImageExists(ctx context.Context, ref string) (bool, error)

	// PullImage pulls ref, reporting each progress message. It returns only
	// once the pull has completed or failed.
	PullImage(ctx context.Context, ref string, onProgress func(PullProgress)) error

	Close() error
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	Labels     map[string]string
	Ports      []PortBinding
	Mounts     []Mount
	AutoRemove bool
	Tty        bool
	OpenStdin  bool
}

// PortBinding publishes a container TCP port on a host port.
type PortBinding struct {
	ContainerPort int
	HostPort      int
}

// Mount is a host bind mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerInfo is the subset of inspect data the core uses.
type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	Running bool
	Created time.Time
	Labels  map[string]string
}

// PullProgress is one progress event of an image pull.
type PullProgress struct {
	ID       string
	Status   string
	Progress string
}

// InteractiveExecOptions configures a TTY exec.
type InteractiveExecOptions struct {
	Cmd        []string
	Env        []string
	WorkingDir string
	Rows       uint
	Cols       uint
}

// ExecSession is a bidirectional stream to an interactive exec. Reads return
// terminal output; writes are delivered to the process stdin.
type ExecSession interface {
	io.ReadWriteCloser
	ID() string
	Resize(ctx context.Context, rows, cols uint) error
}
