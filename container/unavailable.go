package container

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/everydev1618/devspace"
)

// UnavailableRuntime stands in for the engine when the daemon cannot be
// reached at startup. Every call fails with devspace.ErrDockerUnavailable,
// which the layers above turn into their fallbacks.
type UnavailableRuntime struct {
	cause error
}

var _ Runtime = (*UnavailableRuntime)(nil)

// NewUnavailableRuntime returns a runtime that reports cause on every call.
func NewUnavailableRuntime(cause error) *UnavailableRuntime {
	return &UnavailableRuntime{cause: cause}
}

func (u *UnavailableRuntime) err() error {
	if u.cause == nil {
		return devspace.ErrDockerUnavailable
	}
	return fmt.Errorf("%w: %v", devspace.ErrDockerUnavailable, u.cause)
}

func (u *UnavailableRuntime) Ping(ctx context.Context) error { return u.err() }

func (u *UnavailableRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	return "", u.err()
}

func (u *UnavailableRuntime) InspectContainer(ctx context.Context, idOrName string) (ContainerInfo, error) {
	return ContainerInfo{}, u.err()
}

func (u *UnavailableRuntime) FindContainer(ctx context.Context, name string) (string, error) {
	return "", u.err()
}

func (u *UnavailableRuntime) StartContainer(ctx context.Context, id string) error { return u.err() }

func (u *UnavailableRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return u.err()
}

func (u *UnavailableRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	return u.err()
}

func (u *UnavailableRuntime) Exec(ctx context.Context, id string, cmd []string, out io.Writer) (int, error) {
	return -1, u.err()
}

func (u *UnavailableRuntime) ExecInteractive(ctx context.Context, id string, opts InteractiveExecOptions) (ExecSession, error) {
	return nil, u.err()
}

func (u *UnavailableRuntime) Logs(ctx context.Context, id string, follow bool, out io.Writer) error {
	return u.err()
}

func (u *UnavailableRuntime) Wait(ctx context.Context, id string) (int64, error) { return -1, u.err() }

func (u *UnavailableRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	return false, u.err()
}

func (u *UnavailableRuntime) PullImage(ctx context.Context, ref string, onProgress func(PullProgress)) error {
	return u.err()
}

// Close is a no-op.
func (u *UnavailableRuntime) Close() error { return nil }
