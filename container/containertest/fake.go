// Package containertest provides an in-memory container.Runtime for tests.
package containertest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
)

// Container is a fake container record.
type Container struct {
	ID      string
	Spec    container.ContainerSpec
	Running bool
}

// Runtime is a scriptable, goroutine-safe fake of container.Runtime.
type Runtime struct {
	mu         sync.Mutex
	containers map[string]*Container
	images     map[string]bool
	nextID     int

	// Failure injection.
	CreateErr    error
	StartErr     error
	PullErr      error
	PullFailures int // fail this many pulls before succeeding
	InspectErr   error

	// Scripted output.
	ExecOutput   string
	ExecExitCode int
	JobOutput    string
	JobExitCode  int64

	// ExecDelay delays ExecInteractive so tests can race joiners.
	ExecDelay time.Duration

	Pulls    []string
	Removed  []string
	Stopped  []string
	Sessions []*ExecSession
}

var _ container.Runtime = (*Runtime)(nil)

// New returns an empty fake runtime.
func New() *Runtime {
	return &Runtime{
		containers: make(map[string]*Container),
		images:     make(map[string]bool),
	}
}

// AddImage marks ref as present locally.
func (r *Runtime) AddImage(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[ref] = true
}

// AddContainer registers a container by name and returns its id.
func (r *Runtime) AddContainer(name string, running bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("c%04d", r.nextID)
	r.containers[id] = &Container{ID: id, Spec: container.ContainerSpec{Name: name}, Running: running}
	return id
}

// Container returns the container with the given name, if any.
func (r *Runtime) Container(name string) (*Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byName(name)
	if c == nil {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// ContainerCount returns the number of containers that exist.
func (r *Runtime) ContainerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// SessionCount returns how many interactive execs were opened.
func (r *Runtime) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sessions)
}

// Session returns the i-th interactive exec.
func (r *Runtime) Session(i int) *ExecSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Sessions[i]
}

func (r *Runtime) byName(name string) *Container {
	for _, c := range r.containers {
		if c.Spec.Name == name {
			return c
		}
	}
	return nil
}

func (r *Runtime) lookup(idOrName string) *Container {
	if c, ok := r.containers[idOrName]; ok {
		return c
	}
	return r.byName(idOrName)
}

func notFound(ref string) error {
	return fmt.Errorf("%w: %s", devspace.ErrContainerNotFound, ref)
}

func (r *Runtime) Ping(ctx context.Context) error { return nil }

func (r *Runtime) CreateContainer(ctx context.Context, spec container.ContainerSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return "", r.CreateErr
	}
	if r.byName(spec.Name) != nil {
		return "", fmt.Errorf("conflict: container name %s in use", spec.Name)
	}
	r.nextID++
	id := fmt.Sprintf("c%04d", r.nextID)
	r.containers[id] = &Container{ID: id, Spec: spec}
	return id, nil
}

func (r *Runtime) InspectContainer(ctx context.Context, idOrName string) (container.ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InspectErr != nil {
		return container.ContainerInfo{}, r.InspectErr
	}
	c := r.lookup(idOrName)
	if c == nil {
		return container.ContainerInfo{}, notFound(idOrName)
	}
	return container.ContainerInfo{
		ID:      c.ID,
		Name:    c.Spec.Name,
		Image:   c.Spec.Image,
		Running: c.Running,
		Labels:  c.Spec.Labels,
	}, nil
}

func (r *Runtime) FindContainer(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.byName(name); c != nil {
		return c.ID, nil
	}
	return "", notFound(name)
}

func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	c := r.lookup(id)
	if c == nil {
		return notFound(id)
	}
	c.Running = true
	return nil
}

func (r *Runtime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(id)
	if c == nil {
		return notFound(id)
	}
	r.Stopped = append(r.Stopped, c.Spec.Name)
	c.Running = false
	if c.Spec.AutoRemove {
		delete(r.containers, c.ID)
	}
	return nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, id string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(id)
	if c == nil {
		return notFound(id)
	}
	r.Removed = append(r.Removed, c.Spec.Name)
	delete(r.containers, c.ID)
	return nil
}

func (r *Runtime) Exec(ctx context.Context, id string, cmd []string, out io.Writer) (int, error) {
	r.mu.Lock()
	c := r.lookup(id)
	output, code := r.ExecOutput, r.ExecExitCode
	r.mu.Unlock()
	if c == nil {
		return -1, notFound(id)
	}
	io.WriteString(out, output)
	return code, nil
}

func (r *Runtime) ExecInteractive(ctx context.Context, id string, opts container.InteractiveExecOptions) (container.ExecSession, error) {
	r.mu.Lock()
	delay := r.ExecDelay
	c := r.lookup(id)
	r.mu.Unlock()
	if c == nil {
		return nil, notFound(id)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := newExecSession(fmt.Sprintf("exec-%d", len(r.Sessions)+1), opts)
	r.Sessions = append(r.Sessions, s)
	return s, nil
}

func (r *Runtime) Logs(ctx context.Context, id string, follow bool, out io.Writer) error {
	r.mu.Lock()
	c := r.lookup(id)
	output := r.JobOutput
	r.mu.Unlock()
	if c == nil {
		return notFound(id)
	}
	io.WriteString(out, output)
	return nil
}

func (r *Runtime) Wait(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(id)
	if c == nil {
		return -1, notFound(id)
	}
	c.Running = false
	return r.JobExitCode, nil
}

func (r *Runtime) ImageExists(ctx context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[ref], nil
}

func (r *Runtime) PullImage(ctx context.Context, ref string, onProgress func(container.PullProgress)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pulls = append(r.Pulls, ref)
	if r.PullErr != nil {
		return r.PullErr
	}
	if r.PullFailures > 0 {
		r.PullFailures--
		return fmt.Errorf("%w: transient registry error", devspace.ErrImagePull)
	}
	if onProgress != nil {
		onProgress(container.PullProgress{ID: "layer0", Status: "Pull complete"})
	}
	r.images[ref] = true
	return nil
}

func (r *Runtime) Close() error { return nil }

// ExecSession is a fake interactive exec. Emit pushes terminal output,
// End simulates the shell exiting.
type ExecSession struct {
	id   string
	Opts container.InteractiveExecOptions

	outR *io.PipeReader
	outW *io.PipeWriter

	mu      sync.Mutex
	input   []byte
	resizes [][2]uint
	closed  bool
}

func newExecSession(id string, opts container.InteractiveExecOptions) *ExecSession {
	r, w := io.Pipe()
	return &ExecSession{id: id, Opts: opts, outR: r, outW: w}
}

func (s *ExecSession) ID() string { return s.id }

func (s *ExecSession) Read(p []byte) (int, error) { return s.outR.Read(p) }

func (s *ExecSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.input = append(s.input, p...)
	return len(p), nil
}

func (s *ExecSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.outW.Close()
	return s.outR.Close()
}

func (s *ExecSession) Resize(ctx context.Context, rows, cols uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, [2]uint{rows, cols})
	return nil
}

// Emit writes output as if the shell printed it. It blocks until read.
func (s *ExecSession) Emit(data string) error {
	_, err := s.outW.Write([]byte(data))
	return err
}

// End simulates the remote process exiting.
func (s *ExecSession) End() {
	s.outW.Close()
}

// Input returns everything written to the session's stdin.
func (s *ExecSession) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.input)
}

// Resizes returns every resize request.
func (s *ExecSession) Resizes() [][2]uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint(nil), s.resizes...)
}

// Closed reports whether Close was called.
func (s *ExecSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
