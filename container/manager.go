package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/internal/metrics"
)

const (
	LabelWorkspace = "devspace.workspace"
	LabelJob       = "devspace.job"
	LabelManagedBy = "devspace.managed-by"

	DefaultMountTarget = "/workspace"

	managedBy       = "devspace"
	containerPrefix = "workspace-"
	jobPrefix       = "job-"
	portPlaceholder = "{{port}}"
)

var workspaceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ContainerName returns the deterministic container name of a workspace.
func ContainerName(workspaceID string) string {
	return containerPrefix + workspaceID
}

// ValidateWorkspaceID rejects ids that cannot name a container or a directory.
func ValidateWorkspaceID(workspaceID string) error {
	if !workspaceIDPattern.MatchString(workspaceID) || strings.Contains(workspaceID, "..") {
		return fmt.Errorf("%w: %q", devspace.ErrInvalidWorkspaceID, workspaceID)
	}
	return nil
}

// Handle identifies a started workspace container and its bound host port.
type Handle struct {
	ContainerID string `json:"container_id"`
	Name        string `json:"name"`
	Port        int    `json:"port"`
}

// ExecResult holds the result of a command execution.
type ExecResult struct {
	ExitCode int
	Output   string
}

// JobResult holds the result of an ephemeral job.
type JobResult struct {
	ExitCode int
	Logs     string
}

// Manager applies the workspace container policy on top of a Runtime:
// naming, idempotent replacement, mounts, env injection and one-shot jobs.
type Manager struct {
	runtime      Runtime
	baseDir      string
	mountTarget  string
	configMounts []Mount
	command      []string
	env          map[string]string
	pullTimeout  time.Duration
	pullRetries  int
	pullBackoff  time.Duration
	stopTimeout  time.Duration
	metrics      *metrics.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBaseDir sets the directory holding per-workspace bind mounts.
func WithBaseDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.baseDir = dir
	}
}

// WithMountTarget sets where the workspace directory is mounted in the container.
func WithMountTarget(target string) ManagerOption {
	return func(m *Manager) {
		m.mountTarget = target
	}
}

// WithConfigMounts adds fixed configuration-override mounts to every workspace.
func WithConfigMounts(mounts ...Mount) ManagerOption {
	return func(m *Manager) {
		m.configMounts = append(m.configMounts, mounts...)
	}
}

// WithStartupCommand sets the container command. "{{port}}" is replaced
// with the workspace port.
func WithStartupCommand(cmd ...string) ManagerOption {
	return func(m *Manager) {
		m.command = cmd
	}
}

// WithEnv injects environment variables into every workspace container.
func WithEnv(env map[string]string) ManagerOption {
	return func(m *Manager) {
		for k, v := range env {
			m.env[k] = v
		}
	}
}

// WithPullPolicy bounds each image pull attempt and the number of retries.
func WithPullPolicy(timeout time.Duration, retries int, backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		m.pullTimeout = timeout
		m.pullRetries = retries
		m.pullBackoff = backoff
	}
}

// WithMetrics records provisioning metrics.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a lifecycle manager over rt.
func NewManager(rt Runtime, opts ...ManagerOption) *Manager {
	m := &Manager{
		runtime:     rt,
		baseDir:     devspace.WorkspacesPath(),
		mountTarget: DefaultMountTarget,
		command:     []string{"tail", "-f", "/dev/null"},
		env:         make(map[string]string),
		pullTimeout: 5 * time.Minute,
		pullRetries: 2,
		pullBackoff: 2 * time.Second,
		stopTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Runtime returns the underlying runtime.
func (m *Manager) Runtime() Runtime {
	return m.runtime
}

// WorkspaceDir returns the host directory bind-mounted into a workspace.
func (m *Manager) WorkspaceDir(workspaceID string) string {
	return filepath.Join(m.baseDir, workspaceID)
}

// Create provisions and starts the container of a workspace, replacing any
// existing container with the same name. Every failure is a *devspace.ProvisionError.
// If start fails the created container is removed again.
func (m *Manager) Create(ctx context.Context, workspaceID, imageName string, port int) (*Handle, error) {
	h, err := m.create(ctx, workspaceID, imageName, port)
	m.metrics.ContainerCreated(err)
	if err != nil {
		slog.Error("workspace container provisioning failed", "workspace", workspaceID, "image", imageName, "port", port, "error", err)
	}
	return h, err
}

func (m *Manager) create(ctx context.Context, workspaceID, imageName string, port int) (*Handle, error) {
	fail := func(op string, err error) (*Handle, error) {
		return nil, &devspace.ProvisionError{WorkspaceID: workspaceID, Op: op, Err: err}
	}

	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return fail("validate", err)
	}

	absDir, err := filepath.Abs(m.WorkspaceDir(workspaceID))
	if err != nil {
		return fail("mkdir", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return fail("mkdir", err)
	}
	for _, cm := range m.configMounts {
		if err := os.MkdirAll(cm.Source, 0o755); err != nil {
			return fail("mkdir", err)
		}
	}

	name := ContainerName(workspaceID)

	existing, err := m.runtime.FindContainer(ctx, name)
	switch {
	case err == nil:
		slog.Info("replacing existing workspace container", "workspace", workspaceID, "container", existing)
		if err := m.runtime.RemoveContainer(ctx, existing, true); err != nil && !errors.Is(err, devspace.ErrContainerNotFound) {
			return fail("remove", err)
		}
	case !errors.Is(err, devspace.ErrContainerNotFound):
		return fail("lookup", err)
	}

	if err := m.ensureImage(ctx, imageName); err != nil {
		return fail("pull", err)
	}

	mounts := append([]Mount{{Source: absDir, Target: m.mountTarget}}, m.configMounts...)
	spec := ContainerSpec{
		Name:       name,
		Image:      imageName,
		Cmd:        expandCommand(m.command, port),
		Env:        envList(m.env),
		WorkingDir: m.mountTarget,
		Labels: map[string]string{
			LabelWorkspace: workspaceID,
			LabelManagedBy: managedBy,
		},
		Ports:      []PortBinding{{ContainerPort: port, HostPort: port}},
		Mounts:     mounts,
		AutoRemove: true,
	}

	id, err := m.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return fail("create", err)
	}

	if err := m.runtime.StartContainer(ctx, id); err != nil {
		if rmErr := m.runtime.RemoveContainer(context.WithoutCancel(ctx), id, true); rmErr != nil {
			slog.Warn("failed to remove container after start failure", "workspace", workspaceID, "container", id, "error", rmErr)
		}
		return fail("start", err)
	}

	slog.Info("workspace container started", "workspace", workspaceID, "container", id, "port", port)
	return &Handle{ContainerID: id, Name: name, Port: port}, nil
}

// Exec runs a one-shot command in a running container and returns its
// combined output once the stream ends.
func (m *Manager) Exec(ctx context.Context, containerID string, cmd []string) (*ExecResult, error) {
	var out bytes.Buffer
	code, err := m.runtime.Exec(ctx, containerID, cmd, &out)
	if err != nil {
		return nil, err
	}
	return &ExecResult{ExitCode: code, Output: out.String()}, nil
}

// Stop stops a container. Workspace containers are auto-removed on stop.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	return m.runtime.StopContainer(ctx, containerID, m.stopTimeout)
}

// Lookup resolves a workspace's container by its deterministic name.
func (m *Manager) Lookup(ctx context.Context, workspaceID string) (string, error) {
	return m.runtime.FindContainer(ctx, ContainerName(workspaceID))
}

// RunEphemeralJob runs commands in a throwaway container, streaming each
// output line to onLog, and returns the exit code and full log once the
// container has exited. The container is removed afterwards.
func (m *Manager) RunEphemeralJob(ctx context.Context, jobID, imageName string, commands []string, env map[string]string, onLog func(string)) (*JobResult, error) {
	res, err := m.runJob(ctx, jobID, imageName, commands, env, nil, "", onLog)
	m.metrics.JobFinished(err)
	return res, err
}

// RunWorkspaceJob is RunEphemeralJob with the workspace directory mounted
// read-write at the mount target and used as the working directory.
func (m *Manager) RunWorkspaceJob(ctx context.Context, workspaceID, jobID, imageName string, commands []string, env map[string]string, onLog func(string)) (*JobResult, error) {
	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	dir, err := filepath.Abs(m.WorkspaceDir(workspaceID))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("job %s: workspace dir: %w", jobID, err)
	}
	mounts := []Mount{{Source: dir, Target: m.mountTarget}}
	res, err := m.runJob(ctx, jobID, imageName, commands, env, mounts, m.mountTarget, onLog)
	m.metrics.JobFinished(err)
	return res, err
}

func (m *Manager) runJob(ctx context.Context, jobID, imageName string, commands []string, env map[string]string, mounts []Mount, workDir string, onLog func(string)) (*JobResult, error) {
	if len(commands) == 0 {
		return nil, fmt.Errorf("job %s: no commands", jobID)
	}

	if err := m.ensureImage(ctx, imageName); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}

	name := jobPrefix + sanitizeName(jobID) + "-" + uuid.NewString()[:8]
	id, err := m.runtime.CreateContainer(ctx, ContainerSpec{
		Name:       name,
		Image:      imageName,
		Cmd:        []string{"sh", "-c", strings.Join(commands, " && ")},
		Env:        envList(env),
		Mounts:     mounts,
		WorkingDir: workDir,
		Labels: map[string]string{
			LabelJob:       jobID,
			LabelManagedBy: managedBy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("job %s: create container: %w", jobID, err)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := m.runtime.RemoveContainer(rmCtx, id, true); err != nil && !errors.Is(err, devspace.ErrContainerNotFound) {
			slog.Warn("failed to remove job container", "job", jobID, "container", id, "error", err)
		}
	}()

	if err := m.runtime.StartContainer(ctx, id); err != nil {
		return nil, fmt.Errorf("job %s: start container: %w", jobID, err)
	}

	lw := newLineWriter(onLog)
	logDone := make(chan error, 1)
	go func() {
		logDone <- m.runtime.Logs(ctx, id, true, lw)
	}()

	code, err := m.runtime.Wait(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("job %s: wait: %w", jobID, err)
	}

	select {
	case err := <-logDone:
		if err != nil {
			slog.Warn("job log stream ended with error", "job", jobID, "error", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	lw.Flush()

	return &JobResult{ExitCode: int(code), Logs: lw.String()}, nil
}

// ensureImage pulls an image if not present locally, bounding each attempt
// by the pull timeout and retrying with linear backoff.
func (m *Manager) ensureImage(ctx context.Context, ref string) error {
	exists, err := m.runtime.ImageExists(ctx, ref)
	if err == nil && exists {
		return nil
	}

	var lastErr error
	attempts := m.pullRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		pullCtx, cancel := context.WithTimeout(ctx, m.pullTimeout)
		lastErr = m.runtime.PullImage(pullCtx, ref, func(p PullProgress) {
			slog.Debug("image pull progress", "image", ref, "layer", p.ID, "status", p.Status, "progress", p.Progress)
		})
		cancel()
		m.metrics.ImagePulled(lastErr)
		if lastErr == nil {
			slog.Info("image pulled", "image", ref, "attempt", attempt)
			return nil
		}

		slog.Warn("image pull failed", "image", ref, "attempt", attempt, "error", lastErr)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", devspace.ErrImagePull, ref, ctx.Err())
		case <-time.After(m.pullBackoff * time.Duration(attempt)):
		}
	}

	if errors.Is(lastErr, devspace.ErrImagePull) {
		return lastErr
	}
	return fmt.Errorf("%w: %s: %v", devspace.ErrImagePull, ref, lastErr)
}

func expandCommand(cmd []string, port int) []string {
	out := make([]string, len(cmd))
	p := strconv.Itoa(port)
	for i, arg := range cmd {
		out[i] = strings.ReplaceAll(arg, portPlaceholder, p)
	}
	return out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func sanitizeName(s string) string {
	b := []byte(s)
	for i, c := range b {
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.'
		if !ok {
			b[i] = '-'
		}
	}
	return string(b)
}

// lineWriter collects output and reports it one line at a time.
type lineWriter struct {
	mu      sync.Mutex
	onLine  func(string)
	all     bytes.Buffer
	pending []byte
}

func newLineWriter(onLine func(string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.all.Write(p)
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(w.pending[:i]), "\r")
		w.pending = w.pending[i+1:]
		if w.onLine != nil {
			w.onLine(line)
		}
	}
	return len(p), nil
}

// Flush reports a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 && w.onLine != nil {
		w.onLine(string(w.pending))
	}
	w.pending = nil
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}
