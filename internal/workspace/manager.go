package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/internal/metrics"
)

// Provisioner is the container lifecycle surface the manager needs.
// *container.Manager implements it.
type Provisioner interface {
	Create(ctx context.Context, workspaceID, image string, port int) (*container.Handle, error)
	Lookup(ctx context.Context, workspaceID string) (string, error)
	Stop(ctx context.Context, containerID string) error
}

// Config configures a Manager.
type Config struct {
	Image            string
	PublicHost       string
	BasePort         int
	MaxPort          int
	FallbackURL      string
	FallbackPort     int
	ProvisionTimeout time.Duration
	// SkipBoundPorts makes port allocation pass over host ports that are
	// already in use, so separate processes sharing a range do not collide.
	SkipBoundPorts bool
}

// Endpoint is the result of starting a workspace.
type Endpoint struct {
	URL      string `json:"url"`
	Port     int    `json:"port"`
	Fallback bool   `json:"fallback"`
}

// Mapping is an active workspace -> port assignment.
type Mapping struct {
	WorkspaceID string    `json:"workspace_id"`
	Port        int       `json:"port"`
	ContainerID string    `json:"container_id"`
	StartedAt   time.Time `json:"started_at"`
}

// Manager owns the port mappings of the process.
type Manager struct {
	provisioner Provisioner
	cfg         Config
	ports       *PortAllocator
	metrics     *metrics.Metrics
	group       singleflight.Group

	mu       sync.Mutex
	mappings map[string]*Mapping
	locks    map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// lock serializes start and stop of one workspace.
func (m *Manager) lock(workspaceID string) func() {
	m.mu.Lock()
	l, ok := m.locks[workspaceID]
	if !ok {
		l = &keyLock{}
		m.locks[workspaceID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, workspaceID)
		}
		m.mu.Unlock()
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records workspace starts and active mappings.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a workspace manager.
func NewManager(p Provisioner, cfg Config, opts ...Option) *Manager {
	if cfg.PublicHost == "" {
		cfg.PublicHost = "localhost"
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = 10 * time.Minute
	}
	var portOpts []PortOption
	if cfg.SkipBoundPorts {
		portOpts = append(portOpts, WithBoundCheck(HostPortBound))
	}
	m := &Manager{
		provisioner: p,
		cfg:         cfg,
		ports:       NewPortAllocator(cfg.BasePort, cfg.MaxPort, portOpts...),
		mappings:    make(map[string]*Mapping),
		locks:       make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start provisions the workspace container and returns its URL. It never
// fails: on any container error the simulator fallback is returned.
// Concurrent starts of one workspace share a single provisioning call.
func (m *Manager) Start(ctx context.Context, workspaceID string) Endpoint {
	v, _, _ := m.group.Do(workspaceID, func() (any, error) {
		return m.start(ctx, workspaceID), nil
	})
	return v.(Endpoint)
}

func (m *Manager) start(ctx context.Context, workspaceID string) Endpoint {
	unlock := m.lock(workspaceID)
	defer unlock()

	m.mu.Lock()
	port := 0
	if mp, ok := m.mappings[workspaceID]; ok {
		port = mp.Port
	}
	m.mu.Unlock()

	if port == 0 {
		p, err := m.ports.Allocate(workspaceID)
		if err != nil {
			slog.Error("workspace port allocation failed, using simulator fallback", "workspace", workspaceID, "error", err)
			return m.fallback(workspaceID)
		}
		port = p
	}

	// Provisioning outlives the request that triggered it.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ProvisionTimeout)
	defer cancel()

	h, err := m.provisioner.Create(pctx, workspaceID, m.cfg.Image, port)
	if err != nil {
		op := ""
		var pe *devspace.ProvisionError
		if errors.As(err, &pe) {
			op = pe.Op
		}
		slog.Warn("workspace start failed, using simulator fallback", "workspace", workspaceID, "op", op, "port", port, "error", err)

		m.mu.Lock()
		delete(m.mappings, workspaceID)
		n := len(m.mappings)
		m.mu.Unlock()
		m.ports.Release(port)
		m.metrics.SetActiveWorkspaces(n)
		return m.fallback(workspaceID)
	}

	m.mu.Lock()
	m.mappings[workspaceID] = &Mapping{
		WorkspaceID: workspaceID,
		Port:        port,
		ContainerID: h.ContainerID,
		StartedAt:   time.Now(),
	}
	n := len(m.mappings)
	m.mu.Unlock()

	m.metrics.WorkspaceStarted(false)
	m.metrics.SetActiveWorkspaces(n)
	slog.Info("workspace started", "workspace", workspaceID, "port", port, "container", h.ContainerID)

	return Endpoint{
		URL:  fmt.Sprintf("http://%s:%d", m.cfg.PublicHost, port),
		Port: port,
	}
}

func (m *Manager) fallback(workspaceID string) Endpoint {
	m.metrics.WorkspaceStarted(true)
	return Endpoint{
		URL:      strings.TrimRight(m.cfg.FallbackURL, "/") + "/ide-shim/" + url.PathEscape(workspaceID),
		Port:     m.cfg.FallbackPort,
		Fallback: true,
	}
}

// Stop stops the workspace container and removes its mapping. Failures are
// logged, not returned. It reports whether a mapping was removed. A
// container that is already gone counts as stopped.
func (m *Manager) Stop(ctx context.Context, workspaceID string) bool {
	unlock := m.lock(workspaceID)
	defer unlock()

	m.mu.Lock()
	mp, ok := m.mappings[workspaceID]
	m.mu.Unlock()
	if !ok {
		slog.Debug("stop requested for workspace without mapping", "workspace", workspaceID)
		return false
	}

	containerID, err := m.provisioner.Lookup(ctx, workspaceID)
	if err == nil {
		err = m.provisioner.Stop(ctx, containerID)
	}
	if err != nil && !errors.Is(err, devspace.ErrContainerNotFound) {
		slog.Error("failed to stop workspace", "workspace", workspaceID, "op", "stop", "error", err)
		return false
	}

	m.mu.Lock()
	delete(m.mappings, workspaceID)
	n := len(m.mappings)
	m.mu.Unlock()
	m.ports.Release(mp.Port)
	m.metrics.SetActiveWorkspaces(n)

	slog.Info("workspace stopped", "workspace", workspaceID, "port", mp.Port)
	return true
}

// StopAll stops every mapped workspace concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, mp := range m.List() {
		id := mp.WorkspaceID
		g.Go(func() error {
			m.Stop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

// Mapping returns the active mapping of a workspace.
func (m *Manager) Mapping(workspaceID string) (Mapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[workspaceID]
	if !ok {
		return Mapping{}, false
	}
	return *mp, true
}

// List returns all active mappings ordered by workspace id.
func (m *Manager) List() []Mapping {
	m.mu.Lock()
	out := make([]Mapping, 0, len(m.mappings))
	for _, mp := range m.mappings {
		out = append(out, *mp)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out
}
