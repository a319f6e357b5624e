package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/internal/metrics"
	"github.com/everydev1618/devspace/realtime"
)

// Rooms is the slice of the realtime hub the multiplexer broadcasts through.
type Rooms interface {
	CanJoin(connID, room string) error
	JoinRoom(connID, room string) error
	LeaveRoom(connID, room string) error
	BroadcastToRoom(room string, ev realtime.Event) error
	SendToConnection(connID string, ev realtime.Event) error
}

const roomPrefix = "terminal:"

// Room returns the realtime room carrying a workspace's terminal output.
func Room(workspaceID string) string {
	return roomPrefix + workspaceID
}

// IsRoom reports whether room is a terminal room. Membership of those rooms
// is owned by the Multiplexer.
func IsRoom(room string) bool {
	return strings.HasPrefix(room, roomPrefix)
}

// Config configures a Multiplexer.
type Config struct {
	Shell       []string
	Env         []string
	WorkingDir  string
	Rows        uint
	Cols        uint
	HistorySize int
	IdleTimeout time.Duration
}

// SessionInfo describes a live session.
type SessionInfo struct {
	WorkspaceID  string    `json:"workspace_id"`
	SessionID    string    `json:"session_id"`
	ContainerID  string    `json:"container_id"`
	Subscribers  []string  `json:"subscribers"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

var errSessionClosed = errors.New("terminal session closed")

type session struct {
	workspaceID string
	id          string

	// ready is closed once creation finished; err holds a creation failure.
	ready chan struct{}
	err   error

	mu           sync.Mutex
	containerID  string
	stream       container.ExecSession
	cancel       context.CancelFunc
	history      *history
	subs         map[string]struct{}
	closed       bool
	createdAt    time.Time
	lastActivity time.Time
}

// Multiplexer owns every terminal session of the process.
type Multiplexer struct {
	runtime container.Runtime
	rooms   Rooms
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.Mutex
	sessions    map[string]*session
	subscribers atomic.Int64
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithMetrics records session and subscriber gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Multiplexer) {
		x.metrics = m
	}
}

// NewMultiplexer creates a multiplexer opening shells through rt.
func NewMultiplexer(rt container.Runtime, rooms Rooms, cfg Config, opts ...Option) *Multiplexer {
	if len(cfg.Shell) == 0 {
		cfg.Shell = []string{"/bin/bash"}
	}
	if cfg.Rows == 0 || cfg.Cols == 0 {
		cfg.Rows, cfg.Cols = 24, 80
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	m := &Multiplexer{
		runtime:  rt,
		rooms:    rooms,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join subscribes a connection to the workspace's shell, opening it if
// needed. Concurrent joins of a new session share one shell. Failures are
// also reported to the connection as TERMINAL_ERROR. A connection that may
// not enter the terminal room never causes a shell to be opened.
func (m *Multiplexer) Join(ctx context.Context, workspaceID, connID string) error {
	if err := m.rooms.CanJoin(connID, Room(workspaceID)); err != nil {
		m.reportError(connID, workspaceID, err)
		return err
	}
	for {
		s, creator := m.acquire(workspaceID)
		if creator {
			// The creator always subscribes, so the new session gets its
			// first subscriber or is torn down.
			m.create(ctx, s)
		} else {
			select {
			case <-s.ready:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if s.err != nil {
			m.reportError(connID, workspaceID, s.err)
			return s.err
		}

		err := m.subscribe(s, connID)
		if errors.Is(err, errSessionClosed) {
			continue
		}
		if err != nil {
			m.reportError(connID, workspaceID, err)
		}
		return err
	}
}

func (m *Multiplexer) reportError(connID, workspaceID string, err error) {
	m.rooms.SendToConnection(connID, realtime.TerminalError{
		WorkspaceID: workspaceID,
		Message:     err.Error(),
	})
}

// acquire returns the workspace's session, registering a new one when none
// exists. creator is true for the caller that must open it.
func (m *Multiplexer) acquire(workspaceID string) (s *session, creator bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[workspaceID]; ok {
		return s, false
	}
	s = &session{
		workspaceID: workspaceID,
		id:          uuid.NewString(),
		ready:       make(chan struct{}),
		subs:        make(map[string]struct{}),
	}
	m.sessions[workspaceID] = s
	return s, true
}

func (m *Multiplexer) create(ctx context.Context, s *session) {
	defer close(s.ready)

	stream, containerID, cancel, err := m.open(ctx, s.workspaceID)
	if err != nil {
		slog.Warn("terminal unavailable", "workspace", s.workspaceID, "error", err)
		s.err = err
		m.mu.Lock()
		delete(m.sessions, s.workspaceID)
		m.mu.Unlock()
		return
	}

	now := m.now()
	s.mu.Lock()
	s.containerID = containerID
	s.stream = stream
	s.cancel = cancel
	s.history = newHistory(m.cfg.HistorySize)
	s.createdAt = now
	s.lastActivity = now
	s.mu.Unlock()

	slog.Info("terminal session opened", "workspace", s.workspaceID, "session", s.id, "container", containerID)
	m.updateGauges()
	go m.pump(s)
}

func (m *Multiplexer) open(ctx context.Context, workspaceID string) (container.ExecSession, string, context.CancelFunc, error) {
	info, err := m.runtime.InspectContainer(ctx, container.ContainerName(workspaceID))
	if err != nil {
		if errors.Is(err, devspace.ErrContainerNotFound) {
			return nil, "", nil, fmt.Errorf("%w: workspace %s has no container", devspace.ErrTerminalUnavailable, workspaceID)
		}
		return nil, "", nil, fmt.Errorf("%w: inspect workspace %s: %v", devspace.ErrTerminalUnavailable, workspaceID, err)
	}
	if !info.Running {
		return nil, "", nil, fmt.Errorf("%w: workspace %s is not running", devspace.ErrTerminalUnavailable, workspaceID)
	}

	// The shell lives until the session ends, not until the joining request does.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := m.runtime.ExecInteractive(sctx, info.ID, container.InteractiveExecOptions{
		Cmd:        m.cfg.Shell,
		Env:        append([]string{"TERM=xterm-256color"}, m.cfg.Env...),
		WorkingDir: m.cfg.WorkingDir,
		Rows:       m.cfg.Rows,
		Cols:       m.cfg.Cols,
	})
	if err != nil {
		cancel()
		return nil, "", nil, fmt.Errorf("%w: open shell in workspace %s: %v", devspace.ErrTerminalUnavailable, workspaceID, err)
	}
	return stream, info.ID, cancel, nil
}

// subscribe adds connID to the session. A session left without any
// subscriber because the room join was refused is torn down so no shell
// outlives it.
func (m *Multiplexer) subscribe(s *session, connID string) error {
	s.mu.Lock()
	err := m.subscribeLocked(s, connID)
	abandoned := err != nil && !s.closed && len(s.subs) == 0
	if abandoned {
		slog.Info("terminal session closed, first subscriber refused", "workspace", s.workspaceID, "session", s.id, "error", err)
		m.teardown(s, "")
	}
	s.mu.Unlock()

	if abandoned {
		s.stream.Close()
	}
	return err
}

func (m *Multiplexer) subscribeLocked(s *session, connID string) error {
	if s.closed {
		return errSessionClosed
	}
	if _, ok := s.subs[connID]; ok {
		return nil
	}
	if err := m.rooms.JoinRoom(connID, Room(s.workspaceID)); err != nil {
		return err
	}
	s.subs[connID] = struct{}{}
	m.subscribers.Add(1)

	// Replay under the session lock so no live chunk lands before the history.
	if s.history.Len() > 0 {
		m.rooms.SendToConnection(connID, realtime.NewTerminalOutput(s.workspaceID, s.id, s.history.Bytes()))
	}
	slog.Debug("terminal subscriber joined", "workspace", s.workspaceID, "session", s.id, "conn", connID, "subscribers", len(s.subs))
	m.updateGauges()
	return nil
}

// pump copies shell output to history and the room until the stream ends.
func (m *Multiplexer) pump(s *session) {
	buf := make([]byte, 32<<10)
	var pending []byte
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			chunk, rest := splitUTF8(append(pending, buf[:n]...))
			pending = append([]byte(nil), rest...)

			s.mu.Lock()
			s.lastActivity = m.now()
			if len(chunk) > 0 && !s.closed {
				s.history.Write(chunk)
				m.rooms.BroadcastToRoom(Room(s.workspaceID), realtime.NewTerminalOutput(s.workspaceID, s.id, chunk))
			}
			s.mu.Unlock()
		}
		if err != nil {
			break
		}
	}

	s.mu.Lock()
	if !s.closed {
		slog.Info("terminal shell exited", "workspace", s.workspaceID, "session", s.id)
		m.teardown(s, realtime.ExitReasonExited)
	}
	s.mu.Unlock()
	s.stream.Close()
}

// teardown ends a session. Callers hold s.mu. An empty reason skips the
// TERMINAL_EXIT broadcast.
func (m *Multiplexer) teardown(s *session, reason string) {
	s.closed = true
	room := Room(s.workspaceID)
	if reason != "" {
		m.rooms.BroadcastToRoom(room, realtime.TerminalExit{
			WorkspaceID: s.workspaceID,
			SessionID:   s.id,
			Reason:      reason,
		})
	}
	for connID := range s.subs {
		m.rooms.LeaveRoom(connID, room)
		m.subscribers.Add(-1)
	}
	s.subs = make(map[string]struct{})
	s.cancel()

	m.mu.Lock()
	if m.sessions[s.workspaceID] == s {
		delete(m.sessions, s.workspaceID)
	}
	m.mu.Unlock()
	m.updateGauges()
}

// lookup returns a ready, open session.
func (m *Multiplexer) lookup(workspaceID string) *session {
	m.mu.Lock()
	s, ok := m.sessions[workspaceID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-s.ready:
		if s.err != nil {
			return nil
		}
		return s
	default:
		return nil
	}
}

// subscribed returns the session stream if connID is subscribed.
func (m *Multiplexer) subscribed(workspaceID, connID string) (*session, container.ExecSession, error) {
	s := m.lookup(workspaceID)
	if s == nil {
		return nil, nil, fmt.Errorf("%w: %s", devspace.ErrNotSubscribed, workspaceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[connID]; !ok || s.closed {
		return nil, nil, fmt.Errorf("%w: %s", devspace.ErrNotSubscribed, workspaceID)
	}
	s.lastActivity = m.now()
	return s, s.stream, nil
}

// Input writes keystrokes from a subscriber to the shared shell.
func (m *Multiplexer) Input(workspaceID, connID string, data []byte) error {
	_, stream, err := m.subscribed(workspaceID, connID)
	if err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		return fmt.Errorf("terminal input for %s: %w", workspaceID, err)
	}
	return nil
}

// Resize changes the shell's window size.
func (m *Multiplexer) Resize(ctx context.Context, workspaceID, connID string, rows, cols uint) error {
	_, stream, err := m.subscribed(workspaceID, connID)
	if err != nil {
		return err
	}
	if err := stream.Resize(ctx, rows, cols); err != nil {
		return fmt.Errorf("terminal resize for %s: %w", workspaceID, err)
	}
	return nil
}

// Leave unsubscribes a connection. The last subscriber leaving closes the shell.
func (m *Multiplexer) Leave(workspaceID, connID string) error {
	s := m.lookup(workspaceID)
	if s == nil {
		return fmt.Errorf("%w: %s", devspace.ErrNotSubscribed, workspaceID)
	}

	s.mu.Lock()
	if _, ok := s.subs[connID]; !ok || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", devspace.ErrNotSubscribed, workspaceID)
	}
	delete(s.subs, connID)
	m.subscribers.Add(-1)
	m.rooms.LeaveRoom(connID, Room(workspaceID))

	last := len(s.subs) == 0
	if last {
		slog.Info("terminal session closed", "workspace", workspaceID, "session", s.id)
		m.teardown(s, "")
	} else {
		m.updateGauges()
	}
	s.mu.Unlock()

	if last {
		s.stream.Close()
	}
	return nil
}

// DetachAll removes a connection from every session it subscribed to.
func (m *Multiplexer) DetachAll(connID string) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Leave(id, connID); err == nil {
			slog.Debug("terminal subscriber detached", "workspace", id, "conn", connID)
		}
	}
}

// EvictIdle ends sessions without input or output for longer than the idle
// timeout and returns how many were ended.
func (m *Multiplexer) EvictIdle() int {
	now := m.now()
	evicted := 0
	for _, s := range m.ready() {
		s.mu.Lock()
		idle := !s.closed && now.Sub(s.lastActivity) > m.cfg.IdleTimeout
		if idle {
			slog.Info("terminal session idle, closing", "workspace", s.workspaceID, "session", s.id, "idle", now.Sub(s.lastActivity))
			m.teardown(s, realtime.ExitReasonIdle)
		}
		s.mu.Unlock()
		if idle {
			s.stream.Close()
			evicted++
		}
	}
	return evicted
}

// CloseAll ends every session, telling subscribers the server closed them.
func (m *Multiplexer) CloseAll() {
	for _, s := range m.ready() {
		s.mu.Lock()
		open := !s.closed
		if open {
			m.teardown(s, realtime.ExitReasonClosed)
		}
		s.mu.Unlock()
		if open {
			s.stream.Close()
		}
	}
}

// Sessions returns a snapshot of live sessions ordered by workspace.
func (m *Multiplexer) Sessions() []SessionInfo {
	var out []SessionInfo
	for _, s := range m.ready() {
		s.mu.Lock()
		if !s.closed {
			subs := make([]string, 0, len(s.subs))
			for id := range s.subs {
				subs = append(subs, id)
			}
			sort.Strings(subs)
			out = append(out, SessionInfo{
				WorkspaceID:  s.workspaceID,
				SessionID:    s.id,
				ContainerID:  s.containerID,
				Subscribers:  subs,
				CreatedAt:    s.createdAt,
				LastActivity: s.lastActivity,
			})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out
}

func (m *Multiplexer) ready() []*session {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := all[:0]
	for _, s := range all {
		select {
		case <-s.ready:
			if s.err == nil {
				out = append(out, s)
			}
		default:
		}
	}
	return out
}

func (m *Multiplexer) updateGauges() {
	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetTerminals(n, int(m.subscribers.Load()))
}
