package realtime

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/internal/metrics"
)

// Conn is a registered client connection. Send must not block; it reports
// false when the event was dropped.
type Conn interface {
	ID() string
	UserID() string
	Send(Event) bool
}

// Authorizer decides whether a user may join a room.
type Authorizer interface {
	CanJoin(userID, room string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(userID, room string) bool

// CanJoin calls f.
func (f AuthorizerFunc) CanJoin(userID, room string) bool { return f(userID, room) }

// AllowAll lets every authenticated user join every room.
var AllowAll = AuthorizerFunc(func(string, string) bool { return true })

// Participant is a user's presence entry in a room.
type Participant struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Stats summarizes hub state.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

type room struct {
	members  map[string]Conn         // connection id -> conn
	presence map[string]*Participant // user id -> entry
}

// Hub is the process-wide connection registry. All state is owned by one
// goroutine; public methods run as closures on it.
type Hub struct {
	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	auth    Authorizer
	metrics *metrics.Metrics
	now     func() time.Time

	conns     map[string]Conn
	users     map[string]map[string]struct{} // user id -> connection ids
	rooms     map[string]*room
	connRooms map[string]map[string]struct{} // connection id -> rooms
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAuthorizer sets the room join policy.
func WithAuthorizer(a Authorizer) HubOption {
	return func(h *Hub) {
		h.auth = a
	}
}

// WithMetrics records connection and room gauges.
func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates a hub and starts its goroutine. Call Close to stop it.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		ops:       make(chan func()),
		done:      make(chan struct{}),
		auth:      AllowAll,
		now:       time.Now,
		conns:     make(map[string]Conn),
		users:     make(map[string]map[string]struct{}),
		rooms:     make(map[string]*room),
		connRooms: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	for {
		select {
		case op := <-h.ops:
			op()
		case <-h.done:
			return
		}
	}
}

// do runs fn on the hub goroutine and waits for it.
func (h *Hub) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(finished) }:
	case <-h.done:
		return devspace.ErrHubClosed
	}
	<-finished
	return nil
}

// Close stops the hub. Later calls return ErrHubClosed.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Register adds a connection. Connections without a user id are rejected.
func (h *Hub) Register(c Conn) error {
	if c.UserID() == "" {
		return devspace.ErrUnauthenticated
	}
	return h.do(func() {
		h.conns[c.ID()] = c
		set, ok := h.users[c.UserID()]
		if !ok {
			set = make(map[string]struct{})
			h.users[c.UserID()] = set
		}
		set[c.ID()] = struct{}{}
		h.updateGauges()
		slog.Debug("connection registered", "conn", c.ID(), "user", c.UserID())
	})
}

// Unregister removes a connection and leaves every room it joined.
func (h *Hub) Unregister(connID string) error {
	return h.do(func() {
		c, ok := h.conns[connID]
		if !ok {
			return
		}
		delete(h.conns, connID)
		if set, ok := h.users[c.UserID()]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.users, c.UserID())
			}
		}
		for name := range h.connRooms[connID] {
			h.leave(c, name)
		}
		delete(h.connRooms, connID)
		h.updateGauges()
		slog.Debug("connection unregistered", "conn", connID, "user", c.UserID())
	})
}

// CanJoin reports whether a registered connection would be allowed into a
// room, without joining it.
func (h *Hub) CanJoin(connID, name string) error {
	var err error
	if doErr := h.do(func() {
		_, err = h.admit(connID, name)
	}); doErr != nil {
		return doErr
	}
	return err
}

// admit runs on the hub goroutine.
func (h *Hub) admit(connID, name string) (Conn, error) {
	c, ok := h.conns[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", devspace.ErrConnectionNotFound, connID)
	}
	if !h.auth.CanJoin(c.UserID(), name) {
		return nil, fmt.Errorf("%w: user %s cannot join %s", devspace.ErrForbidden, c.UserID(), name)
	}
	return c, nil
}

// JoinRoom adds a registered connection to a room and broadcasts the new
// presence snapshot to it.
func (h *Hub) JoinRoom(connID, name string) error {
	var err error
	if doErr := h.do(func() {
		var c Conn
		c, err = h.admit(connID, name)
		if err != nil {
			return
		}

		r, ok := h.rooms[name]
		if !ok {
			r = &room{
				members:  make(map[string]Conn),
				presence: make(map[string]*Participant),
			}
			h.rooms[name] = r
		}
		r.members[connID] = c
		r.presence[c.UserID()] = &Participant{
			UserID:       c.UserID(),
			ConnectionID: connID,
			LastSeenAt:   h.now(),
		}

		joined, ok := h.connRooms[connID]
		if !ok {
			joined = make(map[string]struct{})
			h.connRooms[connID] = joined
		}
		joined[name] = struct{}{}

		h.updateGauges()
		h.broadcast(name, h.snapshot(name, r))
	}); doErr != nil {
		return doErr
	}
	return err
}

// LeaveRoom removes a connection from a room.
func (h *Hub) LeaveRoom(connID, name string) error {
	return h.do(func() {
		c, ok := h.conns[connID]
		if !ok {
			return
		}
		if joined, ok := h.connRooms[connID]; ok {
			delete(joined, name)
			if len(joined) == 0 {
				delete(h.connRooms, connID)
			}
		}
		h.leave(c, name)
		h.updateGauges()
	})
}

// leave runs on the hub goroutine.
func (h *Hub) leave(c Conn, name string) {
	r, ok := h.rooms[name]
	if !ok {
		return
	}
	if _, member := r.members[c.ID()]; !member {
		return
	}
	delete(r.members, c.ID())

	// The user stays present while another of their connections is in the room.
	var other Conn
	for _, m := range r.members {
		if m.UserID() == c.UserID() {
			other = m
			break
		}
	}
	if other == nil {
		delete(r.presence, c.UserID())
	} else if p := r.presence[c.UserID()]; p != nil && p.ConnectionID == c.ID() {
		p.ConnectionID = other.ID()
	}

	if len(r.presence) == 0 {
		delete(h.rooms, name)
		slog.Debug("room closed", "room", name)
		return
	}
	h.broadcast(name, h.snapshot(name, r))
}

// BroadcastToRoom sends ev to every connection in a room.
func (h *Hub) BroadcastToRoom(name string, ev Event) error {
	return h.do(func() {
		h.broadcast(name, ev)
	})
}

// SendToUser sends ev to every connection of a user, whatever rooms they are in.
func (h *Hub) SendToUser(userID string, ev Event) error {
	return h.do(func() {
		for id := range h.users[userID] {
			h.send(h.conns[id], ev)
		}
	})
}

// SendToConnection sends ev to a single connection.
func (h *Hub) SendToConnection(connID string, ev Event) error {
	return h.do(func() {
		if c, ok := h.conns[connID]; ok {
			h.send(c, ev)
		}
	})
}

// Touch refreshes the presence timestamp of a connection in all its rooms.
func (h *Hub) Touch(connID string) error {
	return h.do(func() {
		c, ok := h.conns[connID]
		if !ok {
			return
		}
		now := h.now()
		for name := range h.connRooms[connID] {
			if r, ok := h.rooms[name]; ok {
				if p := r.presence[c.UserID()]; p != nil {
					p.ConnectionID = connID
					p.LastSeenAt = now
				}
			}
		}
	})
}

// Presence returns the participants of a room ordered by user id.
func (h *Hub) Presence(name string) ([]Participant, error) {
	var out []Participant
	err := h.do(func() {
		r, ok := h.rooms[name]
		if !ok {
			return
		}
		out = make([]Participant, 0, len(r.presence))
		for _, p := range r.presence {
			out = append(out, *p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, err
}

// Rooms returns the rooms a connection has joined.
func (h *Hub) Rooms(connID string) ([]string, error) {
	var out []string
	err := h.do(func() {
		for name := range h.connRooms[connID] {
			out = append(out, name)
		}
	})
	sort.Strings(out)
	return out, err
}

// Stats returns counts of connections, users and rooms.
func (h *Hub) Stats() (Stats, error) {
	var s Stats
	err := h.do(func() {
		s = Stats{
			Connections: len(h.conns),
			Users:       len(h.users),
			Rooms:       len(h.rooms),
		}
	})
	return s, err
}

func (h *Hub) broadcast(name string, ev Event) {
	r, ok := h.rooms[name]
	if !ok {
		return
	}
	for _, c := range r.members {
		h.send(c, ev)
	}
}

func (h *Hub) send(c Conn, ev Event) {
	if c == nil {
		return
	}
	if !c.Send(ev) {
		slog.Warn("dropped event for slow connection", "conn", c.ID(), "user", c.UserID(), "type", ev.EventType())
	}
}

func (h *Hub) snapshot(name string, r *room) PresenceUpdate {
	users := make([]string, 0, len(r.presence))
	for id := range r.presence {
		users = append(users, id)
	}
	sort.Strings(users)
	return PresenceUpdate{Room: name, Users: users}
}

func (h *Hub) updateGauges() {
	h.metrics.SetHub(len(h.conns), len(h.rooms))
}
