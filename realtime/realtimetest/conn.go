// Package realtimetest provides an in-memory realtime.Conn for tests.
package realtimetest

import (
	"sync"

	"github.com/everydev1618/devspace/realtime"
)

// Conn records every event sent to it.
type Conn struct {
	id   string
	user string

	mu     sync.Mutex
	events []realtime.Event
	full   bool
}

// NewConn creates a recording connection.
func NewConn(id, userID string) *Conn {
	return &Conn{id: id, user: userID}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.user }

// Send records ev unless the connection was marked full.
func (c *Conn) Send(ev realtime.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

// SetFull makes Send drop events, like a slow consumer.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (c *Conn) Events() []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Event(nil), c.events...)
}

// OfType returns the recorded events of one type.
func (c *Conn) OfType(typ string) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Event
	for _, ev := range c.events {
		if ev.EventType() == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the number of recorded events of one type.
func (c *Conn) Count(typ string) int {
	return len(c.OfType(typ))
}

// Output concatenates the decoded bytes of all TERMINAL_OUTPUT events.
func (c *Conn) Output() string {
	var s string
	for _, ev := range c.OfType(realtime.TypeTerminalOutput) {
		b, _ := ev.(realtime.TerminalOutput).Bytes()
		s += string(b)
	}
	return s
}

// LastPresence returns the most recent presence snapshot for room.
func (c *Conn) LastPresence(room string) (realtime.PresenceUpdate, bool) {
	evs := c.OfType(realtime.TypePresenceUpdate)
	for i := len(evs) - 1; i >= 0; i-- {
		if p := evs[i].(realtime.PresenceUpdate); p.Room == room {
			return p, true
		}
	}
	return realtime.PresenceUpdate{}, false
}

// Reset clears recorded events.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
