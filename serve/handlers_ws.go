package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/realtime"
	"github.com/everydev1618/devspace/terminal"
)

// userFromRequest returns the caller's user id from the X-User-ID header or
// the user_id query parameter. Browsers cannot set headers on a websocket
// handshake, hence the query fallback.
func userFromRequest(r *http.Request) string {
	if u := r.Header.Get("X-User-ID"); u != "" {
		return u
	}
	return r.URL.Query().Get("user_id")
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
				return true
			}
			if slices.Contains(allowed, origin) {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if user == "" {
		writeError(w, devspace.ErrUnauthenticated)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := realtime.NewClient(conn, user)
	if err := s.hub.Register(client); err != nil {
		conn.Close()
		return
	}
	slog.Info("websocket connected", "conn", client.ID(), "user", user)

	defer func() {
		s.terminals.DetachAll(client.ID())
		s.hub.Unregister(client.ID())
		slog.Info("websocket disconnected", "conn", client.ID(), "user", user, "dropped", client.Dropped())
	}()

	client.Run(r.Context(), s.dispatch)
}

// dispatch routes one client frame to the hub or the terminal multiplexer.
func (s *Server) dispatch(ctx context.Context, c *realtime.Client, msg realtime.ClientMessage) {
	var err error
	switch msg.Type {
	case realtime.MsgJoinRoom:
		if terminal.IsRoom(msg.Room) {
			err = fmt.Errorf("%w: room %s is joined with %s", devspace.ErrForbidden, msg.Room, realtime.MsgTerminalJoin)
			break
		}
		err = s.hub.JoinRoom(c.ID(), msg.Room)
	case realtime.MsgLeaveRoom:
		if terminal.IsRoom(msg.Room) {
			err = fmt.Errorf("%w: room %s is left with %s", devspace.ErrForbidden, msg.Room, realtime.MsgTerminalLeave)
			break
		}
		err = s.hub.LeaveRoom(c.ID(), msg.Room)
	case realtime.MsgTerminalJoin:
		// Join reports its own failures to the connection.
		if err := s.terminals.Join(ctx, msg.WorkspaceID, c.ID()); err != nil {
			slog.Debug("terminal join failed", "conn", c.ID(), "workspace", msg.WorkspaceID, "error", err)
		}
		return
	case realtime.MsgTerminalInput:
		err = s.terminals.Input(msg.WorkspaceID, c.ID(), []byte(msg.Data))
	case realtime.MsgTerminalResize:
		err = s.terminals.Resize(ctx, msg.WorkspaceID, c.ID(), uint(msg.Rows), uint(msg.Cols))
	case realtime.MsgTerminalLeave:
		err = s.terminals.Leave(msg.WorkspaceID, c.ID())
	case realtime.MsgPing:
		err = s.hub.Touch(c.ID())
	}
	if err == nil {
		return
	}

	if errors.Is(err, devspace.ErrNotSubscribed) {
		c.Send(realtime.TerminalError{WorkspaceID: msg.WorkspaceID, Message: err.Error()})
		return
	}
	c.Send(realtime.ErrorEvent{Message: err.Error()})
}
