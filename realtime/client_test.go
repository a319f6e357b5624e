package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/devspace/realtime"
)

func TestClientRoundTrip(t *testing.T) {
	hub := newHub(t)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := realtime.NewClient(conn, r.URL.Query().Get("user_id"))
		if err := hub.Register(c); err != nil {
			conn.Close()
			return
		}
		defer hub.Unregister(c.ID())
		c.Run(r.Context(), func(ctx context.Context, c *realtime.Client, msg realtime.ClientMessage) {
			if msg.Type == realtime.MsgJoinRoom {
				hub.JoinRoom(c.ID(), msg.Room)
			}
		})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user_id=alice"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"JOIN_ROOM","room":"ws-1"}`)))
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PRESENCE_UPDATE","room":"ws-1","users":["alice"]}`, string(data))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"BOGUS"}`)))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"ERROR"`)

	require.NoError(t, hub.BroadcastToRoom("ws-1", realtime.FileSaved{WorkspaceID: "ws-1", Path: "a.txt"}))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"FILE_SAVED"`)

	ws.Close()
	assert.Eventually(t, func() bool {
		s, err := hub.Stats()
		return err == nil && s.Connections == 0 && s.Rooms == 0
	}, 5*time.Second, 10*time.Millisecond)
}
