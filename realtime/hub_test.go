package realtime_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/realtime"
	"github.com/everydev1618/devspace/realtime/realtimetest"
)

func newHub(t *testing.T, opts ...realtime.HubOption) *realtime.Hub {
	t.Helper()
	h := realtime.NewHub(opts...)
	t.Cleanup(h.Close)
	return h
}

func register(t *testing.T, h *realtime.Hub, id, user string) *realtimetest.Conn {
	t.Helper()
	c := realtimetest.NewConn(id, user)
	require.NoError(t, h.Register(c))
	return c
}

func users(t *testing.T, h *realtime.Hub, room string) []string {
	t.Helper()
	ps, err := h.Presence(room)
	require.NoError(t, err)
	out := []string{}
	for _, p := range ps {
		out = append(out, p.UserID)
	}
	return out
}

func TestRegisterRequiresUser(t *testing.T) {
	h := newHub(t)
	err := h.Register(realtimetest.NewConn("c1", ""))
	assert.ErrorIs(t, err, devspace.ErrUnauthenticated)

	s, err := h.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Connections)
}

func TestJoinBroadcastsPresence(t *testing.T) {
	h := newHub(t)
	a := register(t, h, "ca", "alice")
	b := register(t, h, "cb", "bob")

	require.NoError(t, h.JoinRoom("ca", "ws-1"))
	require.NoError(t, h.JoinRoom("cb", "ws-1"))

	p, ok := a.LastPresence("ws-1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, p.Users)

	p, ok = b.LastPresence("ws-1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, p.Users)
	assert.Equal(t, 1, b.Count(realtime.TypePresenceUpdate), "bob joined after alice")
}

func TestDisconnectUpdatesPresence(t *testing.T) {
	h := newHub(t)
	register(t, h, "ca", "alice")
	b := register(t, h, "cb", "bob")
	require.NoError(t, h.JoinRoom("ca", "ws-1"))
	require.NoError(t, h.JoinRoom("cb", "ws-1"))

	require.NoError(t, h.Unregister("ca"))
	assert.Equal(t, []string{"bob"}, users(t, h, "ws-1"))
	p, _ := b.LastPresence("ws-1")
	assert.Equal(t, []string{"bob"}, p.Users)

	require.NoError(t, h.Unregister("cb"))
	assert.Empty(t, users(t, h, "ws-1"))

	s, err := h.Stats()
	require.NoError(t, err)
	assert.Equal(t, realtime.Stats{}, s, "room and user entries should be gone")
}

func TestBroadcastIsRoomScoped(t *testing.T) {
	h := newHub(t)
	in1 := register(t, h, "c1", "alice")
	in2 := register(t, h, "c2", "bob")
	out := register(t, h, "c3", "carol")
	require.NoError(t, h.JoinRoom("c1", "ws-7"))
	require.NoError(t, h.JoinRoom("c2", "ws-7"))
	require.NoError(t, h.JoinRoom("c3", "ws-8"))

	require.NoError(t, h.BroadcastToRoom("ws-7", realtime.FileSaved{WorkspaceID: "ws-7", Path: "main.go"}))

	assert.Equal(t, 1, in1.Count(realtime.TypeFileSaved))
	assert.Equal(t, 1, in2.Count(realtime.TypeFileSaved))
	assert.Equal(t, 0, out.Count(realtime.TypeFileSaved))

	// Missing rooms are a no-op.
	assert.NoError(t, h.BroadcastToRoom("nope", realtime.FileSaved{}))
}

func TestMultipleConnectionsKeepUserPresent(t *testing.T) {
	h := newHub(t)
	register(t, h, "tab1", "alice")
	register(t, h, "tab2", "alice")
	require.NoError(t, h.JoinRoom("tab1", "ws-1"))
	require.NoError(t, h.JoinRoom("tab2", "ws-1"))

	require.NoError(t, h.LeaveRoom("tab2", "ws-1"))
	ps, err := h.Presence("ws-1")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "tab1", ps[0].ConnectionID)

	require.NoError(t, h.JoinRoom("tab2", "ws-1"))
	require.NoError(t, h.Unregister("tab2"))
	ps, err = h.Presence("ws-1")
	require.NoError(t, err)
	require.Len(t, ps, 1, "alice still has tab1 in the room")
	assert.Equal(t, "tab1", ps[0].ConnectionID)
}

func TestSendToUser(t *testing.T) {
	h := newHub(t)
	t1 := register(t, h, "t1", "alice")
	t2 := register(t, h, "t2", "alice")
	other := register(t, h, "t3", "bob")
	require.NoError(t, h.JoinRoom("t1", "ws-1"))

	require.NoError(t, h.SendToUser("alice", realtime.Activity{Kind: "mention"}))
	assert.Equal(t, 1, t1.Count(realtime.TypeActivity))
	assert.Equal(t, 1, t2.Count(realtime.TypeActivity), "delivery does not depend on rooms")
	assert.Equal(t, 0, other.Count(realtime.TypeActivity))

	assert.NoError(t, h.SendToUser("nobody", realtime.Activity{}))
	assert.NoError(t, h.SendToConnection("missing", realtime.ErrorEvent{}))
}

func TestAuthorizer(t *testing.T) {
	h := newHub(t, realtime.WithAuthorizer(realtime.AuthorizerFunc(func(user, room string) bool {
		return room != "private"
	})))
	register(t, h, "c1", "alice")

	assert.ErrorIs(t, h.JoinRoom("c1", "private"), devspace.ErrForbidden)
	assert.NoError(t, h.JoinRoom("c1", "public"))
	assert.ErrorIs(t, h.JoinRoom("ghost", "public"), devspace.ErrConnectionNotFound)

	rooms, err := h.Rooms("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"public"}, rooms)

	assert.ErrorIs(t, h.CanJoin("c1", "private"), devspace.ErrForbidden)
	assert.NoError(t, h.CanJoin("c1", "other"))
	assert.ErrorIs(t, h.CanJoin("ghost", "public"), devspace.ErrConnectionNotFound)
	rooms, err = h.Rooms("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"public"}, rooms, "CanJoin does not join")
}

func TestConcurrentJoinLeave(t *testing.T) {
	h := newHub(t)
	const n = 50
	for i := 0; i < n; i++ {
		register(t, h, fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i%10))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 20; j++ {
				assert.NoError(t, h.JoinRoom(id, "ws-1"))
				assert.NoError(t, h.LeaveRoom(id, "ws-1"))
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, users(t, h, "ws-1"))
	s, err := h.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Rooms, "an emptied room must be deleted")
	assert.Equal(t, n, s.Connections)
	assert.Equal(t, 10, s.Users)
}

func TestTouchRefreshesPresence(t *testing.T) {
	h := newHub(t)
	register(t, h, "c1", "alice")
	require.NoError(t, h.JoinRoom("c1", "ws-1"))

	before, err := h.Presence("ws-1")
	require.NoError(t, err)
	require.NoError(t, h.Touch("c1"))
	after, err := h.Presence("ws-1")
	require.NoError(t, err)
	assert.False(t, after[0].LastSeenAt.Before(before[0].LastSeenAt))
}

func TestDroppedSendDoesNotBlock(t *testing.T) {
	h := newHub(t)
	slow := register(t, h, "slow", "alice")
	fast := register(t, h, "fast", "bob")
	require.NoError(t, h.JoinRoom("slow", "ws-1"))
	require.NoError(t, h.JoinRoom("fast", "ws-1"))
	slow.SetFull(true)

	require.NoError(t, h.BroadcastToRoom("ws-1", realtime.FileSaved{}))
	assert.Equal(t, 1, fast.Count(realtime.TypeFileSaved))
	assert.Equal(t, 0, slow.Count(realtime.TypeFileSaved))
}

func TestClosedHub(t *testing.T) {
	h := realtime.NewHub()
	h.Close()
	h.Close()
	assert.ErrorIs(t, h.Register(realtimetest.NewConn("c", "u")), devspace.ErrHubClosed)
	_, err := h.Stats()
	assert.ErrorIs(t, err, devspace.ErrHubClosed)
}
