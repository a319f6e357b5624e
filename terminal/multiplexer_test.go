package terminal_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/container/containertest"
	"github.com/everydev1618/devspace/realtime"
	"github.com/everydev1618/devspace/realtime/realtimetest"
	"github.com/everydev1618/devspace/terminal"
)

const (
	wait = 2 * time.Second
	tick = 5 * time.Millisecond
)

type fixture struct {
	rt  *containertest.Runtime
	hub *realtime.Hub
	mux *terminal.Multiplexer
}

func newFixture(t *testing.T, cfg terminal.Config, opts ...realtime.HubOption) *fixture {
	t.Helper()
	rt := containertest.New()
	rt.AddContainer(container.ContainerName("ws-1"), true)
	hub := realtime.NewHub(opts...)
	t.Cleanup(hub.Close)
	return &fixture{rt: rt, hub: hub, mux: terminal.NewMultiplexer(rt, hub, cfg)}
}

func (f *fixture) conn(t *testing.T, id, user string) *realtimetest.Conn {
	t.Helper()
	c := realtimetest.NewConn(id, user)
	require.NoError(t, f.hub.Register(c))
	return c
}

func TestJoinOpensShell(t *testing.T) {
	f := newFixture(t, terminal.Config{Shell: []string{"/bin/zsh"}, Rows: 40, Cols: 120})
	f.conn(t, "c1", "alice")

	require.NoError(t, f.mux.Join(context.Background(), "ws-1", "c1"))
	require.Equal(t, 1, f.rt.SessionCount())

	opts := f.rt.Session(0).Opts
	assert.Equal(t, []string{"/bin/zsh"}, opts.Cmd)
	assert.Equal(t, uint(40), opts.Rows)
	assert.Contains(t, opts.Env, "TERM=xterm-256color")

	sessions := f.mux.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{"c1"}, sessions[0].Subscribers)

	rooms, err := f.hub.Rooms("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{terminal.Room("ws-1")}, rooms)
}

func TestJoinUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(rt *containertest.Runtime)
	}{
		{"missing container", func(rt *containertest.Runtime) {}},
		{"stopped container", func(rt *containertest.Runtime) {
			rt.AddContainer(container.ContainerName("ws-2"), false)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, terminal.Config{})
			tt.setup(f.rt)
			requester := f.conn(t, "c1", "alice")
			bystander := f.conn(t, "c2", "bob")
			require.NoError(t, f.hub.JoinRoom("c1", "ws-2"))
			require.NoError(t, f.hub.JoinRoom("c2", "ws-2"))

			err := f.mux.Join(context.Background(), "ws-2", "c1")
			assert.ErrorIs(t, err, devspace.ErrTerminalUnavailable)

			require.Equal(t, 1, requester.Count(realtime.TypeTerminalError))
			ev := requester.OfType(realtime.TypeTerminalError)[0].(realtime.TerminalError)
			assert.Equal(t, "ws-2", ev.WorkspaceID)
			assert.Equal(t, 0, bystander.Count(realtime.TypeTerminalError))

			assert.Empty(t, f.mux.Sessions())
			assert.Equal(t, 0, f.rt.SessionCount())
		})
	}
}

func TestForbiddenJoinOpensNoShell(t *testing.T) {
	f := newFixture(t, terminal.Config{}, realtime.WithAuthorizer(realtime.AuthorizerFunc(func(user, room string) bool {
		return user != "mallory"
	})))
	mallory := f.conn(t, "cm", "mallory")

	err := f.mux.Join(context.Background(), "ws-1", "cm")
	assert.ErrorIs(t, err, devspace.ErrForbidden)

	assert.Equal(t, 0, f.rt.SessionCount(), "no shell opened")
	assert.Empty(t, f.mux.Sessions())
	require.Equal(t, 1, mallory.Count(realtime.TypeTerminalError))
	ev := mallory.OfType(realtime.TypeTerminalError)[0].(realtime.TerminalError)
	assert.Equal(t, "ws-1", ev.WorkspaceID)

	err = f.mux.Join(context.Background(), "ws-1", "unregistered")
	assert.ErrorIs(t, err, devspace.ErrConnectionNotFound)
	assert.Equal(t, 0, f.rt.SessionCount())
}

func TestRefusedFirstSubscriberClosesShell(t *testing.T) {
	// Admit the pre-check, refuse the room join itself.
	var calls atomic.Int32
	f := newFixture(t, terminal.Config{}, realtime.WithAuthorizer(realtime.AuthorizerFunc(func(user, room string) bool {
		return calls.Add(1) == 1
	})))
	c := f.conn(t, "c1", "alice")

	err := f.mux.Join(context.Background(), "ws-1", "c1")
	assert.ErrorIs(t, err, devspace.ErrForbidden)

	require.Equal(t, 1, f.rt.SessionCount())
	assert.True(t, f.rt.Session(0).Closed(), "shell closed")
	assert.Empty(t, f.mux.Sessions())
	assert.Equal(t, 1, c.Count(realtime.TypeTerminalError))
	assert.Equal(t, 0, c.Count(realtime.TypeTerminalExit))
}

func TestBinaryOutputSurvives(t *testing.T) {
	f := newFixture(t, terminal.Config{})
	a := f.conn(t, "ca", "alice")
	require.NoError(t, f.mux.Join(context.Background(), "ws-1", "ca"))

	require.NoError(t, f.rt.Session(0).Emit("\xff\xfeok"))
	assert.Eventually(t, func() bool { return a.Output() == "\xff\xfeok" }, wait, tick)

	ev := a.OfType(realtime.TypeTerminalOutput)[0].(realtime.TerminalOutput)
	assert.Equal(t, realtime.EncodingBase64, ev.Encoding)
}

func TestJoinWithoutDocker(t *testing.T) {
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	mux := terminal.NewMultiplexer(container.NewUnavailableRuntime(nil), hub, terminal.Config{})
	c := realtimetest.NewConn("c1", "alice")
	require.NoError(t, hub.Register(c))

	err := mux.Join(context.Background(), "ws-1", "c1")
	assert.ErrorIs(t, err, devspace.ErrTerminalUnavailable)
	assert.Equal(t, 1, c.Count(realtime.TypeTerminalError))
	assert.Empty(t, mux.Sessions())
}

func TestConcurrentJoinsShareOneShell(t *testing.T) {
	f := newFixture(t, terminal.Config{})
	f.rt.ExecDelay = 50 * time.Millisecond

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		f.conn(t, id, fmt.Sprintf("u%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.mux.Join(context.Background(), "ws-1", id))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.rt.SessionCount(), "exactly one shell")
	sessions := f.mux.Sessions()
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Subscribers, n)
}

func TestOutputFanOutAndHistory(t *testing.T) {
	f := newFixture(t, terminal.Config{})
	a := f.conn(t, "ca", "alice")
	b := f.conn(t, "cb", "bob")
	ctx := context.Background()

	require.NoError(t, f.mux.Join(ctx, "ws-1", "ca"))
	shell := f.rt.Session(0)
	require.NoError(t, shell.Emit("$ echo hi\r\nhi\r\n"))
	assert.Eventually(t, func() bool { return a.Output() == "$ echo hi\r\nhi\r\n" }, wait, tick)

	require.NoError(t, f.mux.Join(ctx, "ws-1", "cb"))
	outs := b.OfType(realtime.TypeTerminalOutput)
	require.Len(t, outs, 1, "late joiner gets the history")
	assert.Equal(t, "$ echo hi\r\nhi\r\n", outs[0].(realtime.TerminalOutput).Data)

	require.NoError(t, shell.Emit("$ "))
	assert.Eventually(t, func() bool { return b.Output() == "$ echo hi\r\nhi\r\n$ " }, wait, tick)
	assert.Eventually(t, func() bool { return a.Output() == "$ echo hi\r\nhi\r\n$ " }, wait, tick)

	sid := outs[0].(realtime.TerminalOutput).SessionID
	for _, ev := range a.OfType(realtime.TypeTerminalOutput) {
		assert.Equal(t, sid, ev.(realtime.TerminalOutput).SessionID)
	}
}

func TestInputAndResize(t *testing.T) {
	f := newFixture(t, terminal.Config{})
	f.conn(t, "ca", "alice")
	f.conn(t, "cb", "bob")
	f.conn(t, "cx", "eve")
	ctx := context.Background()

	require.NoError(t, f.mux.Join(ctx, "ws-1", "ca"))
	require.NoError(t, f.mux.Join(ctx, "ws-1", "cb"))

	require.NoError(t, f.mux.Input("ws-1", "ca", []byte("ls")))
	require.NoError(t, f.mux.Input("ws-1", "cb", []byte("\r")))
	assert.Equal(t, "ls\r", f.rt.Session(0).Input())

	assert.ErrorIs(t, f.mux.Input("ws-1", "cx", []byte("rm -rf /")), devspace.ErrNotSubscribed)
	assert.ErrorIs(t, f.mux.Input("ws-9", "ca", []byte("x")), devspace.ErrNotSubscribed)

	require.NoError(t, f.mux.Resize(ctx, "ws-1", "cb", 50, 200))
	assert.Equal(t, [][2]uint{{50, 200}}, f.rt.Session(0).Resizes())
}

func TestLastLeaveEndsSession(t *testing.T) {
	f := newFixture(t, terminal.Config{})
	f.conn(t, "ca", "alice")
	f.conn(t, "cb", "bob")
	ctx := context.Background()

	require.NoError(t, f.mux.Join(ctx, "ws-1", "ca"))
	require.NoError(t, f.mux.Join(ctx, "ws-1", "cb"))
	first := f.mux.Sessions()[0].SessionID

	require.NoError(t, f.mux.Leave("ws-1", "ca"))
	assert.False(t, f.rt.Session(0).Closed())
	assert.ErrorIs(t, f.mux.Leave("ws-1", "ca"), devspace.ErrNotSubscribed)

	require.NoError(t, f.mux.Leave("ws-1", "cb"))
	assert.True(t, f.rt.Session(0).Closed())
	assert.Empty(t, f.mux.Sessions())

	require.NoError(t, f.mux.Join(ctx, "ws-1", "ca"))
	assert.Equal(t, 2, f.rt.SessionCount())
	assert.NotEqual(t, first, f.mux.Sessions()[0].SessionID)
}

func TestRemoteExit(t *testing.T) {
	f := newFixture(t, terminal.Config{})
	a := f.conn(t, "ca", "alice")
	b := f.conn(t, "cb", "bob")
	ctx := context.Background()

	require.NoError(t, f.mux.Join(ctx, "ws-1", "ca"))
	require.NoError(t, f.mux.Join(ctx, "ws-1", "cb"))

	f.rt.Session(0).End()
	assert.Eventually(t, func() bool { return len(f.mux.Sessions()) == 0 }, wait, tick)

	for _, c := range []*realtimetest.Conn{a, b} {
		exits := c.OfType(realtime.TypeTerminalExit)
		require.Len(t, exits, 1)
		assert.Equal(t, realtime.ExitReasonExited, exits[0].(realtime.TerminalExit).Reason)
	}
	rooms, err := f.hub.Rooms("ca")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestDetachAll(t *testing.T) {
	f := newFixture(t, terminal.Config{})
	f.rt.AddContainer(container.ContainerName("ws-2"), true)
	f.conn(t, "ca", "alice")
	f.conn(t, "cb", "bob")
	ctx := context.Background()

	require.NoError(t, f.mux.Join(ctx, "ws-1", "ca"))
	require.NoError(t, f.mux.Join(ctx, "ws-2", "ca"))
	require.NoError(t, f.mux.Join(ctx, "ws-2", "cb"))

	f.mux.DetachAll("ca")

	sessions := f.mux.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "ws-2", sessions[0].WorkspaceID)
	assert.Equal(t, []string{"cb"}, sessions[0].Subscribers)
}

func TestEvictIdle(t *testing.T) {
	f := newFixture(t, terminal.Config{IdleTimeout: 20 * time.Millisecond})
	a := f.conn(t, "ca", "alice")
	require.NoError(t, f.mux.Join(context.Background(), "ws-1", "ca"))

	assert.Equal(t, 0, f.mux.EvictIdle())
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, f.mux.EvictIdle())

	assert.Empty(t, f.mux.Sessions())
	assert.True(t, f.rt.Session(0).Closed())
	exits := a.OfType(realtime.TypeTerminalExit)
	require.Len(t, exits, 1)
	assert.Equal(t, realtime.ExitReasonIdle, exits[0].(realtime.TerminalExit).Reason)
}
