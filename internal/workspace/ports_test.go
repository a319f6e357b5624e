package workspace

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/devspace"
)

func TestPortAllocatorScansUpward(t *testing.T) {
	a := NewPortAllocator(8100, 8102)

	p1, err := a.Allocate("ws-1")
	require.NoError(t, err)
	p2, err := a.Allocate("ws-2")
	require.NoError(t, err)
	assert.Equal(t, 8100, p1)
	assert.Equal(t, 8101, p2)

	a.Release(p1)
	p3, err := a.Allocate("ws-3")
	require.NoError(t, err)
	assert.Equal(t, 8100, p3, "released port should be reused")

	owner, ok := a.Owner(8100)
	require.True(t, ok)
	assert.Equal(t, "ws-3", owner)
}

func TestPortAllocatorExhausted(t *testing.T) {
	a := NewPortAllocator(9000, 9001)
	_, err := a.Allocate("a")
	require.NoError(t, err)
	_, err = a.Allocate("b")
	require.NoError(t, err)

	_, err = a.Allocate("c")
	assert.ErrorIs(t, err, devspace.ErrNoFreePort)
	assert.Equal(t, 2, a.InUse())
}

func TestPortAllocatorConcurrentUnique(t *testing.T) {
	a := NewPortAllocator(10000, 0)

	const n = 200
	ports := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := a.Allocate("ws")
			if err == nil {
				ports[i] = p
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, p := range ports {
		require.NotZero(t, p)
		require.False(t, seen[p], "port %d handed out twice", p)
		seen[p] = true
	}
}

func TestPortAllocatorSkipsBoundPorts(t *testing.T) {
	busy := map[int]bool{8100: true, 8101: true}
	a := NewPortAllocator(8100, 8103, WithBoundCheck(func(port int) bool { return busy[port] }))

	p, err := a.Allocate("ws-1")
	require.NoError(t, err)
	assert.Equal(t, 8102, p)

	busy[8103] = true
	_, err = a.Allocate("ws-2")
	assert.ErrorIs(t, err, devspace.ErrNoFreePort)
}

func TestHostPortBound(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port

	assert.True(t, HostPortBound(port))

	a := NewPortAllocator(port, 0, WithBoundCheck(HostPortBound))
	p, err := a.Allocate("ws-1")
	require.NoError(t, err)
	assert.NotEqual(t, port, p, "a port another process listens on is skipped")
	l.Close()
}
