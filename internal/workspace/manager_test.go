package workspace_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/container/containertest"
	"github.com/everydev1618/devspace/internal/workspace"
)

const image = "codercom/code-server:latest"

var testConfig = workspace.Config{
	Image:        image,
	BasePort:     8100,
	MaxPort:      8999,
	FallbackURL:  "http://localhost:3000/",
	FallbackPort: 3000,
}

func dockerBacked(t *testing.T) (*workspace.Manager, *containertest.Runtime) {
	t.Helper()
	rt := containertest.New()
	rt.AddImage(image)
	cm := container.NewManager(rt, container.WithBaseDir(t.TempDir()))
	return workspace.NewManager(cm, testConfig), rt
}

// stubProvisioner fails or delays Create for selected workspaces.
type stubProvisioner struct {
	mu      sync.Mutex
	fail    map[string]bool
	delay   time.Duration
	creates atomic.Int32
	running map[string]int
}

func newStub(failing ...string) *stubProvisioner {
	s := &stubProvisioner{fail: make(map[string]bool), running: make(map[string]int)}
	for _, id := range failing {
		s.fail[id] = true
	}
	return s
}

func (s *stubProvisioner) Create(ctx context.Context, id, image string, port int) (*container.Handle, error) {
	s.creates.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail[id] {
		return nil, &devspace.ProvisionError{WorkspaceID: id, Op: "pull", Err: devspace.ErrImagePull}
	}
	s.mu.Lock()
	s.running[id] = port
	s.mu.Unlock()
	return &container.Handle{ContainerID: "c-" + id, Name: container.ContainerName(id), Port: port}, nil
}

func (s *stubProvisioner) Lookup(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; !ok {
		return "", devspace.ErrContainerNotFound
	}
	return "c-" + id, nil
}

func (s *stubProvisioner) Stop(ctx context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, strings.TrimPrefix(containerID, "c-"))
	return nil
}

func TestStartAssignsPorts(t *testing.T) {
	m, rt := dockerBacked(t)
	ctx := context.Background()

	ep := m.Start(ctx, "ws-1")
	assert.Equal(t, workspace.Endpoint{URL: "http://localhost:8100", Port: 8100}, ep)

	ep2 := m.Start(ctx, "ws-2")
	assert.Equal(t, 8101, ep2.Port)
	assert.Equal(t, 2, rt.ContainerCount())

	mp, ok := m.Mapping("ws-1")
	require.True(t, ok)
	assert.Equal(t, 8100, mp.Port)
	assert.NotEmpty(t, mp.ContainerID)

	assert.True(t, m.Stop(ctx, "ws-1"))
	_, ok = m.Mapping("ws-1")
	assert.False(t, ok)
	assert.Equal(t, 1, rt.ContainerCount())

	ep3 := m.Start(ctx, "ws-3")
	assert.Equal(t, 8100, ep3.Port, "freed port should be reused")
}

func TestStartRestartKeepsPort(t *testing.T) {
	m, rt := dockerBacked(t)
	ctx := context.Background()

	first := m.Start(ctx, "ws-1")
	second := m.Start(ctx, "ws-1")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, rt.ContainerCount(), "restart should replace the container")
	assert.Len(t, m.List(), 1)
}

func TestStartFallsBackOnFailure(t *testing.T) {
	stub := newStub("ws-fail")
	m := workspace.NewManager(stub, testConfig)

	ep := m.Start(context.Background(), "ws-fail")
	assert.True(t, ep.Fallback)
	assert.Equal(t, "http://localhost:3000/ide-shim/ws-fail", ep.URL)
	assert.True(t, strings.HasSuffix(ep.URL, "ide-shim/ws-fail"))
	assert.Equal(t, 3000, ep.Port)

	_, ok := m.Mapping("ws-fail")
	assert.False(t, ok, "failed start must not leave a mapping")

	ep = m.Start(context.Background(), "ws-ok")
	assert.Equal(t, 8100, ep.Port, "failed start must release its port")
}

func TestStartWithDockerFailure(t *testing.T) {
	rt := containertest.New()
	rt.PullErr = errors.New("registry unreachable")
	cm := container.NewManager(rt, container.WithBaseDir(t.TempDir()),
		container.WithPullPolicy(time.Second, 0, 0))
	m := workspace.NewManager(cm, testConfig)

	ep := m.Start(context.Background(), "ws-9")
	assert.True(t, ep.Fallback)
	assert.Equal(t, 3000, ep.Port)
	assert.Empty(t, m.List())
}

func TestStartWithoutDocker(t *testing.T) {
	rt := container.NewUnavailableRuntime(errors.New("cannot connect to the Docker daemon"))
	cm := container.NewManager(rt, container.WithBaseDir(t.TempDir()))
	m := workspace.NewManager(cm, testConfig)

	ep := m.Start(context.Background(), "ws-1")
	assert.True(t, ep.Fallback)
	assert.Equal(t, "http://localhost:3000/ide-shim/ws-1", ep.URL)
	assert.Empty(t, m.List())
	assert.False(t, m.Stop(context.Background(), "ws-1"))
}

func TestConcurrentStartSameWorkspace(t *testing.T) {
	stub := newStub()
	stub.delay = 50 * time.Millisecond
	m := workspace.NewManager(stub, testConfig)

	var wg sync.WaitGroup
	eps := make([]workspace.Endpoint, 10)
	for i := range eps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eps[i] = m.Start(context.Background(), "ws-1")
		}(i)
	}
	wg.Wait()

	for _, ep := range eps {
		assert.Equal(t, eps[0], ep)
	}
	assert.Equal(t, int32(1), stub.creates.Load())
}

func TestPortsNeverShared(t *testing.T) {
	stub := newStub("ws-3")
	m := workspace.NewManager(stub, testConfig)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		ops := make([]int, 40)
		for i := range ops {
			ops[i] = rng.Intn(12)
		}
		wg.Add(1)
		go func(ops []int) {
			defer wg.Done()
			for _, op := range ops {
				id := fmt.Sprintf("ws-%d", op%6)
				if op < 6 {
					m.Start(ctx, id)
				} else {
					m.Stop(ctx, id)
				}
			}
		}(ops)
	}
	wg.Wait()

	seen := make(map[int]string)
	for _, mp := range m.List() {
		other, dup := seen[mp.Port]
		require.False(t, dup, "port %d shared by %s and %s", mp.Port, other, mp.WorkspaceID)
		seen[mp.Port] = mp.WorkspaceID
		assert.NotEqual(t, "ws-3", mp.WorkspaceID)
	}
}

func TestStopUnknownAndMissingContainer(t *testing.T) {
	stub := newStub()
	m := workspace.NewManager(stub, testConfig)
	ctx := context.Background()

	assert.False(t, m.Stop(ctx, "nope"))

	m.Start(ctx, "ws-1")
	// Container vanished behind our back.
	require.NoError(t, stub.Stop(ctx, "c-ws-1"))
	assert.True(t, m.Stop(ctx, "ws-1"))
	assert.Empty(t, m.List())
}

func TestStopAll(t *testing.T) {
	m, rt := dockerBacked(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.Start(ctx, fmt.Sprintf("ws-%d", i))
	}
	require.Len(t, m.List(), 5)

	require.NoError(t, m.StopAll(ctx))
	assert.Empty(t, m.List())
	assert.Equal(t, 0, rt.ContainerCount())
}
