package workspace

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/everydev1618/devspace"
)

// PortAllocator hands out host ports by scanning upward from a base port.
// Held ports are unique within this process. With a bound check set, ports
// already in use on the host (for example by a workspace another devspace
// process started) are skipped too.
type PortAllocator struct {
	mu    sync.Mutex
	base  int
	max   int
	held  map[int]string // port -> workspace id
	bound func(port int) bool
}

// PortOption configures a PortAllocator.
type PortOption func(*PortAllocator)

// WithBoundCheck makes Allocate skip ports for which bound returns true.
func WithBoundCheck(bound func(port int) bool) PortOption {
	return func(a *PortAllocator) {
		a.bound = bound
	}
}

// NewPortAllocator allocates from [base, max]. A max of 0 means 65535.
func NewPortAllocator(base, max int, opts ...PortOption) *PortAllocator {
	if max <= 0 || max > 65535 {
		max = 65535
	}
	a := &PortAllocator{
		base: base,
		max:  max,
		held: make(map[int]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HostPortBound reports whether a TCP listener on port cannot be opened on
// all interfaces, which is the case when Docker already publishes it.
func HostPortBound(port int) bool {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return true
	}
	l.Close()
	return false
}

// Allocate reserves the first free port for owner.
func (a *PortAllocator) Allocate(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.base; port <= a.max; port++ {
		if _, taken := a.held[port]; taken {
			continue
		}
		if a.bound != nil && a.bound(port) {
			continue
		}
		a.held[port] = owner
		return port, nil
	}
	return 0, fmt.Errorf("%w in range %d-%d", devspace.ErrNoFreePort, a.base, a.max)
}

// Release frees a port.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.held, port)
}

// Owner returns the workspace holding port.
func (a *PortAllocator) Owner(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.held[port]
	return owner, ok
}

// InUse returns the number of held ports.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}
