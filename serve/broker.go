package serve

import (
	"log/slog"
	"sync"
)

const (
	maxSubscribers = 50
	feedBuffer     = 64
)

type feed struct {
	workspaceID string // empty: every workspace
	dropped     int
}

// EventBroker hands recorded activity to the live SSE feeds. A feed scoped
// to a workspace only receives that workspace's events. A feed that falls
// behind loses events; Record never waits on a slow client.
type EventBroker struct {
	mu     sync.Mutex
	feeds  map[chan ActivityEvent]*feed
	closed bool
}

func NewEventBroker() *EventBroker {
	return &EventBroker{feeds: make(map[chan ActivityEvent]*feed)}
}

// Subscribe opens a feed for workspaceID, or for all workspaces when it is
// empty. It returns nil once maxSubscribers feeds are open or the broker is
// closed. Release the feed with Unsubscribe.
func (b *EventBroker) Subscribe(workspaceID string) chan ActivityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.feeds) >= maxSubscribers {
		return nil
	}
	ch := make(chan ActivityEvent, feedBuffer)
	b.feeds[ch] = &feed{workspaceID: workspaceID}
	return ch
}

func (b *EventBroker) Unsubscribe(ch chan ActivityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.feeds[ch]
	if !ok {
		return
	}
	delete(b.feeds, ch)
	close(ch)
	if f.dropped > 0 {
		slog.Debug("activity feed closed with dropped events", "workspace", f.workspaceID, "dropped", f.dropped)
	}
}

// Close ends every feed. SSE handlers see their channel close and return.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.feeds {
		close(ch)
		delete(b.feeds, ch)
	}
}

// Publish delivers e to every feed whose scope matches e.WorkspaceID.
func (b *EventBroker) Publish(e ActivityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch, f := range b.feeds {
		if f.workspaceID != "" && f.workspaceID != e.WorkspaceID {
			continue
		}
		select {
		case ch <- e:
		default:
			f.dropped++
		}
	}
}

// Dropped returns how many events the feed on ch has lost so far.
func (b *EventBroker) Dropped(ch chan ActivityEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.feeds[ch]; ok {
		return f.dropped
	}
	return 0
}

// Subscribers returns the number of open feeds.
func (b *EventBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feeds)
}
