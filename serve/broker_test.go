package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublish(t *testing.T) {
	b := NewEventBroker()
	ch := b.Subscribe("")
	require.NotNil(t, ch)

	b.Publish(ActivityEvent{ID: 1, WorkspaceID: "ws-1", Kind: KindFileSaved})
	ev := <-ch
	assert.Equal(t, int64(1), ev.ID)

	// A full feed drops events instead of blocking.
	for i := 0; i < feedBuffer+10; i++ {
		b.Publish(ActivityEvent{ID: int64(i)})
	}
	assert.Len(t, ch, feedBuffer)
	assert.Equal(t, 10, b.Dropped(ch))

	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.Subscribers())
	assert.Equal(t, 0, b.Dropped(ch))
}

func TestBrokerWorkspaceScope(t *testing.T) {
	b := NewEventBroker()
	all := b.Subscribe("")
	one := b.Subscribe("ws-1")

	b.Publish(ActivityEvent{ID: 1, WorkspaceID: "ws-1"})
	b.Publish(ActivityEvent{ID: 2, WorkspaceID: "ws-2"})

	assert.Len(t, all, 2)
	require.Len(t, one, 1)
	assert.Equal(t, int64(1), (<-one).ID)
	assert.Equal(t, 0, b.Dropped(one), "filtered events are not drops")
}

func TestBrokerLimitsAndClose(t *testing.T) {
	b := NewEventBroker()
	feeds := make([]chan ActivityEvent, 0, maxSubscribers)
	for i := 0; i < maxSubscribers; i++ {
		ch := b.Subscribe("")
		require.NotNil(t, ch)
		feeds = append(feeds, ch)
	}
	assert.Nil(t, b.Subscribe("ws-1"))

	b.Close()
	for _, ch := range feeds {
		_, ok := <-ch
		assert.False(t, ok)
	}
	assert.Nil(t, b.Subscribe(""), "closed broker accepts no feeds")

	// Unsubscribing after close is a no-op.
	b.Unsubscribe(feeds[0])
}
