package serve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorJobs(t *testing.T) {
	j := NewJanitor()

	assert.Error(t, j.AddJob("bad", "not a schedule", func() {}))
	assert.Equal(t, 0, j.Len())

	ran := make(chan struct{}, 1)
	require.NoError(t, j.AddJob("sweep", "@every 1h", func() {}))
	require.NoError(t, j.AddJob("sweep", "@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))
	assert.Equal(t, 1, j.Len(), "same name replaces the job")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Start(ctx)
	}()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	cancel()
	<-done

	require.NoError(t, j.RemoveJob("sweep"))
	assert.Error(t, j.RemoveJob("sweep"))
}
