package serve

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Janitor runs periodic maintenance jobs on a cron schedule.
type Janitor struct {
	c *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID // job name → cron entry ID
}

// NewJanitor creates an idle janitor.
func NewJanitor() *Janitor {
	return &Janitor{
		c:       cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins the cron runner and blocks until ctx is cancelled. Running
// jobs are allowed to finish before it returns.
func (j *Janitor) Start(ctx context.Context) {
	j.c.Start()
	slog.Info("janitor started", "jobs", j.Len())
	<-ctx.Done()
	<-j.c.Stop().Done()
	slog.Info("janitor stopped")
}

// AddJob schedules fn. If a job with the same name already exists it is
// replaced.
func (j *Janitor) AddJob(name, spec string, fn func()) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if id, ok := j.entries[name]; ok {
		j.c.Remove(id)
		delete(j.entries, name)
	}

	entryID, err := j.c.AddFunc(spec, func() {
		slog.Debug("janitor: running job", "name", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	j.entries[name] = entryID

	slog.Info("janitor: job added", "name", name, "cron", spec)
	return nil
}

// RemoveJob unschedules a job.
func (j *Janitor) RemoveJob(name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	id, ok := j.entries[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	j.c.Remove(id)
	delete(j.entries, name)
	return nil
}

// Len returns the number of scheduled jobs.
func (j *Janitor) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
