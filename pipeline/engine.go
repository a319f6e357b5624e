package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/everydev1618/devspace"
	"github.com/everydev1618/devspace/internal/metrics"
)

// Notifier receives a snapshot after every pipeline state change.
type Notifier interface {
	PipelineUpdated(p *Pipeline)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(p *Pipeline)

func (f NotifierFunc) PipelineUpdated(p *Pipeline) { f(p) }

// Engine creates and runs pipelines. All returned pipelines are snapshots.
type Engine struct {
	runner   StepRunner
	notifier Notifier
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	pipelines map[string]*Pipeline
	order     []string
	cancels   map[string]context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier publishes state changes.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithMetrics records run and step outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTimeout bounds a whole run. A run that hits it fails.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// NewEngine creates an engine executing steps with runner.
func NewEngine(runner StepRunner, opts ...Option) *Engine {
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		runner:    runner,
		notifier:  NotifierFunc(func(*Pipeline) {}),
		now:       time.Now,
		ctx:       ctx,
		stop:      stop,
		pipelines: make(map[string]*Pipeline),
		cancels:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create registers a pending pipeline for a workspace.
func (e *Engine) Create(workspaceID string) *Pipeline {
	p := &Pipeline{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Status:      StatusPending,
		Steps:       make([]Step, len(StepNames)),
		StartedAt:   e.now(),
	}
	for i, name := range StepNames {
		p.Steps[i] = Step{Name: name, Status: StatusPending, Logs: []string{}}
	}

	e.mu.Lock()
	e.pipelines[p.ID] = p
	e.order = append(e.order, p.ID)
	snap := p.clone()
	e.mu.Unlock()

	slog.Info("pipeline created", "pipeline", p.ID, "workspace", workspaceID)
	e.notifier.PipelineUpdated(snap)
	return snap
}

// Run executes a pending pipeline to completion on the calling goroutine.
func (e *Engine) Run(ctx context.Context, id string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.begin(id, cancel); err != nil {
		return err
	}
	return e.execute(ctx, id)
}

// Start runs a pending pipeline in the background. Background runs stop when
// the engine shuts down.
func (e *Engine) Start(id string) error {
	ctx, cancel := context.WithCancel(e.ctx)
	if err := e.begin(id, cancel); err != nil {
		cancel()
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		if err := e.execute(ctx, id); err != nil {
			slog.Warn("pipeline did not succeed", "pipeline", id, "error", err)
		}
	}()
	return nil
}

// Cancel stops a running pipeline. A pending pipeline is cancelled without
// running; a finished one is left alone.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	p, ok := e.pipelines[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", devspace.ErrPipelineNotFound, id)
	}

	if cancel, running := e.cancels[id]; running {
		e.mu.Unlock()
		cancel()
		return nil
	}

	if p.Status != StatusPending {
		e.mu.Unlock()
		return nil
	}
	for i := range p.Steps {
		p.Steps[i].Status = StatusSkipped
	}
	p.Status = StatusCancelled
	p.CompletedAt = timePtr(e.now())
	snap := p.clone()
	e.mu.Unlock()

	e.finished(snap)
	return nil
}

// Get returns a pipeline snapshot.
func (e *Engine) Get(id string) (*Pipeline, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pipelines[id]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// List returns pipelines of a workspace in creation order. An empty
// workspace id lists all pipelines.
func (e *Engine) List(workspaceID string) []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Pipeline, 0, len(e.order))
	for _, id := range e.order {
		p := e.pipelines[id]
		if workspaceID == "" || p.WorkspaceID == workspaceID {
			out = append(out, p.clone())
		}
	}
	return out
}

// Shutdown cancels background runs and waits for them to record their
// final state.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin moves a pending pipeline to running.
func (e *Engine) begin(id string, cancel context.CancelFunc) error {
	e.mu.Lock()
	p, ok := e.pipelines[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", devspace.ErrPipelineNotFound, id)
	}
	if p.Status != StatusPending {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", devspace.ErrPipelineStarted, id, p.Status)
	}
	p.Status = StatusRunning
	e.cancels[id] = cancel
	snap := p.clone()
	e.mu.Unlock()

	slog.Info("pipeline started", "pipeline", id, "workspace", p.WorkspaceID)
	e.notifier.PipelineUpdated(snap)
	return nil
}

func (e *Engine) execute(ctx context.Context, id string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	workspaceID := e.workspace(id)
	for i, name := range StepNames {
		if ctx.Err() != nil {
			return e.abort(ctx, id, i, nil)
		}

		e.update(id, func(p *Pipeline) {
			s := &p.Steps[i]
			s.Status = StatusRunning
			s.StartedAt = timePtr(e.now())
			s.Logs = append(s.Logs, e.logLine("Starting %s", name))
		})

		began := e.now()
		err := e.runner.RunStep(ctx, StepRequest{
			PipelineID:  id,
			WorkspaceID: workspaceID,
			Step:        name,
			Index:       i,
		}, func(line string) {
			e.update(id, func(p *Pipeline) {
				p.Steps[i].Logs = append(p.Steps[i].Logs, line)
			})
		})
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			e.metrics.StepFinished(name, string(StatusFailed), e.now().Sub(began))
			return e.abort(ctx, id, i, err)
		}

		e.metrics.StepFinished(name, string(StatusSuccess), e.now().Sub(began))
		e.update(id, func(p *Pipeline) {
			s := &p.Steps[i]
			s.Status = StatusSuccess
			s.CompletedAt = timePtr(e.now())
			s.Logs = append(s.Logs, e.logLine("Completed %s", name))
		})
	}

	snap := e.complete(id, StatusSuccess, "")
	slog.Info("pipeline succeeded", "pipeline", id, "workspace", workspaceID, "duration", snap.CompletedAt.Sub(snap.StartedAt))
	return nil
}

// abort fails step i (when it ran) and skips the rest. A cancelled context
// ends the pipeline as cancelled, anything else as failed.
func (e *Engine) abort(ctx context.Context, id string, i int, stepErr error) error {
	status := StatusFailed
	err := stepErr
	if errors.Is(ctx.Err(), context.Canceled) {
		status = StatusCancelled
		err = ctx.Err()
	} else if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("pipeline timed out: %w", ctx.Err())
	}

	e.update(id, func(p *Pipeline) {
		for j := i; j < len(p.Steps); j++ {
			s := &p.Steps[j]
			if j == i && s.Status == StatusRunning {
				s.Status = StatusFailed
				s.CompletedAt = timePtr(e.now())
				s.Logs = append(s.Logs, e.logLine("%s failed: %v", s.Name, err))
				continue
			}
			s.Status = StatusSkipped
		}
	})

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.complete(id, status, msg)
	slog.Warn("pipeline ended", "pipeline", id, "status", status, "step", StepNames[i], "error", err)
	return err
}

func (e *Engine) complete(id string, status Status, msg string) *Pipeline {
	e.mu.Lock()
	p := e.pipelines[id]
	p.Status = status
	p.Error = msg
	p.CompletedAt = timePtr(e.now())
	delete(e.cancels, id)
	snap := p.clone()
	e.mu.Unlock()

	e.finished(snap)
	return snap
}

func (e *Engine) finished(snap *Pipeline) {
	e.metrics.PipelineFinished(string(snap.Status))
	e.notifier.PipelineUpdated(snap)
}

func (e *Engine) update(id string, fn func(p *Pipeline)) {
	e.mu.Lock()
	p := e.pipelines[id]
	fn(p)
	snap := p.clone()
	e.mu.Unlock()
	e.notifier.PipelineUpdated(snap)
}

func (e *Engine) workspace(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pipelines[id].WorkspaceID
}

func (e *Engine) logLine(format string, args ...any) string {
	return fmt.Sprintf("[%s] ", e.now().UTC().Format(time.RFC3339)) + fmt.Sprintf(format, args...)
}
