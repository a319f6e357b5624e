package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/everydev1618/devspace/container"
)

// StepRequest identifies the step being run.
type StepRequest struct {
	PipelineID  string
	WorkspaceID string
	Step        string
	Index       int
}

// StepRunner performs the work of one step. Lines passed to logf are
// appended to the step log.
type StepRunner interface {
	RunStep(ctx context.Context, req StepRequest, logf func(string)) error
}

// SimulatedRunner completes every step after a fixed delay.
type SimulatedRunner struct {
	Delay time.Duration
}

func (r SimulatedRunner) RunStep(ctx context.Context, req StepRequest, logf func(string)) error {
	if r.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JobExecutor runs commands in a throwaway container against a workspace.
// *container.Manager implements it.
type JobExecutor interface {
	RunWorkspaceJob(ctx context.Context, workspaceID, jobID, image string, commands []string, env map[string]string, onLog func(string)) (*container.JobResult, error)
}

// JobRunner runs each step's configured commands as a container job. Steps
// without commands succeed immediately.
type JobRunner struct {
	Jobs  JobExecutor
	Image string
	Env   map[string]string
	Steps map[string][]string
}

func (r JobRunner) RunStep(ctx context.Context, req StepRequest, logf func(string)) error {
	commands := r.Steps[req.Step]
	if len(commands) == 0 {
		logf("no commands configured")
		return nil
	}

	jobID := fmt.Sprintf("%s-%d", shortID(req.PipelineID), req.Index+1)
	res, err := r.Jobs.RunWorkspaceJob(ctx, req.WorkspaceID, jobID, r.Image, commands, r.Env, logf)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit code %d", res.ExitCode)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
