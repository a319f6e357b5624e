// Package pipeline runs staged build and verification pipelines for
// workspaces. Pipelines live in memory only.
package pipeline

import (
	"time"
)

// Status is the state of a pipeline or one of its steps.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// StepNames are the stages every pipeline runs, in order.
var StepNames = []string{
	"Environment Setup",
	"Dependency Audit",
	"Compilation",
	"Unit Tests",
	"Neural Integrity Check",
	"Deployment",
}

// Step is one stage of a pipeline.
type Step struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Logs        []string   `json:"logs"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Pipeline is a run of all steps against one workspace.
type Pipeline struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Status      Status     `json:"status"`
	Steps       []Step     `json:"steps"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Step returns the step with the given name.
func (p *Pipeline) Step(name string) (Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

func (p *Pipeline) clone() *Pipeline {
	cp := *p
	cp.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.Logs = append([]string(nil), s.Logs...)
		cp.Steps[i] = s
	}
	return &cp
}

func timePtr(t time.Time) *time.Time {
	return &t
}
