package serve

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/everydev1618/devspace/pipeline"
	"github.com/everydev1618/devspace/realtime"
)

// Broadcaster delivers events to a realtime room.
type Broadcaster interface {
	BroadcastToRoom(room string, ev realtime.Event) error
}

// ActivityLog records workspace activity in the store, publishes it to SSE
// subscribers and broadcasts it to the workspace room. It also forwards
// pipeline state changes to the workspace room.
type ActivityLog struct {
	store  Store
	broker *EventBroker
	rooms  Broadcaster
	now    func() time.Time
}

var _ pipeline.Notifier = (*ActivityLog)(nil)

// NewActivityLog creates an activity log.
func NewActivityLog(store Store, rooms Broadcaster) *ActivityLog {
	return &ActivityLog{
		store:  store,
		broker: NewEventBroker(),
		rooms:  rooms,
		now:    time.Now,
	}
}

// Broker returns the SSE broker.
func (a *ActivityLog) Broker() *EventBroker { return a.broker }

// Record stores and publishes one event. Store failures are logged; the
// event is still published.
func (a *ActivityLog) Record(workspaceID, kind, userID, message string) ActivityEvent {
	e := ActivityEvent{
		WorkspaceID: workspaceID,
		Kind:        kind,
		Message:     message,
		UserID:      userID,
		CreatedAt:   a.now().UTC(),
	}
	id, err := a.store.InsertActivity(e)
	if err != nil {
		slog.Error("failed to record activity", "workspace", workspaceID, "kind", kind, "error", err)
	}
	e.ID = id

	a.broker.Publish(e)
	if err := a.rooms.BroadcastToRoom(workspaceID, e.realtime()); err != nil {
		slog.Debug("activity broadcast skipped", "workspace", workspaceID, "error", err)
	}
	return e
}

// PipelineUpdated broadcasts the pipeline state and records finished runs.
func (a *ActivityLog) PipelineUpdated(p *pipeline.Pipeline) {
	steps := make([]realtime.StepState, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = realtime.StepState{Name: s.Name, Status: string(s.Status)}
	}
	a.rooms.BroadcastToRoom(p.WorkspaceID, realtime.PipelineUpdate{
		WorkspaceID: p.WorkspaceID,
		PipelineID:  p.ID,
		Status:      string(p.Status),
		Steps:       steps,
	})

	if p.Status.IsTerminal() {
		msg := fmt.Sprintf("pipeline %s %s", shortPipelineID(p.ID), p.Status)
		if p.Error != "" {
			msg += ": " + p.Error
		}
		a.Record(p.WorkspaceID, KindPipelinePrefix+string(p.Status), "", msg)
	}
}

// Prune deletes activity older than the retention window.
func (a *ActivityLog) Prune(retention time.Duration) {
	n, err := a.store.PruneActivity(a.now().Add(-retention))
	if err != nil {
		slog.Error("failed to prune activity", "error", err)
		return
	}
	if n > 0 {
		slog.Info("pruned activity", "deleted", n)
	}
}

// Close disconnects SSE subscribers.
func (a *ActivityLog) Close() {
	a.broker.Close()
}

func shortPipelineID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
