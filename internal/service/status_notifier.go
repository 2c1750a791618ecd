package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/agentmode/internal/adapter/ws"
	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/port/broadcast"
	"github.com/Strob0t/agentmode/internal/port/messagequeue"
	"github.com/Strob0t/agentmode/internal/port/taskstate"
)

// RootID returns the id a task's persisted state is stored under: the
// parent id for chunks, the task's own id otherwise.
func RootID(t *task.AgentTask) string {
	if t.Metadata.ParentTaskID != "" {
		return t.Metadata.ParentTaskID
	}
	return t.ID
}

// StatusNotifier fans task and step status out to live clients, the message
// queue and the task-state store. Live events carry the root task id so a
// client watching a chunked task sees every chunk. Every sink is optional and a nil
// *StatusNotifier discards everything.
type StatusNotifier struct {
	hub   broadcast.Broadcaster
	queue messagequeue.Queue
	state taskstate.Store
	now   func() time.Time
	mu    sync.Mutex
}

// NewStatusNotifier creates a notifier. Any argument may be nil.
func NewStatusNotifier(hub broadcast.Broadcaster, queue messagequeue.Queue, state taskstate.Store) *StatusNotifier {
	return &StatusNotifier{hub: hub, queue: queue, state: state, now: time.Now}
}

// TaskPlanned announces a freshly planned task or chunk.
func (n *StatusNotifier) TaskPlanned(ctx context.Context, resp *TaskPlanResponse) {
	if n == nil {
		return
	}
	t := resp.Task
	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, ws.EventTaskPlanned, ws.TaskPlannedEvent{
			TaskID:       t.ID,
			Title:        t.Title,
			Steps:        len(t.Steps),
			ParentTaskID: t.Metadata.ParentTaskID,
			ChunkIndex:   t.Metadata.ChunkIndex,
			TotalChunks:  t.Metadata.TotalChunks,
		})
		if resp.HasMore {
			n.hub.BroadcastEvent(ctx, ws.EventChunkReady, ws.ChunkReadyEvent{
				TaskID:    RootID(t),
				Remaining: resp.Metadata.RemainingChunks,
			})
		}
	}
	n.publish(ctx, messagequeue.SubjectTaskPlanned, messagequeue.TaskPlannedPayload{
		TaskID:      t.ID,
		Title:       t.Title,
		Steps:       len(t.Steps),
		HasMore:     resp.HasMore,
		ParentID:    t.Metadata.ParentTaskID,
		Warnings:    resp.Warnings,
		ChunkIndex:  t.Metadata.ChunkIndex,
		TotalChunks: t.Metadata.TotalChunks,
	})
}

// TaskStatus announces a task status change and persists the task.
func (n *StatusNotifier) TaskStatus(ctx context.Context, t *task.AgentTask, cause error) {
	if n == nil {
		return
	}
	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
			TaskID: RootID(t),
			Status: string(t.Status),
		})
	}
	payload := messagequeue.TaskStatusPayload{TaskID: t.ID, Status: string(t.Status)}
	if cause != nil {
		payload.Error = cause.Error()
	}
	n.publish(ctx, messagequeue.SubjectTaskStatus, payload)
	n.persist(ctx, t)
}

// StepStatus announces a step transition and persists the task.
func (n *StatusNotifier) StepStatus(ctx context.Context, t *task.AgentTask, s *task.AgentStep) {
	if n == nil {
		return
	}
	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, ws.EventStepStatus, ws.StepStatusEvent{
			TaskID:     RootID(t),
			StepID:     s.ID,
			Order:      s.Order,
			Action:     string(s.Action.Type),
			Status:     string(s.Status),
			RetryCount: s.RetryCount,
			Error:      firstNonEmpty(s.SkipReason, s.Error),
		})
	}
	n.publish(ctx, messagequeue.SubjectStepStatus, messagequeue.StepStatusPayload{
		TaskID:     t.ID,
		StepID:     s.ID,
		Order:      s.Order,
		Title:      s.Title,
		Status:     string(s.Status),
		Action:     string(s.Action.Type),
		RetryCount: s.RetryCount,
		SkipReason: s.SkipReason,
		Error:      s.Error,
	})
	n.persist(ctx, t)
}

// HelpRequested announces a strategic help request.
func (n *StatusNotifier) HelpRequested(ctx context.Context, t *task.AgentTask, req HelpRequest) {
	if n == nil {
		return
	}
	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, ws.EventHelpRequested, ws.HelpRequestedEvent{
			TaskID:    RootID(t),
			StepID:    req.StepID,
			Signature: string(req.Signature.Kind),
			Remaining: req.Remaining,
		})
	}
	n.publish(ctx, messagequeue.SubjectHelpRequested, messagequeue.HelpRequestedPayload{
		TaskID:    t.ID,
		StepID:    req.StepID,
		Signature: string(req.Signature.Kind),
		Remaining: req.Remaining,
		Directive: req.Directive,
	})
}

func (n *StatusNotifier) publish(ctx context.Context, subject string, payload any) {
	if n.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal status payload", "subject", subject, "error", err)
		return
	}
	if err := n.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish status failed", "subject", subject, "error", err)
	}
}

// persist stores t as the current task of its root record, keeping any
// pending chunks already recorded.
func (n *StatusNotifier) persist(ctx context.Context, t *task.AgentTask) {
	if n.state == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	root := RootID(t)
	rec, err := n.state.Load(ctx, root)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec = &taskstate.Record{TaskID: root}
	case err != nil:
		slog.Warn("load task state failed", "task_id", root, "error", err)
		return
	}
	rec.Task = t
	rec.SavedAt = n.now()
	if err := n.state.Save(ctx, rec); err != nil {
		slog.Warn("save task state failed", "task_id", root, "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
