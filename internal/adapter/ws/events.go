package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskPlanned   = "task.planned"
	EventTaskStatus    = "task.status"
	EventStepStatus    = "step.status"
	EventHelpRequested = "help.requested"
	EventChunkReady    = "chunk.ready"
)

// TaskPlannedEvent is broadcast when the planner produces a task or chunk.
type TaskPlannedEvent struct {
	TaskID       string `json:"task_id"`
	Title        string `json:"title"`
	Steps        int    `json:"steps"`
	ParentTaskID string `json:"parent_task_id,omitempty"`
	ChunkIndex   int    `json:"chunk_index,omitempty"`
	TotalChunks  int    `json:"total_chunks,omitempty"`
}

// TaskStatusEvent is broadcast when a task's status changes.
type TaskStatusEvent struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// StepStatusEvent is broadcast on every step transition.
type StepStatusEvent struct {
	TaskID     string `json:"task_id"`
	StepID     string `json:"step_id"`
	Order      int    `json:"order"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// HelpRequestedEvent is broadcast when the metacognitive layer asks for strategic help.
type HelpRequestedEvent struct {
	TaskID    string `json:"task_id"`
	StepID    string `json:"step_id"`
	Signature string `json:"signature"`
	Remaining int    `json:"remaining"`
}

// ChunkReadyEvent is broadcast when further chunks of a task are pending.
type ChunkReadyEvent struct {
	TaskID    string `json:"task_id"`
	Remaining int    `json:"remaining"`
}

// taskScoped events are delivered only to clients watching that task.
type taskScoped interface {
	TaskScope() string
}

func (e TaskPlannedEvent) TaskScope() string {
	if e.ParentTaskID != "" {
		return e.ParentTaskID
	}
	return e.TaskID
}
func (e TaskStatusEvent) TaskScope() string    { return e.TaskID }
func (e StepStatusEvent) TaskScope() string    { return e.TaskID }
func (e HelpRequestedEvent) TaskScope() string { return e.TaskID }
func (e ChunkReadyEvent) TaskScope() string    { return e.TaskID }

// BroadcastEvent marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	msg := Message{Type: eventType, Payload: json.RawMessage(data)}
	if ts, ok := payload.(taskScoped); ok {
		msg.TaskID = ts.TaskScope()
	}
	h.Broadcast(ctx, msg)
}
