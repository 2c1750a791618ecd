// Package taskstate defines the port for persisting task and chunk state so
// work can resume after a restart.
package taskstate

import (
	"context"
	"time"

	"github.com/Strob0t/agentmode/internal/domain/task"
)

// Record is the persisted state of a task and its unretrieved chunks.
type Record struct {
	TaskID        string            `json:"taskId"`
	Task          *task.AgentTask   `json:"task"`
	PendingChunks []*task.AgentTask `json:"pendingChunks,omitempty"`
	Abandoned     bool              `json:"abandoned,omitempty"`
	SavedAt       time.Time         `json:"savedAt"`
}

// Store saves and loads records keyed by task id.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, taskID string) (*Record, error)
	Delete(ctx context.Context, taskID string) error
	List(ctx context.Context) ([]string, error)
}
