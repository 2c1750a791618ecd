// Package task defines the AgentTask and AgentStep domain entities, the step
// lifecycle state machine, dependency validation and plan chunking.
package task

import (
	"time"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/confidence"
)

// Status represents the lifecycle state of an agent task.
type Status string

const (
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal returns true if the task will not change state again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the lifecycle state of an individual step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepRetrying  StepStatus = "retrying"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepSkipped
}

// DefaultMaxRetries is used when a step does not specify its own limit.
const DefaultMaxRetries = 3

// Metadata carries chunking information for derivative tasks.
type Metadata struct {
	IsChunked    bool   `json:"isChunked"`
	ChunkIndex   int    `json:"chunkIndex"`
	TotalChunks  int    `json:"totalChunks"`
	ParentTaskID string `json:"parentTaskId,omitempty"`
}

// AgentTask is a planned unit of user-requested work.
type AgentTask struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	UserRequest string       `json:"userRequest"`
	Steps       []*AgentStep `json:"steps"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Metadata    Metadata     `json:"metadata"`
}

// AgentStep is one executable unit of a task.
type AgentStep struct {
	ID               string                     `json:"id"`
	TaskID           string                     `json:"taskId"`
	Order            int                        `json:"order"`
	Title            string                     `json:"title"`
	Description      string                     `json:"description"`
	Action           action.StepAction          `json:"action"`
	Status           StepStatus                 `json:"status"`
	RequiresApproval bool                       `json:"requiresApproval"`
	RetryCount       int                        `json:"retryCount"`
	MaxRetries       int                        `json:"maxRetries"`
	DependsOn        []string                   `json:"dependsOn,omitempty"`
	Confidence       *confidence.StepConfidence `json:"confidence,omitempty"`
	FallbackPlans    []confidence.FallbackPlan  `json:"fallbackPlans,omitempty"`
	SkipReason       string                     `json:"skipReason,omitempty"`
	Error            string                     `json:"error,omitempty"`
	Output           string                     `json:"output,omitempty"`
	UpdatedAt        time.Time                  `json:"updatedAt"`
}

// ProblemDescription is the text Strategy Memory indexes this step under.
func (s *AgentStep) ProblemDescription() string {
	if s.Description == "" {
		return s.Title
	}
	if s.Title == "" {
		return s.Description
	}
	return s.Title + ": " + s.Description
}

// StepByID returns the step with the given id or nil.
func (t *AgentTask) StepByID(id string) *AgentStep {
	for _, s := range t.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// NeedsApproval reports whether any step requires approval.
func (t *AgentTask) NeedsApproval() bool {
	for _, s := range t.Steps {
		if s.RequiresApproval {
			return true
		}
	}
	return false
}

// Prerequisites returns the set of step ids other steps depend on.
func (t *AgentTask) Prerequisites() map[string]bool {
	deps := make(map[string]bool)
	for _, s := range t.Steps {
		for _, d := range s.DependsOn {
			deps[d] = true
		}
	}
	return deps
}

// CountByStatus returns how many steps are in the given status.
func (t *AgentTask) CountByStatus(st StepStatus) int {
	n := 0
	for _, s := range t.Steps {
		if s.Status == st {
			n++
		}
	}
	return n
}
