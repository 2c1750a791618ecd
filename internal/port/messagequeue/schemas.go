package messagequeue

// TaskPlannedPayload is the schema for agent.task.planned messages.
type TaskPlannedPayload struct {
	TaskID      string   `json:"task_id"`
	Title       string   `json:"title"`
	Steps       int      `json:"steps"`
	HasMore     bool     `json:"has_more"`
	ParentID    string   `json:"parent_id,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	ChunkIndex  int      `json:"chunk_index"`
	TotalChunks int      `json:"total_chunks"`
}

// TaskStatusPayload is the schema for agent.task.status messages.
type TaskStatusPayload struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StepStatusPayload is the schema for agent.step.status messages.
type StepStatusPayload struct {
	TaskID     string `json:"task_id"`
	StepID     string `json:"step_id"`
	Order      int    `json:"order"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Action     string `json:"action"`
	RetryCount int    `json:"retry_count"`
	SkipReason string `json:"skip_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HelpRequestedPayload is the schema for agent.help.requested messages.
type HelpRequestedPayload struct {
	TaskID    string `json:"task_id"`
	StepID    string `json:"step_id"`
	Signature string `json:"signature"`
	Remaining int    `json:"remaining"`
	Directive string `json:"directive,omitempty"`
}

// OutcomePayload is the schema for agent.strategy.outcome messages.
type OutcomePayload struct {
	ProblemDescription string `json:"problem_description"`
	ActionType         string `json:"action_type"`
	Success            bool   `json:"success"`
}
