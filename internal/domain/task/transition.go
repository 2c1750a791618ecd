package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a step status change is not allowed.
var ErrInvalidTransition = errors.New("invalid step status transition")

// ErrRetryLimit is returned when a retry would exceed the step's maxRetries.
var ErrRetryLimit = errors.New("retry limit reached")

var transitions = map[StepStatus][]StepStatus{
	StepPending:  {StepRunning, StepSkipped},
	StepRunning:  {StepCompleted, StepFailed},
	StepFailed:   {StepRetrying, StepSkipped},
	StepRetrying: {StepRunning, StepSkipped},
}

// CanTransition reports whether a step may move from one status to another.
func CanTransition(from, to StepStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the step to a new status, stamping UpdatedAt.
func (s *AgentStep) Transition(to StepStatus, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("step %s: %s -> %s: %w", s.ID, s.Status, to, ErrInvalidTransition)
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

// ConsumeRetry increments RetryCount, refusing to exceed MaxRetries.
func (s *AgentStep) ConsumeRetry() error {
	if s.RetryCount >= s.MaxRetries {
		return fmt.Errorf("step %s: %w", s.ID, ErrRetryLimit)
	}
	s.RetryCount++
	return nil
}

// Skip marks the step skipped with a user-visible reason. A reason is mandatory.
func (s *AgentStep) Skip(reason string, now time.Time) error {
	if reason == "" {
		reason = "skipped without a recorded cause"
	}
	if err := s.Transition(StepSkipped, now); err != nil {
		return err
	}
	s.SkipReason = reason
	return nil
}
