package task

import (
	"errors"
	"fmt"
)

var (
	ErrNoSteps            = errors.New("task has no steps")
	ErrStepOrder          = errors.New("steps must be in ascending order")
	ErrRetryCount         = errors.New("retryCount exceeds maxRetries")
	ErrChunkMetadata      = errors.New("inconsistent chunk metadata")
	ErrDuplicateStepID    = errors.New("duplicate step id")
	ErrDependencyCycle    = errors.New("step dependencies contain a cycle")
	ErrDependencyInvalid  = errors.New("step dependency references unknown step")
	ErrDependencyBackward = errors.New("step depends on a later step")
)

// Validate checks the structural invariants of a task.
func (t *AgentTask) Validate() error {
	if len(t.Steps) == 0 {
		return ErrNoSteps
	}
	seen := make(map[string]bool, len(t.Steps))
	for i, s := range t.Steps {
		if i > 0 && s.Order <= t.Steps[i-1].Order {
			return fmt.Errorf("step %d (order %d): %w", i, s.Order, ErrStepOrder)
		}
		if s.RetryCount > s.MaxRetries {
			return fmt.Errorf("step %s: %w", s.ID, ErrRetryCount)
		}
		if seen[s.ID] {
			return fmt.Errorf("step %s: %w", s.ID, ErrDuplicateStepID)
		}
		seen[s.ID] = true
		if err := s.Action.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	if m := t.Metadata; m.IsChunked {
		if m.TotalChunks <= 0 || m.ChunkIndex < 0 || m.ChunkIndex >= m.TotalChunks {
			return fmt.Errorf("chunk %d of %d: %w", m.ChunkIndex, m.TotalChunks, ErrChunkMetadata)
		}
	}
	return ValidateDependencies(t.Steps)
}

// ValidateDependencies checks that DependsOn references form a DAG using
// Kahn's algorithm. References to steps outside the slice are rejected.
func ValidateDependencies(steps []*AgentStep) error {
	n := len(steps)
	index := make(map[string]int, n)
	for i, s := range steps {
		index[s.ID] = i
	}
	inDegree := make([]int, n)
	adj := make([][]int, n)
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return fmt.Errorf("step %s depends on %q: %w", s.ID, dep, ErrDependencyInvalid)
			}
			if j == i {
				return fmt.Errorf("step %s depends on itself: %w", s.ID, ErrDependencyCycle)
			}
			adj[j] = append(adj[j], i)
			inDegree[i]++
		}
	}

	queue := make([]int, 0, n)
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != n {
		return ErrDependencyCycle
	}
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			if index[dep] > i {
				return fmt.Errorf("step %s depends on %q: %w", s.ID, dep, ErrDependencyBackward)
			}
		}
	}
	return nil
}

// BlockedBy returns the ids of skipped steps that other steps depend on.
func (t *AgentTask) BlockedBy() []string {
	prereq := t.Prerequisites()
	var out []string
	for _, s := range t.Steps {
		if s.Status == StepSkipped && prereq[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}
