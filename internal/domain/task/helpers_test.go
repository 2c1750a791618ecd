package task_test

import (
	"fmt"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/task"
)

func step(order int, a action.StepAction) *task.AgentStep {
	return &task.AgentStep{
		ID:         fmt.Sprintf("s%d", order),
		Order:      order,
		Title:      fmt.Sprintf("step %d", order),
		Action:     a,
		Status:     task.StepPending,
		MaxRetries: task.DefaultMaxRetries,
	}
}

func read(p string) action.StepAction { return action.MustNew(action.ReadFile{Path: p}) }
func write(p string) action.StepAction {
	return action.MustNew(action.WriteFile{Path: p, Content: "x"})
}
func gen(d string) action.StepAction { return action.MustNew(action.GenerateCode{Description: d}) }
func tests() action.StepAction       { return action.MustNew(action.RunTests{}) }

func stepsOf(actions ...action.StepAction) []*task.AgentStep {
	out := make([]*task.AgentStep, len(actions))
	for i, a := range actions {
		out[i] = step(i+1, a)
	}
	return out
}
