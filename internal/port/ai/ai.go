// Package ai defines the port for the language-model text service.
package ai

import "context"

// Purpose tells the completer (and test doubles) what a request is for.
type Purpose string

const (
	PurposePlan          Purpose = "plan"
	PurposeSelfCorrect   Purpose = "self_correct"
	PurposeStrategicHelp Purpose = "strategic_help"
	PurposeStepWork      Purpose = "step_work"
)

// Request is a single completion call.
type Request struct {
	Purpose     Purpose
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer returns raw model text. Callers treat the result as untrusted.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}
