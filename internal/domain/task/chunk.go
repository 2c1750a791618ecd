package task

import (
	"strings"

	"github.com/Strob0t/agentmode/internal/domain/action"
)

// nearLimitPercent is the fill level at which a family change closes a chunk.
const nearLimitPercent = 70

// minBoundaryChunk is the smallest chunk a boundary action may close.
const minBoundaryChunk = 2

// IsSynthesis reports whether a step is a synthesis step: a generate_code step
// whose description mentions synthesis. Synthesis steps always get their own chunk.
func IsSynthesis(s *AgentStep) bool {
	if s.Action.Type != action.TypeGenerateCode {
		return false
	}
	text := strings.ToLower(s.Description)
	if p, ok := s.Action.Params.(action.GenerateCode); ok {
		text += " " + strings.ToLower(p.Description)
	}
	return strings.Contains(text, "synthes")
}

// Chunk splits steps into ordered groups of at most limit steps, preferring
// boundaries between cohesive action families. Concatenating the result
// yields the input sequence. A limit below 1 is treated as 1.
func Chunk(steps []*AgentStep, limit int) [][]*AgentStep {
	if limit < 1 {
		limit = 1
	}
	if len(steps) == 0 {
		return nil
	}
	near := (limit*nearLimitPercent + 99) / 100

	var chunks [][]*AgentStep
	var cur []*AgentStep
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, cur)
			cur = nil
		}
	}

	for i, s := range steps {
		if IsSynthesis(s) {
			flush()
			chunks = append(chunks, []*AgentStep{s})
			continue
		}
		cur = append(cur, s)

		if len(cur) >= limit {
			flush()
			continue
		}
		if action.IsBoundary(s.Action.Type) && len(cur) >= minBoundaryChunk {
			flush()
			continue
		}
		if i+1 < len(steps) && len(cur) >= near {
			if action.FamilyOf(steps[i+1].Action.Type) != action.FamilyOf(s.Action.Type) {
				flush()
			}
		}
	}
	flush()
	return chunks
}
