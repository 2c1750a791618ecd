// Package confidence defines per-step confidence scores, risk levels, fallback
// plans and the planning insights aggregated from them.
package confidence

import "github.com/Strob0t/agentmode/internal/domain/action"

// RiskLevel is derived from a confidence score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

const (
	MinScore = 0
	MaxScore = 100

	lowRiskThreshold    = 70
	mediumRiskThreshold = 40
)

// RiskFor maps a score to its risk level: >=70 low, 40-69 medium, <40 high.
func RiskFor(score int) RiskLevel {
	switch {
	case score >= lowRiskThreshold:
		return RiskLow
	case score >= mediumRiskThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int) int {
	return max(MinScore, min(MaxScore, score))
}

// Factor records one signed contribution to a confidence score.
type Factor struct {
	Name        string `json:"name"`
	Impact      int    `json:"impact"`
	Description string `json:"description"`
}

// StepConfidence is the audited confidence estimate for a step.
type StepConfidence struct {
	Score        int       `json:"score"`
	Factors      []Factor  `json:"factors"`
	MemoryBacked bool      `json:"memoryBacked"`
	RiskLevel    RiskLevel `json:"riskLevel"`
}

// Builder accumulates factors starting from a baseline.
type Builder struct {
	base    int
	factors []Factor
	memory  bool
}

// NewBuilder starts a score at base.
func NewBuilder(base int) *Builder {
	return &Builder{base: base}
}

// Add appends a factor. Zero-impact factors are kept for the audit trail.
func (b *Builder) Add(name string, impact int, description string) *Builder {
	b.factors = append(b.factors, Factor{Name: name, Impact: impact, Description: description})
	return b
}

// MarkMemoryBacked flags the score as informed by Strategy Memory.
func (b *Builder) MarkMemoryBacked() *Builder {
	b.memory = true
	return b
}

// Build sums the factors, clamps, and derives the risk level.
func (b *Builder) Build() StepConfidence {
	score := b.base
	for _, f := range b.factors {
		score += f.Impact
	}
	score = Clamp(score)
	return StepConfidence{
		Score:        score,
		Factors:      b.factors,
		MemoryBacked: b.memory,
		RiskLevel:    RiskFor(score),
	}
}

// Trigger names the condition under which a fallback becomes eligible.
type Trigger string

const (
	TriggerRetriesExhausted Trigger = "retries_exhausted"
	TriggerNotFound         Trigger = "not_found"
	TriggerUserAssistance   Trigger = "user_assistance"
)

// FallbackPlan is an ordered alternative to the step's primary action.
type FallbackPlan struct {
	ID                string            `json:"id"`
	StepID            string            `json:"stepId"`
	Trigger           Trigger           `json:"trigger"`
	AlternativeAction action.StepAction `json:"alternativeAction"`
	Confidence        int               `json:"confidence"`
	Reasoning         string            `json:"reasoning"`
}
