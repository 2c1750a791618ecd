package confidence

import "math"

const (
	// MaxEstimatedSuccessRate caps the estimate; no plan is ever certain.
	MaxEstimatedSuccessRate = 95
	memoryBonus             = 15
)

// PlanningInsights aggregates confidence data across a task's steps.
type PlanningInsights struct {
	OverallConfidence    int `json:"overallConfidence"`
	HighRiskSteps        int `json:"highRiskSteps"`
	MemoryBackedSteps    int `json:"memoryBackedSteps"`
	FallbacksGenerated   int `json:"fallbacksGenerated"`
	EstimatedSuccessRate int `json:"estimatedSuccessRate"`
}

// Scored is the view of a step Summarize needs.
type Scored struct {
	Confidence *StepConfidence
	Fallbacks  int
}

// Summarize computes insights. Steps without a confidence are scored as 0.
func Summarize(steps []Scored) PlanningInsights {
	var in PlanningInsights
	if len(steps) == 0 {
		return in
	}
	total := 0
	for _, s := range steps {
		in.FallbacksGenerated += s.Fallbacks
		if s.Confidence == nil {
			in.HighRiskSteps++
			continue
		}
		total += s.Confidence.Score
		if s.Confidence.RiskLevel == RiskHigh {
			in.HighRiskSteps++
		}
		if s.Confidence.MemoryBacked {
			in.MemoryBackedSteps++
		}
	}
	avg := float64(total) / float64(len(steps))
	ratio := float64(in.MemoryBackedSteps) / float64(len(steps))
	in.OverallConfidence = int(math.Round(avg))
	in.EstimatedSuccessRate = min(MaxEstimatedSuccessRate, int(math.Round(avg+memoryBonus*ratio)))
	return in
}
