package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strings"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/confidence"
	"github.com/Strob0t/agentmode/internal/domain/task"
)

const (
	baseConfidence      = 50
	memoryWeight        = 40
	commonFileBonus     = 20
	uncommonPathPenalty = -10
	uncertaintyPenalty  = -15

	searchFallbackConfidence = 75
	configFallbackConfidence = 60
	assistFallbackConfidence = 90

	largePlanSteps = 8
)

// commonFileMarkers match well-known project files by base-name prefix.
var commonFileMarkers = []string{
	"package.json", "tsconfig", "readme", "index.", "main.", "app.", "go.mod",
	"cargo.toml", "pyproject.toml", "makefile", "dockerfile",
}

func isCommonFile(p string) bool {
	base := strings.ToLower(path.Base(strings.ReplaceAll(p, `\`, "/")))
	for _, m := range commonFileMarkers {
		if strings.HasPrefix(base, m) {
			return true
		}
	}
	return false
}

func isConfigFile(p string) bool {
	base := strings.ToLower(path.Base(strings.ReplaceAll(p, `\`, "/")))
	if strings.Contains(base, "config") || strings.HasPrefix(base, ".env") || strings.HasSuffix(base, "rc") {
		return true
	}
	switch path.Ext(base) {
	case ".json", ".yaml", ".yml", ".toml", ".ini", ".conf":
		return true
	}
	return false
}

// CalculateStepConfidence scores a step from Strategy Memory and path heuristics.
func (p *Planner) CalculateStepConfidence(ctx context.Context, s *task.AgentStep) confidence.StepConfidence {
	b := confidence.NewBuilder(baseConfidence)

	if p.memory != nil {
		match, err := p.memory.TopMatch(ctx, s.ProblemDescription(), s.Action.Type)
		switch {
		case err != nil:
			slog.Warn("strategy memory lookup failed", "step_id", s.ID, "error", err)
		case match != nil && match.Relevance > p.cfg.RelevanceThreshold:
			bonus := int(math.Round(match.Pattern.SuccessRate * memoryWeight))
			b.Add("strategy_memory", bonus, fmt.Sprintf(
				"similar %s succeeded %.0f%% of %d attempts",
				match.Pattern.ActionType, match.Pattern.SuccessRate*100, match.Pattern.Attempts())).
				MarkMemoryBacked()
		}
	}

	switch s.Action.Type {
	case action.TypeReadFile, action.TypeWriteFile:
		if target := s.Action.Target(); isCommonFile(target) {
			b.Add("common_file", commonFileBonus, target+" is a well-known project file")
		} else {
			b.Add("uncommon_path", uncommonPathPenalty, target+" may not exist where expected")
		}
	}

	if action.IsUncertain(s.Action.Type) {
		b.Add("uncertain_action", uncertaintyPenalty, string(s.Action.Type)+" output is hard to predict")
	}
	return b.Build()
}

// GenerateFallbackPlans proposes ordered alternatives for medium and high
// risk steps. Low-risk steps get none.
func (p *Planner) GenerateFallbackPlans(s *task.AgentStep) []confidence.FallbackPlan {
	if s.Confidence == nil || s.Confidence.RiskLevel == confidence.RiskLow {
		return nil
	}
	var plans []confidence.FallbackPlan
	add := func(trigger confidence.Trigger, params action.Params, conf int, reasoning string) {
		plans = append(plans, confidence.FallbackPlan{
			ID:                p.newID(),
			StepID:            s.ID,
			Trigger:           trigger,
			AlternativeAction: action.MustNew(params),
			Confidence:        conf,
			Reasoning:         reasoning,
		})
	}

	if rf, ok := s.Action.Params.(action.ReadFile); ok {
		base := s.Action.BaseName()
		add(confidence.TriggerNotFound, action.SearchCodebase{Query: base}, searchFallbackConfidence,
			"search the workspace for "+base+" in case it lives elsewhere")
		if isConfigFile(rf.Path) {
			add(confidence.TriggerNotFound, action.WriteFile{Path: rf.Path, Content: defaultConfigContent(rf.Path)},
				configFallbackConfidence, "create an empty default "+base)
		}
	}

	if s.Confidence.RiskLevel == confidence.RiskHigh {
		add(confidence.TriggerUserAssistance, action.Custom{
			Instruction: "Request user assistance: " + firstNonEmpty(s.Title, s.Action.Summary()),
		}, assistFallbackConfidence, "ask the user when automated remedies are exhausted")
	}
	return plans
}

func defaultConfigContent(p string) string {
	if strings.EqualFold(path.Ext(p), ".json") {
		return "{}\n"
	}
	return ""
}

// actionSeconds is a rough duration estimate per action type.
var actionSeconds = map[action.Type]int{
	action.TypeReadFile:        5,
	action.TypeWriteFile:       10,
	action.TypeEditFile:        10,
	action.TypeDeleteFile:      5,
	action.TypeCreateDirectory: 5,
	action.TypeRunCommand:      30,
	action.TypeSearchCodebase:  15,
	action.TypeAnalyzeCode:     30,
	action.TypeRefactorCode:    60,
	action.TypeGenerateCode:    60,
	action.TypeRunTests:        60,
	action.TypeGitCommit:       10,
	action.TypeReviewProject:   120,
	action.TypeCustom:          60,
}

// estimateTime renders the summed per-action estimate.
func estimateTime(steps []*task.AgentStep) string {
	secs := 0
	for _, s := range steps {
		secs += actionSeconds[s.Action.Type]
	}
	if secs < 60 {
		return "< 1 minute"
	}
	return fmt.Sprintf("~%d minutes", (secs+59)/60)
}

// planWarnings lists what the user should know before approving a plan.
func planWarnings(t *task.AgentTask, opts PlanOptions, estimate string) []string {
	var (
		warnings    []string
		deletes     int
		commits     int
		shell       int
		destructive []string
	)
	for _, s := range t.Steps {
		switch s.Action.Type {
		case action.TypeDeleteFile:
			deletes++
		case action.TypeGitCommit:
			commits++
		case action.TypeRunCommand:
			shell++
		}
		if action.IsDestructive(s.Action.Type) {
			destructive = append(destructive, fmt.Sprintf("step %d (%s)", s.Order, s.Action.Summary()))
		}
	}
	if deletes > 0 {
		warnings = append(warnings, fmt.Sprintf("This plan deletes files (%d step(s))", deletes))
	}
	if commits > 0 {
		warnings = append(warnings, "This plan creates git commits")
	}
	if shell > 0 {
		warnings = append(warnings, fmt.Sprintf("This plan runs shell commands (%d step(s))", shell))
	}
	if len(t.Steps) > largePlanSteps {
		warnings = append(warnings, fmt.Sprintf("Large plan with %d steps, estimated %s", len(t.Steps), estimate))
	}
	if !opts.AllowDestructiveActions && len(destructive) > 0 {
		warnings = append(warnings, "Destructive actions require approval: "+strings.Join(destructive, ", "))
	}
	return warnings
}
