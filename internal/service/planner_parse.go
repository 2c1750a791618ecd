package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/task"
)

// planKeys identify a plan object inside model output.
var planKeys = []string{"task", "steps", "title"}

type wirePlan struct {
	Task      *wireTask `json:"task"`
	Reasoning string    `json:"reasoning"`
	wireTask
}

type wireTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Steps       []wireStep `json:"steps"`
}

type wireStep struct {
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Action           wireAction `json:"action"`
	RequiresApproval bool       `json:"requiresApproval"`
	DependsOn        []any      `json:"dependsOn"`

	// Some models inline the action into the step.
	Type       action.Type     `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
}

func (p *wirePlan) body() wireTask {
	if p.Task != nil {
		return *p.Task
	}
	return p.wireTask
}

func (s wireStep) action() wireAction {
	if s.Action.Type == "" && s.Type != "" {
		return wireAction{Type: s.Type, Parameters: s.Parameters}
	}
	return s.Action
}

type wireAction struct {
	Type       action.Type     `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
	Params     json.RawMessage `json:"params"`
}

func (a wireAction) raw() json.RawMessage {
	if len(a.Parameters) > 0 {
		return a.Parameters
	}
	return a.Params
}

// parsedPlan is the validated content of a model plan before ids are assigned.
type parsedPlan struct {
	Title       string
	Description string
	Reasoning   string
	Steps       []parsedStep
}

type parsedStep struct {
	Title            string
	Description      string
	Action           action.StepAction
	RequiresApproval bool
	DependsOn        []int // 1-based positions of earlier steps
}

// parsePlan extracts a plan from model output. The first JSON object that
// carries steps is the plan; text without one returns ErrPlanParse. A plan naming an action type outside the
// enumeration, or parameters that fail its schema, returns an
// *action.InvalidActionError.
func parsePlan(text string) (*parsedPlan, error) {
	w, err := decodeFirst(text, func(p *wirePlan) bool { return len(p.body().Steps) > 0 }, planKeys...)
	if err != nil {
		return nil, fmt.Errorf("plan has no steps: %w", err)
	}
	body := w.body()

	p := &parsedPlan{
		Title:       strings.TrimSpace(body.Title),
		Description: strings.TrimSpace(body.Description),
		Reasoning:   strings.TrimSpace(w.Reasoning),
		Steps:       make([]parsedStep, 0, len(body.Steps)),
	}
	for i, ws := range body.Steps {
		wa := ws.action()
		a, err := action.Decode(wa.Type, wa.raw())
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		p.Steps = append(p.Steps, parsedStep{
			Title:            strings.TrimSpace(ws.Title),
			Description:      strings.TrimSpace(ws.Description),
			Action:           a,
			RequiresApproval: ws.RequiresApproval,
			DependsOn:        positions(ws.DependsOn),
		})
	}
	return p, nil
}

// positions converts loosely typed dependency references (numbers or
// numeric strings such as "2" or "step-2") into 1-based step positions.
func positions(refs []any) []int {
	var out []int
	for _, r := range refs {
		switch v := r.(type) {
		case float64:
			out = append(out, int(v))
		case string:
			digits := strings.TrimLeftFunc(v, func(r rune) bool { return r < '0' || r > '9' })
			if n, err := strconv.Atoi(digits); err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}

// assemble turns a parsed plan into an AgentTask with fresh ids. Dependency
// references that do not point at an earlier step are dropped and reported.
func (p *Planner) assemble(req PlanRequest, plan *parsedPlan) (*task.AgentTask, []string) {
	now := p.now()
	t := &task.AgentTask{
		ID:          p.newID(),
		Title:       firstNonEmpty(plan.Title, titleFromRequest(req.Request)),
		Description: plan.Description,
		UserRequest: req.Request,
		Status:      task.StatusAwaitingApproval,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var warnings []string
	ids := make([]string, len(plan.Steps))
	for i := range plan.Steps {
		ids[i] = p.newID()
	}
	for i, ps := range plan.Steps {
		step := &task.AgentStep{
			ID:               ids[i],
			TaskID:           t.ID,
			Order:            i + 1,
			Title:            firstNonEmpty(ps.Title, ps.Action.Summary()),
			Description:      ps.Description,
			Action:           ps.Action,
			Status:           task.StepPending,
			RequiresApproval: ps.RequiresApproval || ps.Action.RequiresApproval() || req.Options.RequireApprovalForAll,
			MaxRetries:       p.cfg.DefaultMaxRetries,
			UpdatedAt:        now,
		}
		for _, pos := range ps.DependsOn {
			if pos < 1 || pos > i {
				warnings = append(warnings, fmt.Sprintf("Step %d: ignored dependency on step %d", i+1, pos))
				continue
			}
			step.DependsOn = appendUnique(step.DependsOn, ids[pos-1])
		}
		t.Steps = append(t.Steps, step)
	}
	return t, warnings
}

// manualTask carries the raw request forward as a single step the user
// performs or delegates.
func (p *Planner) manualTask(req PlanRequest) *task.AgentTask {
	now := p.now()
	t := &task.AgentTask{
		ID:          p.newID(),
		Title:       titleFromRequest(req.Request),
		Description: "Manual task: the request could not be decomposed automatically.",
		UserRequest: req.Request,
		Status:      task.StatusAwaitingApproval,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.Steps = []*task.AgentStep{{
		ID:               p.newID(),
		TaskID:           t.ID,
		Order:            1,
		Title:            "Complete request manually",
		Description:      req.Request,
		Action:           action.MustNew(action.Custom{Instruction: req.Request}),
		Status:           task.StepPending,
		RequiresApproval: true,
		MaxRetries:       p.cfg.DefaultMaxRetries,
		UpdatedAt:        now,
	}}
	return t
}

const maxTitleLen = 80

func titleFromRequest(req string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(req), "\n")
	if len(line) > maxTitleLen {
		line = strings.TrimSpace(line[:maxTitleLen]) + "..."
	}
	return line
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
