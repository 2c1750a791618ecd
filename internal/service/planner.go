package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	amotel "github.com/Strob0t/agentmode/internal/adapter/otel"
	"github.com/Strob0t/agentmode/internal/config"
	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/confidence"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/port/ai"
	"github.com/Strob0t/agentmode/internal/port/taskstate"
)

// ErrTaskAbandoned is returned when resuming a task that was abandoned.
var ErrTaskAbandoned = errors.New("task was abandoned")

// WorkspaceContext is the workspace snapshot sent along with a request.
type WorkspaceContext struct {
	Root        string   `json:"root"`
	OpenFiles   []string `json:"openFiles,omitempty"`
	CurrentFile string   `json:"currentFile,omitempty"`
	RecentFiles []string `json:"recentFiles,omitempty"`
}

// IsZero reports whether no workspace information was provided.
func (w WorkspaceContext) IsZero() bool {
	return w.Root == "" && w.CurrentFile == "" && len(w.OpenFiles) == 0 && len(w.RecentFiles) == 0
}

// PlanOptions tune a single planning call.
type PlanOptions struct {
	MaxSteps                int  `json:"maxSteps,omitempty"`
	AllowDestructiveActions bool `json:"allowDestructiveActions"`
	RequireApprovalForAll   bool `json:"requireApprovalForAll"`
}

// PlanRequest is the input of PlanTask.
type PlanRequest struct {
	Request   string           `json:"request"`
	Workspace WorkspaceContext `json:"workspace"`
	Options   PlanOptions      `json:"options"`
}

// PlanMetadata describes where the returned task sits in its plan.
type PlanMetadata struct {
	RootTaskID      string    `json:"rootTaskId"`
	TotalSteps      int       `json:"totalSteps"`
	ChunkIndex      int       `json:"chunkIndex"`
	TotalChunks     int       `json:"totalChunks"`
	RemainingChunks int       `json:"remainingChunks"`
	Manual          bool      `json:"manual,omitempty"`
	PlannedAt       time.Time `json:"plannedAt"`
}

// TaskPlanResponse is the result of planning or retrieving a chunk.
type TaskPlanResponse struct {
	Task          *task.AgentTask `json:"task"`
	Reasoning     string          `json:"reasoning"`
	EstimatedTime string          `json:"estimatedTime"`
	Warnings      []string        `json:"warnings"`
	HasMore       bool            `json:"hasMore"`
	Metadata      PlanMetadata    `json:"metadata"`
}

// EnhancedPlanResponse adds aggregated confidence insights.
type EnhancedPlanResponse struct {
	TaskPlanResponse
	Insights confidence.PlanningInsights `json:"insights"`
}

// PatternMatcher finds the most relevant remembered strategy for a step.
type PatternMatcher interface {
	TopMatch(ctx context.Context, problem string, t action.Type) (*strategy.Match, error)
}

// Planner decomposes user requests into executable tasks.
type Planner struct {
	ai       ai.Completer
	memory   PatternMatcher
	chunks   *ChunkStore
	state    taskstate.Store
	notifier *StatusNotifier
	metrics  *amotel.Metrics
	cfg      config.Planner
	now      func() time.Time
	newID    func() string
}

// NewPlanner creates a Planner. memory may be nil, in which case no step
// receives a memory bonus.
func NewPlanner(completer ai.Completer, memory PatternMatcher, cfg config.Planner) *Planner {
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = 5
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 20
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = task.DefaultMaxRetries
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = 70
	}
	return &Planner{
		ai:     completer,
		memory: memory,
		chunks: NewChunkStore(cfg.MaxPendingTasks, cfg.ChunkTTL),
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetStateStore enables persistence of planned tasks and pending chunks.
func (p *Planner) SetStateStore(s taskstate.Store) { p.state = s }

// SetNotifier enables live planning events.
func (p *Planner) SetNotifier(n *StatusNotifier) { p.notifier = n }

// SetMetrics enables planning metrics.
func (p *Planner) SetMetrics(m *amotel.Metrics) { p.metrics = m }

// PlanTask plans req. Malformed model output and an unreachable model both
// yield a single-step manual task. An empty request, a cancelled context
// or an action outside the enumeration return an error.
func (p *Planner) PlanTask(ctx context.Context, req PlanRequest) (*TaskPlanResponse, error) {
	resp, _, err := p.planSpan(ctx, req)
	return resp, err
}

// PlanTaskEnhanced plans req and summarizes step confidence over the whole
// plan, including chunks handed out later.
func (p *Planner) PlanTaskEnhanced(ctx context.Context, req PlanRequest) (*EnhancedPlanResponse, error) {
	resp, insights, err := p.planSpan(ctx, req)
	if err != nil {
		return nil, err
	}
	return &EnhancedPlanResponse{TaskPlanResponse: *resp, Insights: insights}, nil
}

func (p *Planner) planSpan(ctx context.Context, req PlanRequest) (*TaskPlanResponse, confidence.PlanningInsights, error) {
	if strings.TrimSpace(req.Request) == "" {
		return nil, confidence.PlanningInsights{}, fmt.Errorf("plan task: empty request: %w", domain.ErrValidation)
	}
	ctx, span := amotel.StartPlanSpan(ctx, len(req.Request))
	resp, insights, err := p.plan(ctx, req)
	amotel.EndSpan(span, err)
	return resp, insights, err
}

// Insights aggregates the confidence of t's steps.
func Insights(t *task.AgentTask) confidence.PlanningInsights {
	scored := make([]confidence.Scored, len(t.Steps))
	for i, s := range t.Steps {
		scored[i] = confidence.Scored{Confidence: s.Confidence, Fallbacks: len(s.FallbackPlans)}
	}
	return confidence.Summarize(scored)
}

func (p *Planner) plan(ctx context.Context, req PlanRequest) (*TaskPlanResponse, confidence.PlanningInsights, error) {
	maxSteps := req.Options.MaxSteps
	if maxSteps <= 0 {
		maxSteps = p.cfg.MaxSteps
	}

	var (
		t         *task.AgentTask
		reasoning string
		warnings  []string
		manual    bool
	)
	text, err := p.complete(ctx, req, maxSteps)
	if err != nil {
		if ctx.Err() != nil {
			return nil, confidence.PlanningInsights{}, fmt.Errorf("plan task: %w", ctx.Err())
		}
		slog.Warn("planning model unavailable, using manual task", "error", err)
		t, manual = p.manualTask(req), true
		warnings = append(warnings, "Automatic planning was unavailable; the request was kept as a manual step")
	} else {
		parsed, perr := parsePlan(text)
		switch {
		case perr == nil:
			var depWarnings []string
			t, depWarnings = p.assemble(req, parsed)
			reasoning = parsed.Reasoning
			warnings = append(warnings, depWarnings...)
		case errors.Is(perr, ErrPlanParse):
			slog.Warn("plan response not parseable, using manual task", "error", perr)
			t, manual = p.manualTask(req), true
			warnings = append(warnings, "The plan could not be parsed; the request was kept as a manual step")
		default:
			return nil, confidence.PlanningInsights{}, fmt.Errorf("plan task: %w", perr)
		}
	}

	if len(t.Steps) > maxSteps {
		warnings = append(warnings, fmt.Sprintf("Plan truncated from %d to %d steps", len(t.Steps), maxSteps))
		t.Steps = t.Steps[:maxSteps]
	}

	p.score(ctx, t)
	if err := t.Validate(); err != nil {
		return nil, confidence.PlanningInsights{}, fmt.Errorf("plan task: %w", err)
	}
	insights := Insights(t)

	estimate := estimateTime(t.Steps)
	warnings = append(warnings, planWarnings(t, req.Options, estimate)...)

	chunks := p.ChunkTask(t)
	first, rest := chunks[0], chunks[1:]
	resp := &TaskPlanResponse{
		Task:          first,
		Reasoning:     reasoning,
		EstimatedTime: estimate,
		Warnings:      warnings,
		HasMore:       len(rest) > 0,
		Metadata: PlanMetadata{
			RootTaskID:      t.ID,
			TotalSteps:      len(t.Steps),
			ChunkIndex:      first.Metadata.ChunkIndex,
			TotalChunks:     max(first.Metadata.TotalChunks, 1),
			RemainingChunks: len(rest),
			Manual:          manual,
			PlannedAt:       p.now(),
		},
	}
	if len(rest) > 0 {
		p.chunks.Put(t.ID, rest)
		resp.Warnings = append(resp.Warnings, fmt.Sprintf(
			"Large task split into %d chunks; retrieve the next chunk after this one completes", len(chunks)))
	}

	p.save(ctx, &taskstate.Record{TaskID: t.ID, Task: first, PendingChunks: rest})
	p.notifier.TaskPlanned(ctx, resp)
	p.metrics.TaskPlanned(ctx, len(rest) > 0)

	slog.Info("task planned",
		"task_id", t.ID,
		"steps", len(t.Steps),
		"chunks", len(chunks),
		"manual", manual,
		"warnings", len(resp.Warnings),
	)
	return resp, insights, nil
}

func (p *Planner) complete(ctx context.Context, req PlanRequest, maxSteps int) (string, error) {
	if p.ai == nil {
		return "", errors.New("no planning model configured")
	}
	system, user, err := planPrompt(req, maxSteps)
	if err != nil {
		return "", err
	}
	return p.ai.Complete(ctx, ai.Request{
		Purpose:     ai.PurposePlan,
		System:      system,
		Prompt:      user,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
}

// score attaches confidence and fallback plans to every step.
func (p *Planner) score(ctx context.Context, t *task.AgentTask) {
	for _, s := range t.Steps {
		c := p.CalculateStepConfidence(ctx, s)
		s.Confidence = &c
		s.FallbackPlans = p.GenerateFallbackPlans(s)
	}
}

// ChunkTask splits t into chunk tasks when it exceeds the chunk limit.
// A task within the limit is returned unchanged as the only element.
func (p *Planner) ChunkTask(t *task.AgentTask) []*task.AgentTask {
	if len(t.Steps) <= p.cfg.ChunkLimit {
		return []*task.AgentTask{t}
	}
	groups := task.Chunk(t.Steps, p.cfg.ChunkLimit)
	out := make([]*task.AgentTask, len(groups))
	for i, steps := range groups {
		id := p.newID()
		inChunk := make(map[string]bool, len(steps))
		for _, s := range steps {
			inChunk[s.ID] = true
		}
		for _, s := range steps {
			s.TaskID = id
			kept := s.DependsOn[:0]
			for _, d := range s.DependsOn {
				if inChunk[d] {
					kept = append(kept, d)
				}
			}
			s.DependsOn = kept
		}
		out[i] = &task.AgentTask{
			ID:          id,
			Title:       fmt.Sprintf("%s (part %d/%d)", t.Title, i+1, len(groups)),
			Description: t.Description,
			UserRequest: t.UserRequest,
			Steps:       steps,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
			Metadata: task.Metadata{
				IsChunked:    true,
				ChunkIndex:   i,
				TotalChunks:  len(groups),
				ParentTaskID: t.ID,
			},
		}
	}
	return out
}

// GetNextTaskChunk returns the next pending chunk of the task rootID, or
// nil once every chunk has been retrieved.
func (p *Planner) GetNextTaskChunk(ctx context.Context, rootID string) (*TaskPlanResponse, error) {
	next, remaining, ok := p.chunks.Next(rootID)
	if !ok {
		return nil, nil
	}

	rec := p.load(ctx, rootID)
	if rec == nil {
		rec = &taskstate.Record{TaskID: rootID}
	}
	rec.Task = next
	rec.PendingChunks = dropChunk(rec.PendingChunks, next.ID)
	p.save(ctx, rec)

	estimate := estimateTime(next.Steps)
	resp := &TaskPlanResponse{
		Task:          next,
		EstimatedTime: estimate,
		Warnings:      planWarnings(next, PlanOptions{}, estimate),
		HasMore:       remaining > 0,
		Metadata: PlanMetadata{
			RootTaskID:      rootID,
			TotalSteps:      len(next.Steps),
			ChunkIndex:      next.Metadata.ChunkIndex,
			TotalChunks:     next.Metadata.TotalChunks,
			RemainingChunks: remaining,
			PlannedAt:       p.now(),
		},
	}
	p.notifier.TaskPlanned(ctx, resp)
	p.metrics.TaskPlanned(ctx, true)
	slog.Info("chunk retrieved", "task_id", rootID, "chunk_id", next.ID, "remaining", remaining)
	return resp, nil
}

// AbandonTask releases the pending chunks of rootID and marks its
// persisted state as abandoned.
func (p *Planner) AbandonTask(ctx context.Context, rootID string) error {
	dropped := p.chunks.Drop(rootID)
	rec := p.load(ctx, rootID)
	if rec == nil {
		if !dropped {
			return fmt.Errorf("abandon task %s: %w", rootID, domain.ErrNotFound)
		}
		rec = &taskstate.Record{TaskID: rootID}
	}
	rec.Abandoned = true
	rec.PendingChunks = nil
	if rec.Task != nil && !rec.Task.Status.IsTerminal() {
		rec.Task.Status = task.StatusCancelled
		rec.Task.UpdatedAt = p.now()
	}
	p.save(ctx, rec)
	slog.Info("task abandoned", "task_id", rootID)
	return nil
}

// ResumeTask reloads the persisted state of rootID, restoring its pending
// chunks so GetNextTaskChunk can continue after a restart.
func (p *Planner) ResumeTask(ctx context.Context, rootID string) (*TaskPlanResponse, error) {
	if p.state == nil {
		return nil, fmt.Errorf("resume task %s: no state store: %w", rootID, domain.ErrNotFound)
	}
	rec, err := p.state.Load(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("resume task %s: %w", rootID, err)
	}
	if rec.Abandoned {
		return nil, fmt.Errorf("resume task %s: %w", rootID, ErrTaskAbandoned)
	}
	if rec.Task == nil {
		return nil, fmt.Errorf("resume task %s: empty record: %w", rootID, domain.ErrNotFound)
	}
	if len(rec.PendingChunks) > 0 && p.chunks.Pending(rootID) == 0 {
		p.chunks.Put(rootID, rec.PendingChunks)
	}

	estimate := estimateTime(rec.Task.Steps)
	return &TaskPlanResponse{
		Task:          rec.Task,
		EstimatedTime: estimate,
		Warnings:      planWarnings(rec.Task, PlanOptions{}, estimate),
		HasMore:       len(rec.PendingChunks) > 0,
		Metadata: PlanMetadata{
			RootTaskID:      rootID,
			TotalSteps:      len(rec.Task.Steps),
			ChunkIndex:      rec.Task.Metadata.ChunkIndex,
			TotalChunks:     max(rec.Task.Metadata.TotalChunks, 1),
			RemainingChunks: len(rec.PendingChunks),
			PlannedAt:       rec.SavedAt,
		},
	}, nil
}

// Task returns the current task of rootID from the state store.
func (p *Planner) Task(ctx context.Context, rootID string) (*task.AgentTask, error) {
	if p.state == nil {
		return nil, fmt.Errorf("task %s: %w", rootID, domain.ErrNotFound)
	}
	rec, err := p.state.Load(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if rec.Task == nil {
		return nil, fmt.Errorf("task %s: %w", rootID, domain.ErrNotFound)
	}
	return rec.Task, nil
}

func (p *Planner) load(ctx context.Context, rootID string) *taskstate.Record {
	if p.state == nil {
		return nil
	}
	rec, err := p.state.Load(ctx, rootID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("load task state failed", "task_id", rootID, "error", err)
		}
		return nil
	}
	return rec
}

func (p *Planner) save(ctx context.Context, rec *taskstate.Record) {
	if p.state == nil {
		return
	}
	rec.SavedAt = p.now()
	if err := p.state.Save(ctx, rec); err != nil {
		slog.Warn("save task state failed", "task_id", rec.TaskID, "error", err)
	}
}

func dropChunk(chunks []*task.AgentTask, id string) []*task.AgentTask {
	out := chunks[:0:0]
	for _, c := range chunks {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
