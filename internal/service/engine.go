package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	amotel "github.com/Strob0t/agentmode/internal/adapter/otel"
	"github.com/Strob0t/agentmode/internal/config"
	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/metacog"
	"github.com/Strob0t/agentmode/internal/domain/retry"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/logger"
	"github.com/Strob0t/agentmode/internal/port/ai"
	"github.com/Strob0t/agentmode/internal/port/workspace"
)

// StepRunner executes a single action on behalf of a step.
type StepRunner interface {
	Execute(ctx context.Context, t *task.AgentTask, s *task.AgentStep, a action.StepAction) (string, error)
}

// OutcomeRecorder receives step outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o strategy.Outcome) error
}

// ErrTaskRunning is returned by Run while another run of the same task is
// in progress.
var ErrTaskRunning = fmt.Errorf("task is already running: %w", domain.ErrConflict)

// StepError is a failed execution attempt of a step.
type StepError struct {
	StepID  string
	Action  action.Type
	Attempt int
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s attempt %d (%s): %v", e.StepID, e.Attempt, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// SkippedStep records why a step was skipped.
type SkippedStep struct {
	StepID string `json:"stepId"`
	Order  int    `json:"order"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Report summarizes a run.
type Report struct {
	Task         *task.AgentTask     `json:"task"`
	Completed    int                 `json:"completed"`
	Skipped      []SkippedStep       `json:"skipped,omitempty"`
	HelpRequests []HelpRequest       `json:"helpRequests,omitempty"`
	Signatures   []metacog.Signature `json:"signatures,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
	Duration     time.Duration       `json:"duration"`
}

// TaskExhaustionError is returned by Run when a task failed because its
// steps ran out of remedies.
type TaskExhaustionError struct {
	TaskID   string
	Skipped  []SkippedStep
	Warnings []string
}

func (e *TaskExhaustionError) Error() string {
	return fmt.Sprintf("task %s failed: %d step(s) exhausted every remedy", e.TaskID, len(e.Skipped))
}

// Engine executes planned tasks step by step.
type Engine struct {
	runner   StepRunner
	ai       ai.Completer
	memory   OutcomeRecorder
	metacog  *Metacog
	approver workspace.Approver
	notifier *StatusNotifier
	metrics  *amotel.Metrics
	backoff  retry.Config
	now      func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

// NewEngine creates an Engine. completer and memory may be nil: without a
// completer self-correction repeats the failed action, without memory no
// outcomes are recorded.
func NewEngine(runner StepRunner, completer ai.Completer, memory OutcomeRecorder, mc *Metacog, cfg config.Runtime) *Engine {
	if mc == nil {
		mc = NewMetacog(nil, config.Metacog{})
	}
	return &Engine{
		runner:  runner,
		ai:      completer,
		memory:  memory,
		metacog: mc,
		backoff: retry.Config{BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay},
		now:     time.Now,
		running: make(map[string]struct{}),
	}
}

// SetClock replaces the clock used for step timestamps.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetApprover installs a per-step approver. Without one, running a task
// approves all of its steps.
func (e *Engine) SetApprover(a workspace.Approver) { e.approver = a }

// SetNotifier enables live status events and state persistence.
func (e *Engine) SetNotifier(n *StatusNotifier) { e.notifier = n }

// SetMetrics enables execution metrics.
func (e *Engine) SetMetrics(m *amotel.Metrics) { e.metrics = m }

// Run executes t in step order. Steps that exhaust every remedy are skipped
// with a reason. The task fails when a skipped step is a prerequisite of
// another step or when no step completed; Run then returns the report
// together with a *TaskExhaustionError. Chunks of one root task run one at
// a time; a concurrent call returns ErrTaskRunning.
func (e *Engine) Run(ctx context.Context, t *task.AgentTask) (*Report, error) {
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("run task %s: already %s: %w", t.ID, t.Status, domain.ErrValidation)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("run task %s: %w", t.ID, err)
	}
	root := rootID(t)
	if !e.acquire(root) {
		return nil, fmt.Errorf("run task %s: %w", t.ID, ErrTaskRunning)
	}
	defer e.release(root)

	ctx = logger.WithTaskID(ctx, t.ID)
	ctx, span := amotel.StartTaskSpan(ctx, t.ID, len(t.Steps))
	start := e.now()

	session := e.metacog.Begin(t.ID)
	defer e.metacog.End(t.ID)

	t.Status = task.StatusRunning
	t.UpdatedAt = start
	e.notifier.TaskStatus(ctx, t, nil)
	slog.Info("task started", "task_id", t.ID, "steps", len(t.Steps))

	r := &Report{Task: t}
	for _, s := range t.Steps {
		if ctx.Err() != nil {
			e.skip(ctx, session, t, s, r, "task cancelled before this step ran")
			continue
		}
		switch s.Status {
		case task.StepCompleted:
			r.Completed++
			continue
		case task.StepSkipped:
			r.Skipped = append(r.Skipped, skippedOf(s))
			continue
		}
		if s.RequiresApproval && !e.approved(ctx, t, s, s.Action) {
			e.skip(ctx, session, t, s, r, "approval denied by user")
			continue
		}
		e.runStep(ctx, session, t, s, r)
		if s.Status == task.StepCompleted {
			r.Completed++
		}
	}

	err := e.finish(ctx, t, r)
	r.Duration = e.now().Sub(start)
	amotel.EndSpan(span, err)
	return r, err
}

func (e *Engine) finish(ctx context.Context, t *task.AgentTask, r *Report) error {
	for _, sk := range r.Skipped {
		r.Warnings = append(r.Warnings, fmt.Sprintf("Step %d (%s) skipped: %s", sk.Order, sk.Title, sk.Reason))
	}

	var err error
	blocked := t.BlockedBy()
	switch {
	case ctx.Err() != nil:
		t.Status = task.StatusCancelled
		err = fmt.Errorf("run task %s: %w", t.ID, ctx.Err())
	case len(blocked) > 0:
		t.Status = task.StatusFailed
		r.Warnings = append(r.Warnings, "Skipped steps are required by later steps: "+strings.Join(blocked, ", "))
	case r.Completed == 0:
		t.Status = task.StatusFailed
	default:
		t.Status = task.StatusCompleted
	}
	if t.Status == task.StatusFailed {
		err = &TaskExhaustionError{TaskID: t.ID, Skipped: r.Skipped, Warnings: r.Warnings}
	}
	t.UpdatedAt = e.now()

	// Status events must reach their sinks even when ctx was cancelled.
	notifyCtx := context.WithoutCancel(ctx)
	e.notifier.TaskStatus(notifyCtx, t, err)
	e.metrics.TaskFinished(notifyCtx, string(t.Status))

	slog.Info("task finished",
		"task_id", t.ID,
		"status", t.Status,
		"completed", r.Completed,
		"skipped", len(r.Skipped),
		"help_requests", len(r.HelpRequests),
	)
	return err
}

func (e *Engine) acquire(root string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[root]; busy {
		return false
	}
	e.running[root] = struct{}{}
	return true
}

func (e *Engine) release(root string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, root)
}

func rootID(t *task.AgentTask) string {
	if t.Metadata.ParentTaskID != "" {
		return t.Metadata.ParentTaskID
	}
	return t.ID
}

// approved asks the approver whether a may run for s. Without an approver
// every action is approved.
func (e *Engine) approved(ctx context.Context, t *task.AgentTask, s *task.AgentStep, a action.StepAction) bool {
	if e.approver == nil {
		return true
	}
	ok, err := e.approver.Approve(ctx, workspace.ApprovalRequest{
		TaskID:      t.ID,
		StepID:      s.ID,
		Title:       s.Title,
		Description: s.Description,
		Action:      a.Summary(),
	})
	if err != nil {
		slog.Warn("approval failed", "task_id", t.ID, "step_id", s.ID, "error", err)
		return false
	}
	return ok
}

// runStep drives one step through the escalation ladder until it completes
// or is skipped.
func (e *Engine) runStep(ctx context.Context, session *MetacogSession, t *task.AgentTask, s *task.AgentStep, r *Report) {
	var (
		current      = s.Action
		nextFallback int
		inFallback   bool
		attempt      int
		bo           = retry.NewBackOff(e.backoff)
		cleared      = map[string]bool{actionKey(s.Action): true}
	)
	if s.Status == task.StepRunning {
		// Interrupted by a restart; count it as a failed attempt.
		e.setStatus(ctx, session, t, s, task.StepFailed)
	}

	for {
		// A substituted action needs its own approval when it is risky or
		// the step was gated.
		if key := actionKey(current); !cleared[key] {
			if (s.RequiresApproval || current.RequiresApproval()) && !e.approved(ctx, t, s, current) {
				e.skip(ctx, session, t, s, r, "approval denied for substituted action "+current.Summary())
				e.record(ctx, s, s.Action.Type, false, s.Error)
				return
			}
			cleared[key] = true
		}

		attempt++
		e.enterRunning(ctx, session, t, s)

		out, err := e.attempt(ctx, session, t, s, current, attempt)
		if err == nil {
			s.Output = out
			s.Error = ""
			e.setStatus(ctx, session, t, s, task.StepCompleted)
			e.record(ctx, s, current.Type, true, "")
			if current.Type != s.Action.Type {
				e.record(ctx, s, s.Action.Type, false, "superseded by "+string(current.Type))
			}
			return
		}

		// Timeout is measured from entering running, so check before the
		// failed transition resets the clock.
		sig := session.Check(s.ID)
		s.Error = err.Error()
		e.setStatus(ctx, session, t, s, task.StepFailed)
		if rerr := s.ConsumeRetry(); rerr != nil && !errors.Is(rerr, task.ErrRetryLimit) {
			slog.Warn("consume retry", "step_id", s.ID, "error", rerr)
		}
		if ctx.Err() != nil {
			e.skip(ctx, session, t, s, r, "task cancelled: "+s.Error)
			return
		}

		state := retry.State{
			RetryCount:    s.RetryCount,
			MaxRetries:    s.MaxRetries,
			Stuck:         sig != nil,
			HelpAvailable: session.HelpAvailable(),
			Fallbacks:     len(s.FallbackPlans),
			NextFallback:  nextFallback,
			InFallback:    inFallback,
		}
		if sig != nil {
			r.Signatures = append(r.Signatures, *sig)
			slog.Info("stuck signature detected",
				"task_id", t.ID, "step_id", s.ID, "signature", sig.Kind, "attempts", sig.Attempts)
		}

		d := retry.Decide(state)
		if d.Rung == retry.RungHelp {
			help, herr := session.RequestHelp(ctx, s, current, *sig)
			if herr == nil {
				r.HelpRequests = append(r.HelpRequests, *help)
				e.notifier.HelpRequested(ctx, t, *help)
				e.metrics.Escalated(ctx, string(retry.RungHelp))
				current = help.Action
				if !e.wait(ctx, bo) {
					e.skip(ctx, session, t, s, r, "task cancelled: "+s.Error)
					return
				}
				continue
			}
			state.HelpAvailable = false
			d = retry.Decide(state)
		}
		e.metrics.Escalated(ctx, string(d.Rung))

		switch d.Rung {
		case retry.RungSelfCorrect:
			current = e.selfCorrect(ctx, s, current, err)
		case retry.RungFallback:
			fb := s.FallbackPlans[d.FallbackIndex]
			slog.Info("trying fallback",
				"task_id", t.ID, "step_id", s.ID, "fallback", fb.ID, "action", fb.AlternativeAction.Type)
			current = fb.AlternativeAction
			nextFallback = d.FallbackIndex + 1
			inFallback = true
		default:
			reason := fmt.Sprintf("all remedies exhausted after %d attempt(s): %s", attempt, errorText(errors.Unwrap(err)))
			e.skip(ctx, session, t, s, r, reason)
			e.record(ctx, s, s.Action.Type, false, s.Error)
			return
		}
		if !e.wait(ctx, bo) {
			e.skip(ctx, session, t, s, r, "task cancelled: "+s.Error)
			return
		}
	}
}

func (e *Engine) enterRunning(ctx context.Context, session *MetacogSession, t *task.AgentTask, s *task.AgentStep) {
	if s.Status == task.StepFailed {
		e.setStatus(ctx, session, t, s, task.StepRetrying)
	}
	e.setStatus(ctx, session, t, s, task.StepRunning)
}

func (e *Engine) attempt(ctx context.Context, session *MetacogSession, t *task.AgentTask, s *task.AgentStep, a action.StepAction, n int) (string, error) {
	ctx, span := amotel.StartStepSpan(ctx, s.ID, string(a.Type), n)
	start := e.now()

	out, err := e.runner.Execute(ctx, t, s, a)

	end := e.now()
	session.Observe(metacog.Attempt{
		StepID:  s.ID,
		Action:  string(a.Type),
		Success: err == nil,
		Error:   errorText(err),
		At:      end,
	})
	status := task.StepCompleted
	if err != nil {
		status = task.StepFailed
		err = &StepError{StepID: s.ID, Action: a.Type, Attempt: n, Err: err}
		slog.Warn("step attempt failed",
			"task_id", t.ID, "step_id", s.ID, "action", a.Type, "attempt", n, "error", err)
	}
	e.metrics.StepFinished(ctx, string(a.Type), string(status), end.Sub(start))
	amotel.EndSpan(span, err)
	return out, err
}

type selfCorrectResponse struct {
	Action    json.RawMessage `json:"action"`
	Reasoning string          `json:"reasoning"`
}

// selfCorrect asks the model for a differently shaped action. Any failure
// keeps the current action.
func (e *Engine) selfCorrect(ctx context.Context, s *task.AgentStep, current action.StepAction, cause error) action.StepAction {
	if e.ai == nil {
		return current
	}
	prompt, err := selfCorrectPrompt(s, current, cause)
	if err != nil {
		slog.Error("render self-correction prompt", "error", err)
		return current
	}
	text, err := e.ai.Complete(ctx, ai.Request{Purpose: ai.PurposeSelfCorrect, Prompt: prompt})
	if err != nil {
		slog.Warn("self-correction unavailable", "step_id", s.ID, "error", err)
		return current
	}
	resp, err := decodeFirst(text, func(r *selfCorrectResponse) bool { return hasAction(r.Action) }, "action")
	if err != nil {
		slog.Warn("self-correction response not parseable", "step_id", s.ID)
		return current
	}
	a, err := decodeActionObject(resp.Action)
	if err != nil {
		slog.Warn("self-correction proposed an invalid action", "step_id", s.ID, "error", err)
		return current
	}
	slog.Info("self-correction applied", "step_id", s.ID, "from", current.Type, "to", a.Type)
	return a
}

func (e *Engine) skip(ctx context.Context, session *MetacogSession, t *task.AgentTask, s *task.AgentStep, r *Report, reason string) {
	if s.Status == task.StepRunning {
		e.setStatus(ctx, session, t, s, task.StepFailed)
	}
	if err := s.Skip(reason, e.now()); err != nil {
		slog.Error("skip step", "step_id", s.ID, "error", err)
		return
	}
	session.StatusChanged(s.ID)
	e.notifier.StepStatus(context.WithoutCancel(ctx), t, s)
	r.Skipped = append(r.Skipped, skippedOf(s))
	slog.Warn("step skipped", "task_id", t.ID, "step_id", s.ID, "reason", reason)
}

func (e *Engine) setStatus(ctx context.Context, session *MetacogSession, t *task.AgentTask, s *task.AgentStep, to task.StepStatus) {
	if err := s.Transition(to, e.now()); err != nil {
		slog.Error("step transition", "task_id", t.ID, "error", err)
		return
	}
	t.UpdatedAt = s.UpdatedAt
	session.StatusChanged(s.ID)
	e.notifier.StepStatus(ctx, t, s)
}

func (e *Engine) record(ctx context.Context, s *task.AgentStep, t action.Type, success bool, errText string) {
	if e.memory == nil {
		return
	}
	err := e.memory.RecordOutcome(context.WithoutCancel(ctx), strategy.Outcome{
		ProblemDescription: s.ProblemDescription(),
		ActionType:         t,
		Success:            success,
		Error:              errText,
		At:                 e.now(),
	})
	if err != nil {
		slog.Warn("record outcome failed", "step_id", s.ID, "action", t, "error", err)
	}
}

// wait sleeps for the next backoff interval. It returns false when ctx is
// cancelled first.
func (e *Engine) wait(ctx context.Context, bo backoff.BackOff) bool {
	d := bo.NextBackOff()
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// actionKey identifies an action by its type and parameters.
func actionKey(a action.StepAction) string {
	b, err := json.Marshal(a)
	if err != nil {
		return a.Summary()
	}
	return string(b)
}

func skippedOf(s *task.AgentStep) SkippedStep {
	return SkippedStep{StepID: s.ID, Order: s.Order, Title: s.Title, Reason: s.SkipReason}
}
