package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amotel "github.com/Strob0t/agentmode/internal/adapter/otel"
	"github.com/Strob0t/agentmode/internal/config"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/metacog"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/port/ai"
)

// ErrHelpUnusable is returned when the strategic help response carries no
// usable action.
var ErrHelpUnusable = errors.New("strategic help response carried no usable action")

// defaultHistoryWindow is the number of recent attempts summarized for help.
const defaultHistoryWindow = 10

// HelpRequest is a completed strategic help exchange.
type HelpRequest struct {
	StepID    string            `json:"stepId"`
	Signature metacog.Signature `json:"signature"`
	Directive string            `json:"directive"`
	Action    action.StepAction `json:"action"`
	Remaining int               `json:"remaining"`
}

// Metacog hands out per-task monitoring sessions.
type Metacog struct {
	ai      ai.Completer
	cfg     config.Metacog
	metrics *amotel.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*MetacogSession
}

// NewMetacog creates the metacognitive layer. completer may be nil, in which
// case no help is ever available.
func NewMetacog(completer ai.Completer, cfg config.Metacog) *Metacog {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	return &Metacog{
		ai:       completer,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*MetacogSession),
	}
}

// SetMetrics enables help-request metrics.
func (m *Metacog) SetMetrics(mt *amotel.Metrics) { m.metrics = mt }

// SetClock replaces the clock used for timeout detection. It affects
// sessions begun afterwards.
func (m *Metacog) SetClock(now func() time.Time) { m.now = now }

// Begin returns the session of taskID, creating it on first use. The engine
// ends the session when its run returns, so the help budget covers one run.
func (m *Metacog) Begin(taskID string) *MetacogSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[taskID]; ok {
		return s
	}
	s := &MetacogSession{
		taskID: taskID,
		parent: m,
		monitor: metacog.NewMonitor(metacog.Thresholds{
			RepeatedError: m.cfg.RepeatedErrorThreshold,
			NoProgress:    m.cfg.NoProgressThreshold,
			StepTimeout:   m.cfg.StepTimeout,
		}, m.now),
		budget: metacog.NewBudget(m.cfg.HelpBudget),
	}
	m.sessions[taskID] = s
	return s
}

// End discards the session of taskID.
func (m *Metacog) End(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, taskID)
}

// MetacogSession monitors the attempts of one task.
type MetacogSession struct {
	taskID string
	parent *Metacog

	mu      sync.Mutex
	monitor *metacog.Monitor
	budget  *metacog.Budget
}

// Observe records an execution attempt.
func (s *MetacogSession) Observe(a metacog.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor.Record(a)
}

// StatusChanged records a step status change for timeout detection.
func (s *MetacogSession) StatusChanged(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor.StatusChanged(stepID)
}

// Check returns the stuck signature of stepID, or nil.
func (s *MetacogSession) Check(stepID string) *metacog.Signature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor.Check(stepID)
}

// HelpAvailable reports whether a help request could still be made.
func (s *MetacogSession) HelpAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parent.ai != nil && s.budget.Remaining() > 0
}

// HelpUsed returns the number of help requests made so far.
func (s *MetacogSession) HelpUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget.Used()
}

type helpResponse struct {
	Directive string          `json:"directive"`
	Action    json.RawMessage `json:"action"`
}

// RequestHelp asks the model for a strategic directive for a stuck step.
// It consumes one unit of the task's budget whether or not the answer is
// usable, and returns metacog.ErrHelpBudgetExhausted once none is left.
func (s *MetacogSession) RequestHelp(ctx context.Context, step *task.AgentStep, current action.StepAction, sig metacog.Signature) (*HelpRequest, error) {
	m := s.parent
	if m.ai == nil {
		return nil, metacog.ErrHelpBudgetExhausted
	}

	s.mu.Lock()
	if err := s.budget.TryAcquire(); err != nil {
		s.mu.Unlock()
		slog.Info("help budget exhausted", "task_id", s.taskID, "step_id", step.ID, "signature", sig.Kind)
		return nil, err
	}
	remaining := s.budget.Remaining()
	attempts := s.monitor.Recent(m.cfg.HistoryWindow)
	s.mu.Unlock()

	ctx, span := amotel.StartHelpSpan(ctx, step.ID, string(sig.Kind))
	req, err := s.askForHelp(ctx, step, current, sig, attempts)
	amotel.EndSpan(span, err)
	m.metrics.HelpRequested(ctx, string(sig.Kind))
	if err != nil {
		slog.Warn("strategic help failed",
			"task_id", s.taskID, "step_id", step.ID, "signature", sig.Kind, "error", err)
		return nil, err
	}
	req.Remaining = remaining

	s.mu.Lock()
	s.monitor.ResetStep(step.ID)
	s.mu.Unlock()

	slog.Info("strategic help received",
		"task_id", s.taskID,
		"step_id", step.ID,
		"signature", sig.Kind,
		"action", req.Action.Type,
		"remaining", remaining,
	)
	return req, nil
}

func (s *MetacogSession) askForHelp(ctx context.Context, step *task.AgentStep, current action.StepAction, sig metacog.Signature, attempts []metacog.Attempt) (*HelpRequest, error) {
	prompt, err := strategicHelpPrompt(step, current, sig, attempts)
	if err != nil {
		return nil, err
	}
	text, err := s.parent.ai.Complete(ctx, ai.Request{
		Purpose: ai.PurposeStrategicHelp,
		Prompt:  prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("strategic help: %w", err)
	}

	resp, err := decodeFirst(text, func(r *helpResponse) bool { return hasAction(r.Action) }, "directive", "action")
	if err != nil {
		return nil, fmt.Errorf("strategic help: %w", ErrHelpUnusable)
	}
	a, err := decodeActionObject(resp.Action)
	if err != nil {
		return nil, fmt.Errorf("strategic help: %w: %w", ErrHelpUnusable, err)
	}
	return &HelpRequest{
		StepID:    step.ID,
		Signature: sig,
		Directive: resp.Directive,
		Action:    a,
	}, nil
}

// decodeActionObject decodes {"type": ..., "parameters": {...}} into a
// validated action.
func decodeActionObject(raw json.RawMessage) (action.StepAction, error) {
	if len(raw) == 0 {
		return action.StepAction{}, errors.New("missing action")
	}
	var wa wireAction
	if err := json.Unmarshal(raw, &wa); err != nil {
		return action.StepAction{}, fmt.Errorf("decode action: %w", err)
	}
	return action.Decode(wa.Type, wa.raw())
}
