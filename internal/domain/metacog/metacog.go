// Package metacog detects when execution of a task is stuck and bounds how
// often strategic help may be requested.
package metacog

import (
	"errors"
	"hash/fnv"
	"strings"
	"time"
)

// SignatureKind names a stuck pattern.
type SignatureKind string

const (
	KindRepeatedError SignatureKind = "repeated_error"
	KindTimeout       SignatureKind = "timeout"
	KindNoProgress    SignatureKind = "no_progress"
)

// Defaults for the monitor thresholds.
const (
	DefaultRepeatedErrorThreshold = 3
	DefaultNoProgressThreshold    = 3
	DefaultStepTimeout            = 30 * time.Second
	DefaultHelpBudget             = 3
)

// ErrHelpBudgetExhausted is returned once a task has used all help requests.
var ErrHelpBudgetExhausted = errors.New("no further help available: help budget exhausted")

// Signature is a detected stuck condition.
type Signature struct {
	Kind       SignatureKind `json:"kind"`
	StepID     string        `json:"stepId"`
	Detail     string        `json:"detail"`
	Attempts   int           `json:"attempts"`
	DetectedAt time.Time     `json:"detectedAt"`
}

// Attempt is one execution attempt of a step.
type Attempt struct {
	StepID  string    `json:"stepId"`
	Action  string    `json:"action"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
	errHash uint64
}

// Thresholds configures a Monitor.
type Thresholds struct {
	RepeatedError int
	NoProgress    int
	StepTimeout   time.Duration
}

func (t Thresholds) withDefaults() Thresholds {
	if t.RepeatedError <= 0 {
		t.RepeatedError = DefaultRepeatedErrorThreshold
	}
	if t.NoProgress <= 0 {
		t.NoProgress = DefaultNoProgressThreshold
	}
	if t.StepTimeout <= 0 {
		t.StepTimeout = DefaultStepTimeout
	}
	return t
}

// Monitor keeps the attempt history of one task. It is not safe for
// concurrent use; a task executes one step at a time.
type Monitor struct {
	th                  Thresholds
	now                 func() time.Time
	history             []Attempt
	consecutiveFailures int
	lastChange          map[string]time.Time
	cleared             map[string]int
}

// NewMonitor creates a monitor. A nil clock uses time.Now.
func NewMonitor(th Thresholds, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		th:         th.withDefaults(),
		now:        now,
		lastChange: make(map[string]time.Time),
		cleared:    make(map[string]int),
	}
}

// StatusChanged records that a step's status changed at the current time.
func (m *Monitor) StatusChanged(stepID string) {
	m.lastChange[stepID] = m.now()
}

// Record appends an attempt to the history.
func (m *Monitor) Record(a Attempt) {
	if a.At.IsZero() {
		a.At = m.now()
	}
	if !a.Success {
		a.errHash = hashError(a.Error)
		m.consecutiveFailures++
	} else {
		m.consecutiveFailures = 0
	}
	m.history = append(m.history, a)
}

// Check evaluates the stuck signatures for a step, in the order repeated
// error, timeout, no progress. It returns nil when the step is not stuck.
func (m *Monitor) Check(stepID string) *Signature {
	now := m.now()
	failures := m.failuresSinceReset(stepID)

	if n := repeatedCount(failures); n >= m.th.RepeatedError {
		return &Signature{
			Kind:       KindRepeatedError,
			StepID:     stepID,
			Detail:     truncate(failures[len(failures)-1].Error, 200),
			Attempts:   n,
			DetectedAt: now,
		}
	}
	if since, ok := m.lastChange[stepID]; ok && len(failures) > 0 {
		if elapsed := now.Sub(since); elapsed > m.th.StepTimeout {
			return &Signature{
				Kind:       KindTimeout,
				StepID:     stepID,
				Detail:     "no status change for " + elapsed.Round(time.Second).String(),
				Attempts:   len(failures),
				DetectedAt: now,
			}
		}
	}
	if m.consecutiveFailures >= m.th.NoProgress {
		return &Signature{
			Kind:       KindNoProgress,
			StepID:     stepID,
			Detail:     "consecutive failures without progress",
			Attempts:   m.consecutiveFailures,
			DetectedAt: now,
		}
	}
	return nil
}

// ResetStep clears the evidence that triggered a signature so the same
// evidence does not fire again after help has been applied.
func (m *Monitor) ResetStep(stepID string) {
	m.cleared[stepID] = len(m.history)
	m.consecutiveFailures = 0
	m.lastChange[stepID] = m.now()
}

// Recent returns up to n of the latest attempts, oldest first.
func (m *Monitor) Recent(n int) []Attempt {
	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]Attempt, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

func (m *Monitor) failuresSinceReset(stepID string) []Attempt {
	var out []Attempt
	for _, a := range m.history[m.cleared[stepID]:] {
		if a.StepID == stepID && !a.Success {
			out = append(out, a)
		}
	}
	return out
}

// repeatedCount returns the length of the trailing run of failures with
// identical error text.
func repeatedCount(failures []Attempt) int {
	if len(failures) == 0 {
		return 0
	}
	last := failures[len(failures)-1].errHash
	n := 0
	for i := len(failures) - 1; i >= 0 && failures[i].errHash == last; i-- {
		n++
	}
	return n
}

func hashError(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(s)))
	return h.Sum64()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Budget bounds help requests per task.
type Budget struct {
	max  int
	used int
}

// NewBudget returns a budget of max requests. Non-positive max uses the default.
func NewBudget(max int) *Budget {
	if max <= 0 {
		max = DefaultHelpBudget
	}
	return &Budget{max: max}
}

// TryAcquire consumes one request, or returns ErrHelpBudgetExhausted.
func (b *Budget) TryAcquire() error {
	if b.used >= b.max {
		return ErrHelpBudgetExhausted
	}
	b.used++
	return nil
}

// Remaining returns the unused request count.
func (b *Budget) Remaining() int { return b.max - b.used }

// Used returns the number of consumed requests.
func (b *Budget) Used() int { return b.used }
