package metacog_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/agentmode/internal/domain/metacog"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newMonitor() (*metacog.Monitor, *clock) {
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return metacog.NewMonitor(metacog.Thresholds{}, c.now), c
}

func fail(stepID, msg string) metacog.Attempt {
	return metacog.Attempt{StepID: stepID, Action: "read_file", Error: msg}
}

func TestCheck_RepeatedError(t *testing.T) {
	m, _ := newMonitor()
	m.StatusChanged("s1")
	for i := range 3 {
		if sig := m.Check("s1"); sig != nil {
			t.Fatalf("unexpected signature after %d failures: %+v", i, sig)
		}
		m.Record(fail("s1", "ENOENT: no such file"))
	}
	sig := m.Check("s1")
	if sig == nil || sig.Kind != metacog.KindRepeatedError {
		t.Fatalf("expected repeated_error, got %+v", sig)
	}
	if sig.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", sig.Attempts)
	}
}

func TestCheck_DifferentErrorsAreNoProgress(t *testing.T) {
	m, _ := newMonitor()
	m.Record(fail("s1", "a"))
	m.Record(fail("s1", "b"))
	if sig := m.Check("s1"); sig != nil {
		t.Fatalf("unexpected signature %+v", sig)
	}
	m.Record(fail("s2", "c"))
	sig := m.Check("s2")
	if sig == nil || sig.Kind != metacog.KindNoProgress {
		t.Fatalf("expected no_progress, got %+v", sig)
	}
}

func TestCheck_SuccessResetsNoProgress(t *testing.T) {
	m, _ := newMonitor()
	m.Record(fail("s1", "a"))
	m.Record(fail("s1", "b"))
	m.Record(metacog.Attempt{StepID: "s1", Success: true})
	m.Record(fail("s2", "c"))
	if sig := m.Check("s2"); sig != nil {
		t.Fatalf("unexpected signature %+v", sig)
	}
}

func TestCheck_Timeout(t *testing.T) {
	m, c := newMonitor()
	m.StatusChanged("s1")
	c.t = c.t.Add(31 * time.Second)
	if sig := m.Check("s1"); sig != nil {
		t.Fatalf("timeout must not fire before an attempt, got %+v", sig)
	}
	m.Record(fail("s1", "slow"))
	sig := m.Check("s1")
	if sig == nil || sig.Kind != metacog.KindTimeout {
		t.Fatalf("expected timeout, got %+v", sig)
	}

	m.StatusChanged("s1")
	if sig := m.Check("s1"); sig != nil {
		t.Fatalf("status change should clear timeout, got %+v", sig)
	}
}

func TestResetStep_ClearsEvidence(t *testing.T) {
	m, _ := newMonitor()
	for range 3 {
		m.Record(fail("s1", "same"))
	}
	if m.Check("s1") == nil {
		t.Fatal("expected a signature")
	}
	m.ResetStep("s1")
	if sig := m.Check("s1"); sig != nil {
		t.Fatalf("expected no signature after reset, got %+v", sig)
	}
	for range 3 {
		m.Record(fail("s1", "same"))
	}
	if sig := m.Check("s1"); sig == nil || sig.Kind != metacog.KindRepeatedError {
		t.Fatalf("expected repeated_error on fresh evidence, got %+v", sig)
	}
}

func TestRecent(t *testing.T) {
	m, _ := newMonitor()
	for _, e := range []string{"a", "b", "c"} {
		m.Record(fail("s1", e))
	}
	got := m.Recent(2)
	if len(got) != 2 || got[0].Error != "b" || got[1].Error != "c" {
		t.Errorf("Recent(2) = %+v", got)
	}
	if len(m.Recent(0)) != 3 {
		t.Error("Recent(0) should return the full history")
	}
}

func TestBudget(t *testing.T) {
	b := metacog.NewBudget(3)
	for range 3 {
		if err := b.TryAcquire(); err != nil {
			t.Fatalf("TryAcquire: %v", err)
		}
	}
	if err := b.TryAcquire(); !errors.Is(err, metacog.ErrHelpBudgetExhausted) {
		t.Fatalf("expected ErrHelpBudgetExhausted, got %v", err)
	}
	if b.Remaining() != 0 || b.Used() != 3 {
		t.Errorf("remaining=%d used=%d", b.Remaining(), b.Used())
	}
}
