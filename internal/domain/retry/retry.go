// Package retry makes the per-step escalation ladder explicit:
// strategic help when stuck, self-correction while retries remain,
// fallback plans in order, then skip.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Rung is one level of the escalation ladder.
type Rung string

const (
	RungHelp        Rung = "help"
	RungSelfCorrect Rung = "self_correct"
	RungFallback    Rung = "fallback"
	RungSkip        Rung = "skip"
)

// State is everything the ladder needs to know about a failing step.
type State struct {
	RetryCount    int
	MaxRetries    int
	Stuck         bool
	HelpAvailable bool
	Fallbacks     int
	NextFallback  int
	InFallback    bool
}

// Decision is the next remedy to try.
type Decision struct {
	Rung          Rung
	FallbackIndex int
}

// Decide picks the next rung for a step that just failed. Once the fallback
// phase starts it never returns to help or self-correction.
func Decide(s State) Decision {
	if !s.InFallback {
		if s.Stuck && s.HelpAvailable {
			return Decision{Rung: RungHelp}
		}
		if !s.Stuck && s.RetryCount < s.MaxRetries {
			return Decision{Rung: RungSelfCorrect}
		}
	}
	if s.NextFallback < s.Fallbacks {
		return Decision{Rung: RungFallback, FallbackIndex: s.NextFallback}
	}
	return Decision{Rung: RungSkip}
}

// Config configures the wait between attempts.
type Config struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewBackOff returns an exponential backoff schedule. A zero BaseDelay
// disables waiting.
func NewBackOff(cfg Config) backoff.BackOff {
	if cfg.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = max(cfg.MaxDelay, cfg.BaseDelay)
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}
