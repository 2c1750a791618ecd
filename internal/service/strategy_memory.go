package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amotel "github.com/Strob0t/agentmode/internal/adapter/otel"
	"github.com/Strob0t/agentmode/internal/config"
	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/port/cache"
	"github.com/Strob0t/agentmode/internal/port/messagequeue"
	"github.com/Strob0t/agentmode/internal/port/strategystore"
)

const patternCachePrefix = "patterns:"

// ErrOutcomeContention is returned when an outcome could not be written
// within the configured number of compare-and-swap attempts.
var ErrOutcomeContention = fmt.Errorf("strategy pattern contended: %w", domain.ErrConflict)

// StrategyMemory answers pattern queries and folds step outcomes into the
// persistent pattern store. Concurrent writers are serialized per pattern
// by optimistic version checks.
type StrategyMemory struct {
	store    strategystore.Store
	cache    cache.Cache
	cacheTTL time.Duration
	queue    messagequeue.Queue
	metrics  *amotel.Metrics
	maxCAS   int
	now      func() time.Time
}

// NewStrategyMemory creates a StrategyMemory over store.
func NewStrategyMemory(store strategystore.Store, cfg config.Memory) *StrategyMemory {
	maxCAS := cfg.MaxCASRetries
	if maxCAS <= 0 {
		maxCAS = 1
	}
	return &StrategyMemory{
		store:    store,
		cacheTTL: cfg.CacheTTL,
		maxCAS:   maxCAS,
		now:      time.Now,
	}
}

// SetCache enables caching of pattern candidate lists.
func (m *StrategyMemory) SetCache(c cache.Cache) { m.cache = c }

// SetQueue enables publication of recorded outcomes.
func (m *StrategyMemory) SetQueue(q messagequeue.Queue) { m.queue = q }

// SetMetrics enables query metrics.
func (m *StrategyMemory) SetMetrics(mt *amotel.Metrics) { m.metrics = mt }

// QueryPatterns returns the patterns most relevant to q, best first.
func (m *StrategyMemory) QueryPatterns(ctx context.Context, q strategy.Query) ([]strategy.Match, error) {
	patterns, err := m.candidates(ctx, "")
	if err != nil {
		return nil, err
	}
	return strategy.Rank(q, patterns), nil
}

// TopMatch returns the single most relevant pattern with the same action
// type, or nil. Only same-type patterns can clear the planner's relevance bar,
// so the candidate set is narrowed by type.
func (m *StrategyMemory) TopMatch(ctx context.Context, problem string, t action.Type) (*strategy.Match, error) {
	patterns, err := m.candidates(ctx, string(t))
	if err != nil {
		return nil, err
	}
	matches := strategy.Rank(strategy.Query{ProblemDescription: problem, ActionType: t, MaxResults: 1}, patterns)
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func (m *StrategyMemory) candidates(ctx context.Context, actionType string) ([]strategy.Pattern, error) {
	key := patternCachePrefix + actionType
	if m.cache != nil {
		if data, ok, err := m.cache.Get(ctx, key); err == nil && ok {
			var cached []strategy.Pattern
			if err := json.Unmarshal(data, &cached); err == nil {
				m.metrics.PatternQueried(ctx, true)
				return cached, nil
			}
		}
	}
	m.metrics.PatternQueried(ctx, false)

	patterns, err := m.store.ListPatterns(ctx, actionType)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	if m.cache != nil {
		if data, err := json.Marshal(patterns); err == nil {
			if err := m.cache.Set(ctx, key, data, m.cacheTTL); err != nil {
				slog.Warn("pattern cache set failed", "key", key, "error", err)
			}
		}
	}
	return patterns, nil
}

// RecordOutcome folds o into the pattern for its (problem, action type) key,
// creating the pattern on first use. Lost races are retried.
func (m *StrategyMemory) RecordOutcome(ctx context.Context, o strategy.Outcome) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if o.At.IsZero() {
		o.At = m.now()
	}
	key := strategy.Key(o.ProblemDescription, o.ActionType)

	for attempt := 1; attempt <= m.maxCAS; attempt++ {
		p, err := m.store.GetPattern(ctx, key)
		expected := 0
		switch {
		case errors.Is(err, domain.ErrNotFound):
			p = &strategy.Pattern{
				Key:                key,
				ProblemDescription: o.ProblemDescription,
				ActionType:         o.ActionType,
				CreatedAt:          o.At,
			}
		case err != nil:
			return fmt.Errorf("record outcome: %w", err)
		default:
			expected = p.Version
		}

		p.Apply(o)
		err = m.store.UpsertPattern(ctx, p, expected)
		if err == nil {
			m.invalidate(ctx, o.ActionType)
			m.publish(ctx, o)
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("record outcome: %w", err)
		}
		slog.Debug("strategy pattern conflict, retrying", "key", key, "attempt", attempt)
	}
	return fmt.Errorf("record outcome %q after %d attempts: %w", key, m.maxCAS, ErrOutcomeContention)
}

func (m *StrategyMemory) invalidate(ctx context.Context, t action.Type) {
	if m.cache == nil {
		return
	}
	for _, key := range []string{patternCachePrefix, patternCachePrefix + string(t)} {
		if err := m.cache.Delete(ctx, key); err != nil {
			slog.Warn("pattern cache invalidation failed", "key", key, "error", err)
		}
	}
}

func (m *StrategyMemory) publish(ctx context.Context, o strategy.Outcome) {
	if m.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.OutcomePayload{
		ProblemDescription: o.ProblemDescription,
		ActionType:         string(o.ActionType),
		Success:            o.Success,
	})
	if err != nil {
		return
	}
	if err := m.queue.Publish(ctx, messagequeue.SubjectOutcome, data); err != nil {
		slog.Warn("publish outcome failed", "error", err)
	}
}

// StartOutcomeSubscriber drops cached candidate lists whenever any instance
// records an outcome, so shared Postgres memory is not served stale from L1.
// The returned function cancels the subscription.
func (m *StrategyMemory) StartOutcomeSubscriber(ctx context.Context) (func(), error) {
	if m.queue == nil || m.cache == nil {
		return func() {}, nil
	}
	return m.queue.Subscribe(ctx, messagequeue.SubjectOutcome, func(ctx context.Context, _ string, data []byte) error {
		var p messagequeue.OutcomePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode outcome: %w", err)
		}
		m.invalidate(ctx, action.Type(p.ActionType))
		return nil
	})
}
