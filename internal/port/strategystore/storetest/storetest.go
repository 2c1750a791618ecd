// Package storetest holds the behavioural suite every strategystore.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/port/strategystore"
)

// RunComplianceTests runs the standard compliance suite. newStore must
// return an empty store for every call.
func RunComplianceTests(t *testing.T, newStore func(t *testing.T) strategystore.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pattern := func(problem string, typ action.Type) *strategy.Pattern {
		return &strategy.Pattern{
			Key:                strategy.Key(problem, typ),
			ProblemDescription: problem,
			ActionType:         typ,
			SuccessCount:       1,
			SuccessRate:        1,
			LastUsed:           now,
			CreatedAt:          now,
		}
	}

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPattern(ctx, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InsertAndGet", func(t *testing.T) {
		s := newStore(t)
		p := pattern("read config file", action.TypeReadFile)
		if err := s.UpsertPattern(ctx, p, 0); err != nil {
			t.Fatal(err)
		}
		if p.Version != 1 {
			t.Fatalf("version after insert = %d, want 1", p.Version)
		}
		if p.ID == "" {
			t.Fatal("expected an ID to be assigned")
		}
		got, err := s.GetPattern(ctx, p.Key)
		if err != nil {
			t.Fatal(err)
		}
		if got.ProblemDescription != p.ProblemDescription || got.ActionType != action.TypeReadFile {
			t.Fatalf("unexpected pattern %+v", got)
		}
		if got.SuccessCount != 1 || got.Version != 1 {
			t.Fatalf("unexpected counters %+v", got)
		}
	})

	t.Run("InsertTwiceConflicts", func(t *testing.T) {
		s := newStore(t)
		if err := s.UpsertPattern(ctx, pattern("run the tests", action.TypeRunTests), 0); err != nil {
			t.Fatal(err)
		}
		err := s.UpsertPattern(ctx, pattern("run the tests", action.TypeRunTests), 0)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("UpdateWithVersion", func(t *testing.T) {
		s := newStore(t)
		p := pattern("write main file", action.TypeWriteFile)
		if err := s.UpsertPattern(ctx, p, 0); err != nil {
			t.Fatal(err)
		}
		p.Apply(strategy.Outcome{Success: false, Error: "permission denied", At: now.Add(time.Minute)})
		if err := s.UpsertPattern(ctx, p, 1); err != nil {
			t.Fatal(err)
		}
		if p.Version != 2 {
			t.Fatalf("version after update = %d, want 2", p.Version)
		}
		got, err := s.GetPattern(ctx, p.Key)
		if err != nil {
			t.Fatal(err)
		}
		if got.FailureCount != 1 || got.LastError != "permission denied" || got.SuccessRate != 0.5 {
			t.Fatalf("update not persisted: %+v", got)
		}
	})

	t.Run("StaleVersionConflicts", func(t *testing.T) {
		s := newStore(t)
		p := pattern("edit handler", action.TypeEditFile)
		if err := s.UpsertPattern(ctx, p, 0); err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertPattern(ctx, p, 1); err != nil {
			t.Fatal(err)
		}
		stale := *p
		err := s.UpsertPattern(ctx, &stale, 1)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("UpdateMissingConflicts", func(t *testing.T) {
		s := newStore(t)
		err := s.UpsertPattern(ctx, pattern("never stored", action.TypeCustom), 3)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("ListFiltersByActionType", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []*strategy.Pattern{
			pattern("read config file", action.TypeReadFile),
			pattern("read readme", action.TypeReadFile),
			pattern("run the tests", action.TypeRunTests),
		} {
			if err := s.UpsertPattern(ctx, p, 0); err != nil {
				t.Fatal(err)
			}
		}
		all, err := s.ListPatterns(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 patterns, got %d", len(all))
		}
		reads, err := s.ListPatterns(ctx, string(action.TypeReadFile))
		if err != nil {
			t.Fatal(err)
		}
		if len(reads) != 2 {
			t.Fatalf("expected 2 read_file patterns, got %d", len(reads))
		}
		for i := range reads {
			if reads[i].ActionType != action.TypeReadFile {
				t.Fatalf("unexpected action type %q", reads[i].ActionType)
			}
		}
	})
}
