package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Strob0t/agentmode/internal/domain/task"
)

// ChunkStore retains the unretrieved chunks of chunked tasks, keyed by the
// root task id. Entries expire after ttl and the least recently used entry
// is evicted beyond size.
type ChunkStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, []*task.AgentTask]
}

// NewChunkStore creates a store holding at most size tasks for ttl each.
func NewChunkStore(size int, ttl time.Duration) *ChunkStore {
	if size <= 0 {
		size = 256
	}
	onEvict := func(rootID string, chunks []*task.AgentTask) {
		if len(chunks) > 0 {
			slog.Info("pending chunks released", "task_id", rootID, "remaining", len(chunks))
		}
	}
	return &ChunkStore{lru: expirable.NewLRU[string, []*task.AgentTask](size, onEvict, ttl)}
}

// Put replaces the pending chunks of rootID.
func (s *ChunkStore) Put(rootID string, chunks []*task.AgentTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunks) == 0 {
		s.lru.Remove(rootID)
		return
	}
	s.lru.Add(rootID, chunks)
}

// Next pops the next chunk of rootID. ok is false when nothing is pending.
func (s *ChunkStore) Next(rootID string) (next *task.AgentTask, remaining int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, found := s.lru.Get(rootID)
	if !found || len(chunks) == 0 {
		return nil, 0, false
	}
	next, rest := chunks[0], chunks[1:]
	if len(rest) == 0 {
		s.lru.Remove(rootID)
	} else {
		s.lru.Add(rootID, rest)
	}
	return next, len(rest), true
}

// Pending returns the number of chunks waiting for rootID.
func (s *ChunkStore) Pending(rootID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks, _ := s.lru.Peek(rootID)
	return len(chunks)
}

// Drop discards the pending chunks of rootID and reports whether any existed.
func (s *ChunkStore) Drop(rootID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(rootID)
}
