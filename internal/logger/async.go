package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a logging pipeline.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncQueue is shared by an AsyncHandler and every handler derived from it
// with WithAttrs or WithGroup.
type asyncQueue struct {
	ch      chan asyncEntry
	wg      sync.WaitGroup
	dropped atomic.Int64
	report  slog.Handler

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
}

type asyncEntry struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to background workers. Below keepLevel a full
// buffer drops the record; at or above it Handle waits for room, so step
// failures and stuck reports are never lost.
type AsyncHandler struct {
	inner     slog.Handler
	keepLevel slog.Level
	q         *asyncQueue
}

// NewAsyncHandler starts workers draining a buffer of size records into inner.
func NewAsyncHandler(inner slog.Handler, size, workers int, keepLevel slog.Level) *AsyncHandler {
	q := &asyncQueue{ch: make(chan asyncEntry, size), report: inner}
	for range max(workers, 1) {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, keepLevel: keepLevel, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for e := range q.ch {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		return h.inner.Handle(ctx, rec)
	}
	e := asyncEntry{h: h.inner, rec: rec.Clone()}
	if rec.Level >= h.keepLevel {
		h.q.ch <- e
		return nil
	}
	select {
	case h.q.ch <- e:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), keepLevel: h.keepLevel, q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), keepLevel: h.keepLevel, q: h.q}
}

// DroppedCount returns the number of records discarded on a full buffer.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains the buffer and stops the workers. Records logged afterwards
// are written synchronously. If anything was dropped, Close writes one
// warning with the count.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if h.q.closed {
		h.q.mu.Unlock()
		return
	}
	h.q.closed = true
	close(h.q.ch)
	h.q.mu.Unlock()

	h.q.wg.Wait()
	if n := h.q.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.q.report.Handle(context.Background(), rec)
	}
}
