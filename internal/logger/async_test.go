package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects records, optionally slowly.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func (h *recordingHandler) last() slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records[len(h.records)-1]
}

func logN(h slog.Handler, n int, level slog.Level) {
	for range n {
		_ = h.Handle(context.Background(), slog.NewRecord(time.Now(), level, "step event", 0))
	}
}

func TestAsyncHandler_ConcurrentWritesFlushOnClose(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10_000, 4, slog.LevelWarn)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logN(ah, 100, slog.LevelInfo)
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(slog.LevelInfo); got != 5000 {
		t.Fatalf("records = %d, want 5000", got)
	}
}

func TestAsyncHandler_DropsInfoButKeepsWarnings(t *testing.T) {
	inner := &recordingHandler{delay: 2 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1, slog.LevelWarn)

	logN(ah, 40, slog.LevelInfo)
	logN(ah, 10, slog.LevelError)
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected info records to be dropped on a full buffer")
	}
	if got := inner.count(slog.LevelError); got != 10 {
		t.Errorf("error records = %d, want all 10", got)
	}
	last := inner.last()
	if last.Level != slog.LevelWarn || last.Message != "async logger dropped records" {
		t.Errorf("last record = %s %q, want the drop report", last.Level, last.Message)
	}
}

func TestAsyncHandler_AfterCloseWritesSynchronously(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 8, 1, slog.LevelWarn)
	ah.Close()
	ah.Close()

	logN(ah.WithAttrs([]slog.Attr{slog.String("task_id", "t1")}), 3, slog.LevelInfo)
	if got := inner.count(slog.LevelInfo); got != 3 {
		t.Errorf("records after close = %d, want 3", got)
	}
}
