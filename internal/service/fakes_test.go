package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Strob0t/agentmode/internal/port/ai"
	"github.com/Strob0t/agentmode/internal/port/messagequeue"
)

// fakeAI replays scripted responses per purpose. The last response of a
// purpose repeats once the script runs out.
type fakeAI struct {
	mu        sync.Mutex
	responses map[ai.Purpose][]string
	errs      map[ai.Purpose]error
	calls     map[ai.Purpose]int
	prompts   map[ai.Purpose][]string
}

func newFakeAI() *fakeAI {
	return &fakeAI{
		responses: make(map[ai.Purpose][]string),
		errs:      make(map[ai.Purpose]error),
		calls:     make(map[ai.Purpose]int),
		prompts:   make(map[ai.Purpose][]string),
	}
}

func (f *fakeAI) on(p ai.Purpose, responses ...string) *fakeAI {
	f.responses[p] = append(f.responses[p], responses...)
	return f
}

func (f *fakeAI) fail(p ai.Purpose, err error) *fakeAI {
	f.errs[p] = err
	return f
}

func (f *fakeAI) Complete(_ context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[req.Purpose]
	f.calls[req.Purpose]++
	f.prompts[req.Purpose] = append(f.prompts[req.Purpose], req.System+"\n"+req.Prompt)
	if err := f.errs[req.Purpose]; err != nil {
		return "", err
	}
	script := f.responses[req.Purpose]
	if len(script) == 0 {
		return "", fmt.Errorf("no scripted response for %s", req.Purpose)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], nil
}

func (f *fakeAI) count(p ai.Purpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[p]
}

// planStep describes one step of a scripted plan.
type planStep struct {
	Title  string
	Type   string
	Params map[string]any
	Deps   []int
}

// planJSON renders steps in the shape the planning model is asked for.
func planJSON(title string, steps ...planStep) string {
	type wireStep struct {
		Title       string         `json:"title"`
		Description string         `json:"description"`
		Action      map[string]any `json:"action"`
		DependsOn   []int          `json:"dependsOn,omitempty"`
	}
	ws := make([]wireStep, len(steps))
	for i, s := range steps {
		ws[i] = wireStep{
			Title:       s.Title,
			Description: strings.ToLower(s.Title),
			Action:      map[string]any{"type": s.Type, "parameters": s.Params},
			DependsOn:   s.Deps,
		}
	}
	data, err := json.Marshal(map[string]any{
		"task":      map[string]any{"title": title, "description": title, "steps": ws},
		"reasoning": "scripted",
	})
	if err != nil {
		panic(err)
	}
	return "Here is the plan:\n```json\n" + string(data) + "\n```"
}

func read(p string) planStep {
	return planStep{Title: "Read " + p, Type: "read_file", Params: map[string]any{"path": p}}
}

func write(p string) planStep {
	return planStep{Title: "Write " + p, Type: "write_file", Params: map[string]any{"path": p, "content": "x"}}
}

func generate(d string) planStep {
	return planStep{Title: "Generate " + d, Type: "generate_code", Params: map[string]any{"description": d}}
}

// fakeQueue delivers published messages synchronously to in-process subscribers.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string][]messagequeue.Handler
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string][]messagequeue.Handler),
	}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	q.published[subject] = append(q.published[subject], data)
	handlers := append([]messagequeue.Handler(nil), q.handlers[subject]...)
	q.mu.Unlock()
	for _, h := range handlers {
		if err := h(ctx, subject, data); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = append(q.handlers[subject], h)
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}

func (q *fakeQueue) messages(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.published[subject]
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }
