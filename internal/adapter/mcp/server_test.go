package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	ammcp "github.com/Strob0t/agentmode/internal/adapter/mcp"
	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/service"
)

// --- Mocks ---

type mockPlanner struct {
	got    service.PlanRequest
	chunks []*service.TaskPlanResponse
	tasks  map[string]*task.AgentTask
}

func (m *mockPlanner) PlanTask(_ context.Context, req service.PlanRequest) (*service.TaskPlanResponse, error) {
	m.got = req
	t := &task.AgentTask{ID: "root-1", Title: "Plan", Status: task.StatusAwaitingApproval}
	return &service.TaskPlanResponse{Task: t, HasMore: len(m.chunks) > 0, Metadata: service.PlanMetadata{RootTaskID: t.ID}}, nil
}

func (m *mockPlanner) GetNextTaskChunk(_ context.Context, rootID string) (*service.TaskPlanResponse, error) {
	if rootID != "root-1" {
		return nil, domain.ErrNotFound
	}
	if len(m.chunks) == 0 {
		return nil, nil
	}
	next := m.chunks[0]
	m.chunks = m.chunks[1:]
	return next, nil
}

func (m *mockPlanner) Task(_ context.Context, rootID string) (*task.AgentTask, error) {
	if t, ok := m.tasks[rootID]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

type mockMemory struct {
	got     strategy.Query
	matches []strategy.Match
	err     error
}

func (m *mockMemory) QueryPatterns(_ context.Context, q strategy.Query) ([]strategy.Match, error) {
	m.got = q
	return m.matches, m.err
}

func call(t *testing.T, s *ammcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func text(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	tc, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return tc.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := ammcp.NewServer(ammcp.ServerConfig{Name: "test", Version: "0.1.0"}, ammcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	for _, name := range []string{"plan_task", "next_chunk", "get_task", "query_patterns"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
	if len(tools) != 4 {
		t.Errorf("expected 4 tools, got %d", len(tools))
	}
}

func TestPlanTaskTool(t *testing.T) {
	planner := &mockPlanner{}
	s := ammcp.NewServer(ammcp.ServerConfig{Name: "test", Version: "0.1.0"}, ammcp.ServerDeps{Planner: planner})

	out := text(t, call(t, s, "plan_task", map[string]any{
		"request":                  "add a health endpoint",
		"workspace_root":           "/ws",
		"max_steps":                float64(7),
		"require_approval_for_all": true,
	}))
	var resp service.TaskPlanResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Metadata.RootTaskID != "root-1" {
		t.Errorf("root id = %q", resp.Metadata.RootTaskID)
	}
	if planner.got.Request != "add a health endpoint" || planner.got.Workspace.Root != "/ws" ||
		planner.got.Options.MaxSteps != 7 || !planner.got.Options.RequireApprovalForAll {
		t.Errorf("planner got %+v", planner.got)
	}

	if res := call(t, s, "plan_task", map[string]any{}); !res.IsError {
		t.Error("expected error result for missing request")
	}
}

func TestNextChunkTool(t *testing.T) {
	chunk := &service.TaskPlanResponse{Task: &task.AgentTask{ID: "chunk-2"}}
	s := ammcp.NewServer(ammcp.ServerConfig{Name: "test", Version: "0.1.0"},
		ammcp.ServerDeps{Planner: &mockPlanner{chunks: []*service.TaskPlanResponse{chunk}}})

	var resp service.TaskPlanResponse
	if err := json.Unmarshal([]byte(text(t, call(t, s, "next_chunk", map[string]any{"task_id": "root-1"}))), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Task.ID != "chunk-2" {
		t.Errorf("chunk id = %q", resp.Task.ID)
	}
	if got := text(t, call(t, s, "next_chunk", map[string]any{"task_id": "root-1"})); got != `{"hasMore":false}` {
		t.Errorf("exhausted = %s", got)
	}
	if res := call(t, s, "next_chunk", map[string]any{"task_id": "unknown"}); !res.IsError {
		t.Error("expected error result for unknown task")
	}
}

func TestGetTaskTool(t *testing.T) {
	planner := &mockPlanner{tasks: map[string]*task.AgentTask{"root-1": {ID: "root-1", Status: task.StatusRunning}}}
	s := ammcp.NewServer(ammcp.ServerConfig{Name: "test", Version: "0.1.0"}, ammcp.ServerDeps{Planner: planner})

	var got task.AgentTask
	if err := json.Unmarshal([]byte(text(t, call(t, s, "get_task", map[string]any{"task_id": "root-1"}))), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusRunning {
		t.Errorf("status = %s", got.Status)
	}
}

func TestQueryPatternsTool(t *testing.T) {
	memory := &mockMemory{matches: []strategy.Match{{
		Pattern:   strategy.Pattern{ProblemDescription: "Read config", ActionType: action.TypeReadFile, SuccessRate: 1},
		Relevance: 100,
	}}}
	s := ammcp.NewServer(ammcp.ServerConfig{Name: "test", Version: "0.1.0"}, ammcp.ServerDeps{Memory: memory})

	var matches []strategy.Match
	out := text(t, call(t, s, "query_patterns", map[string]any{"problem": "Read config", "action_type": "read_file", "max_results": float64(3)}))
	if err := json.Unmarshal([]byte(out), &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Relevance != 100 {
		t.Errorf("matches = %+v", matches)
	}
	if memory.got.ActionType != action.TypeReadFile || memory.got.MaxResults != 3 {
		t.Errorf("query = %+v", memory.got)
	}

	if res := call(t, s, "query_patterns", map[string]any{"problem": "x", "action_type": "teleport"}); !res.IsError {
		t.Error("expected error result for unknown action type")
	}
	memory.err = errors.New("store down")
	if res := call(t, s, "query_patterns", map[string]any{"problem": "x"}); !res.IsError {
		t.Error("expected error result when the store fails")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := ammcp.NewServer(ammcp.ServerConfig{Name: "test", Version: "0.1.0"}, ammcp.ServerDeps{})
	for _, name := range []string{"plan_task", "next_chunk", "get_task", "query_patterns"} {
		if res := call(t, s, name, map[string]any{"request": "x", "task_id": "x", "problem": "x"}); !res.IsError {
			t.Errorf("%s: expected error result when deps are nil", name)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	key := "secret"
	h := ammcp.AuthMiddleware(func() string { return key }, next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusForbidden},
		{"bearer", "Bearer secret", http.StatusOK},
		{"bare key", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	key = "rotated"
	req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("old key after rotation: status = %d, want 403", rec.Code)
	}

	key = ""
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("empty key must disable auth: status = %d", rec.Code)
	}
}
