package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Strob0t/agentmode/internal/adapter/taskfile"
	"github.com/Strob0t/agentmode/internal/config"
	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/confidence"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/port/ai"
	"github.com/Strob0t/agentmode/internal/service"
)

func plannerConfig() config.Planner {
	return config.Planner{
		ChunkLimit:         5,
		MaxSteps:           20,
		DefaultMaxRetries:  3,
		ChunkTTL:           time.Hour,
		MaxPendingTasks:    16,
		RelevanceThreshold: 70,
	}
}

func newPlanner(t *testing.T, completer ai.Completer) (*service.Planner, *taskfile.Store) {
	t.Helper()
	store := taskfile.New(afero.NewMemMapFs(), "/ws/.agentmode/tasks")
	p := service.NewPlanner(completer, nil, plannerConfig())
	p.SetStateStore(store)
	return p, store
}

func plan(t *testing.T, p *service.Planner, request string) *service.TaskPlanResponse {
	t.Helper()
	resp, err := p.PlanTask(context.Background(), service.PlanRequest{Request: request})
	if err != nil {
		t.Fatalf("PlanTask: %v", err)
	}
	return resp
}

func TestPlanTask_ScenarioA_ReadOnlyFitsOneChunk(t *testing.T) {
	fake := newFakeAI().on(ai.PurposePlan, planJSON("Inspect config",
		read("package.json"), read("tsconfig.json"), read("README.md")))
	p, _ := newPlanner(t, fake)

	resp := plan(t, p, "inspect the project config")
	if resp.HasMore {
		t.Error("HasMore = true, want false")
	}
	if got := len(resp.Task.Steps); got != 3 {
		t.Fatalf("steps = %d, want 3", got)
	}
	if resp.Task.Metadata.IsChunked {
		t.Error("single chunk must not be marked as chunked")
	}
	if resp.Metadata.TotalChunks != 1 || resp.Metadata.RootTaskID != resp.Task.ID {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	for i, s := range resp.Task.Steps {
		if s.Order != i+1 || s.TaskID != resp.Task.ID || s.Status != task.StepPending {
			t.Errorf("step %d = order %d task %s status %s", i, s.Order, s.TaskID, s.Status)
		}
	}

	next, err := p.GetNextTaskChunk(context.Background(), resp.Task.ID)
	if err != nil || next != nil {
		t.Fatalf("GetNextTaskChunk = %v, %v; want nil, nil", next, err)
	}
}

func TestPlanTask_ScenarioB_ChunksLargeMixedPlan(t *testing.T) {
	var steps []planStep
	for i := range 4 {
		steps = append(steps, read(fmt.Sprintf("src/mod%d.ts", i)))
	}
	for i := range 4 {
		steps = append(steps, generate(fmt.Sprintf("helper %d", i)))
	}
	for i := range 4 {
		steps = append(steps, write(fmt.Sprintf("src/out%d.ts", i)))
	}
	fake := newFakeAI().on(ai.PurposePlan, planJSON("Rework modules", steps...))
	p, _ := newPlanner(t, fake)
	ctx := context.Background()

	resp := plan(t, p, "rework the modules")
	if !resp.HasMore {
		t.Fatal("HasMore = false, want true")
	}
	root := resp.Metadata.RootTaskID
	if resp.Metadata.TotalSteps != 12 {
		t.Errorf("TotalSteps = %d, want 12", resp.Metadata.TotalSteps)
	}

	chunks := []*task.AgentTask{resp.Task}
	for {
		next, err := p.GetNextTaskChunk(ctx, root)
		if err != nil {
			t.Fatal(err)
		}
		if next == nil {
			break
		}
		chunks = append(chunks, next.Task)
	}
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(chunks))
	}

	var titles []string
	for i, c := range chunks {
		if len(c.Steps) > 5 {
			t.Errorf("chunk %d has %d steps", i, len(c.Steps))
		}
		m := c.Metadata
		if !m.IsChunked || m.ChunkIndex != i || m.TotalChunks != len(chunks) || m.ParentTaskID != root {
			t.Errorf("chunk %d metadata = %+v", i, m)
		}
		if err := c.Validate(); err != nil {
			t.Errorf("chunk %d invalid: %v", i, err)
		}
		for _, s := range c.Steps {
			if s.TaskID != c.ID {
				t.Errorf("step %s belongs to %s, want %s", s.ID, s.TaskID, c.ID)
			}
			titles = append(titles, s.Title)
		}
	}
	var want []string
	for _, s := range steps {
		want = append(want, s.Title)
	}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Errorf("concatenated chunks differ from plan (-want +got):\n%s", diff)
	}
}

func TestPlanTask_ScenarioD_DeleteAlwaysNeedsApproval(t *testing.T) {
	text := planJSON("Cleanup", read("old.txt"),
		planStep{Title: "Delete old.txt", Type: "delete_file", Params: map[string]any{"path": "old.txt"}})

	for _, opts := range []service.PlanOptions{{}, {AllowDestructiveActions: true}} {
		p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
		resp, err := p.PlanTask(context.Background(), service.PlanRequest{Request: "remove old.txt", Options: opts})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Task.Steps[0].RequiresApproval {
			t.Errorf("opts %+v: read step requires approval", opts)
		}
		if !resp.Task.Steps[1].RequiresApproval {
			t.Errorf("opts %+v: delete step does not require approval", opts)
		}
	}
}

func TestPlanTask_ApprovalForAllAndDangerousCommands(t *testing.T) {
	text := planJSON("Build",
		read("main.go"),
		planStep{Title: "Clean", Type: "run_command", Params: map[string]any{"command": "rm -rf dist"}},
		planStep{Title: "List", Type: "run_command", Params: map[string]any{"command": "ls"}},
	)
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
	resp := plan(t, p, "build")
	got := []bool{resp.Task.Steps[0].RequiresApproval, resp.Task.Steps[1].RequiresApproval, resp.Task.Steps[2].RequiresApproval}
	if diff := cmp.Diff([]bool{false, true, false}, got); diff != "" {
		t.Errorf("approval (-want +got):\n%s", diff)
	}

	p, _ = newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
	resp, err := p.PlanTask(context.Background(), service.PlanRequest{
		Request: "build",
		Options: service.PlanOptions{RequireApprovalForAll: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range resp.Task.Steps {
		if !s.RequiresApproval {
			t.Errorf("step %d does not require approval", s.Order)
		}
	}
}

func TestPlanTask_MalformedOutputYieldsManualTask(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose", "I would start by looking at the files, then fix the bug."},
		{"broken braces", "{{{ not json"},
		{"no steps", `{"task": {"title": "x", "steps": []}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, tt.text))
			resp := plan(t, p, "fix the login bug")
			assertManual(t, resp, "fix the login bug")
		})
	}
}

func TestPlanTask_SkipsUnrelatedJSONBeforePlan(t *testing.T) {
	text := "Settings first:\n```json\n{\"strict\": true}\n```\n" + planJSON("Inspect", read("go.mod"), read("main.go"))
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))

	resp := plan(t, p, "inspect the module")
	if resp.Metadata.Manual {
		t.Fatal("fell back to a manual task")
	}
	if got := len(resp.Task.Steps); got != 2 {
		t.Fatalf("steps = %d, want 2", got)
	}
}

func TestPlanTask_ModelFailureYieldsManualTask(t *testing.T) {
	p, _ := newPlanner(t, newFakeAI().fail(ai.PurposePlan, errors.New("connection refused")))
	resp := plan(t, p, "add a readme")
	assertManual(t, resp, "add a readme")
}

func assertManual(t *testing.T, resp *service.TaskPlanResponse, request string) {
	t.Helper()
	if !resp.Metadata.Manual {
		t.Error("Manual = false")
	}
	if len(resp.Task.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(resp.Task.Steps))
	}
	s := resp.Task.Steps[0]
	c, ok := s.Action.Params.(action.Custom)
	if !ok || c.Instruction != request {
		t.Errorf("action = %+v, want custom carrying the request", s.Action)
	}
	if !s.RequiresApproval {
		t.Error("manual step must require approval")
	}
	if err := resp.Task.Validate(); err != nil {
		t.Errorf("manual task invalid: %v", err)
	}
	if len(resp.Warnings) == 0 {
		t.Error("expected a warning explaining the manual task")
	}
}

func TestPlanTask_UnknownActionFails(t *testing.T) {
	text := planJSON("Deploy", read("a.txt"), planStep{Title: "Deploy", Type: "deploy_cluster", Params: map[string]any{}})
	p, store := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))

	_, err := p.PlanTask(context.Background(), service.PlanRequest{Request: "deploy"})
	var invalid *action.InvalidActionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *action.InvalidActionError", err)
	}
	if !errors.Is(err, action.ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
	ids, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("persisted %v for a failed plan", ids)
	}
}

func TestPlanTask_EmptyRequest(t *testing.T) {
	p, _ := newPlanner(t, newFakeAI())
	_, err := p.PlanTask(context.Background(), service.PlanRequest{Request: "   "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestPlanTask_ParsingIsIdempotent(t *testing.T) {
	text := planJSON("Inspect",
		read("package.json"),
		planStep{Title: "Search usages", Type: "search_codebase", Params: map[string]any{"query": "login"}, Deps: []int{1}},
		write("notes.md"),
	)
	type view struct {
		Order       int
		Title       string
		Description string
		Action      action.StepAction
		Deps        int
	}
	project := func(resp *service.TaskPlanResponse) []view {
		var out []view
		for _, s := range resp.Task.Steps {
			out = append(out, view{s.Order, s.Title, s.Description, s.Action, len(s.DependsOn)})
		}
		return out
	}

	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
	first := plan(t, p, "inspect")
	second := plan(t, p, "inspect")
	if first.Task.ID == second.Task.ID {
		t.Error("expected fresh ids per planning call")
	}
	if diff := cmp.Diff(project(first), project(second)); diff != "" {
		t.Errorf("re-parse differs (-first +second):\n%s", diff)
	}
	if got := first.Task.Steps[1].DependsOn; len(got) != 1 || got[0] != first.Task.Steps[0].ID {
		t.Errorf("DependsOn = %v, want [%s]", got, first.Task.Steps[0].ID)
	}
}

func TestPlanTask_InvalidDependenciesDropped(t *testing.T) {
	text := planJSON("Deps",
		planStep{Title: "First", Type: "read_file", Params: map[string]any{"path": "a"}, Deps: []int{2}},
		planStep{Title: "Second", Type: "read_file", Params: map[string]any{"path": "b"}, Deps: []int{1, 9}},
	)
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
	resp := plan(t, p, "deps")
	if len(resp.Task.Steps[0].DependsOn) != 0 {
		t.Errorf("forward dependency kept: %v", resp.Task.Steps[0].DependsOn)
	}
	if len(resp.Task.Steps[1].DependsOn) != 1 {
		t.Errorf("DependsOn = %v, want one entry", resp.Task.Steps[1].DependsOn)
	}
	found := 0
	for _, w := range resp.Warnings {
		if strings.Contains(w, "ignored dependency") {
			found++
		}
	}
	if found != 2 {
		t.Errorf("dependency warnings = %d, want 2: %v", found, resp.Warnings)
	}
}

func TestPlanTask_TruncatesToMaxSteps(t *testing.T) {
	text := planJSON("Many", read("a"), read("b"), read("c"), read("d"))
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
	resp, err := p.PlanTask(context.Background(), service.PlanRequest{
		Request: "many", Options: service.PlanOptions{MaxSteps: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Task.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(resp.Task.Steps))
	}
}

func TestPlanTask_Warnings(t *testing.T) {
	steps := []planStep{
		{Title: "Delete tmp", Type: "delete_file", Params: map[string]any{"path": "tmp.txt"}},
		{Title: "Build", Type: "run_command", Params: map[string]any{"command": "make"}},
		{Title: "Commit", Type: "git_commit", Params: map[string]any{"message": "wip"}},
	}
	for i := range 6 {
		steps = append(steps, read(fmt.Sprintf("f%d.go", i)))
	}
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, planJSON("Big", steps...)))
	resp := plan(t, p, "big change")

	joined := strings.Join(resp.Warnings, "\n")
	for _, want := range []string{"deletes files", "git commits", "shell commands", "Large plan with 9 steps", "Destructive actions require approval"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}
	if resp.EstimatedTime == "" {
		t.Error("EstimatedTime is empty")
	}
}

func TestPlanTask_ConfidenceAndFallbacks(t *testing.T) {
	text := planJSON("Mixed",
		read("package.json"),
		read("conf/settings.yaml"),
		generate("a parser"),
	)
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
	resp := plan(t, p, "mixed")
	steps := resp.Task.Steps

	if c := steps[0].Confidence; c.Score != 70 || c.RiskLevel != confidence.RiskLow || len(steps[0].FallbackPlans) != 0 {
		t.Errorf("common file: score %d risk %s fallbacks %d", c.Score, c.RiskLevel, len(steps[0].FallbackPlans))
	}

	c := steps[1].Confidence
	if c.Score != 40 || c.RiskLevel != confidence.RiskMedium {
		t.Errorf("uncommon config: score %d risk %s", c.Score, c.RiskLevel)
	}
	fb := steps[1].FallbackPlans
	if len(fb) != 2 {
		t.Fatalf("config read fallbacks = %d, want 2", len(fb))
	}
	if sc, ok := fb[0].AlternativeAction.Params.(action.SearchCodebase); !ok || sc.Query != "settings.yaml" || fb[0].Confidence != 75 {
		t.Errorf("first fallback = %+v", fb[0])
	}
	if wf, ok := fb[1].AlternativeAction.Params.(action.WriteFile); !ok || wf.Path != "conf/settings.yaml" || fb[1].Confidence != 60 {
		t.Errorf("second fallback = %+v", fb[1])
	}

	c = steps[2].Confidence
	if c.Score != 35 || c.RiskLevel != confidence.RiskHigh {
		t.Errorf("generate: score %d risk %s", c.Score, c.RiskLevel)
	}
	gfb := steps[2].FallbackPlans
	if len(gfb) != 1 || gfb[0].Trigger != confidence.TriggerUserAssistance || gfb[0].Confidence != 90 {
		t.Errorf("high-risk fallbacks = %+v", gfb)
	}
	for _, s := range steps {
		for _, f := range s.FallbackPlans {
			if f.StepID != s.ID || f.ID == "" {
				t.Errorf("fallback %+v not bound to step %s", f, s.ID)
			}
		}
	}
}

func TestPlanTask_MemoryBackedConfidence(t *testing.T) {
	mem, _ := newMemory(t, 5)
	ctx := context.Background()
	for range 3 {
		if err := mem.RecordOutcome(ctx, outcome("Read vendor/lib.js: read vendor/lib.js", action.TypeReadFile, true)); err != nil {
			t.Fatal(err)
		}
	}

	p := service.NewPlanner(newFakeAI().on(ai.PurposePlan, planJSON("Vendor", read("vendor/lib.js"))), mem, plannerConfig())
	resp := plan(t, p, "read the vendored lib")
	c := resp.Task.Steps[0].Confidence
	if !c.MemoryBacked {
		t.Fatalf("expected a memory-backed score, factors %+v", c.Factors)
	}
	// 50 base + 40 memory - 10 uncommon path.
	if c.Score != 80 {
		t.Errorf("score = %d, want 80", c.Score)
	}
}

func TestPlanTaskEnhanced_Insights(t *testing.T) {
	text := planJSON("Mixed", read("package.json"), read("conf/db.ini"), generate("a parser"))
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, text))
	resp, err := p.PlanTaskEnhanced(context.Background(), service.PlanRequest{Request: "mixed"})
	if err != nil {
		t.Fatal(err)
	}
	in := resp.Insights
	if in.HighRiskSteps != 1 || in.FallbacksGenerated != 3 || in.MemoryBackedSteps != 0 {
		t.Errorf("insights = %+v", in)
	}
	if in.OverallConfidence != 48 { // (70 + 40 + 35) / 3
		t.Errorf("OverallConfidence = %d, want 48", in.OverallConfidence)
	}
	if in.EstimatedSuccessRate > confidence.MaxEstimatedSuccessRate {
		t.Errorf("EstimatedSuccessRate = %d exceeds cap", in.EstimatedSuccessRate)
	}
}

func TestPlanTaskEnhanced_InsightsCoverAllChunks(t *testing.T) {
	var steps []planStep
	for i := range 5 {
		steps = append(steps, read(fmt.Sprintf("src/mod%d.go", i)))
	}
	for i := range 3 {
		steps = append(steps, generate(fmt.Sprintf("helper %d", i)))
	}
	p, _ := newPlanner(t, newFakeAI().on(ai.PurposePlan, planJSON("Mixed", steps...)))
	ctx := context.Background()

	resp, err := p.PlanTaskEnhanced(ctx, service.PlanRequest{Request: "mixed"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasMore {
		t.Fatal("expected a chunked plan")
	}
	all := append([]*task.AgentStep(nil), resp.Task.Steps...)
	for {
		next, err := p.GetNextTaskChunk(ctx, resp.Metadata.RootTaskID)
		if err != nil {
			t.Fatal(err)
		}
		if next == nil {
			break
		}
		all = append(all, next.Task.Steps...)
	}
	if len(all) != 8 {
		t.Fatalf("steps across chunks = %d, want 8", len(all))
	}

	want := service.Insights(&task.AgentTask{Steps: all})
	if diff := cmp.Diff(want, resp.Insights); diff != "" {
		t.Errorf("insights mismatch (-whole plan +got):\n%s", diff)
	}
}

func chunkedPlan(t *testing.T) string {
	t.Helper()
	var steps []planStep
	for i := range 8 {
		steps = append(steps, read(fmt.Sprintf("docs/page%d.md", i)))
	}
	return planJSON("Docs", steps...)
}

func TestAbandonTask_ReleasesChunks(t *testing.T) {
	p, store := newPlanner(t, newFakeAI().on(ai.PurposePlan, chunkedPlan(t)))
	ctx := context.Background()
	resp := plan(t, p, "read the docs")
	root := resp.Metadata.RootTaskID
	if !resp.HasMore {
		t.Fatal("expected a chunked plan")
	}

	if err := p.AbandonTask(ctx, root); err != nil {
		t.Fatal(err)
	}
	next, err := p.GetNextTaskChunk(ctx, root)
	if err != nil || next != nil {
		t.Fatalf("GetNextTaskChunk after abandon = %v, %v", next, err)
	}
	rec, err := store.Load(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Abandoned || len(rec.PendingChunks) != 0 || rec.Task.Status != task.StatusCancelled {
		t.Errorf("record = abandoned %v pending %d status %s", rec.Abandoned, len(rec.PendingChunks), rec.Task.Status)
	}
	if _, err := p.ResumeTask(ctx, root); !errors.Is(err, service.ErrTaskAbandoned) {
		t.Errorf("ResumeTask err = %v, want ErrTaskAbandoned", err)
	}
	if err := p.AbandonTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AbandonTask(missing) = %v, want ErrNotFound", err)
	}
}

func TestResumeTask_RestoresChunksAfterRestart(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := taskfile.New(fsys, "/ws/.agentmode/tasks")
	ctx := context.Background()

	first := service.NewPlanner(newFakeAI().on(ai.PurposePlan, chunkedPlan(t)), nil, plannerConfig())
	first.SetStateStore(store)
	resp := plan(t, first, "read the docs")
	root := resp.Metadata.RootTaskID

	restarted := service.NewPlanner(nil, nil, plannerConfig())
	restarted.SetStateStore(taskfile.New(fsys, "/ws/.agentmode/tasks"))

	resumed, err := restarted.ResumeTask(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Task.ID != resp.Task.ID || !resumed.HasMore {
		t.Fatalf("resumed task %s hasMore %v, want %s with more", resumed.Task.ID, resumed.HasMore, resp.Task.ID)
	}

	next, err := restarted.GetNextTaskChunk(ctx, root)
	if err != nil || next == nil {
		t.Fatalf("GetNextTaskChunk = %v, %v", next, err)
	}
	if next.Task.Metadata.ChunkIndex != 1 {
		t.Errorf("ChunkIndex = %d, want 1", next.Task.Metadata.ChunkIndex)
	}

	cur, err := restarted.Task(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if cur.ID != next.Task.ID {
		t.Errorf("persisted current task = %s, want %s", cur.ID, next.Task.ID)
	}
}

func TestResumeTask_Missing(t *testing.T) {
	p, _ := newPlanner(t, newFakeAI())
	if _, err := p.ResumeTask(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
