package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.planTaskTool(),
		s.nextChunkTool(),
		s.getTaskTool(),
		s.queryPatternsTool(),
	)
}

func (s *Server) planTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("plan_task",
		mcplib.WithDescription("Turn a natural-language request into an ordered, confidence-scored step plan"),
		mcplib.WithString("request",
			mcplib.Required(),
			mcplib.Description("What the user wants done"),
		),
		mcplib.WithString("workspace_root",
			mcplib.Description("Absolute path of the workspace the plan targets"),
		),
		mcplib.WithString("current_file",
			mcplib.Description("File open in the editor, if any"),
		),
		mcplib.WithNumber("max_steps",
			mcplib.Description("Upper bound on planned steps"),
		),
		mcplib.WithBoolean("allow_destructive_actions",
			mcplib.Description("Suppress the warning for delete and commit steps"),
		),
		mcplib.WithBoolean("require_approval_for_all",
			mcplib.Description("Require approval before every step"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handlePlanTask}
}

func (s *Server) nextChunkTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("next_chunk",
		mcplib.WithDescription("Fetch the next chunk of a plan that was too large for one task"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("Root task id returned by plan_task"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleNextChunk}
}

func (s *Server) getTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task",
		mcplib.WithDescription("Get the current chunk of a planned task with per-step status"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("Root task id returned by plan_task"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTask}
}

func (s *Server) queryPatternsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("query_patterns",
		mcplib.WithDescription("Look up remembered strategies relevant to a problem"),
		mcplib.WithString("problem",
			mcplib.Required(),
			mcplib.Description("Problem description to match against"),
		),
		mcplib.WithString("action_type",
			mcplib.Description("Restrict the relevance bonus to one action type"),
			mcplib.Enum(actionTypeNames()...),
		),
		mcplib.WithNumber("max_results",
			mcplib.Description("Maximum matches to return (default 5)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleQueryPatterns}
}

func (s *Server) handlePlanTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Planner == nil {
		return mcplib.NewToolResultError("planner not configured"), nil
	}
	args := req.GetArguments()
	request, _ := args["request"].(string)
	if request == "" {
		return mcplib.NewToolResultError("request is required"), nil
	}
	in := service.PlanRequest{Request: request}
	in.Workspace.Root, _ = args["workspace_root"].(string)
	in.Workspace.CurrentFile, _ = args["current_file"].(string)
	if n, ok := args["max_steps"].(float64); ok && n > 0 {
		in.Options.MaxSteps = int(n)
	}
	in.Options.AllowDestructiveActions, _ = args["allow_destructive_actions"].(bool)
	in.Options.RequireApprovalForAll, _ = args["require_approval_for_all"].(bool)

	resp, err := s.deps.Planner.PlanTask(ctx, in)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to plan task", err), nil
	}
	return marshalResult(resp, "plan")
}

func (s *Server) handleNextChunk(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Planner == nil {
		return mcplib.NewToolResultError("planner not configured"), nil
	}
	taskID, _ := req.GetArguments()["task_id"].(string)
	if taskID == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	resp, err := s.deps.Planner.GetNextTaskChunk(ctx, taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get next chunk of %s", taskID), err), nil
	}
	if resp == nil {
		return mcplib.NewToolResultText(`{"hasMore":false}`), nil
	}
	return marshalResult(resp, "chunk")
}

func (s *Server) handleGetTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Planner == nil {
		return mcplib.NewToolResultError("planner not configured"), nil
	}
	taskID, _ := req.GetArguments()["task_id"].(string)
	if taskID == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	t, err := s.deps.Planner.Task(ctx, taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get task %s", taskID), err), nil
	}
	return marshalResult(t, "task")
}

func (s *Server) handleQueryPatterns(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return mcplib.NewToolResultError("strategy memory not configured"), nil
	}
	args := req.GetArguments()
	q := strategy.Query{}
	q.ProblemDescription, _ = args["problem"].(string)
	if q.ProblemDescription == "" {
		return mcplib.NewToolResultError("problem is required"), nil
	}
	if t, _ := args["action_type"].(string); t != "" {
		q.ActionType = action.Type(t)
		if !q.ActionType.IsValid() {
			return mcplib.NewToolResultError(fmt.Sprintf("unknown action_type %q", t)), nil
		}
	}
	if n, ok := args["max_results"].(float64); ok && n > 0 {
		q.MaxResults = int(n)
	}
	matches, err := s.deps.Memory.QueryPatterns(ctx, q)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to query patterns", err), nil
	}
	return marshalResult(matches, "patterns")
}

func marshalResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func actionTypeNames() []string {
	names := make([]string, len(action.Types))
	for i, t := range action.Types {
		names[i] = string(t)
	}
	return names
}
