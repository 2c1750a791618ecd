// Package mcp exposes the task planner and strategy memory as Model Context
// Protocol tools so MCP-capable editors can drive agent mode directly.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/agentmode/internal/domain/strategy"
	"github.com/Strob0t/agentmode/internal/domain/task"
	"github.com/Strob0t/agentmode/internal/service"
)

// Planner is the subset of the task planner the tools call.
type Planner interface {
	PlanTask(ctx context.Context, req service.PlanRequest) (*service.TaskPlanResponse, error)
	GetNextTaskChunk(ctx context.Context, rootID string) (*service.TaskPlanResponse, error)
	Task(ctx context.Context, rootID string) (*task.AgentTask, error)
}

// PatternQuerier reads the strategy memory.
type PatternQuerier interface {
	QueryPatterns(ctx context.Context, q strategy.Query) ([]strategy.Match, error)
}

// ServerConfig holds the identity the server reports during initialize.
type ServerConfig struct {
	Name    string
	Version string
	// APIKey returns the bearer key for the HTTP transport; nil or an empty
	// key disables authentication.
	APIKey func() string
}

// ServerDeps holds the services behind the tools. Nil dependencies make
// the corresponding tools answer with an error result.
type ServerDeps struct {
	Planner Planner
	Memory  PatternQuerier
}

// Server wraps an MCP server with the agent-mode tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates an MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP transport, guarded by AuthMiddleware.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// ServeStdio runs the server over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}
