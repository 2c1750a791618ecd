package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/agentmode/internal/domain/action"
)

const actionsURI = "agentmode://actions"

// actionInfo describes one action type in the catalog resource.
type actionInfo struct {
	Type        action.Type   `json:"type"`
	Family      action.Family `json:"family"`
	Destructive bool          `json:"destructive"`
	Uncertain   bool          `json:"uncertain"`
}

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			actionsURI,
			"Action Catalog",
			mcplib.WithResourceDescription("Step action types the planner can emit, with their risk flags"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActionsResource,
	)
}

func (s *Server) handleActionsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	catalog := make([]actionInfo, len(action.Types))
	for i, t := range action.Types {
		catalog[i] = actionInfo{
			Type:        t,
			Family:      action.FamilyOf(t),
			Destructive: action.IsDestructive(t),
			Uncertain:   action.IsUncertain(t),
		}
	}
	data, err := json.Marshal(catalog)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
