package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/meshflow/pkg/client"
	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/graph"
)

// Server adapts meshflow-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance. token, when set, is sent on
// mutating calls.
func NewServer(apiURL, token string) *Server {
	c := client.NewClient(apiURL)
	c.SetToken(token)

	s := &Server{
		mcpServer: server.NewMCPServer(
			"meshflow",
			"1.0.0",
		),
		apiClient: c,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"meshflow://graph",
		"Mesh Graph",
		mcp.WithResourceDescription("Nodes and links learned from observed packet paths"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadGraph)

	s.mcpServer.AddResource(mcp.NewResource(
		"meshflow://flows",
		"Active Flows",
		mcp.WithResourceDescription("Packet traversals currently animating along links"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadFlows)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"set_policy",
		mcp.WithDescription("Choose whether ambiguous repeaters and endpoints appear in the graph. Changing the policy clears the graph."),
		mcp.WithBoolean("show_ambiguous_repeaters", mcp.Description("Keep path hops whose prefix matches several contacts (default true)")),
		mcp.WithBoolean("show_ambiguous_endpoints", mcp.Description("Keep senders and destinations that cannot be pinned to one contact (default false)")),
	), s.handleSetPolicy)

	s.mcpServer.AddTool(mcp.NewTool(
		"reset_graph",
		mcp.WithDescription("Drop every node except self, all links, flows and pending aggregations."),
	), s.handleResetGraph)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"meshflow-aware",
		mcp.WithPromptDescription("Provides context about meshflow concepts (nodes, links, prefixes, aggregation)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	g, err := s.apiClient.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph: %w", err)
	}
	return jsonContents(request.Params.URI, g)
}

func (s *Server) handleReadFlows(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	flows, err := s.apiClient.Flows(ctx, client.FlowFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flows: %w", err)
	}
	if flows == nil {
		flows = []engine.Traversal{}
	}
	return jsonContents(request.Params.URI, flows)
}

func (s *Server) handleSetPolicy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	current, err := s.apiClient.Policy(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	next := engine.Policy{
		ShowAmbiguousRepeaters: mcp.ParseBoolean(request, "show_ambiguous_repeaters", current.ShowAmbiguousRepeaters),
		ShowAmbiguousEndpoints: mcp.ParseBoolean(request, "show_ambiguous_endpoints", current.ShowAmbiguousEndpoints),
	}
	resp, err := s.apiClient.SetPolicy(ctx, next)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	msg := fmt.Sprintf("Policy: repeaters=%t endpoints=%t\nChanged: %t",
		resp.Policy.ShowAmbiguousRepeaters, resp.Policy.ShowAmbiguousEndpoints, resp.Changed)
	if resp.Changed {
		msg += "\nThe graph was cleared."
	}
	return mcp.NewToolResultText(msg), nil
}

func (s *Server) handleResetGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.apiClient.Reset(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Graph reset. Only %q remains.", graph.SelfID)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "meshflow-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are looking at meshflow, a live graph of a mesh radio network as seen from one receiving node ("self").

Concepts:
- Node: a radio. Ids are the first 12 hex characters of its public key, "name:<n>" for senders known only by name, or "?<prefix>" for an unresolved path hop.
- Path: the 1-byte key prefixes of the repeaters a packet passed through. Prefixes collide, so a hop may match several contacts.
- Aggregation: copies of one message arriving over different routes are merged for a short window before they are drawn.
- Link: an undirected edge between two nodes that appeared next to each other on an observed path.
- Flow: an animated traversal of one hop of a published path.

Use the 'meshflow://graph' resource to inspect topology and 'meshflow://flows' for current traffic.
Use 'set_policy' to show or hide ambiguous nodes; note that it clears the graph.
`

	return mcp.NewGetPromptResult(
		"meshflow-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
