// Package mcp exposes the gateway as an MCP server over SSE or stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mcp-gateway/backend/internal/services"
	"mcp-gateway/backend/pkg/models"
)

// Tool names exposed to MCP clients.
const (
	ToolCallTool        = "gateway_callTool"
	ToolExecuteWorkflow = "orchestrator_executeWorkflow"
	ToolSystemHealth    = "system_health"
	ToolListServices    = "system_listServices"
)

type Server struct {
	mcpServer *server.MCPServer
	gateway   services.Gateway
}

func NewServer(gateway services.Gateway) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"MCP Gateway",
			services.Version,
			server.WithToolCapabilities(true),
		),
		gateway: gateway,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			ToolCallTool,
			mcp.WithDescription("Call a tool on the backend registered for a namespace, e.g. namespace \"os.linux\" and tool \"runCommand\""),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("The namespace of the backend that owns the tool")),
			mcp.WithString("tool", mcp.Required(), mcp.Description("The tool name within the namespace")),
			mcp.WithObject("arguments", mcp.Description("Arguments passed to the tool")),
			mcp.WithString("correlationId", mcp.Description("Optional correlation id to propagate")),
		),
		s.handleCallTool,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			ToolExecuteWorkflow,
			mcp.WithDescription("Execute steps in order, stopping at the first failure. Step arguments may reference earlier outputs with ${steps[N].output.field}"),
			mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition: {id, name, steps:[{namespace, tool, arguments}]}")),
			mcp.WithString("correlationId", mcp.Description("Optional correlation id shared by every step")),
		),
		s.handleExecuteWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			ToolSystemHealth,
			mcp.WithDescription("Probe every registered backend and report its health"),
		),
		s.handleSystemHealth,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			ToolListServices,
			mcp.WithDescription("List the registered namespaces and their addresses"),
		),
		s.handleListServices,
	)
}

func (s *Server) handleCallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	namespace, ok := args["namespace"].(string)
	if !ok || namespace == "" {
		return mcp.NewToolResultError("Missing required parameter: namespace"), nil
	}
	tool, ok := args["tool"].(string)
	if !ok || tool == "" {
		return mcp.NewToolResultError("Missing required parameter: tool"), nil
	}
	var toolArgs map[string]any
	if raw, present := args["arguments"]; present && raw != nil {
		if toolArgs, ok = raw.(map[string]interface{}); !ok {
			return mcp.NewToolResultError("Parameter arguments must be an object"), nil
		}
	}
	correlationID, _ := args["correlationId"].(string)

	result := s.gateway.CallTool(ctx, models.ToolRequest{
		Namespace:     namespace,
		Tool:          tool,
		Arguments:     toolArgs,
		CorrelationID: correlationID,
	})

	jsonBytes, _ := json.Marshal(result)
	if !result.Success {
		return mcp.NewToolResultError(string(jsonBytes)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleExecuteWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	raw, ok := args["workflow"].(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: workflow"), nil
	}
	// Re-decode through JSON so step aliases are honoured.
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid workflow: %v", err)), nil
	}
	var def models.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid workflow: %v", err)), nil
	}
	if id, _ := args["correlationId"].(string); id != "" {
		def.CorrelationID = id
	}

	report := s.gateway.ExecuteWorkflow(ctx, def)

	jsonBytes, _ := json.Marshal(report)
	if report.Status != models.ExecutionCompleted {
		return mcp.NewToolResultError(string(jsonBytes)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSystemHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(map[string]any{
		"gateway":  s.gateway.Liveness(),
		"backends": s.gateway.BackendHealth(ctx),
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListServices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.gateway.Services())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// Transports holds the HTTP transports mounted by MountHTTPHandlers.
type Transports struct {
	SSE        *server.SSEServer
	Streamable *server.StreamableHTTPServer
}

// Shutdown closes open SSE streams and streamable HTTP sessions.
func (t *Transports) Shutdown(ctx context.Context) error {
	return errors.Join(t.SSE.Shutdown(ctx), t.Streamable.Shutdown(ctx))
}

// MountHTTPHandlers serves the streamable HTTP transport at /mcp and the SSE
// transport at /mcp/sse and /mcp/message. baseURL is the externally visible
// address SSE clients post messages to.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer, baseURL string) *Transports {
	opts := []server.SSEOption{server.WithStaticBasePath("/mcp")}
	if baseURL != "" {
		opts = append(opts, server.WithBaseURL(baseURL))
	}
	t := &Transports{
		SSE:        server.NewSSEServer(mcpServer, opts...),
		Streamable: server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp")),
	}

	mux.Handle("/mcp", t.Streamable)
	mux.HandleFunc("/mcp/sse", t.SSE.ServeHTTP)
	mux.HandleFunc("/mcp/message", t.SSE.ServeHTTP)
	return t
}

// ServeStdio speaks MCP over in/out until ctx is done or in is closed.
func ServeStdio(ctx context.Context, mcpServer *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(mcpServer).Listen(ctx, in, out)
}
