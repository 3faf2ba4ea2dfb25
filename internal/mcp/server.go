// Package mcp exposes the content workflow as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"market-research/backend/internal/auth"
	"market-research/backend/pkg/models"
)

// DefaultOperator is recorded as creator or approver when a tool call carries
// no authenticated operator.
const DefaultOperator = "mcp"

// WorkflowService is the part of the orchestrator the tools drive.
type WorkflowService interface {
	Create(ctx context.Context, title, createdBy, language string) (*models.Workflow, error)
	GetStatus(ctx context.Context, id string) (*models.WorkflowView, error)
	RequestRegeneration(ctx context.Context, id string, phase int) error
	Approve(ctx context.Context, id, approverID string, categoryIDs []string) (*models.ApprovalResult, error)
}

type Server struct {
	mcpServer *server.MCPServer
	workflows WorkflowService
}

func NewServer(workflows WorkflowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Content Workflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
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
			"generate_report",
			mcp.WithDescription("Start generating a market research report. Returns the workflow to poll."),
			mcp.WithString("title", mcp.Required(), mcp.Description("The report title")),
			mcp.WithString("language", mcp.Description("Language code, defaults to en")),
		),
		s.handleGenerateReport,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_status",
			mcp.WithDescription("Get a workflow with its phase jobs and translation children"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleWorkflowStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"regenerate_phase",
			mcp.WithDescription("Discard the output of a phase and generate again from it; later phases re-run in turn"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithNumber("phase", mcp.Required(), mcp.Description("The phase to regenerate")),
		),
		s.handleRegeneratePhase,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_workflow",
			mcp.WithDescription("Approve a workflow pending review and publish its content"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithArray("category_ids",
				mcp.Description("Categories for the report, required for root workflows"),
				mcp.Items(map[string]any{"type": "string"}),
			),
		),
		s.handleApproveWorkflow,
	)
}

func operator(ctx context.Context) string {
	if op := auth.OperatorFrom(ctx); op != "" {
		return op
	}
	return DefaultOperator
}

func (s *Server) handleGenerateReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	title, ok := args["title"].(string)
	if !ok || title == "" {
		return mcp.NewToolResultError("Missing required parameter: title"), nil
	}
	language, _ := args["language"].(string)

	workflow, err := s.workflows.Create(ctx, title, operator(ctx), language)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(workflow)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	view, err := s.workflows.GetStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(view)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRegeneratePhase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	// JSON numbers arrive as float64
	phase, ok := args["phase"].(float64)
	if !ok || phase != float64(int(phase)) {
		return mcp.NewToolResultError("Missing required parameter: phase"), nil
	}

	if err := s.workflows.RequestRegeneration(ctx, id, int(phase)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to regenerate phase: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Regenerating workflow %s from phase %d", id, int(phase))), nil
}

func (s *Server) handleApproveWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	var categoryIDs []string
	if raw, ok := args["category_ids"].([]interface{}); ok {
		for _, v := range raw {
			if cid, ok := v.(string); ok {
				categoryIDs = append(categoryIDs, cid)
			}
		}
	}

	result, err := s.workflows.Approve(ctx, id, operator(ctx), categoryIDs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
