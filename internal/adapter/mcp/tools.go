package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/domain/tool"
)

// registerTools registers one MCP tool per agent tool, with the agent's own
// argument schema, plus the read-only feedback tools.
func (s *Server) registerTools() {
	names := tool.Names()
	tools := make([]mcpserver.ServerTool, 0, len(names))
	for _, n := range names {
		name := tool.Name(n)
		schema, _ := tool.Schema(name)
		tools = append(tools, mcpserver.ServerTool{
			Tool:    mcplib.NewToolWithRawSchema(n, tool.Description(name), json.RawMessage(schema)),
			Handler: s.toolHandler(name),
		})
	}
	tools = append(tools,
		mcpserver.ServerTool{
			Tool: mcplib.NewTool("list_feedback",
				mcplib.WithDescription("List recorded feedback, newest first"),
				mcplib.WithString("domain", mcplib.Description("Only feedback for this agent domain")),
			),
			Handler: s.handleListFeedback,
		},
		mcpserver.ServerTool{
			Tool:    mcplib.NewTool("export_feedback", mcplib.WithDescription("Export all feedback in the public feedback.json shape")),
			Handler: s.handleExportFeedback,
		},
	)
	s.mcpServer.AddTools(tools...)
}

func (s *Server) handleListFeedback(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Feedback == nil {
		return mcplib.NewToolResultError("feedback reader not configured"), nil
	}
	d, _ := req.GetArguments()["domain"].(string)
	recs, err := s.deps.Feedback.List(ctx, d)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list feedback", err), nil
	}
	if recs == nil {
		recs = []feedback.Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal feedback", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleExportFeedback(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Feedback == nil {
		return mcplib.NewToolResultError("feedback reader not configured"), nil
	}
	entries, err := s.deps.Feedback.Export(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to export feedback", err), nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal export", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) toolHandler(name tool.Name) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		if s.deps.Tools == nil {
			return mcplib.NewToolResultError("tool service not configured"), nil
		}
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to marshal arguments", err), nil
		}
		out, err := s.deps.Tools.Invoke(ctx, string(name), args)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("%s failed", name), err), nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
		}
		res := toolResultJSON(string(data))
		if r, ok := out.(feedback.SubmitResult); ok && r.Status == feedback.StatusError {
			res.IsError = true
		}
		return res, nil
	}
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
