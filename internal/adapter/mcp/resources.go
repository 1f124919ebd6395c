package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// Resource URIs.
const (
	ResourceExport = "feedback://export"
	ResourceStats  = "feedback://stats"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			ResourceExport,
			"Feedback Export",
			mcplib.WithResourceDescription("All recorded feedback in the public export shape, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleExportResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			ResourceStats,
			"Feedback Stats",
			mcplib.WithResourceDescription("Totals and average rating across all feedback"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)
}

func (s *Server) handleExportResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Feedback == nil {
		return jsonContents(req.Params.URI, `{"error":"feedback reader not configured"}`), nil
	}
	entries, err := s.deps.Feedback.Export(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleStatsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Feedback == nil {
		return jsonContents(req.Params.URI, `{"error":"feedback reader not configured"}`), nil
	}
	stats, err := s.deps.Feedback.Stats(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
