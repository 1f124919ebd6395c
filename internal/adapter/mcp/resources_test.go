package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
)

type stubReader struct {
	records []feedback.Record
	entries []feedback.ExportEntry
	stats   feedback.Stats
	err     error
}

func (r *stubReader) List(_ context.Context, d string) ([]feedback.Record, error) {
	var out []feedback.Record
	for _, rec := range r.records {
		if d == "" || rec.Domain == d {
			out = append(out, rec)
		}
	}
	return out, r.err
}
func (r *stubReader) Export(context.Context) ([]feedback.ExportEntry, error) { return r.entries, r.err }
func (r *stubReader) Stats(context.Context, ...string) (feedback.Stats, error) {
	return r.stats, r.err
}

func readRequest(uri string) mcplib.ReadResourceRequest {
	var req mcplib.ReadResourceRequest
	req.Params.URI = uri
	return req
}

func TestExportResource(t *testing.T) {
	s := NewServer(ServerConfig{Name: "test", Version: "0.1.0"}, ServerDeps{Feedback: &stubReader{
		entries: []feedback.ExportEntry{{Domain: "a.test", Rating: 80}},
	}})

	out, err := s.handleExportResource(context.Background(), readRequest(ResourceExport))
	if err != nil {
		t.Fatal(err)
	}
	text := out[0].(mcplib.TextResourceContents)
	if text.URI != ResourceExport || text.MIMEType != "application/json" {
		t.Errorf("unexpected contents %+v", text)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(text.Text), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0]["Domain"] != "a.test" {
		t.Errorf("unexpected export %v", entries)
	}
}

func TestStatsResource(t *testing.T) {
	s := NewServer(ServerConfig{Name: "test", Version: "0.1.0"}, ServerDeps{Feedback: &stubReader{
		stats: feedback.Stats{Total: 3},
	}})
	out, err := s.handleStatsResource(context.Background(), readRequest(ResourceStats))
	if err != nil {
		t.Fatal(err)
	}
	var stats feedback.Stats
	if err := json.Unmarshal([]byte(out[0].(mcplib.TextResourceContents).Text), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
}

func TestResourceErrors(t *testing.T) {
	s := NewServer(ServerConfig{Name: "test", Version: "0.1.0"}, ServerDeps{Feedback: &stubReader{err: errors.New("disk")}})
	if _, err := s.handleExportResource(context.Background(), readRequest(ResourceExport)); err == nil {
		t.Error("expected export error")
	}

	s = NewServer(ServerConfig{Name: "test", Version: "0.1.0"}, ServerDeps{})
	out, err := s.handleStatsResource(context.Background(), readRequest(ResourceStats))
	if err != nil {
		t.Fatal(err)
	}
	if text := out[0].(mcplib.TextResourceContents).Text; text == "" {
		t.Error("expected an error document")
	}
}

func TestListFeedbackTool(t *testing.T) {
	s := NewServer(ServerConfig{Name: "test", Version: "0.1.0"}, ServerDeps{Feedback: &stubReader{
		records: []feedback.Record{{ID: 2, Domain: "b.test"}, {ID: 1, Domain: "a.test"}},
	}})

	var req mcplib.CallToolRequest
	req.Params.Arguments = map[string]any{"domain": "a.test"}
	res, err := s.handleListFeedback(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	var recs []feedback.Record
	if err := json.Unmarshal([]byte(res.Content[0].(mcplib.TextContent).Text), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != 1 {
		t.Errorf("unexpected records %+v", recs)
	}

	req.Params.Arguments = map[string]any{"domain": "none.test"}
	res, err = s.handleListFeedback(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if text := res.Content[0].(mcplib.TextContent).Text; text != "[]" {
		t.Errorf("expected empty array, got %s", text)
	}
}

func TestExportFeedbackTool(t *testing.T) {
	s := NewServer(ServerConfig{Name: "test", Version: "0.1.0"}, ServerDeps{Feedback: &stubReader{err: errors.New("disk")}})
	res, err := s.handleExportFeedback(context.Background(), mcplib.CallToolRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected error result")
	}
}
