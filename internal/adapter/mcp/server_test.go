package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/Strob0t/FeedbackForge/internal/adapter/mcp"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/domain/tool"
)

// --- Mocks ---

type mockInvoker struct {
	name string
	args json.RawMessage
	out  any
	err  error
}

func (m *mockInvoker) Invoke(_ context.Context, name string, args json.RawMessage) (any, error) {
	m.name, m.args = name, args
	return m.out, m.err
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Addr: ":3001", Name: "test-server", Version: "0.1.0"}, cfmcp.ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test-server", Version: "0.1.0"}, cfmcp.ServerDeps{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	if len(tools) != len(tool.Names())+2 {
		t.Fatalf("expected %d tools, got %d", len(tool.Names())+2, len(tools))
	}
	for _, name := range []string{"list_feedback", "export_feedback"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
	for _, name := range tool.Names() {
		st, ok := tools[name]
		if !ok {
			t.Errorf("expected tool %q not registered", name)
			continue
		}
		if st.Tool.Description == "" {
			t.Errorf("tool %q has no description", name)
		}
		if len(st.Tool.RawInputSchema) == 0 {
			t.Errorf("tool %q has no input schema", name)
		}
	}
}

func callTool(t *testing.T, s *cfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	st, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	res, err := st.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return res
}

func TestHandleToolForwardsArguments(t *testing.T) {
	inv := &mockInvoker{out: feedback.Stats{Total: 2, AverageRating: 90}}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{Tools: inv})

	res := callTool(t, s, "feedback_stats", map[string]any{"domain": "finder.test"})
	if res.IsError {
		t.Fatalf("tool returned error: %v", res.Content)
	}
	if inv.name != "feedback_stats" {
		t.Errorf("invoked %q", inv.name)
	}
	var args map[string]string
	if err := json.Unmarshal(inv.args, &args); err != nil || args["domain"] != "finder.test" {
		t.Errorf("unexpected args %s (%v)", inv.args, err)
	}

	text, ok := res.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var stats feedback.Stats
	if err := json.Unmarshal([]byte(text.Text), &stats); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if stats.Total != 2 || stats.AverageRating != 90 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestHandleToolFailedSubmissionIsError(t *testing.T) {
	inv := &mockInvoker{out: feedback.SubmitResult{Status: feedback.StatusError, Error: "rating out of range"}}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{Tools: inv})

	res := callTool(t, s, "submit_feedback", map[string]any{"rating": 6, "domain": "a.test"})
	if !res.IsError {
		t.Fatal("expected error result for failed submission")
	}
	text := res.Content[0].(mcplib.TextContent)
	if !json.Valid([]byte(text.Text)) {
		t.Errorf("result should still carry the JSON body, got %q", text.Text)
	}
}

func TestHandleToolInvokeError(t *testing.T) {
	inv := &mockInvoker{err: errors.New("chain unreachable")}
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{Tools: inv})

	if res := callTool(t, s, "resolve_agent", map[string]any{"domain": "x"}); !res.IsError {
		t.Fatal("expected error result")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})
	if res := callTool(t, s, "feedback_stats", nil); !res.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name    string
		key     string
		headers map[string]string
		want    int
	}{
		{"disabled", "", nil, http.StatusNoContent},
		{"missing", "secret", nil, http.StatusUnauthorized},
		{"bearer", "secret", map[string]string{"Authorization": "Bearer secret"}, http.StatusNoContent},
		{"header", "secret", map[string]string{"X-API-Key": "secret"}, http.StatusNoContent},
		{"wrong", "secret", map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			cfmcp.AuthMiddleware(tt.key, ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHandlerRequiresKey(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0", APIKey: "secret"}, cfmcp.ServerDeps{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, cfmcp.EndpointPath, http.NoBody))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
