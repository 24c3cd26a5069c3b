package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.New(
		store.WithLogger(quietLogger()),
		store.WithDocumentOptions(osmdoc.WithLogger(quietLogger())),
	)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return NewRegistry(quietLogger(), st, t.TempDir())
}

// call runs a tool through the same wrapper the server uses.
func call(t *testing.T, r *Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	for _, def := range r.GetToolDefinitions() {
		if def.Name != name {
			continue
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		res, err := r.wrap(name, def.Handler)(context.Background(), req)
		if err != nil {
			t.Fatalf("%s returned error: %v", name, err)
		}
		return res
	}
	t.Fatalf("no tool named %s", name)
	return nil
}

func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// AssertSuccessResult fails the test if result is an error result.
func AssertSuccessResult(t *testing.T, result *mcp.CallToolResult, message string) {
	t.Helper()
	if result == nil || result.IsError {
		t.Fatalf("%s. Got error: %s", message, resultText(result))
	}
}

// AssertErrorCode fails the test unless result is an error with code.
func AssertErrorCode(t *testing.T, result *mcp.CallToolResult, code ErrorCode) {
	t.Helper()
	if result == nil || !result.IsError {
		t.Fatalf("expected %s error, got success: %s", code, resultText(result))
	}
	var te ToolError
	if err := json.Unmarshal([]byte(resultText(result)), &te); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if te.Code != code {
		t.Errorf("error code = %s, want %s (%s)", te.Code, code, te.Message)
	}
}

func parseResult(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	AssertSuccessResult(t, result, "unexpected error result")
	if err := json.Unmarshal([]byte(resultText(result)), out); err != nil {
		t.Fatalf("parse result: %v\n%s", err, resultText(result))
	}
}

func createDocument(t *testing.T, r *Registry) string {
	t.Helper()
	var res HandleResult
	parseResult(t, call(t, r, "document_create", nil), &res)
	if res.Handle == "" {
		t.Fatal("empty handle")
	}
	return res.Handle
}
