// Package tools exposes document operations as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
	"github.com/NERVsystems/mapfileprocess/pkg/store"
	"github.com/NERVsystems/mapfileprocess/pkg/tracing"
)

// Handler is the signature of an MCP tool handler.
type Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Registry contains all tool definitions and the document store they share.
type Registry struct {
	logger  *slog.Logger
	docs    *store.Store
	dataDir string
}

// NewRegistry creates a registry serving documents from st. A non-empty
// dataDir confines the paths tools may load from and save to.
func NewRegistry(logger *slog.Logger, st *store.Store, dataDir string) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if dataDir != "" {
		if abs, err := filepath.Abs(dataDir); err == nil {
			dataDir = abs
		}
	}
	return &Registry{logger: logger, docs: st, dataDir: dataDir}
}

// ToolDefinition is a tool together with its handler.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     Handler
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	defs := []ToolDefinition{
		{
			Name:        "get_version",
			Description: "Get the version and build information of the server",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},

		// Document lifecycle
		{
			Name:        "document_create",
			Description: "Create an empty map document and return its handle",
			Tool:        r.documentCreateTool(),
			Handler:     r.handleDocumentCreate,
		},
		{
			Name:        "document_load",
			Description: "Load a map document (XML or PBF, optionally compressed) and return its handle",
			Tool:        r.documentLoadTool(),
			Handler:     r.handleDocumentLoad,
		},
		{
			Name:        "document_list",
			Description: "List the documents held in memory",
			Tool:        r.documentListTool(),
			Handler:     r.handleDocumentList,
		},
		{
			Name:        "document_summary",
			Description: "Summarise a document: counts, bounding box and tag keys",
			Tool:        r.documentSummaryTool(),
			Handler:     r.handleDocumentSummary,
		},
		{
			Name:        "document_close",
			Description: "Drop a document from memory",
			Tool:        r.documentCloseTool(),
			Handler:     r.handleDocumentClose,
		},

		// Editing
		{
			Name:        "document_add_node",
			Description: "Add a standalone node to a document",
			Tool:        r.addNodeTool(),
			Handler:     r.handleAddNode,
		},
		{
			Name:        "document_build_way",
			Description: "Build a way from tags and vertices; nearby vertices reuse existing nodes",
			Tool:        r.buildWayTool(),
			Handler:     r.handleBuildWay,
		},

		// Queries
		{
			Name:        "document_query_ways",
			Description: "Find the ways carrying every given tag",
			Tool:        r.queryWaysTool(),
			Handler:     r.handleQueryWays,
		},
		{
			Name:        "document_nodes_near",
			Description: "Find nodes within a radius (in degrees) of a position",
			Tool:        r.nodesNearTool(),
			Handler:     r.handleNodesNear,
		},

		// Output
		{
			Name:        "document_export",
			Description: "Export a document as document XML, standard OSM XML or GeoJSON",
			Tool:        r.exportTool(),
			Handler:     r.handleExport,
		},
		{
			Name:        "document_save",
			Description: "Save a document to disk; the extension selects compression",
			Tool:        r.saveTool(),
			Handler:     r.handleSave,
		},
	}

	return defs
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Debug("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrap(def.Name, def.Handler))
	}
}

// wrap adds a span and request metrics around a tool handler.
func (r *Registry) wrap(toolName string, handler Handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("mcp.tool.%s", toolName),
			trace.WithAttributes(attribute.String(tracing.AttrMCPToolName, toolName)),
		)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(start)

		status := tracing.StatusSuccess
		switch {
		case err != nil:
			status = tracing.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result != nil && result.IsError:
			status = tracing.StatusError
			span.SetStatus(codes.Error, "tool returned an error result")
		default:
			span.SetStatus(codes.Ok, "")
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(tracing.MCPToolAttributes(toolName, status, duration.Milliseconds(), resultSize)...)
		monitoring.RecordMCPRequest(toolName, duration, status == tracing.StatusSuccess)

		r.logger.Debug("tool executed",
			"tool", toolName,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// RegisterAll registers every tool with the MCP server.
func (r *Registry) RegisterAll(mcpServer *server.MCPServer) {
	r.RegisterTools(mcpServer)
	r.logger.Info("registered tools", "count", len(r.GetToolDefinitions()))
}

// resolvePath maps a tool supplied path into the data directory. Paths
// that would leave it are rejected.
func (r *Registry) resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", NewToolError(ErrMissingParameter, "path is required")
	}
	if r.dataDir == "" {
		return filepath.Clean(path), nil
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.dataDir, path)
	}
	rel, err := filepath.Rel(r.dataDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", NewToolError(ErrInvalidPath, "path %q is outside the data directory", path)
	}
	return filepath.Join(r.dataDir, rel), nil
}
