package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapfileprocess/pkg/coords"
	"github.com/NERVsystems/mapfileprocess/pkg/mapfile"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/store"
)

// ErrorCode classifies a tool failure.
type ErrorCode string

const (
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrMissingParameter ErrorCode = "MISSING_PARAMETER"
	ErrInvalidPosition  ErrorCode = "INVALID_POSITION"
	ErrInvalidRadius    ErrorCode = "INVALID_RADIUS"
	ErrInvalidPath      ErrorCode = "INVALID_PATH"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInvalidState     ErrorCode = "INVALID_STATE"
	ErrParseError       ErrorCode = "PARSE_ERROR"
	ErrUnsupported      ErrorCode = "UNSUPPORTED"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// ToolError is the JSON error payload returned by tools.
type ToolError struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Guidance string    `json:"guidance,omitempty"`
	Example  string    `json:"example,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewToolError creates a ToolError.
func NewToolError(code ErrorCode, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithGuidance adds a hint on how to fix the request.
func (e *ToolError) WithGuidance(guidance string) *ToolError {
	e.Guidance = guidance
	return e
}

// WithExample attaches the usage example of a tool.
func (e *ToolError) WithExample(toolName string) *ToolError {
	e.Example = UsageExample(toolName)
	return e
}

// Result converts the error into an MCP error result.
func (e *ToolError) Result() *mcp.CallToolResult {
	data, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ERROR: %s - %s", e.Code, e.Message))
	}
	return mcp.NewToolResultError(string(data))
}

// AsToolError classifies err. Errors that already are ToolErrors are
// returned unchanged.
func AsToolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	var pe *osmdoc.PreconditionError
	switch {
	case errors.As(err, &pe):
		return NewToolError(ErrInvalidState, "%v", err).
			WithGuidance("Begin a way before adding tags or vertices")
	case errors.Is(err, store.ErrNotFound):
		return NewToolError(ErrNotFound, "%v", err).
			WithGuidance("Create or load the document again; unused documents are evicted")
	case errors.Is(err, os.ErrNotExist):
		return NewToolError(ErrNotFound, "%v", err)
	case errors.Is(err, coords.ErrUnrecognized):
		return NewToolError(ErrInvalidPosition, "%v", err).
			WithGuidance(`Use "lat, lon", DMS or an MGRS reference`)
	case errors.Is(err, mapfile.ErrUnsupportedFormat):
		return NewToolError(ErrUnsupported, "%v", err).
			WithGuidance("Documents are saved as XML, optionally with .gz, .zst or .lz4")
	case errors.Is(err, osmdoc.ErrNoRoot):
		return NewToolError(ErrParseError, "%v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewToolError(ErrTimeout, "%v", err)
	default:
		return NewToolError(ErrInternalError, "%v", err)
	}
}

// UsageExample returns example arguments for a tool.
func UsageExample(toolName string) string {
	examples := map[string]string{
		"document_load": `{"path": "paris.osm.zst"}`,
		"document_add_node": `{
  "handle": "7c4a8d09-...",
  "position": "48.8584, 2.2945"
}`,
		"document_build_way": `{
  "handle": "7c4a8d09-...",
  "tags": [{"k": "highway", "v": "residential"}],
  "points": [
    {"latitude": 48.8584, "longitude": 2.2945},
    {"position": "48°51'31\"N 2°17'42\"E"},
    {"node": "1"}
  ]
}`,
		"document_query_ways": `{
  "handle": "7c4a8d09-...",
  "tags": [{"k": "highway", "v": "residential"}],
  "format": "geojson"
}`,
		"document_nodes_near": `{
  "handle": "7c4a8d09-...",
  "position": "31UDQ4825111932",
  "radius": 0.001
}`,
		"document_export": `{"handle": "7c4a8d09-...", "format": "geojson"}`,
		"document_save":   `{"handle": "7c4a8d09-...", "path": "paris.osm.gz"}`,
	}
	if example, ok := examples[toolName]; ok {
		return example
	}
	return `{"handle": "7c4a8d09-..."}`
}
