package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys
const (
	// MCP tool attributes
	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.tool.result_size"

	// Document attributes
	AttrDocumentHandle = "mapfile.document.handle"
	AttrDocumentNodes  = "mapfile.document.nodes"
	AttrDocumentWays   = "mapfile.document.ways"

	// File attributes
	AttrFilePath        = "mapfile.file.path"
	AttrFileCompression = "mapfile.file.compression"
	AttrFileBytes       = "mapfile.file.bytes"

	// Query attributes
	AttrQueryPredicates = "mapfile.query.predicates"
	AttrQueryMatched    = "mapfile.query.matched"

	// Store attributes
	AttrStoreHit    = "mapfile.store.hit"
	AttrStoreShared = "mapfile.store.shared"

	// HTTP transport attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"
	AttrHTTPSessionID  = "http.session_id"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusRateLimited = "rate_limited"
)

// MCPToolAttributes returns attributes for MCP tool execution
func MCPToolAttributes(toolName string, status string, durationMs int64, resultSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMCPToolName, toolName),
		attribute.String(AttrMCPToolStatus, status),
		attribute.Int64(AttrMCPToolDuration, durationMs),
		attribute.Int(AttrMCPResultSize, resultSize),
	}
}

// DocumentAttributes describes a document by handle and size.
func DocumentAttributes(handle string, nodes, ways int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDocumentHandle, handle),
		attribute.Int(AttrDocumentNodes, nodes),
		attribute.Int(AttrDocumentWays, ways),
	}
}

// FileAttributes describes a map file read or write.
func FileAttributes(path, compression string, bytes int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrFilePath, path),
		attribute.String(AttrFileCompression, compression),
		attribute.Int64(AttrFileBytes, bytes),
	}
}

// QueryAttributes describes a tag query.
func QueryAttributes(predicates, matched int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrQueryPredicates, predicates),
		attribute.Int(AttrQueryMatched, matched),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
