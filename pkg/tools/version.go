package tools

import (
	"context"
	"encoding/json"
	"runtime"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/version"
)

// VersionInfo is the get_version payload.
type VersionInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit,omitempty"`
	BuildDate   string `json:"build_date,omitempty"`
	GoVersion   string `json:"go_version"`
	WireVersion string `json:"wire_version"`
	Generator   string `json:"generator"`
}

// GetVersionTool returns the get_version tool definition.
func GetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the version and build information of the server"),
	)
}

// HandleGetVersion reports build information.
func HandleGetVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := VersionInfo{
		Version:     version.BuildVersion,
		Commit:      version.BuildCommit,
		BuildDate:   version.BuildDate,
		GoVersion:   runtime.Version(),
		WireVersion: osmdoc.WireVersion,
		Generator:   osmdoc.Generator,
	}

	data, err := json.Marshal(info)
	if err != nil {
		return NewToolError(ErrInternalError, "failed to retrieve version information").Result(), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
