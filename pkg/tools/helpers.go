package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapfileprocess/pkg/coords"
)

// InputParser decodes the request arguments into T.
func InputParser[T any](req mcp.CallToolRequest) (T, error) {
	var input T

	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return input, NewToolError(ErrInvalidInput, "invalid input format: %v", err)
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return input, NewToolError(ErrInvalidInput, "failed to parse input: %v", err)
	}
	return input, nil
}

// WithParsedInput adapts a typed handler into an MCP tool handler. Errors
// returned by handler become coded error results and the value it returns is
// encoded as JSON, except for strings which are returned as is.
func WithParsedInput[T any](
	logger *slog.Logger,
	toolName string,
	handler func(ctx context.Context, input T, logger *slog.Logger) (any, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := logger.With("tool", toolName)

		input, err := InputParser[T](req)
		if err != nil {
			logger.Warn("failed to parse input", "error", err)
			return AsToolError(err).WithExample(toolName).Result(), nil
		}

		result, err := handler(ctx, input, logger)
		if err != nil {
			te := AsToolError(err)
			if te.Code == ErrInternalError {
				logger.Error("handler error", "error", err)
			} else {
				logger.Debug("request rejected", "code", te.Code, "error", err)
			}
			return te.Result(), nil
		}

		if text, ok := result.(string); ok {
			return mcp.NewToolResultText(text), nil
		}
		data, err := json.Marshal(result)
		if err != nil {
			logger.Error("failed to marshal result", "error", err)
			return NewToolError(ErrInternalError, "failed to generate result").Result(), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// Position is a location given either as numbers or as a coordinate string
// in any notation coords.Parse accepts.
type Position struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Position  string   `json:"position,omitempty"`
}

// Resolve returns the latitude and longitude of p.
func (p Position) Resolve() (lat, lon float64, err error) {
	if p.Position != "" {
		res, err := coords.Parse(p.Position)
		if err != nil {
			return 0, 0, err
		}
		return res.Location.Latitude, res.Location.Longitude, nil
	}
	if p.Latitude == nil || p.Longitude == nil {
		return 0, 0, NewToolError(ErrMissingParameter, "latitude and longitude, or position, are required")
	}
	if !coords.ValidLatLon(*p.Latitude, *p.Longitude) {
		return 0, 0, NewToolError(ErrInvalidPosition, "position %f, %f is out of range", *p.Latitude, *p.Longitude).
			WithGuidance("Latitude must be between -90 and 90, longitude between -180 and 180")
	}
	return *p.Latitude, *p.Longitude, nil
}

// ValidateRadius checks that radius is positive, finite and at most max.
func ValidateRadius(radius, max float64) error {
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return NewToolError(ErrInvalidRadius, "radius must be greater than 0, got %v", radius)
	}
	if max > 0 && radius > max {
		return NewToolError(ErrInvalidRadius, "radius must be at most %v, got %v", max, radius)
	}
	return nil
}
