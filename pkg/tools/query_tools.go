package tools

import (
	"context"
	"encoding/xml"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapfileprocess/pkg/convert"
	"github.com/NERVsystems/mapfileprocess/pkg/geometry"
	"github.com/NERVsystems/mapfileprocess/pkg/mapfile"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/tracing"
)

const (
	// DefaultNearRadius is the document_nodes_near radius in degrees,
	// roughly 10 m at the equator.
	DefaultNearRadius = 0.0001
	// MaxNearRadius bounds document_nodes_near.
	MaxNearRadius = 1.0
)

func (r *Registry) queryWaysTool() mcp.Tool {
	return mcp.NewTool("document_query_ways",
		mcp.WithDescription("Find the ways carrying every given tag. Ways are returned in the order they were created."),
		handleParam(),
		mcp.WithArray("tags",
			mcp.Required(),
			mcp.Description(`Tag predicates as [{"k": "highway", "v": "residential"}]; all must match`),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithString("format",
			mcp.Description("ways (default) or geojson"),
			mcp.Enum("ways", "geojson"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum number of ways to return, 0 for all")),
	)
}

// QueryInput is the document_query_ways input.
type QueryInput struct {
	Handle string       `json:"handle"`
	Tags   []osmdoc.Tag `json:"tags"`
	Format string       `json:"format,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// QueryResult lists matching ways.
type QueryResult struct {
	Count int          `json:"count"`
	Ways  []osmdoc.Way `json:"ways"`
}

func (r *Registry) handleQueryWays(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_query_ways", func(ctx context.Context, in QueryInput, logger *slog.Logger) (any, error) {
		if len(in.Tags) == 0 {
			return nil, NewToolError(ErrMissingParameter, "at least one tag predicate is required")
		}
		if in.Format != "" && in.Format != "ways" && in.Format != "geojson" {
			return nil, NewToolError(ErrInvalidInput, "unknown format %q", in.Format).
				WithGuidance("Use ways or geojson")
		}
		if in.Limit < 0 {
			return nil, NewToolError(ErrInvalidInput, "limit must not be negative")
		}

		var out any
		err := r.docs.With(in.Handle, func(d *osmdoc.Document) error {
			ways := d.WaysMatching(in.Tags...)
			if ways == nil {
				ways = []*osmdoc.Way{}
			}
			total := len(ways)
			tracing.SetAttributes(ctx, tracing.QueryAttributes(len(in.Tags), total)...)
			if in.Limit > 0 && len(ways) > in.Limit {
				ways = ways[:in.Limit]
			}

			if in.Format == "geojson" {
				data, err := geometry.FeatureCollection(d, ways).MarshalJSON()
				if err != nil {
					return err
				}
				out = string(data)
				return nil
			}

			res := QueryResult{Count: total, Ways: make([]osmdoc.Way, len(ways))}
			for i, w := range ways {
				res.Ways[i] = copyWay(w)
			}
			out = res
			return nil
		})
		return out, err
	})(ctx, req)
}

func (r *Registry) nodesNearTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Find nodes within a planar radius, in degrees, of a position"),
		handleParam(),
		mcp.WithNumber("radius",
			mcp.Description("Search radius in degrees (max 1)"),
			mcp.DefaultNumber(DefaultNearRadius),
		),
	}, positionParams()...)
	return mcp.NewTool("document_nodes_near", opts...)
}

// NearInput is the document_nodes_near input.
type NearInput struct {
	Handle string   `json:"handle"`
	Radius *float64 `json:"radius,omitempty"`
	Position
}

// NearResult lists nodes around a position.
type NearResult struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Radius    float64       `json:"radius"`
	Count     int           `json:"count"`
	Nodes     []osmdoc.Node `json:"nodes"`
}

func (r *Registry) handleNodesNear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_nodes_near", func(ctx context.Context, in NearInput, logger *slog.Logger) (any, error) {
		lat, lon, err := in.Resolve()
		if err != nil {
			return nil, err
		}
		radius := DefaultNearRadius
		if in.Radius != nil {
			radius = *in.Radius
		}
		if err := ValidateRadius(radius, MaxNearRadius); err != nil {
			return nil, err
		}

		res := NearResult{Latitude: lat, Longitude: lon, Radius: radius}
		err = r.docs.With(in.Handle, func(d *osmdoc.Document) error {
			res.Nodes = d.NodesNear(lat, lon, radius)
			return nil
		})
		if res.Nodes == nil {
			res.Nodes = []osmdoc.Node{}
		}
		res.Count = len(res.Nodes)
		return res, err
	})(ctx, req)
}

func (r *Registry) exportTool() mcp.Tool {
	return mcp.NewTool("document_export",
		mcp.WithDescription("Export a document as document XML, standard OSM XML or GeoJSON"),
		handleParam(),
		mcp.WithString("format",
			mcp.Description("document (default), osm or geojson. osm requires numeric ids."),
			mcp.Enum("document", "osm", "geojson"),
		),
		mcp.WithBoolean("compute_bounds",
			mcp.Description("Compute the bounding box of every way from its nodes before exporting"),
		),
	)
}

// ExportInput is the document_export input.
type ExportInput struct {
	Handle        string `json:"handle"`
	Format        string `json:"format,omitempty"`
	ComputeBounds bool   `json:"compute_bounds,omitempty"`
}

func (r *Registry) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_export", func(ctx context.Context, in ExportInput, logger *slog.Logger) (any, error) {
		var out string
		err := r.docs.With(in.Handle, func(d *osmdoc.Document) error {
			if in.ComputeBounds {
				geometry.ComputeWayBounds(d)
			}

			switch in.Format {
			case "", "document":
				data, err := d.Serialize()
				if err != nil {
					return err
				}
				out = string(data)
			case "osm":
				o, err := convert.ToOSM(d)
				if err != nil {
					return NewToolError(ErrUnsupported, "%v", err).
						WithGuidance("Standard OSM XML needs numeric ids; export as document instead")
				}
				data, err := xml.MarshalIndent(o, "", "  ")
				if err != nil {
					return err
				}
				out = xml.Header + string(data)
			case "geojson":
				data, err := geometry.FeatureCollection(d, nil).MarshalJSON()
				if err != nil {
					return err
				}
				out = string(data)
			default:
				return NewToolError(ErrInvalidInput, "unknown format %q", in.Format).
					WithGuidance("Use document, osm or geojson")
			}
			return nil
		})
		return out, err
	})(ctx, req)
}

func (r *Registry) saveTool() mcp.Tool {
	return mcp.NewTool("document_save",
		mcp.WithDescription("Save a document as document XML. A .gz, .zst or .lz4 extension compresses the file."),
		handleParam(),
		mcp.WithString("path", mcp.Required(), mcp.Description("Destination path, relative to the data directory")),
	)
}

// SaveInput is the document_save input.
type SaveInput struct {
	Handle string `json:"handle"`
	Path   string `json:"path"`
}

func (r *Registry) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_save", func(ctx context.Context, in SaveInput, logger *slog.Logger) (any, error) {
		path, err := r.resolvePath(in.Path)
		if err != nil {
			return nil, err
		}

		var res HandleResult
		err = r.docs.With(in.Handle, func(d *osmdoc.Document) error {
			res = HandleResult{Handle: in.Handle, Nodes: d.NodeCount(), Ways: d.WayCount()}
			return mapfile.Save(ctx, path, d)
		})
		if err != nil {
			return nil, err
		}
		if err := r.docs.SetPath(in.Handle, path); err != nil {
			return nil, err
		}

		logger.Info("saved document", "handle", in.Handle, "path", path)
		return map[string]any{
			"handle":      res.Handle,
			"path":        path,
			"nodes":       res.Nodes,
			"ways":        res.Ways,
			"compression": string(mapfile.CompressionFor(path)),
		}, nil
	})(ctx, req)
}
