package tools

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapfileprocess/pkg/geometry"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/store"
)

func handleParam() mcp.ToolOption {
	return mcp.WithString("handle",
		mcp.Required(),
		mcp.Description("Document handle returned by document_create or document_load"),
	)
}

func positionParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("latitude", mcp.Description("Latitude in decimal degrees")),
		mcp.WithNumber("longitude", mcp.Description("Longitude in decimal degrees")),
		mcp.WithString("position", mcp.Description(`Position as "lat, lon", DMS or MGRS; used instead of latitude/longitude`)),
	}
}

func (r *Registry) documentCreateTool() mcp.Tool {
	return mcp.NewTool("document_create",
		mcp.WithDescription("Create an empty map document and return its handle"),
		mcp.WithObject("bbox",
			mcp.Description("Optional bounding box with top, left, bottom and right in degrees"),
		),
	)
}

// CreateInput is the document_create input.
type CreateInput struct {
	BBox *osmdoc.BoundingBox `json:"bbox,omitempty"`
}

// HandleResult identifies a stored document.
type HandleResult struct {
	Handle string `json:"handle"`
	Nodes  int    `json:"nodes"`
	Ways   int    `json:"ways"`
}

func (r *Registry) handleDocumentCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_create", func(ctx context.Context, in CreateInput, logger *slog.Logger) (any, error) {
		handle := r.docs.Create()
		if in.BBox != nil {
			err := r.docs.With(handle, func(d *osmdoc.Document) error {
				d.SetBoundingBox(in.BBox.Top, in.BBox.Left, in.BBox.Bottom, in.BBox.Right)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		logger.Info("created document", "handle", handle)
		return HandleResult{Handle: handle}, nil
	})(ctx, req)
}

func (r *Registry) documentLoadTool() mcp.Tool {
	return mcp.NewTool("document_load",
		mcp.WithDescription("Load a map document and return its handle. Files ending in .pbf are read as OSM PBF extracts; .gz, .zst and .lz4 are decompressed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the data directory")),
	)
}

// LoadInput is the document_load input.
type LoadInput struct {
	Path string `json:"path"`
}

func (r *Registry) handleDocumentLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_load", func(ctx context.Context, in LoadInput, logger *slog.Logger) (any, error) {
		path, err := r.resolvePath(in.Path)
		if err != nil {
			return nil, err
		}
		handle, err := r.docs.Load(ctx, path)
		if err != nil {
			return nil, err
		}

		res := HandleResult{Handle: handle}
		err = r.docs.With(handle, func(d *osmdoc.Document) error {
			res.Nodes, res.Ways = d.NodeCount(), d.WayCount()
			return nil
		})
		return res, err
	})(ctx, req)
}

func (r *Registry) documentListTool() mcp.Tool {
	return mcp.NewTool("document_list",
		mcp.WithDescription("List the documents held in memory, oldest first"),
	)
}

func (r *Registry) handleDocumentList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_list", func(ctx context.Context, _ struct{}, logger *slog.Logger) (any, error) {
		list := r.docs.List()
		if list == nil {
			list = []store.Info{}
		}
		return map[string]any{"documents": list}, nil
	})(ctx, req)
}

func (r *Registry) documentSummaryTool() mcp.Tool {
	return mcp.NewTool("document_summary",
		mcp.WithDescription("Summarise a document: node and way counts, bounding box, extent of its nodes and the number of distinct values per tag key"),
		handleParam(),
	)
}

// HandleInput is the input of tools that only need a document.
type HandleInput struct {
	Handle string `json:"handle"`
}

// Summary describes a document.
type Summary struct {
	Handle      string              `json:"handle"`
	Path        string              `json:"path,omitempty"`
	Created     time.Time           `json:"created"`
	Nodes       int                 `json:"nodes"`
	Ways        int                 `json:"ways"`
	OpenWay     osmdoc.ID           `json:"open_way,omitempty"`
	NextID      int64               `json:"next_id"`
	BoundingBox *osmdoc.BoundingBox `json:"bbox,omitempty"`
	Extent      *osmdoc.BoundingBox `json:"extent,omitempty"`
	TagKeys     map[string]int      `json:"tag_keys"`
}

func (r *Registry) handleDocumentSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_summary", func(ctx context.Context, in HandleInput, logger *slog.Logger) (any, error) {
		if in.Handle == "" {
			return nil, NewToolError(ErrMissingParameter, "handle is required")
		}

		s := Summary{Handle: in.Handle, TagKeys: map[string]int{}}
		if info, ok := r.docs.Info(in.Handle); ok {
			s.Path, s.Created = info.Path, info.Created
		}
		err := r.docs.With(in.Handle, func(d *osmdoc.Document) error {
			s.Nodes, s.Ways, s.NextID = d.NodeCount(), d.WayCount(), d.NextID()
			if id, ok := d.ActiveWay(); ok {
				s.OpenWay = id
			}
			if bb, ok := d.BoundingBox(); ok {
				s.BoundingBox = &bb
			}
			if ext, ok := geometry.DocumentBounds(d); ok {
				s.Extent = &ext
			}
			for _, k := range d.Tags().Keys() {
				s.TagKeys[k] = len(d.Tags().Values(k))
			}
			return nil
		})
		return s, err
	})(ctx, req)
}

func (r *Registry) documentCloseTool() mcp.Tool {
	return mcp.NewTool("document_close",
		mcp.WithDescription("Drop a document from memory. Unsaved changes are lost."),
		handleParam(),
	)
}

func (r *Registry) handleDocumentClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_close", func(ctx context.Context, in HandleInput, logger *slog.Logger) (any, error) {
		if !r.docs.Remove(in.Handle) {
			return nil, NewToolError(ErrNotFound, "no document with handle %q", in.Handle)
		}
		logger.Info("closed document", "handle", in.Handle)
		return map[string]any{"handle": in.Handle, "closed": true}, nil
	})(ctx, req)
}

func (r *Registry) addNodeTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Add a standalone node. Standalone nodes are never merged with nearby nodes."),
		handleParam(),
		mcp.WithString("id", mcp.Description("Explicit node id; an existing node with this id is replaced")),
	}, positionParams()...)
	return mcp.NewTool("document_add_node", opts...)
}

// AddNodeInput is the document_add_node input.
type AddNodeInput struct {
	Handle string `json:"handle"`
	ID     string `json:"id,omitempty"`
	Position
}

func (r *Registry) handleAddNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_add_node", func(ctx context.Context, in AddNodeInput, logger *slog.Logger) (any, error) {
		lat, lon, err := in.Resolve()
		if err != nil {
			return nil, err
		}

		var node osmdoc.Node
		err = r.docs.With(in.Handle, func(d *osmdoc.Document) error {
			var id osmdoc.ID
			if in.ID != "" {
				id = d.AddNodeWithID(osmdoc.ID(in.ID), lat, lon)
			} else {
				id = d.AddNode(lat, lon)
			}
			node, _ = d.Node(id)
			return nil
		})
		return node, err
	})(ctx, req)
}

func (r *Registry) buildWayTool() mcp.Tool {
	return mcp.NewTool("document_build_way",
		mcp.WithDescription("Build a complete way. Vertices within the duplicate tolerance of an existing node reuse it; a way whose first and last node match is closed."),
		handleParam(),
		mcp.WithString("id", mcp.Description("Explicit way id; an existing way with this id is replaced")),
		mcp.WithArray("tags",
			mcp.Description(`Tags as [{"k": "highway", "v": "residential"}], applied in order`),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithArray("points",
			mcp.Required(),
			mcp.Description(`Vertices in order. Each is {"latitude", "longitude"}, {"position"} or {"node": id} to reference an existing node`),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

// WayPoint is a vertex given as a position or as an existing node id.
type WayPoint struct {
	Position
	Node string `json:"node,omitempty"`
}

// BuildWayInput is the document_build_way input.
type BuildWayInput struct {
	Handle string       `json:"handle"`
	ID     string       `json:"id,omitempty"`
	Tags   []osmdoc.Tag `json:"tags,omitempty"`
	Points []WayPoint   `json:"points"`
}

// WayResult is a finished way.
type WayResult struct {
	osmdoc.Way
	NewNodes int `json:"new_nodes"`
}

// copyWay detaches a way from its document so it can be encoded after the
// document lock is released.
func copyWay(w *osmdoc.Way) osmdoc.Way {
	cp := *w
	cp.Tags = append(osmdoc.Tags(nil), w.Tags...)
	cp.Nodes = append([]osmdoc.ID(nil), w.Nodes...)
	if w.Bounds != nil {
		b := *w.Bounds
		cp.Bounds = &b
	}
	return cp
}

type vertex struct {
	node     osmdoc.ID
	lat, lon float64
}

func (r *Registry) handleBuildWay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return WithParsedInput(r.logger, "document_build_way", func(ctx context.Context, in BuildWayInput, logger *slog.Logger) (any, error) {
		for _, t := range in.Tags {
			if strings.TrimSpace(t.Key) == "" {
				return nil, NewToolError(ErrInvalidInput, "tag keys must not be empty")
			}
		}

		// Resolve every vertex first so a bad one leaves no half-built way.
		verts := make([]vertex, len(in.Points))
		for i, p := range in.Points {
			if p.Node != "" {
				verts[i].node = osmdoc.ID(p.Node)
				continue
			}
			lat, lon, err := p.Resolve()
			if err != nil {
				return nil, NewToolError(ErrInvalidPosition, "point %d: %v", i, err)
			}
			verts[i].lat, verts[i].lon = lat, lon
		}

		var res WayResult
		err := r.docs.With(in.Handle, func(d *osmdoc.Document) error {
			for i, v := range verts {
				if v.node == "" {
					continue
				}
				if _, ok := d.Node(v.node); !ok {
					return NewToolError(ErrNotFound, "point %d: node %q does not exist", i, v.node)
				}
			}

			before := d.NodeCount()
			var id osmdoc.ID
			if in.ID != "" {
				id = d.BeginWayWithID(osmdoc.ID(in.ID))
			} else {
				id = d.BeginWay()
			}
			for _, t := range in.Tags {
				if err := d.AddTag(t.Key, t.Value); err != nil {
					return err
				}
			}
			for _, v := range verts {
				var err error
				if v.node != "" {
					err = d.AddExistingVertex(v.node)
				} else {
					err = d.AddVertex(v.lat, v.lon)
				}
				if err != nil {
					return err
				}
			}
			if err := d.EndWay(); err != nil {
				return err
			}

			w, _ := d.Way(id)
			res.Way = copyWay(w)
			res.NewNodes = d.NodeCount() - before
			return nil
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("built way", "handle", in.Handle, "way", res.ID, "nodes", len(res.Nodes), "closed", res.Closed)
		return res, nil
	})(ctx, req)
}
