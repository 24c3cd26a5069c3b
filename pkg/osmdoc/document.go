// Package osmdoc is an in-memory map document of nodes and ways that reads
// and writes the OSM XML interchange format.
//
// A Document is built incrementally. Nodes are added directly with AddNode,
// or implicitly through the way builder: BeginWay opens a way, AddVertex
// resolves a coordinate to a node (reusing any node within the duplicate
// epsilon), AddTag records tags and EndWay closes the way. Tags feed an
// inverted index answering AND-combined tag queries through WaysMatching.
//
// A Document has no internal locking and must be used by one goroutine at a
// time.
package osmdoc

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/NERVsystems/mapfileprocess/pkg/spatial"
)

// SpatialIndex is the proximity index a Document consults to deduplicate
// vertices. Near may return candidates in any order; the first one still
// registered at its reported position is used.
type SpatialIndex interface {
	Insert(lat, lon float64, id ID)
	Near(lat, lon, radius float64) []spatial.Match[ID]
}

// Node is a single point.
type Node struct {
	ID  ID      `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is the extent of a document or a way.
type BoundingBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// String renders the box the way the bound element stores it:
// top,left,bottom,right.
func (b BoundingBox) String() string {
	parts := []string{
		formatFloat(b.Top),
		formatFloat(b.Left),
		formatFloat(b.Bottom),
		formatFloat(b.Right),
	}
	return strings.Join(parts, ",")
}

// Way is an ordered sequence of node references with tags.
type Way struct {
	ID    ID   `json:"id"`
	Tags  Tags `json:"tags"`
	Nodes []ID `json:"nodes"`

	// Closed is set by EndWay: true when the way starts and ends on the same node.
	Closed bool `json:"closed"`

	// Finished is false for the active way and for ways abandoned by a
	// second BeginWay.
	Finished bool `json:"finished"`

	// Bounds is filled by an external pass, see SetWayBounds.
	Bounds *BoundingBox `json:"bounds,omitempty"`
}

// Document holds the node and way registries, the optional bounding box and
// the tag index.
type Document struct {
	ids     *Allocator
	epsilon float64
	index   SpatialIndex
	logger  *slog.Logger
	hooks   *Hooks

	nodes     map[ID]Node
	nodeOrder []ID

	ways     map[ID]*Way
	wayOrder []ID
	wayPos   map[ID]uint32

	bounds *BoundingBox
	tags   *TagIndex

	builder builder
}

// New creates an empty document.
func New(opts ...Option) *Document {
	d := &Document{
		ids:     NewAllocator(DefaultIDStart),
		epsilon: DefaultDuplicateEpsilon,
		index:   spatial.NewBucketGrid[ID](spatial.DefaultCellSize),
		logger:  slog.Default(),
		nodes:   make(map[ID]Node),
		ways:    make(map[ID]*Way),
		wayPos:  make(map[ID]uint32),
		tags:    NewTagIndex(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddNode stores a node at (lat, lon) under a freshly allocated id.
// Coordinates are not validated and no deduplication happens.
func (d *Document) AddNode(lat, lon float64) ID {
	return d.AddNodeWithID(d.ids.Next(), lat, lon)
}

// AddNodeWithID stores a node under id, silently replacing any node that
// already has it. A numeric id moves the allocator past it.
func (d *Document) AddNodeWithID(id ID, lat, lon float64) ID {
	d.ids.Observe(id)
	if _, exists := d.nodes[id]; !exists {
		d.nodeOrder = append(d.nodeOrder, id)
	}
	d.nodes[id] = Node{ID: id, Lat: lat, Lon: lon}
	d.index.Insert(lat, lon, id)
	d.hooks.nodeCreated(id)
	return id
}

// Node returns the node stored under id.
func (d *Document) Node(id ID) (Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (d *Document) Nodes() []Node {
	out := make([]Node, 0, len(d.nodeOrder))
	for _, id := range d.nodeOrder {
		out = append(out, d.nodes[id])
	}
	return out
}

// NodesNear returns the nodes within radius degrees of (lat, lon), in the
// order the spatial index reports them. Index entries left behind by
// overwritten nodes are dropped.
func (d *Document) NodesNear(lat, lon, radius float64) []Node {
	var out []Node
	seen := make(map[ID]struct{})
	for _, m := range d.index.Near(lat, lon, radius) {
		n, ok := d.live(m)
		if !ok {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

// live resolves an index match to its node. Entries left behind when a node
// was replaced at another position do not resolve.
func (d *Document) live(m spatial.Match[ID]) (Node, bool) {
	n, ok := d.nodes[m.Payload]
	if !ok || n.Lat != m.Point.Lat() || n.Lon != m.Point.Lon() {
		return Node{}, false
	}
	return n, true
}

// NodeCount returns the number of nodes.
func (d *Document) NodeCount() int {
	return len(d.nodes)
}

// Way returns the way stored under id.
func (d *Document) Way(id ID) (*Way, bool) {
	w, ok := d.ways[id]
	return w, ok
}

// Ways returns every way in insertion order, including an active one.
func (d *Document) Ways() []*Way {
	out := make([]*Way, 0, len(d.wayOrder))
	for _, id := range d.wayOrder {
		out = append(out, d.ways[id])
	}
	return out
}

// WayCount returns the number of ways.
func (d *Document) WayCount() int {
	return len(d.ways)
}

// SetBoundingBox sets the document extent.
func (d *Document) SetBoundingBox(top, left, bottom, right float64) {
	d.bounds = &BoundingBox{Top: top, Left: left, Bottom: bottom, Right: right}
}

// BoundingBox returns the document extent, if one was set.
func (d *Document) BoundingBox() (BoundingBox, bool) {
	if d.bounds == nil {
		return BoundingBox{}, false
	}
	return *d.bounds, true
}

// SetWayBounds records the extent of a way. It reports whether the way exists.
func (d *Document) SetWayBounds(id ID, b BoundingBox) bool {
	w, ok := d.ways[id]
	if !ok {
		return false
	}
	w.Bounds = &b
	return true
}

// DuplicateEpsilon returns the vertex deduplication distance.
func (d *Document) DuplicateEpsilon() float64 {
	return d.epsilon
}

// NextID returns the identifier the allocator will hand out next.
func (d *Document) NextID() int64 {
	return d.ids.Peek()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
