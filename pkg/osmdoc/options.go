package osmdoc

import (
	"log/slog"
	"math"
)

const (
	// DefaultDuplicateEpsilon is the distance, in degrees, below which two
	// vertices resolve to the same node.
	DefaultDuplicateEpsilon = 0.000001

	// DefaultIDStart is the first auto-assigned identifier.
	DefaultIDStart = 1
)

// Option configures a Document.
type Option func(*Document)

// WithIDStart sets the first auto-assigned identifier.
func WithIDStart(start int64) Option {
	return func(d *Document) {
		d.ids.Reset(start)
	}
}

// WithDuplicateEpsilon sets the vertex deduplication distance. Negative or
// NaN values are ignored.
func WithDuplicateEpsilon(eps float64) Option {
	return func(d *Document) {
		if eps >= 0 && !math.IsNaN(eps) {
			d.epsilon = eps
		}
	}
}

// WithSpatialIndex replaces the default bucket grid.
func WithSpatialIndex(idx SpatialIndex) Option {
	return func(d *Document) {
		if idx != nil {
			d.index = idx
		}
	}
}

// WithLogger sets the logger used for parse warnings and builder diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Document) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHooks installs observation callbacks.
func WithHooks(h *Hooks) Option {
	return func(d *Document) {
		d.hooks = h
	}
}

// Hooks are optional callbacks fired as a document changes. They let callers
// export metrics without the document depending on a metrics library.
type Hooks struct {
	// OnNodeCreated fires for every node added, explicitly or by a vertex.
	OnNodeCreated func(id ID)

	// OnVertexDeduplicated fires when a vertex resolves to an existing node.
	OnVertexDeduplicated func(id ID)

	// OnWayFinished fires from EndWay.
	OnWayFinished func(id ID, closed bool)

	// OnWayAbandoned fires when BeginWay replaces an unfinished way.
	OnWayAbandoned func(id ID)

	// OnParseWarning fires for every skipped or defaulted element while decoding.
	OnParseWarning func(element, reason string)

	// OnQuery fires after a tag query with the predicate and result counts.
	OnQuery func(predicates, matched int)
}

func (h *Hooks) nodeCreated(id ID) {
	if h != nil && h.OnNodeCreated != nil {
		h.OnNodeCreated(id)
	}
}

func (h *Hooks) vertexDeduplicated(id ID) {
	if h != nil && h.OnVertexDeduplicated != nil {
		h.OnVertexDeduplicated(id)
	}
}

func (h *Hooks) wayFinished(id ID, closed bool) {
	if h != nil && h.OnWayFinished != nil {
		h.OnWayFinished(id, closed)
	}
}

func (h *Hooks) wayAbandoned(id ID) {
	if h != nil && h.OnWayAbandoned != nil {
		h.OnWayAbandoned(id)
	}
}

func (h *Hooks) parseWarning(element, reason string) {
	if h != nil && h.OnParseWarning != nil {
		h.OnParseWarning(element, reason)
	}
}

func (h *Hooks) query(predicates, matched int) {
	if h != nil && h.OnQuery != nil {
		h.OnQuery(predicates, matched)
	}
}
