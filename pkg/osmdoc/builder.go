package osmdoc

import "fmt"

// builderState is the way builder state.
type builderState int

const (
	stateIdle builderState = iota
	stateActive
)

// String returns the state name.
func (s builderState) String() string {
	switch s {
	case stateActive:
		return "active"
	default:
		return "idle"
	}
}

// builder tracks the way under construction.
type builder struct {
	state builderState
	way   ID

	// last is the most recently appended node of the active way.
	last    ID
	hasLast bool
}

// BeginWay opens a new way under a freshly allocated id and returns the id.
func (d *Document) BeginWay() ID {
	return d.BeginWayWithID(d.ids.Next())
}

// BeginWayWithID opens a new way under id. Any way still active is
// abandoned as is: it stays in the registry with Finished unset and no error
// is reported. An existing way with the same id is replaced but keeps its
// position in the registry.
func (d *Document) BeginWayWithID(id ID) ID {
	if d.builder.state == stateActive {
		d.logger.Debug("abandoning unfinished way", "way", d.builder.way, "next_way", id)
		d.hooks.wayAbandoned(d.builder.way)
	}

	d.ids.Observe(id)
	if _, exists := d.ways[id]; !exists {
		d.wayPos[id] = uint32(len(d.wayOrder))
		d.wayOrder = append(d.wayOrder, id)
	}
	d.ways[id] = &Way{ID: id, Tags: Tags{}, Nodes: []ID{}}

	d.builder = builder{state: stateActive, way: id}
	return id
}

// ActiveWay returns the id of the way being built.
func (d *Document) ActiveWay() (ID, bool) {
	if d.builder.state != stateActive {
		return "", false
	}
	return d.builder.way, true
}

// AddTag sets key to value on the active way and records the pair in the tag
// index. Index entries for a previous value of key are kept.
func (d *Document) AddTag(key, value string) error {
	w, err := d.activeWay("AddTag")
	if err != nil {
		return err
	}
	w.Tags.Set(key, value)
	d.tags.Add(key, value, d.wayPos[w.ID])
	return nil
}

// AddVertex appends the node at (lat, lon) to the active way. A node within
// the duplicate epsilon is reused, otherwise a new node is created. The
// append is skipped when the node is the one appended last.
func (d *Document) AddVertex(lat, lon float64) error {
	w, err := d.activeWay("AddVertex")
	if err != nil {
		return err
	}

	id := d.resolveVertex(lat, lon)
	if d.builder.hasLast && d.builder.last == id {
		return nil
	}
	d.appendNode(w, id)
	return nil
}

// AddVertexIndex appends a node reference to the active way as is. The
// reference is not checked against the node registry.
func (d *Document) AddVertexIndex(id ID) error {
	w, err := d.activeWay("AddVertexIndex")
	if err != nil {
		return err
	}
	d.appendNode(w, id)
	return nil
}

// AddExistingVertex appends a registered node to the active way. Like
// AddVertex, the append is skipped when the node is the one appended last.
func (d *Document) AddExistingVertex(id ID) error {
	w, err := d.activeWay("AddExistingVertex")
	if err != nil {
		return err
	}
	if _, ok := d.nodes[id]; !ok {
		return fmt.Errorf("osmdoc: AddExistingVertex: node %q: %w", id, ErrUnknownNode)
	}
	if d.builder.hasLast && d.builder.last == id {
		return nil
	}
	d.appendNode(w, id)
	return nil
}

// EndWay finishes the active way, fixing its Closed flag.
func (d *Document) EndWay() error {
	w, err := d.activeWay("EndWay")
	if err != nil {
		return err
	}

	w.Closed = len(w.Nodes) > 0 && w.Nodes[0] == w.Nodes[len(w.Nodes)-1]
	w.Finished = true
	d.builder = builder{state: stateIdle}

	d.hooks.wayFinished(w.ID, w.Closed)
	return nil
}

func (d *Document) activeWay(op string) (*Way, error) {
	if d.builder.state != stateActive {
		return nil, &PreconditionError{Op: op}
	}
	return d.ways[d.builder.way], nil
}

func (d *Document) appendNode(w *Way, id ID) {
	w.Nodes = append(w.Nodes, id)
	d.builder.last = id
	d.builder.hasLast = true
}

// resolveVertex returns the first live node the spatial index reports within
// the duplicate epsilon, creating a node when there is none.
func (d *Document) resolveVertex(lat, lon float64) ID {
	for _, m := range d.index.Near(lat, lon, d.epsilon) {
		if n, ok := d.live(m); ok {
			d.hooks.vertexDeduplicated(n.ID)
			return n.ID
		}
	}
	return d.AddNode(lat, lon)
}
