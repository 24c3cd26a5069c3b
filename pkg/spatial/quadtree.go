package spatial

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

// Quadtree wraps an orb quadtree. Points outside the tree bound are kept in
// an overflow list and scanned linearly, so no insert is ever rejected.
//
// Near results are ordered by distance, ties broken by insertion order.
// Quadtree is not safe for concurrent use.
type Quadtree[T any] struct {
	tree     *quadtree.Quadtree
	overflow []*entry[T]
	count    int
	seq      uint64
}

// NewQuadtree creates a quadtree covering bound. A bound without area
// selects WorldBound.
func NewQuadtree[T any](bound orb.Bound) *Quadtree[T] {
	if bound.Min[0] >= bound.Max[0] || bound.Min[1] >= bound.Max[1] {
		bound = WorldBound
	}
	return &Quadtree[T]{tree: quadtree.New(bound)}
}

// Insert records a point carrying payload.
func (q *Quadtree[T]) Insert(lat, lon float64, payload T) {
	q.seq++
	e := &entry[T]{point: orb.Point{lon, lat}, payload: payload, seq: q.seq}
	q.count++

	// Add only fails with quadtree.ErrPointOutsideOfBounds.
	if err := q.tree.Add(e); err != nil {
		q.overflow = append(q.overflow, e)
	}
}

// Near returns the points within radius of (lat, lon), nearest first.
func (q *Quadtree[T]) Near(lat, lon, radius float64) []Match[T] {
	if q.count == 0 || radius < 0 {
		return nil
	}

	center := orb.Point{lon, lat}
	candidates := q.tree.InBound(nil, searchBound(center, radius))

	hits := make([]*entry[T], 0, len(candidates)+len(q.overflow))
	for _, c := range candidates {
		if e, ok := c.(*entry[T]); ok {
			hits = append(hits, e)
		}
	}
	hits = append(hits, q.overflow...)

	matches := make([]Match[T], 0, len(hits))
	seqs := make([]uint64, 0, len(hits))
	for _, e := range hits {
		if d, ok := within(e, center, radius); ok {
			matches = append(matches, Match[T]{Payload: e.payload, Point: e.point, Distance: d})
			seqs = append(seqs, e.seq)
		}
	}

	sort.Sort(byDistance[T]{matches: matches, seqs: seqs})
	return matches
}

// Len returns the number of recorded points.
func (q *Quadtree[T]) Len() int {
	return q.count
}

type byDistance[T any] struct {
	matches []Match[T]
	seqs    []uint64
}

func (b byDistance[T]) Len() int { return len(b.matches) }

func (b byDistance[T]) Less(i, j int) bool {
	if b.matches[i].Distance != b.matches[j].Distance {
		return b.matches[i].Distance < b.matches[j].Distance
	}
	return b.seqs[i] < b.seqs[j]
}

func (b byDistance[T]) Swap(i, j int) {
	b.matches[i], b.matches[j] = b.matches[j], b.matches[i]
	b.seqs[i], b.seqs[j] = b.seqs[j], b.seqs[i]
}
