package spatial

import (
	"cmp"
	"math"
	"slices"

	"github.com/paulmach/orb"
)

// DefaultCellSize is the bucket edge length in degrees.
const DefaultCellSize = 0.0001

type cellKey struct {
	x, y int64
}

// BucketGrid buckets points into square cells of a fixed size. It has no
// bounds, so any coordinate can be inserted.
//
// BucketGrid is not safe for concurrent use.
type BucketGrid[T any] struct {
	cellSize float64
	buckets  map[cellKey][]*entry[T]
	count    int
	seq      uint64
}

// NewBucketGrid creates a grid with the given cell size in degrees.
// A non-positive size selects DefaultCellSize.
func NewBucketGrid[T any](cellSize float64) *BucketGrid[T] {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	return &BucketGrid[T]{
		cellSize: cellSize,
		buckets:  make(map[cellKey][]*entry[T]),
	}
}

// CellSize returns the bucket edge length.
func (g *BucketGrid[T]) CellSize() float64 {
	return g.cellSize
}

// Insert records a point carrying payload.
func (g *BucketGrid[T]) Insert(lat, lon float64, payload T) {
	p := orb.Point{lon, lat}
	key := g.cellOf(p)
	g.seq++
	g.buckets[key] = append(g.buckets[key], &entry[T]{point: p, payload: payload, seq: g.seq})
	g.count++
}

// Near returns the points within radius of (lat, lon). Cells are scanned
// south to north, west to east; inside a cell points keep insertion order.
// The result is not sorted by distance.
func (g *BucketGrid[T]) Near(lat, lon, radius float64) []Match[T] {
	if g.count == 0 || radius < 0 || math.IsNaN(radius) {
		return nil
	}

	center := orb.Point{lon, lat}
	bound := searchBound(center, radius)
	lo := g.cellOf(bound.Min)
	hi := g.cellOf(bound.Max)

	var matches []Match[T]
	for _, key := range g.cellsIn(lo, hi) {
		for _, e := range g.buckets[key] {
			if d, ok := within(e, center, radius); ok {
				matches = append(matches, Match[T]{Payload: e.payload, Point: e.point, Distance: d})
			}
		}
	}
	return matches
}

// cellsIn returns the cells between lo and hi in scan order. When the range
// spans more cells than are occupied, only occupied cells are returned.
func (g *BucketGrid[T]) cellsIn(lo, hi cellKey) []cellKey {
	span := (float64(hi.x-lo.x) + 1) * (float64(hi.y-lo.y) + 1)
	if span > float64(len(g.buckets)) {
		keys := make([]cellKey, 0, len(g.buckets))
		for k := range g.buckets {
			if k.x >= lo.x && k.x <= hi.x && k.y >= lo.y && k.y <= hi.y {
				keys = append(keys, k)
			}
		}
		slices.SortFunc(keys, func(a, b cellKey) int {
			if c := cmp.Compare(a.y, b.y); c != 0 {
				return c
			}
			return cmp.Compare(a.x, b.x)
		})
		return keys
	}

	keys := make([]cellKey, 0, int(span))
	for y := lo.y; y <= hi.y; y++ {
		for x := lo.x; x <= hi.x; x++ {
			keys = append(keys, cellKey{x: x, y: y})
		}
	}
	return keys
}

// Len returns the number of recorded points.
func (g *BucketGrid[T]) Len() int {
	return g.count
}

func (g *BucketGrid[T]) cellOf(p orb.Point) cellKey {
	return cellKey{
		x: int64(math.Floor(p[0] / g.cellSize)),
		y: int64(math.Floor(p[1] / g.cellSize)),
	}
}
