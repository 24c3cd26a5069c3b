package spatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloads[T any](matches []Match[T]) []T {
	out := make([]T, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Payload)
	}
	return out
}

func TestBucketGridNear(t *testing.T) {
	g := NewBucketGrid[string](0)
	assert.Equal(t, DefaultCellSize, g.CellSize())
	assert.Empty(t, g.Near(1, 1, 1))

	g.Insert(51.5, -0.12, "a")
	g.Insert(51.5000005, -0.12, "b")
	g.Insert(51.6, -0.12, "c")
	require.Equal(t, 3, g.Len())

	got := payloads(g.Near(51.5, -0.12, 1e-6))
	assert.Equal(t, []string{"a", "b"}, got)

	assert.Empty(t, g.Near(51.55, -0.12, 1e-6))
	assert.Equal(t, []string{"c"}, payloads(g.Near(51.6, -0.12, 0)))
}

func TestBucketGridAcrossCells(t *testing.T) {
	g := NewBucketGrid[int](0.001)

	// Points on both sides of a cell edge, and on both sides of zero.
	g.Insert(0.0009999, 0.0009999, 1)
	g.Insert(0.0010001, 0.0010001, 2)
	g.Insert(-0.0000001, -0.0000001, 3)
	g.Insert(0.0000001, 0.0000001, 4)

	near := payloads(g.Near(0.001, 0.001, 0.0000005))
	assert.ElementsMatch(t, []int{1, 2}, near)

	origin := payloads(g.Near(0, 0, 0.0000005))
	assert.ElementsMatch(t, []int{3, 4}, origin)
}

func TestBucketGridInsertionOrderWithinCell(t *testing.T) {
	g := NewBucketGrid[string](1)

	// The farther point is inserted first and must still be reported first.
	g.Insert(10.4, 10.4, "far")
	g.Insert(10.1, 10.1, "near")

	got := g.Near(10.1, 10.1, 0.5)
	require.Len(t, got, 2)
	assert.Equal(t, "far", got[0].Payload)
	assert.Equal(t, orb.Point{10.1, 10.1}, got[1].Point)
	assert.InDelta(t, 0, got[1].Distance, 1e-12)
}

func TestBucketGridWideSearchOnSparseGrid(t *testing.T) {
	insert := func(g *BucketGrid[string]) {
		g.Insert(10.5, 10.5, "ne")
		g.Insert(9.5, 9.5, "sw")
		g.Insert(9.5, 10.5, "se")
	}

	// A one degree radius spans far more fine cells than the grid holds.
	sparse := NewBucketGrid[string](0)
	insert(sparse)
	sparse.Insert(50, 50, "elsewhere")
	assert.Equal(t, []string{"sw", "se", "ne"}, payloads(sparse.Near(10, 10, 1)))

	// With coarse cells and enough occupied buckets every cell in range is
	// visited; the scan order must be the same.
	dense := NewBucketGrid[string](1)
	insert(dense)
	for i := range 10 {
		dense.Insert(50, 50+float64(i), "elsewhere")
	}
	assert.Equal(t, []string{"sw", "se", "ne"}, payloads(dense.Near(10, 10, 1)))

	assert.Empty(t, sparse.Near(-40, -40, 1))
}

func TestQuadtreeNearestFirst(t *testing.T) {
	q := NewQuadtree[string](orb.Bound{})

	q.Insert(10.4, 10.4, "far")
	q.Insert(10.1, 10.1, "near")
	q.Insert(10.1, 10.1, "near-dup")
	q.Insert(40, 40, "out-of-range")

	got := payloads(q.Near(10.1, 10.1, 0.5))
	assert.Equal(t, []string{"near", "near-dup", "far"}, got)
	assert.Equal(t, 4, q.Len())
}

func TestQuadtreeOverflow(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	q := NewQuadtree[int](bound)

	q.Insert(0.5, 0.5, 1)
	q.Insert(5, 5, 2) // outside the tree bound

	assert.Equal(t, []int{2}, payloads(q.Near(5, 5, 0.1)))
	assert.Equal(t, []int{1}, payloads(q.Near(0.5, 0.5, 0.1)))
	assert.Empty(t, q.Near(3, 3, 0.1))
}

func TestIndexImplementations(t *testing.T) {
	indexes := map[string]Index[int]{
		"bucketgrid": NewBucketGrid[int](0),
		"quadtree":   NewQuadtree[int](WorldBound),
	}

	for name, idx := range indexes {
		t.Run(name, func(t *testing.T) {
			idx.Insert(-33.8688, 151.2093, 7)
			assert.Equal(t, 1, idx.Len())
			assert.Equal(t, []int{7}, payloads(idx.Near(-33.8688, 151.2093, 1e-6)))
			assert.Empty(t, idx.Near(-33.8688, 151.2095, 1e-6))
			assert.Empty(t, idx.Near(-33.8688, 151.2093, -1))
		})
	}
}
