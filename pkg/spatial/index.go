// Package spatial provides point proximity indexes used to find existing
// map nodes near a candidate coordinate.
//
// Two implementations are available:
//   - BucketGrid: a uniform grid of buckets. Candidates come back in cell scan
//     order and then insertion order, which keeps "first match" lookups stable.
//   - Quadtree: a paulmach/orb quadtree. Candidates come back sorted by planar
//     distance so the first match is always the nearest one.
//
// Coordinates are expressed in degrees and distances are planar, in the same
// units as the coordinates.
package spatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Match is a point returned by a proximity query.
type Match[T any] struct {
	Payload  T
	Point    orb.Point
	Distance float64
}

// Index is the contract shared by the proximity indexes in this package.
type Index[T any] interface {
	// Insert records a point carrying an opaque payload.
	Insert(lat, lon float64, payload T)

	// Near returns the points within radius of (lat, lon).
	Near(lat, lon, radius float64) []Match[T]

	// Len returns the number of recorded points.
	Len() int
}

// WorldBound covers every valid WGS84 coordinate.
var WorldBound = orb.Bound{
	Min: orb.Point{-180, -90},
	Max: orb.Point{180, 90},
}

// entry is a stored point. seq keeps insertion order for tie breaks.
type entry[T any] struct {
	point   orb.Point
	payload T
	seq     uint64
}

// Point implements orb.Pointer so entries can live in an orb quadtree.
func (e *entry[T]) Point() orb.Point {
	return e.point
}

// searchBound returns the square bound enclosing the query circle.
func searchBound(center orb.Point, radius float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{center[0] - radius, center[1] - radius},
		Max: orb.Point{center[0] + radius, center[1] + radius},
	}
}

// within reports whether e lies inside the query circle and its distance.
func within[T any](e *entry[T], center orb.Point, radius float64) (float64, bool) {
	d := planar.Distance(center, e.point)
	return d, d <= radius
}
