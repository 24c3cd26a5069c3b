// Package geometry turns document ways into orb geometries. It computes way
// and document extents and exports ways as GeoJSON.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
)

// WayLineString returns the points of w in sequence order. References to
// nodes missing from the document are skipped.
func WayLineString(doc *osmdoc.Document, w *osmdoc.Way) orb.LineString {
	ls := make(orb.LineString, 0, len(w.Nodes))
	for _, ref := range w.Nodes {
		n, ok := doc.Node(ref)
		if !ok {
			continue
		}
		ls = append(ls, orb.Point{n.Lon, n.Lat})
	}
	return ls
}

// WayPolygon returns the polygon outlined by a closed way. It reports false
// for open ways and for rings with fewer than four points.
func WayPolygon(doc *osmdoc.Document, w *osmdoc.Way) (orb.Polygon, bool) {
	if !w.Closed {
		return nil, false
	}
	ring := orb.Ring(WayLineString(doc, w))
	if len(ring) < 4 || !ring.Closed() {
		return nil, false
	}
	return orb.Polygon{ring}, true
}

// WayGeometry returns the polygon of a closed way and the line string of any
// other way.
func WayGeometry(doc *osmdoc.Document, w *osmdoc.Way) orb.Geometry {
	if p, ok := WayPolygon(doc, w); ok {
		return p
	}
	return WayLineString(doc, w)
}

// FromBound converts an orb bound to a document bounding box.
func FromBound(b orb.Bound) osmdoc.BoundingBox {
	return osmdoc.BoundingBox{
		Top:    b.Max.Lat(),
		Left:   b.Min.Lon(),
		Bottom: b.Min.Lat(),
		Right:  b.Max.Lon(),
	}
}

// ToBound converts a document bounding box to an orb bound.
func ToBound(bb osmdoc.BoundingBox) orb.Bound {
	return orb.Bound{
		Min: orb.Point{bb.Left, bb.Bottom},
		Max: orb.Point{bb.Right, bb.Top},
	}
}

// ComputeWayBounds sets the bounds of every way with at least one resolvable
// node and returns how many ways were updated.
func ComputeWayBounds(doc *osmdoc.Document) int {
	updated := 0
	for _, w := range doc.Ways() {
		ls := WayLineString(doc, w)
		if len(ls) == 0 {
			continue
		}
		if doc.SetWayBounds(w.ID, FromBound(ls.Bound())) {
			updated++
		}
	}
	return updated
}

// DocumentBounds returns the extent of all nodes in the document.
func DocumentBounds(doc *osmdoc.Document) (osmdoc.BoundingBox, bool) {
	nodes := doc.Nodes()
	if len(nodes) == 0 {
		return osmdoc.BoundingBox{}, false
	}

	b := orb.Point{nodes[0].Lon, nodes[0].Lat}.Bound()
	for _, n := range nodes[1:] {
		b = b.Extend(orb.Point{n.Lon, n.Lat})
	}
	return FromBound(b), true
}

// Feature converts a way to a GeoJSON feature with its tags as properties.
func Feature(doc *osmdoc.Document, w *osmdoc.Way) *geojson.Feature {
	f := geojson.NewFeature(WayGeometry(doc, w))
	f.ID = w.ID.String()
	for _, t := range w.Tags {
		f.Properties[t.Key] = t.Value
	}
	return f
}

// FeatureCollection converts ways to a GeoJSON feature collection. A nil
// slice exports every way of the document.
func FeatureCollection(doc *osmdoc.Document, ways []*osmdoc.Way) *geojson.FeatureCollection {
	if ways == nil {
		ways = doc.Ways()
	}

	fc := geojson.NewFeatureCollection()
	for _, w := range ways {
		fc.Append(Feature(doc, w))
	}
	if bb, ok := doc.BoundingBox(); ok {
		fc.BBox = geojson.NewBBox(ToBound(bb))
	}
	return fc
}
