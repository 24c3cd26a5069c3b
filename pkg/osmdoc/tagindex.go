package osmdoc

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// TagIndex maps (key, value) pairs to the ways carrying them. Ways are
// referenced by their registry position, so posting lists are bitmaps and a
// multi-predicate query is a chain of bitmap intersections.
//
// The index only grows: when a tag value is overwritten the posting for the
// old value stays. Document.Reindex rebuilds it from the current tags.
type TagIndex struct {
	postings map[string]map[string]*roaring.Bitmap
}

// NewTagIndex creates an empty index.
func NewTagIndex() *TagIndex {
	return &TagIndex{postings: make(map[string]map[string]*roaring.Bitmap)}
}

// Add records that the way at position pos carries key=value.
func (x *TagIndex) Add(key, value string, pos uint32) {
	values, ok := x.postings[key]
	if !ok {
		values = make(map[string]*roaring.Bitmap)
		x.postings[key] = values
	}
	bm, ok := values[value]
	if !ok {
		bm = roaring.New()
		values[value] = bm
	}
	bm.Add(pos)
}

// Lookup returns the posting list of key=value.
func (x *TagIndex) Lookup(key, value string) (*roaring.Bitmap, bool) {
	bm, ok := x.postings[key][value]
	return bm, ok
}

// Match intersects the posting lists of every predicate. Predicates without
// a posting list are skipped. It returns nil when no predicate matched.
func (x *TagIndex) Match(preds []Tag) *roaring.Bitmap {
	var result *roaring.Bitmap
	for _, p := range preds {
		bm, ok := x.Lookup(p.Key, p.Value)
		if !ok {
			continue
		}
		if result == nil {
			result = bm.Clone()
			continue
		}
		result.And(bm)
	}
	return result
}

// Keys returns the indexed tag keys, sorted.
func (x *TagIndex) Keys() []string {
	keys := make([]string, 0, len(x.postings))
	for k := range x.postings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the indexed values of key with their posting sizes.
func (x *TagIndex) Values(key string) map[string]uint64 {
	values := x.postings[key]
	out := make(map[string]uint64, len(values))
	for v, bm := range values {
		out[v] = bm.GetCardinality()
	}
	return out
}

// Reset empties the index.
func (x *TagIndex) Reset() {
	x.postings = make(map[string]map[string]*roaring.Bitmap)
}

// Tags returns the document tag index.
func (d *Document) Tags() *TagIndex {
	return d.tags
}

// WaysMatching returns the ways matching every predicate, in registry order.
// A predicate whose key or value is not indexed matches nothing and is
// skipped; the result is empty only when no way survives the predicates
// that did match, or when none matched at all.
func (d *Document) WaysMatching(preds ...Tag) []*Way {
	bm := d.tags.Match(preds)
	if bm == nil || bm.IsEmpty() {
		d.hooks.query(len(preds), 0)
		return nil
	}

	ways := make([]*Way, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		pos := it.Next()
		if int(pos) >= len(d.wayOrder) {
			continue
		}
		ways = append(ways, d.ways[d.wayOrder[pos]])
	}

	d.hooks.query(len(preds), len(ways))
	return ways
}

// Reindex rebuilds the tag index from the current way tags, dropping
// postings left behind by overwritten values.
func (d *Document) Reindex() {
	d.tags.Reset()
	for pos, id := range d.wayOrder {
		for _, t := range d.ways[id].Tags {
			d.tags.Add(t.Key, t.Value, uint32(pos))
		}
	}
}
