// Package convert moves data between documents and the paulmach/osm object
// model, and streams standard OSM XML and PBF extracts into documents.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"

	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
)

// ErrNonNumericID is returned by ToOSM for identifiers osm cannot represent.
var ErrNonNumericID = errors.New("convert: identifier is not an integer")

// ToOSM converts a document to an osm.OSM. Every node and way id must be an
// integer. Way nodes carry the coordinates of the nodes they reference when
// those nodes exist.
func ToOSM(doc *osmdoc.Document) (*osm.OSM, error) {
	o := &osm.OSM{
		Version:   osmdoc.WireVersion,
		Generator: osmdoc.Generator,
	}

	if bb, ok := doc.BoundingBox(); ok {
		o.Bounds = &osm.Bounds{
			MinLat: bb.Bottom,
			MaxLat: bb.Top,
			MinLon: bb.Left,
			MaxLon: bb.Right,
		}
	}

	for _, n := range doc.Nodes() {
		id, err := numericID(n.ID)
		if err != nil {
			return nil, fmt.Errorf("node: %w", err)
		}
		o.Nodes = append(o.Nodes, &osm.Node{
			ID:      osm.NodeID(id),
			Lat:     n.Lat,
			Lon:     n.Lon,
			Visible: true,
		})
	}

	for _, w := range doc.Ways() {
		id, err := numericID(w.ID)
		if err != nil {
			return nil, fmt.Errorf("way: %w", err)
		}

		way := &osm.Way{ID: osm.WayID(id), Visible: true}
		for _, ref := range w.Nodes {
			nid, err := numericID(ref)
			if err != nil {
				return nil, fmt.Errorf("way %s node ref: %w", w.ID, err)
			}
			wn := osm.WayNode{ID: osm.NodeID(nid)}
			if n, ok := doc.Node(ref); ok {
				wn.Lat, wn.Lon = n.Lat, n.Lon
			}
			way.Nodes = append(way.Nodes, wn)
		}
		for _, t := range w.Tags {
			way.Tags = append(way.Tags, osm.Tag{Key: t.Key, Value: t.Value})
		}
		o.Ways = append(o.Ways, way)
	}

	return o, nil
}

// FromOSM builds a document from an osm.OSM. Ways are replayed through the
// way builder with their node references as is. Node tags and relations
// have no place in a document and are dropped.
func FromOSM(o *osm.OSM, opts ...osmdoc.Option) (*osmdoc.Document, error) {
	doc := osmdoc.New(opts...)
	if o.Bounds != nil {
		setBounds(doc, o.Bounds)
	}
	for _, n := range o.Nodes {
		addNode(doc, n)
	}
	for _, w := range o.Ways {
		if err := addWay(doc, w); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Stats counts the objects a scan read.
type Stats struct {
	Nodes     int
	Ways      int
	Relations int
	Skipped   int
}

// ScanXML streams a standard OSM XML file into a new document.
func ScanXML(ctx context.Context, r io.Reader, opts ...osmdoc.Option) (*osmdoc.Document, Stats, error) {
	scanner := osmxml.New(ctx, r)
	defer scanner.Close()
	return scan(scanner, opts)
}

// ScanPBF streams an OSM PBF extract into a new document, decoding blocks
// with procs goroutines. Non-positive procs uses GOMAXPROCS.
func ScanPBF(ctx context.Context, r io.Reader, procs int, opts ...osmdoc.Option) (*osmdoc.Document, Stats, error) {
	if procs <= 0 {
		procs = runtime.GOMAXPROCS(0)
	}
	scanner := osmpbf.New(ctx, r, procs)
	defer scanner.Close()
	scanner.SkipRelations = true
	return scan(scanner, opts)
}

// objectScanner is the part of osm.Scanner used here.
type objectScanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
}

func scan(s objectScanner, opts []osmdoc.Option) (*osmdoc.Document, Stats, error) {
	doc := osmdoc.New(opts...)
	var stats Stats

	for s.Scan() {
		switch obj := s.Object().(type) {
		case *osm.Node:
			addNode(doc, obj)
			stats.Nodes++
		case *osm.Way:
			if err := addWay(doc, obj); err != nil {
				return nil, stats, err
			}
			stats.Ways++
		case *osm.Relation:
			stats.Relations++
		case *osm.Bounds:
			setBounds(doc, obj)
		default:
			stats.Skipped++
		}
	}
	if err := s.Err(); err != nil {
		return nil, stats, fmt.Errorf("convert: scan: %w", err)
	}
	return doc, stats, nil
}

func setBounds(doc *osmdoc.Document, b *osm.Bounds) {
	doc.SetBoundingBox(b.MaxLat, b.MinLon, b.MinLat, b.MaxLon)
}

func addNode(doc *osmdoc.Document, n *osm.Node) {
	doc.AddNodeWithID(osmdoc.IntID(int64(n.ID)), n.Lat, n.Lon)
}

func addWay(doc *osmdoc.Document, w *osm.Way) error {
	doc.BeginWayWithID(osmdoc.IntID(int64(w.ID)))
	for _, wn := range w.Nodes {
		if err := doc.AddVertexIndex(osmdoc.IntID(int64(wn.ID))); err != nil {
			return err
		}
	}
	for _, t := range w.Tags {
		if err := doc.AddTag(t.Key, t.Value); err != nil {
			return err
		}
	}
	return doc.EndWay()
}

func numericID(id osmdoc.ID) (int64, error) {
	n, ok := id.Int64()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNonNumericID, id)
	}
	return n, nil
}
