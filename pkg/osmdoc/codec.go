package osmdoc

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	// WireVersion is the version attribute of the root element.
	WireVersion = "0.6"

	// Generator is the generator attribute of the root element.
	Generator = "mapfileprocess"
)

// Element and attribute names of the wire format.
const (
	elemRoot  = "osm"
	elemBound = "bound"
	elemNode  = "node"
	elemWay   = "way"
	elemNd    = "nd"
	elemTag   = "tag"

	attrID  = "id"
	attrLat = "lat"
	attrLon = "lon"
	attrBox = "box"
	attrRef = "ref"
	attrKey = "k"
	attrVal = "v"
)

// WriteTo writes the document as OSM XML. It implements io.WriterTo.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	n, err := d.toXML().WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("osmdoc: write document: %w", err)
	}
	return n, nil
}

// Serialize returns the document as OSM XML.
func (d *Document) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) toXML() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(elemRoot)
	root.CreateAttr("version", WireVersion)
	root.CreateAttr("generator", Generator)

	if bb, ok := d.BoundingBox(); ok {
		root.CreateElement(elemBound).CreateAttr(attrBox, bb.String())
	}

	for _, id := range d.nodeOrder {
		n := d.nodes[id]
		el := root.CreateElement(elemNode)
		el.CreateAttr(attrID, string(n.ID))
		el.CreateAttr(attrLat, formatFloat(n.Lat))
		el.CreateAttr(attrLon, formatFloat(n.Lon))
	}

	for _, id := range d.wayOrder {
		w := d.ways[id]
		el := root.CreateElement(elemWay)
		el.CreateAttr(attrID, string(w.ID))
		for _, ref := range w.Nodes {
			el.CreateElement(elemNd).CreateAttr(attrRef, string(ref))
		}
		for _, t := range w.Tags {
			tag := el.CreateElement(elemTag)
			tag.CreateAttr(attrKey, t.Key)
			tag.CreateAttr(attrVal, t.Value)
		}
	}

	doc.Indent(2)
	return doc
}

// Decode parses an OSM XML document into a new Document.
func Decode(r io.Reader, opts ...Option) (*Document, error) {
	d := New(opts...)
	if _, err := d.ReadFrom(r); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadFrom parses OSM XML and adds its content to the document. It
// implements io.ReaderFrom.
//
// Element names are matched case-insensitively. Unknown elements are logged
// and skipped. Attributes that are missing or malformed fall back to
// defaults: coordinates and bound fields become 0, node and way ids are
// allocated, nd references and tags without a key are dropped, and a
// missing tag value is the empty string.
func (d *Document) ReadFrom(r io.Reader) (int64, error) {
	doc := etree.NewDocument()
	n, err := doc.ReadFrom(r)
	if err != nil {
		return n, fmt.Errorf("osmdoc: parse document: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return n, ErrNoRoot
	}

	for _, el := range root.ChildElements() {
		switch strings.ToLower(el.Tag) {
		case elemNode:
			d.decodeNode(el)
		case elemWay:
			if err := d.decodeWay(el); err != nil {
				return n, err
			}
		case elemBound:
			d.decodeBound(el)
		default:
			d.warn(el.Tag, "unknown element, skipping")
		}
	}
	return n, nil
}

func (d *Document) decodeNode(el *etree.Element) {
	id := d.idAttr(el)
	lat := d.floatAttr(el, attrLat)
	lon := d.floatAttr(el, attrLon)
	d.AddNodeWithID(id, lat, lon)
}

func (d *Document) decodeWay(el *etree.Element) error {
	d.BeginWayWithID(d.idAttr(el))

	for _, child := range el.ChildElements() {
		var err error
		switch strings.ToLower(child.Tag) {
		case elemNd:
			ref := child.SelectAttr(attrRef)
			if ref == nil || ref.Value == "" {
				d.warn(child.Tag, "missing ref, skipping")
				continue
			}
			err = d.AddVertexIndex(ID(ref.Value))
		case elemTag:
			key := child.SelectAttr(attrKey)
			if key == nil {
				d.warn(child.Tag, "missing key, skipping")
				continue
			}
			err = d.AddTag(key.Value, child.SelectAttrValue(attrVal, ""))
		default:
			d.warn(child.Tag, "unknown way element, skipping")
		}
		if err != nil {
			return err
		}
	}

	return d.EndWay()
}

func (d *Document) decodeBound(el *etree.Element) {
	box := el.SelectAttr(attrBox)
	if box == nil {
		d.warn(el.Tag, "missing box, ignoring")
		return
	}

	fields := strings.Split(box.Value, ",")
	if len(fields) < 4 {
		d.warn(el.Tag, fmt.Sprintf("box has %d fields, want 4, ignoring", len(fields)))
		return
	}

	var v [4]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			d.warn(el.Tag, fmt.Sprintf("malformed box field %q, using 0", fields[i]))
			continue
		}
		v[i] = f
	}
	d.SetBoundingBox(v[0], v[1], v[2], v[3])
}

// idAttr returns the id attribute verbatim, or a fresh id when it is absent.
func (d *Document) idAttr(el *etree.Element) ID {
	a := el.SelectAttr(attrID)
	if a == nil || a.Value == "" {
		id := d.ids.Next()
		d.warn(el.Tag, fmt.Sprintf("missing id, allocated %s", id))
		return id
	}
	return ID(a.Value)
}

func (d *Document) floatAttr(el *etree.Element, name string) float64 {
	a := el.SelectAttr(name)
	if a == nil {
		d.warn(el.Tag, fmt.Sprintf("missing %s, using 0", name))
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64)
	if err != nil {
		d.warn(el.Tag, fmt.Sprintf("malformed %s %q, using 0", name, a.Value))
		return 0
	}
	return v
}

func (d *Document) warn(element, reason string) {
	d.logger.Warn("document parse warning", "element", element, "reason", reason)
	d.hooks.parseWarning(element, reason)
}
