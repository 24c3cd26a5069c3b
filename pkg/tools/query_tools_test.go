package tools

import (
	"encoding/json"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/NERVsystems/mapfileprocess/pkg/tracing"
)

func seedStreets(t *testing.T, r *Registry) string {
	t.Helper()
	h := createDocument(t, r)
	ways := []struct {
		tags   []map[string]any
		points []map[string]any
	}{
		{
			tags:   []map[string]any{{"k": "highway", "v": "residential"}, {"k": "name", "v": "Rue A"}},
			points: []map[string]any{{"latitude": 1, "longitude": 1}, {"latitude": 1, "longitude": 2}},
		},
		{
			tags:   []map[string]any{{"k": "highway", "v": "primary"}},
			points: []map[string]any{{"latitude": 1, "longitude": 2}, {"latitude": 2, "longitude": 2}},
		},
		{
			tags:   []map[string]any{{"k": "highway", "v": "residential"}},
			points: []map[string]any{{"latitude": 2, "longitude": 2}, {"latitude": 3, "longitude": 3}},
		},
	}
	for _, w := range ways {
		AssertSuccessResult(t, call(t, r, "document_build_way", map[string]any{
			"handle": h, "tags": w.tags, "points": w.points,
		}), "build way")
	}
	return h
}

func TestQueryWays(t *testing.T) {
	r := newTestRegistry(t)
	h := seedStreets(t, r)

	tests := []struct {
		name  string
		tags  []map[string]any
		limit int
		count int
		ways  int
	}{
		{name: "single predicate", tags: []map[string]any{{"k": "highway", "v": "residential"}}, count: 2, ways: 2},
		{name: "conjunction", tags: []map[string]any{{"k": "highway", "v": "residential"}, {"k": "name", "v": "Rue A"}}, count: 1, ways: 1},
		{name: "no match", tags: []map[string]any{{"k": "highway", "v": "motorway"}}, count: 0, ways: 0},
		{name: "limit", tags: []map[string]any{{"k": "highway", "v": "residential"}}, limit: 1, count: 2, ways: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{"handle": h, "tags": tt.tags}
			if tt.limit > 0 {
				args["limit"] = tt.limit
			}
			var res QueryResult
			parseResult(t, call(t, r, "document_query_ways", args), &res)
			if res.Count != tt.count || len(res.Ways) != tt.ways {
				t.Errorf("count = %d, ways = %d; want %d, %d", res.Count, len(res.Ways), tt.count, tt.ways)
			}
		})
	}
}

func TestQueryWaysSpanAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := tracing.Tracer
	tracing.Tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("tools-test")
	defer func() { tracing.Tracer = prev }()

	r := newTestRegistry(t)
	h := seedStreets(t, r)
	AssertSuccessResult(t, call(t, r, "document_query_ways", map[string]any{
		"handle": h,
		"tags":   []map[string]any{{"k": "highway", "v": "residential"}, {"k": "name", "v": "Rue A"}},
	}), "query ways")

	got := map[string]int64{}
	for _, span := range rec.Ended() {
		if span.Name() != "mcp.tool.document_query_ways" {
			continue
		}
		for _, kv := range span.Attributes() {
			got[string(kv.Key)] = kv.Value.AsInt64()
		}
	}
	if got[tracing.AttrQueryPredicates] != 2 || got[tracing.AttrQueryMatched] != 1 {
		t.Errorf("query span attributes = %v, want 2 predicates and 1 match", got)
	}
}

func TestQueryWaysGeoJSON(t *testing.T) {
	r := newTestRegistry(t)
	h := seedStreets(t, r)

	res := call(t, r, "document_query_ways", map[string]any{
		"handle": h,
		"tags":   []map[string]any{{"k": "highway", "v": "primary"}},
		"format": "geojson",
	})
	AssertSuccessResult(t, res, "geojson query")

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal([]byte(resultText(res)), &fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("unexpected collection: %+v", fc)
	}
	if fc.Features[0].Geometry.Type != "LineString" || fc.Features[0].Properties["highway"] != "primary" {
		t.Errorf("feature = %+v", fc.Features[0])
	}
}

func TestQueryWaysValidation(t *testing.T) {
	r := newTestRegistry(t)
	h := seedStreets(t, r)

	AssertErrorCode(t, call(t, r, "document_query_ways", map[string]any{"handle": h}), ErrMissingParameter)
	AssertErrorCode(t, call(t, r, "document_query_ways", map[string]any{
		"handle": h, "tags": []map[string]any{{"k": "a", "v": "b"}}, "format": "csv",
	}), ErrInvalidInput)
	AssertErrorCode(t, call(t, r, "document_query_ways", map[string]any{
		"handle": h, "tags": []map[string]any{{"k": "a", "v": "b"}}, "limit": -1,
	}), ErrInvalidInput)
}

func TestNodesNear(t *testing.T) {
	r := newTestRegistry(t)
	h := seedStreets(t, r)

	var res NearResult
	parseResult(t, call(t, r, "document_nodes_near", map[string]any{
		"handle": h, "latitude": 1.00001, "longitude": 2,
	}), &res)
	if res.Count != 1 || res.Nodes[0].Lat != 1 || res.Nodes[0].Lon != 2 {
		t.Errorf("near = %+v", res)
	}
	if res.Radius != DefaultNearRadius {
		t.Errorf("radius = %v, want default", res.Radius)
	}

	parseResult(t, call(t, r, "document_nodes_near", map[string]any{
		"handle": h, "position": "10, 10", "radius": 0.5,
	}), &res)
	if res.Count != 0 || res.Nodes == nil {
		t.Errorf("expected an empty list, got %+v", res)
	}

	AssertErrorCode(t, call(t, r, "document_nodes_near", map[string]any{
		"handle": h, "latitude": 1, "longitude": 1, "radius": 0,
	}), ErrInvalidRadius)
	AssertErrorCode(t, call(t, r, "document_nodes_near", map[string]any{
		"handle": h, "latitude": 1, "longitude": 1, "radius": 5,
	}), ErrInvalidRadius)
}

func TestExport(t *testing.T) {
	r := newTestRegistry(t)
	h := seedStreets(t, r)

	doc := call(t, r, "document_export", map[string]any{"handle": h})
	AssertSuccessResult(t, doc, "document export")
	text := resultText(doc)
	for _, want := range []string{`<osm version="0.6" generator="mapfileprocess">`, `<tag k="highway" v="primary"/>`} {
		if !strings.Contains(text, want) {
			t.Errorf("document export missing %s", want)
		}
	}

	osmXML := call(t, r, "document_export", map[string]any{"handle": h, "format": "osm"})
	AssertSuccessResult(t, osmXML, "osm export")
	if !strings.Contains(resultText(osmXML), "<way") {
		t.Error("osm export has no ways")
	}

	geo := call(t, r, "document_export", map[string]any{"handle": h, "format": "geojson", "compute_bounds": true})
	AssertSuccessResult(t, geo, "geojson export")
	if !strings.Contains(resultText(geo), `"FeatureCollection"`) {
		t.Error("geojson export is not a feature collection")
	}

	AssertErrorCode(t, call(t, r, "document_export", map[string]any{"handle": h, "format": "svg"}), ErrInvalidInput)
}

func TestExportOSMNeedsNumericIDs(t *testing.T) {
	r := newTestRegistry(t)
	h := createDocument(t, r)
	AssertSuccessResult(t, call(t, r, "document_add_node", map[string]any{
		"handle": h, "id": "n-abc", "latitude": 1, "longitude": 1,
	}), "add node")

	AssertErrorCode(t, call(t, r, "document_export", map[string]any{"handle": h, "format": "osm"}), ErrUnsupported)
}
