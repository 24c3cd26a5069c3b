package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordMCPRequest(t *testing.T) {
	MCPRequestsTotal.Reset()

	RecordMCPRequest("document_summary", 100*time.Millisecond, true)
	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("document_summary", "success")); got != 1 {
		t.Errorf("Expected 1 successful request, got %v", got)
	}

	RecordMCPRequest("document_summary", 200*time.Millisecond, false)
	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("document_summary", "error")); got != 1 {
		t.Errorf("Expected 1 failed request, got %v", got)
	}
}

func TestRecordFileOperation(t *testing.T) {
	FileOperationsTotal.Reset()

	RecordFileOperation("load", "zstd", 20*time.Millisecond, true)
	RecordFileOperation("load", "zstd", 30*time.Millisecond, true)
	RecordFileOperation("save", "none", 10*time.Millisecond, false)

	if got := testutil.ToFloat64(FileOperationsTotal.WithLabelValues("load", "zstd", "success")); got != 2 {
		t.Errorf("Expected 2 loads, got %v", got)
	}
	if got := testutil.ToFloat64(FileOperationsTotal.WithLabelValues("save", "none", "error")); got != 1 {
		t.Errorf("Expected 1 failed save, got %v", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()
	CacheSize.Reset()

	RecordCacheHit(CacheTypeDocuments)
	if got := testutil.ToFloat64(CacheHits.WithLabelValues(CacheTypeDocuments)); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}

	RecordCacheMiss(CacheTypeDocuments)
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues(CacheTypeDocuments)); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}

	UpdateCacheSize(CacheTypeDocuments, 42)
	if got := testutil.ToFloat64(CacheSize.WithLabelValues(CacheTypeDocuments)); got != 42 {
		t.Errorf("Expected cache size 42, got %v", got)
	}
}

func TestRateLimitMetrics(t *testing.T) {
	RateLimitExceeded.Reset()

	RecordRateLimitExceeded("http")
	if got := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("http")); got != 1 {
		t.Errorf("Expected 1 rate limit exceeded, got %v", got)
	}
}

func TestErrorMetrics(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("store", "load")
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("store", "load")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestUpdateActiveConnections(t *testing.T) {
	ActiveConnections.Reset()

	UpdateActiveConnections("http", "client", 5)
	if got := testutil.ToFloat64(ActiveConnections.WithLabelValues("http", "client")); got != 5 {
		t.Errorf("Expected 5 active connections, got %v", got)
	}
}

func TestDocumentHooks(t *testing.T) {
	WaysFinished.Reset()
	ParseWarnings.Reset()

	nodes := testutil.ToFloat64(NodesCreated)
	deduped := testutil.ToFloat64(VerticesDeduplicated)
	abandoned := testutil.ToFloat64(WaysAbandoned)
	queries := testutil.ToFloat64(TagQueries)

	h := DocumentHooks()
	h.OnNodeCreated("1")
	h.OnNodeCreated("2")
	h.OnVertexDeduplicated("1")
	h.OnWayFinished("3", true)
	h.OnWayFinished("4", false)
	h.OnWayFinished("5", false)
	h.OnWayAbandoned("6")
	h.OnParseWarning("NODE", "missing lat")
	h.OnParseWarning("relation", "unknown element")
	h.OnQuery(2, 7)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"nodes", testutil.ToFloat64(NodesCreated) - nodes, 2},
		{"deduplicated", testutil.ToFloat64(VerticesDeduplicated) - deduped, 1},
		{"closed ways", testutil.ToFloat64(WaysFinished.WithLabelValues("true")), 1},
		{"open ways", testutil.ToFloat64(WaysFinished.WithLabelValues("false")), 2},
		{"abandoned", testutil.ToFloat64(WaysAbandoned) - abandoned, 1},
		{"node warnings", testutil.ToFloat64(ParseWarnings.WithLabelValues("node")), 1},
		{"other warnings", testutil.ToFloat64(ParseWarnings.WithLabelValues("other")), 1},
		{"queries", testutil.ToFloat64(TagQueries) - queries, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func BenchmarkRecordMCPRequest(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordMCPRequest("benchmark_tool", 100*time.Millisecond, true)
	}
}

func BenchmarkRecordCacheHit(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordCacheHit("benchmark_cache")
	}
}
