package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
)

const (
	// Service name for metrics
	ServiceName = "mapfileprocess"

	// CacheTypeDocuments labels the document store cache.
	CacheTypeDocuments = "documents"
)

var (
	// MCP request metrics
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_mcp_requests_total",
			Help: "Total number of MCP requests processed",
		},
		[]string{"tool", "status"},
	)

	MCPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapfileprocess_mcp_request_duration_seconds",
			Help:    "MCP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"tool"},
	)

	// Map file metrics
	FileOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_file_operations_total",
			Help: "Total number of map file loads and saves",
		},
		[]string{"operation", "compression", "status"},
	)

	FileOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapfileprocess_file_operation_duration_seconds",
			Help:    "Map file load and save duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"operation", "compression"},
	)

	// Document metrics
	NodesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapfileprocess_nodes_created_total",
			Help: "Total number of nodes added to documents",
		},
	)

	VerticesDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapfileprocess_vertices_deduplicated_total",
			Help: "Total number of way vertices resolved to an existing node",
		},
	)

	WaysFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_ways_finished_total",
			Help: "Total number of ways finished, by closed flag",
		},
		[]string{"closed"},
	)

	WaysAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapfileprocess_ways_abandoned_total",
			Help: "Total number of ways replaced before being finished",
		},
	)

	ParseWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_parse_warnings_total",
			Help: "Total number of elements skipped or defaulted while parsing",
		},
		[]string{"element"},
	)

	TagQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapfileprocess_tag_queries_total",
			Help: "Total number of tag queries",
		},
	)

	TagQueryMatches = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mapfileprocess_tag_query_matches",
			Help:    "Number of ways matched per tag query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// Rate limiting metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"scope"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapfileprocess_cache_size",
			Help: "Current number of items in cache",
		},
		[]string{"cache_type"},
	)

	// Connection metrics
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapfileprocess_active_connections",
			Help: "Number of active connections",
		},
		[]string{"transport", "type"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapfileprocess_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapfileprocess_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapfileprocess_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapfileprocess_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	GCRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapfileprocess_gc_runs_total",
			Help: "Total number of garbage collection runs",
		},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Helper functions for common metric updates
func RecordMCPRequest(tool string, duration time.Duration, success bool) {
	MCPRequestsTotal.WithLabelValues(tool, status(success)).Inc()
	MCPRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordFileOperation records a map file load or save.
func RecordFileOperation(operation, compression string, duration time.Duration, success bool) {
	FileOperationsTotal.WithLabelValues(operation, compression, status(success)).Inc()
	FileOperationDuration.WithLabelValues(operation, compression).Observe(duration.Seconds())
}

func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func UpdateCacheSize(cacheType string, size int) {
	CacheSize.WithLabelValues(cacheType).Set(float64(size))
}

func RecordRateLimitExceeded(scope string) {
	RateLimitExceeded.WithLabelValues(scope).Inc()
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func UpdateActiveConnections(transport, connType string, count int) {
	ActiveConnections.WithLabelValues(transport, connType).Set(float64(count))
}

// DocumentHooks returns document hooks feeding the document metrics. The
// hooks are stateless and can be shared by any number of documents.
func DocumentHooks() *osmdoc.Hooks {
	return &osmdoc.Hooks{
		OnNodeCreated:        func(osmdoc.ID) { NodesCreated.Inc() },
		OnVertexDeduplicated: func(osmdoc.ID) { VerticesDeduplicated.Inc() },
		OnWayFinished: func(_ osmdoc.ID, closed bool) {
			WaysFinished.WithLabelValues(strconv.FormatBool(closed)).Inc()
		},
		OnWayAbandoned: func(osmdoc.ID) { WaysAbandoned.Inc() },
		OnParseWarning: func(element, _ string) {
			ParseWarnings.WithLabelValues(elementLabel(element)).Inc()
		},
		OnQuery: func(_, matched int) {
			TagQueries.Inc()
			TagQueryMatches.Observe(float64(matched))
		},
	}
}

// elementLabel keeps the parse warning label set bounded.
func elementLabel(element string) string {
	switch e := strings.ToLower(element); e {
	case "node", "way", "bound", "nd", "tag":
		return e
	default:
		return "other"
	}
}
