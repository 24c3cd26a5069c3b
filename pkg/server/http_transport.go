package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
)

// HTTPTransportConfig holds configuration for the HTTP transport
type HTTPTransportConfig struct {
	Addr           string  `json:"addr"`             // listen address, e.g. ":7082"
	EndpointPath   string  `json:"endpoint_path"`    // MCP endpoint (default "/mcp")
	AuthToken      string  `json:"-"`                // bearer token; empty disables auth
	RateLimit      float64 `json:"rate_limit"`       // requests per second per IP, 0 disables
	RateBurst      int     `json:"rate_burst"`       // burst size for the rate limiter
	TrustProxy     bool    `json:"trust_proxy"`      // key rate limits by X-Forwarded-For
	MaxRequestSize int64   `json:"max_request_size"` // maximum request body size in bytes
	MaxHeaderBytes int     `json:"max_header_bytes"` // maximum header size in bytes
	TLSCertFile    string  `json:"tls_cert_file"`
	TLSKeyFile     string  `json:"tls_key_file"`
	Metrics        bool    `json:"metrics"` // serve /metrics
}

// DefaultHTTPTransportConfig returns sensible defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           ":7082",
		EndpointPath:   "/mcp",
		RateLimit:      10,
		RateBurst:      20,
		MaxRequestSize: 10 << 20,
		MaxHeaderBytes: 1 << 20,
		Metrics:        true,
	}
}

// HTTPTransport serves MCP over streamable HTTP next to the health and
// metrics endpoints.
type HTTPTransport struct {
	config        HTTPTransportConfig
	logger        *slog.Logger
	streamable    *mcpserver.StreamableHTTPServer
	mux           *http.ServeMux
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker

	mu      sync.RWMutex
	httpSrv *http.Server
}

// NewHTTPTransport creates a new HTTP transport instance
func NewHTTPTransport(mcpServer *mcpserver.MCPServer, config HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if config.EndpointPath == "" {
		config.EndpointPath = "/mcp"
	}
	if config.AuthToken != "" && len(config.AuthToken) < 16 {
		logger.Warn("weak authentication token, use at least 16 characters")
	}

	t := &HTTPTransport{
		config: config,
		logger: logger,
		streamable: mcpserver.NewStreamableHTTPServer(mcpServer,
			mcpserver.WithEndpointPath(config.EndpointPath),
		),
		mux: http.NewServeMux(),
	}
	if config.RateLimit > 0 {
		t.rateLimiter = NewRateLimiter(rate.Limit(config.RateLimit), max(config.RateBurst, 1))
		t.rateLimiter.TrustProxyHeaders(config.TrustProxy)
	}

	t.setupRoutes()
	return t
}

// SetHealthChecker sets the health checker for the HTTP transport
func (t *HTTPTransport) SetHealthChecker(hc *monitoring.HealthChecker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthChecker = hc
}

func (t *HTTPTransport) setupRoutes() {
	t.mux.HandleFunc("GET /{$}", t.handleServiceDiscovery)

	// Health and metrics stay reachable without auth or rate limits.
	t.mux.HandleFunc("GET /health", t.healthHandler(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.HealthHandler() }, "status", "ok"))
	t.mux.HandleFunc("GET /ready", t.healthHandler(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.ReadinessHandler() }, "ready", true))
	t.mux.HandleFunc("GET /live", t.healthHandler(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.LivenessHandler() }, "alive", true))
	if t.config.Metrics {
		t.mux.Handle("GET /metrics", promhttp.Handler())
	}

	var mw []func(http.Handler) http.Handler
	if t.rateLimiter != nil {
		mw = append(mw, t.rateLimiter.Middleware)
	}
	mw = append(mw, BearerAuth(t.config.AuthToken, t.logger))
	t.mux.Handle(t.config.EndpointPath, Chain(t.streamable, mw...))
}

// Handler returns the transport's routes behind the common middleware.
func (t *HTTPTransport) Handler() http.Handler {
	mw := []func(http.Handler) http.Handler{
		TracingMiddleware(),
		LoggingMiddleware(t.logger),
		SecurityHeaders,
	}
	if t.config.MaxRequestSize > 0 {
		mw = append(mw, RequestSizeLimiter(t.config.MaxRequestSize))
	}
	return Chain(t.mux, mw...)
}

func (t *HTTPTransport) healthHandler(pick func(*monitoring.HealthChecker) http.HandlerFunc, key string, value any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.mu.RLock()
		hc := t.healthChecker
		t.mu.RUnlock()

		if hc != nil {
			pick(hc)(w, r)
			return
		}
		t.writeJSON(w, http.StatusOK, map[string]any{key: value})
	}
}

func (t *HTTPTransport) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	t.writeJSON(w, http.StatusOK, map[string]any{
		"service":   ServerName,
		"transport": "streamable-http",
		"endpoints": map[string]string{
			"mcp":    t.config.EndpointPath,
			"health": "/health",
		},
		"auth": map[string]any{
			"required": t.config.AuthToken != "",
		},
	})
}

func (t *HTTPTransport) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.logger.Error("failed to encode response", "error", err)
	}
}

// Start serves HTTP until Shutdown is called. It returns nil after a
// clean shutdown.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return errors.New("server: HTTP transport already started")
	}
	srv := &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    t.config.MaxHeaderBytes,
	}
	t.httpSrv = srv
	hc := t.healthChecker
	t.mu.Unlock()

	if hc != nil {
		hc.SetTransport(monitoring.TransportInfo{Type: "http_streaming", HTTPAddr: t.config.Addr})
	}

	tls := t.config.TLSCertFile != "" && t.config.TLSKeyFile != ""
	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"endpoint", t.config.EndpointPath,
		"auth", t.config.AuthToken != "",
		"rate_limit", t.config.RateLimit,
		"tls", tls)

	var err error
	if tls {
		err = srv.ListenAndServeTLS(t.config.TLSCertFile, t.config.TLSKeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP transport
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	srv := t.httpSrv
	t.httpSrv = nil
	t.mu.Unlock()

	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if srv == nil {
		return nil
	}

	t.logger.Info("shutting down HTTP transport")
	if err := t.streamable.Shutdown(ctx); err != nil {
		t.logger.Error("failed to shut down MCP sessions", "error", err)
	}
	return srv.Shutdown(ctx)
}

// GetConfig returns the transport configuration
func (t *HTTPTransport) GetConfig() HTTPTransportConfig {
	return t.config
}
