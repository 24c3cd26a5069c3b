package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/NERVsystems/mapfileprocess/pkg/version"
)

// Component states
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Overall health states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// TransportInfo holds transport configuration and status
type TransportInfo struct {
	Type     string `json:"type"`                // "http_streaming" or "stdio"
	HTTPAddr string `json:"http_addr,omitempty"` // HTTP address if enabled
}

// ServiceHealth is the body of the health endpoint.
type ServiceHealth struct {
	Service       string                     `json:"service"`
	Version       string                     `json:"version"`
	Status        string                     `json:"status"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	StartTime     time.Time                  `json:"start_time"`
	Components    map[string]ComponentStatus `json:"components"`
	Metrics       map[string]interface{}     `json:"metrics,omitempty"`
	Transport     *TransportInfo             `json:"transport,omitempty"`
}

// ComponentStatus is the last observed state of one component.
type ComponentStatus struct {
	Status    string    `json:"status"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthChecker aggregates component states into service health
type HealthChecker struct {
	serviceName string
	version     string
	startTime   time.Time
	transport   *TransportInfo

	mu         sync.RWMutex
	components map[string]ComponentStatus

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHealthChecker creates a health checker and starts the system metrics
// collector.
func NewHealthChecker(serviceName, version string) *HealthChecker {
	ctx, cancel := context.WithCancel(context.Background())

	hc := &HealthChecker{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		components:  make(map[string]ComponentStatus),
		ctx:         ctx,
		cancel:      cancel,
	}

	go hc.collectSystemMetrics()

	return hc
}

// SetTransport records how the service is exposed.
func (h *HealthChecker) SetTransport(info TransportInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transport = &info
}

// UpdateComponent records the state of a component
func (h *HealthChecker) UpdateComponent(name, status string, latencyMs int64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs := ComponentStatus{
		Status:    status,
		LatencyMs: latencyMs,
		CheckedAt: time.Now(),
	}
	if err != nil {
		cs.LastError = err.Error()
	}
	h.components[name] = cs
}

// RemoveComponent stops reporting a component
func (h *HealthChecker) RemoveComponent(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.components, name)
}

// GetHealth returns the current health status
func (h *HealthChecker) GetHealth() ServiceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	errorCount, degradedCount := 0, 0
	components := make(map[string]ComponentStatus, len(h.components))
	for name, c := range h.components {
		components[name] = c
		switch c.Status {
		case StatusError:
			errorCount++
		case StatusDegraded:
			degradedCount++
		}
	}

	// healthy -> degraded -> unhealthy once more than half the components fail
	status := HealthHealthy
	switch {
	case errorCount > 0 && errorCount > len(h.components)/2:
		status = HealthUnhealthy
	case errorCount > 0 || degradedCount > 0:
		status = HealthDegraded
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ServiceHealth{
		Service:       h.serviceName,
		Version:       h.version,
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		StartTime:     h.startTime,
		Components:    components,
		Transport:     h.transport,
		Metrics: map[string]interface{}{
			"goroutines":      runtime.NumGoroutine(),
			"memory_alloc_mb": m.Alloc / 1024 / 1024,
			"gc_runs":         m.NumGC,
			"cpu_count":       runtime.NumCPU(),
			"version_info":    version.Info(),
		},
	}
}

// HealthHandler returns an HTTP handler for health checks
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()

		code := http.StatusOK
		if health.Status == HealthUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadinessHandler returns a simple readiness check
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()
		ready := health.Status != HealthUnhealthy

		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"ready":  ready,
			"status": health.Status,
		})
	}
}

// LivenessHandler returns a simple liveness check
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

// collectSystemMetrics periodically updates the system gauges
func (h *HealthChecker) collectSystemMetrics() {
	h.updateSystemMetrics()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.updateSystemMetrics()
		}
	}
}

func (h *HealthChecker) updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	GoRoutines.Set(float64(runtime.NumGoroutine()))
	MemoryUsage.Set(float64(m.Alloc))
	GCRuns.Set(float64(m.NumGC))

	info := version.Info()
	SystemInfo.WithLabelValues(
		info["version"],
		info["go_version"],
		info["commit"],
		info["build_date"],
	).Set(1)
}

// Shutdown stops the system metrics collector
func (h *HealthChecker) Shutdown() {
	h.cancel()
}

// ComponentMonitor runs a check periodically and reports it to a
// HealthChecker.
type ComponentMonitor struct {
	name          string
	healthChecker *HealthChecker
	check         func(context.Context) error
	interval      time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewComponentMonitor creates a monitor for one component
func NewComponentMonitor(name string, hc *HealthChecker, check func(context.Context) error, interval time.Duration) *ComponentMonitor {
	ctx, cancel := context.WithCancel(hc.ctx)

	return &ComponentMonitor{
		name:          name,
		healthChecker: hc,
		check:         check,
		interval:      interval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins monitoring the component
func (cm *ComponentMonitor) Start() {
	go cm.monitor()
}

// Stop stops monitoring the component
func (cm *ComponentMonitor) Stop() {
	cm.cancel()
}

func (cm *ComponentMonitor) monitor() {
	cm.performCheck()

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.ctx.Done():
			return
		case <-ticker.C:
			cm.performCheck()
		}
	}
}

func (cm *ComponentMonitor) performCheck() {
	start := time.Now()
	err := cm.check(cm.ctx)
	latency := time.Since(start).Milliseconds()

	status := StatusOK
	if err != nil {
		status = StatusError
	}

	cm.healthChecker.UpdateComponent(cm.name, status, latency, err)
}
