package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
)

const initializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`

func newTestTransport(t *testing.T, mutate func(*HTTPTransportConfig)) (*HTTPTransport, *httptest.Server) {
	t.Helper()
	config := DefaultHTTPTransportConfig()
	config.Addr = ":0"
	if mutate != nil {
		mutate(&config)
	}
	transport := NewHTTPTransport(mcpserver.NewMCPServer("test-server", "1.0.0"), config, quietLogger())
	ts := httptest.NewServer(transport.Handler())
	t.Cleanup(ts.Close)
	return transport, ts
}

func postMCP(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPTransport_ServiceDiscovery(t *testing.T) {
	_, ts := newTestTransport(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var discovery struct {
		Service   string            `json:"service"`
		Transport string            `json:"transport"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		t.Fatal(err)
	}
	if discovery.Service != ServerName || discovery.Transport != "streamable-http" || discovery.Endpoints["mcp"] != "/mcp" {
		t.Errorf("unexpected discovery: %+v", discovery)
	}

	resp, err = http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPTransport_HealthEndpoints(t *testing.T) {
	transport, ts := newTestTransport(t, nil)

	for path, key := range map[string]string{"/health": "status", "/ready": "ready", "/live": "alive"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var body map[string]any
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK || body[key] == nil {
			t.Errorf("%s: status %d, body %v", path, resp.StatusCode, body)
		}
	}

	hc := monitoring.NewHealthChecker(ServerName, "test")
	t.Cleanup(hc.Shutdown)
	hc.UpdateComponent("store", monitoring.StatusOK, 1, nil)
	transport.SetHealthChecker(hc)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health monitoring.ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Service != ServerName || health.Components["store"].Status != monitoring.StatusOK {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestHTTPTransport_Metrics(t *testing.T) {
	_, ts := newTestTransport(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics status %d", resp.StatusCode)
	}

	_, ts = newTestTransport(t, func(c *HTTPTransportConfig) { c.Metrics = false })
	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled metrics status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPTransport_Initialize(t *testing.T) {
	_, ts := newTestTransport(t, nil)

	resp := postMCP(t, ts.URL, initializeRequest, nil)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("initialize status %d: %s", resp.StatusCode, body)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"serverInfo"`) {
		t.Errorf("initialize response lacks serverInfo: %s", body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing on MCP responses")
	}
}

func TestHTTPTransport_Auth(t *testing.T) {
	const token = "0123456789abcdef0123"
	_, ts := newTestTransport(t, func(c *HTTPTransportConfig) { c.AuthToken = token })

	if resp := postMCP(t, ts.URL, initializeRequest, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: status %d, want 401", resp.StatusCode)
	}

	auth := http.Header{"Authorization": []string{"Bearer " + token}}
	if resp := postMCP(t, ts.URL, initializeRequest, auth); resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status %d, want 200", resp.StatusCode)
	}

	// Health stays public.
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status %d, want 200", resp.StatusCode)
	}
}

func TestHTTPTransport_RateLimit(t *testing.T) {
	_, ts := newTestTransport(t, func(c *HTTPTransportConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	if resp := postMCP(t, ts.URL, initializeRequest, nil); resp.StatusCode == http.StatusTooManyRequests {
		t.Fatal("first request was rate limited")
	}
	if resp := postMCP(t, ts.URL, initializeRequest, nil); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status %d, want 429", resp.StatusCode)
	}
}

func TestHTTPTransport_RequestSizeLimit(t *testing.T) {
	_, ts := newTestTransport(t, func(c *HTTPTransportConfig) { c.MaxRequestSize = 16 })

	resp := postMCP(t, ts.URL, initializeRequest, nil)
	if resp.StatusCode == http.StatusOK {
		t.Errorf("oversized request accepted")
	}
}

func TestHTTPTransport_ShutdownWithoutStart(t *testing.T) {
	transport, _ := newTestTransport(t, nil)
	if err := transport.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown before Start: %v", err)
	}
}
