package registration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeRegistry struct {
	mu        sync.Mutex
	status    int
	announced []Announcement
	deleted   []string
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/register":
		var a Announcement
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.announced = append(f.announced, a)
		w.WriteHeader(f.status)
	case r.Method == http.MethodDelete:
		f.deleted = append(f.deleted, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRegistry) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.announced), len(f.deleted)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(Config{ServiceName: "mapfileprocess"}, quietLogger())
	if c.Enabled() {
		t.Fatal("Expected client without registry URL to be disabled")
	}
	c.Start(context.Background())
	c.Stop()
	if c.Registered() {
		t.Error("Disabled client should never be registered")
	}
}

func TestRegisterHeartbeatAndWithdraw(t *testing.T) {
	reg := &fakeRegistry{status: http.StatusOK}
	ts := httptest.NewServer(reg)
	defer ts.Close()

	c := NewClient(Config{
		RegistryURL:       ts.URL,
		ServiceName:       "map files",
		ServiceURL:        "http://maps.internal:7082",
		Version:           "v1.0.0",
		Tools:             []string{"document_create"},
		HeartbeatInterval: 10 * time.Millisecond,
	}, quietLogger())

	c.Start(context.Background())
	waitFor(t, func() bool {
		n, _ := reg.counts()
		return n >= 2
	})
	if !c.Registered() {
		t.Error("Expected client to be registered")
	}

	c.Stop()
	if c.Registered() {
		t.Error("Expected client to be deregistered after Stop")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	a := reg.announced[0]
	if a.Name != "map files" || a.Type != "mcp" || a.Version != "v1.0.0" {
		t.Errorf("Unexpected announcement %+v", a)
	}
	if a.HealthURL != "http://maps.internal:7082/health" {
		t.Errorf("Expected derived health URL, got %q", a.HealthURL)
	}
	if len(a.Tools) != 1 || a.Tools[0] != "document_create" {
		t.Errorf("Expected tool list to be announced, got %v", a.Tools)
	}
	if len(reg.deleted) != 1 || reg.deleted[0] != "/api/register/map files" {
		t.Errorf("Expected one withdrawal of the service, got %v", reg.deleted)
	}
}

func TestRejectedAnnouncementRetries(t *testing.T) {
	reg := &fakeRegistry{status: http.StatusServiceUnavailable}
	ts := httptest.NewServer(reg)
	defer ts.Close()

	c := NewClient(Config{
		RegistryURL:       ts.URL,
		ServiceName:       "mapfileprocess",
		HeartbeatInterval: time.Hour,
		RetryInterval:     10 * time.Millisecond,
	}, quietLogger())

	c.Start(context.Background())
	waitFor(t, func() bool {
		n, _ := reg.counts()
		return n >= 3
	})
	if c.Registered() {
		t.Error("Rejected client should not be registered")
	}

	c.Stop()
	if _, deleted := reg.counts(); deleted != 0 {
		t.Errorf("Expected no withdrawal for an unregistered client, got %d", deleted)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	reg := &fakeRegistry{status: http.StatusOK}
	ts := httptest.NewServer(reg)
	defer ts.Close()

	c := NewClient(Config{RegistryURL: ts.URL, ServiceName: "mapfileprocess"}, quietLogger())
	c.Start(context.Background())
	c.Start(context.Background())
	waitFor(t, c.Registered)

	c.Stop()
	c.Stop()

	if announced, _ := reg.counts(); announced != 1 {
		t.Errorf("Expected a single announcement within the default heartbeat, got %d", announced)
	}
}
