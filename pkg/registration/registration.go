// Package registration announces a running server to a service registry.
// Announcing is optional and best effort: the server works the same whether
// or not the registry is reachable.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
)

const (
	// DefaultHeartbeatInterval is the time between announcements once
	// registered.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultRetryInterval is the time between attempts while the registry
	// rejects or cannot be reached.
	DefaultRetryInterval = 5 * time.Second

	// DefaultTimeout bounds each registry request.
	DefaultTimeout = 5 * time.Second
)

// Config describes the service and the registry it announces itself to. An
// empty RegistryURL disables the client.
type Config struct {
	RegistryURL string
	ServiceName string
	ServiceURL  string
	HealthURL   string
	Version     string
	Tools       []string
	Metadata    map[string]any

	HeartbeatInterval time.Duration
	RetryInterval     time.Duration
	Timeout           time.Duration
}

// Announcement is the body posted to the registry.
type Announcement struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	URL          string         `json:"url"`
	HealthURL    string         `json:"health_url,omitempty"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities"`
	Tools        []string       `json:"tools,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Capabilities are advertised with every announcement.
var Capabilities = []string{"map-documents", "tag-query", "osm-xml"}

// Client keeps a service registered by re-announcing it periodically.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	mu         sync.Mutex
	registered bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewClient creates a client. Zero durations take their defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthURL == "" && cfg.ServiceURL != "" {
		if u, err := url.JoinPath(cfg.ServiceURL, "health"); err == nil {
			cfg.HealthURL = u
		}
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether the client has a registry to talk to.
func (c *Client) Enabled() bool {
	return c.cfg.RegistryURL != ""
}

// Start announces the service in the background until ctx is cancelled or
// Stop is called. It does nothing when the client is disabled or already
// started.
func (c *Client) Start(ctx context.Context) {
	if !c.Enabled() {
		c.logger.Debug("service registration disabled")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

// Stop ends the announcements and withdraws the service from the registry.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done

	ctx, stop := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer stop()
	c.withdraw(ctx)
}

// Registered reports whether the last announcement was accepted.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *Client) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := c.cfg.HeartbeatInterval
		if err := c.announce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("registration failed", "registry", c.cfg.RegistryURL, "error", err)
			monitoring.RecordError("registration", "announce")
			wait = c.cfg.RetryInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// announce posts the service description once.
func (c *Client) announce(ctx context.Context) error {
	body, err := json.Marshal(Announcement{
		Name:         c.cfg.ServiceName,
		Type:         "mcp",
		URL:          c.cfg.ServiceURL,
		HealthURL:    c.cfg.HealthURL,
		Version:      c.cfg.Version,
		Capabilities: Capabilities,
		Tools:        c.cfg.Tools,
		Metadata:     c.cfg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode announcement: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.RegistryURL, "api", "register")
	if err != nil {
		return fmt.Errorf("registry url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A cancelled heartbeat says nothing about the registry.
		if ctx.Err() == nil {
			c.setRegistered(false)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.setRegistered(false)
		return fmt.Errorf("registry answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if !c.setRegistered(true) {
		c.logger.Info("registered with service registry",
			"registry", c.cfg.RegistryURL,
			"name", c.cfg.ServiceName)
	}
	return nil
}

// withdraw removes the service from the registry if it was registered.
func (c *Client) withdraw(ctx context.Context) {
	if !c.setRegistered(false) {
		return
	}

	endpoint, err := url.JoinPath(c.cfg.RegistryURL, "api", "register", c.cfg.ServiceName)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("deregistration failed", "error", err)
		return
	}
	resp.Body.Close()
	c.logger.Info("deregistered from service registry", "name", c.cfg.ServiceName, "status", resp.StatusCode)
}

// setRegistered stores the registration state and returns the previous one.
func (c *Client) setRegistered(registered bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.registered
	c.registered = registered
	return prev
}
