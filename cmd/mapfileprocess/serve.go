package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
	"github.com/NERVsystems/mapfileprocess/pkg/registration"
	"github.com/NERVsystems/mapfileprocess/pkg/server"
	"github.com/NERVsystems/mapfileprocess/pkg/store"
	"github.com/NERVsystems/mapfileprocess/pkg/tools"
	ver "github.com/NERVsystems/mapfileprocess/pkg/version"
)

const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	dataDir        string
	storeSize      int
	preload        []string
	enableHTTP     bool
	httpOnly       bool
	monitoringAddr string
	registryURL    string
	serviceURL     string
	http           server.HTTPTransportConfig
}

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		common commonFlags
		sf     serveFlags
	)
	defaults := server.DefaultHTTPTransportConfig()

	fs := newFlagSet("serve", stderr, &common)
	fs.StringVar(&sf.dataDir, "data-dir", envString("MAPFILE_DATA_DIR", "."), "Directory tools may load documents from and save them to")
	fs.IntVar(&sf.storeSize, "store-size", envInt("MAPFILE_STORE_SIZE", store.DefaultSize), "Number of documents kept in memory")
	fs.StringArrayVar(&sf.preload, "load", nil, "Load a map file into the store at startup; repeatable")

	fs.BoolVar(&sf.enableHTTP, "http", envBool("MAPFILE_HTTP", false), "Enable the streamable HTTP transport (in addition to stdio)")
	fs.BoolVar(&sf.httpOnly, "http-only", false, "Run the HTTP transport only, skip stdio (implies --http)")
	fs.StringVar(&sf.http.Addr, "http-addr", envString("MAPFILE_HTTP_ADDR", defaults.Addr), "HTTP listen address")
	fs.StringVar(&sf.http.EndpointPath, "http-endpoint", defaults.EndpointPath, "MCP endpoint path")
	fs.StringVar(&sf.http.AuthToken, "http-auth-token", os.Getenv("MAPFILE_AUTH_TOKEN"), "Bearer token required on the MCP endpoint")
	fs.Float64Var(&sf.http.RateLimit, "rate-limit", envFloat("MAPFILE_RATE_LIMIT", defaults.RateLimit), "Requests per second per client, 0 disables")
	fs.IntVar(&sf.http.RateBurst, "rate-burst", envInt("MAPFILE_RATE_BURST", defaults.RateBurst), "Rate limiter burst size")
	fs.BoolVar(&sf.http.TrustProxy, "trust-proxy", false, "Identify clients by X-Forwarded-For")
	fs.Int64Var(&sf.http.MaxRequestSize, "max-request-size", defaults.MaxRequestSize, "Maximum request body in bytes")
	fs.StringVar(&sf.http.TLSCertFile, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&sf.http.TLSKeyFile, "tls-key", "", "TLS key file")
	fs.BoolVar(&sf.http.Metrics, "metrics", defaults.Metrics, "Serve /metrics on the HTTP transport")
	fs.StringVar(&sf.monitoringAddr, "monitoring-addr", envString("MAPFILE_MONITORING_ADDR", ""), "Serve /metrics on this address when HTTP is disabled")
	fs.StringVar(&sf.registryURL, "registry-url", os.Getenv("MAPFILE_REGISTRY_URL"), "Announce the server to this service registry")
	fs.StringVar(&sf.serviceURL, "service-url", os.Getenv("MAPFILE_SERVICE_URL"), "URL announced to the registry (default: from --http-addr)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: serve takes no arguments", errUsage)
	}
	if sf.httpOnly {
		sf.enableHTTP = true
	}
	sf.http.MaxHeaderBytes = defaults.MaxHeaderBytes

	logger := common.logger(stderr)
	defer startTracing(ctx, logger)()

	docOpts, err := common.documentOptions(logger)
	if err != nil {
		return err
	}
	st, err := store.New(
		store.WithSize(sf.storeSize),
		store.WithLogger(logger),
		store.WithDocumentOptions(docOpts...),
	)
	if err != nil {
		return err
	}
	for _, path := range sf.preload {
		handle, err := st.Load(ctx, path)
		if err != nil {
			return fmt.Errorf("preload: %w", err)
		}
		logger.Info("preloaded document", "path", path, "handle", handle)
	}

	logger.Info("starting mapfileprocess server",
		"version", ver.BuildVersion,
		"data_dir", sf.dataDir,
		"store_size", sf.storeSize,
		"http_enabled", sf.enableHTTP,
		"http_only", sf.httpOnly)

	hc := monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
	defer hc.Shutdown()
	dataDirMonitor := monitoring.NewComponentMonitor("data_dir", hc, dataDirCheck(sf.dataDir), time.Minute)
	dataDirMonitor.Start()
	defer dataDirMonitor.Stop()
	hc.UpdateComponent("store", monitoring.StatusOK, 0, nil)

	registry := tools.NewRegistry(logger, st, sf.dataDir)
	srv := server.NewServer(registry, logger)

	serviceURL := sf.serviceURL
	if serviceURL == "" && sf.enableHTTP {
		serviceURL = "http://localhost" + sf.http.Addr
	}
	announcer := registration.NewClient(registration.Config{
		RegistryURL: sf.registryURL,
		ServiceName: monitoring.ServiceName,
		ServiceURL:  serviceURL,
		Version:     ver.BuildVersion,
		Tools:       registry.GetToolNames(),
		Metadata: map[string]any{
			"transport": map[string]bool{"stdio": !sf.httpOnly, "http": sf.enableHTTP},
		},
	}, logger)
	announcer.Start(ctx)
	defer announcer.Stop()

	if sf.enableHTTP {
		transport := server.NewHTTPTransport(srv.GetMCPServer(), sf.http, logger)
		transport.SetHealthChecker(hc)
		errc := make(chan error, 1)
		go func() { errc <- transport.Start() }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := transport.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown HTTP transport", "error", err)
			}
		}()

		if sf.httpOnly {
			logger.Info("server_ready", "transports", []string{"http"})
			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
				return nil
			case err := <-errc:
				return err
			}
		}

		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("stdio transport error", "error", err)
			}
		}()
		logger.Info("server_ready", "transports", []string{"stdio", "http"})
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		case err := <-errc:
			srv.Shutdown()
			return err
		}
		srv.Shutdown()
		return nil
	}

	if sf.monitoringAddr != "" {
		stopMonitoring := startMonitoringServer(ctx, sf.monitoringAddr, hc, logger)
		defer stopMonitoring()
	}

	hc.SetTransport(monitoring.TransportInfo{Type: "stdio"})
	logger.Info("transport_enabled", "type", "stdio", "mode", "blocking")
	return srv.Run(ctx)
}

// startMonitoringServer serves metrics and health next to a stdio server.
func startMonitoringServer(ctx context.Context, addr string, hc *monitoring.HealthChecker, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", hc.HealthHandler())
	mux.HandleFunc("GET /ready", hc.ReadinessHandler())
	mux.HandleFunc("GET /live", hc.LivenessHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("starting monitoring server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitoring server error", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
	}
}

// dataDirCheck reports the data directory unhealthy when it is missing or
// not a directory.
func dataDirCheck(dir string) func(context.Context) error {
	return func(context.Context) error {
		fi, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}
