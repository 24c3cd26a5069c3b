package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/spatial"
	"github.com/NERVsystems/mapfileprocess/pkg/tracing"
	ver "github.com/NERVsystems/mapfileprocess/pkg/version"
)

const usage = `Usage: mapfileprocess <command> [flags]

Commands:
  query     run tag queries against a map file
  convert   convert map files between formats and compressions
  serve     run the MCP server over stdio or HTTP
  version   print version information

Run "mapfileprocess <command> --help" for the flags of a command.
`

// errUsage reports a command line the user has to fix.
var errUsage = errors.New("usage error")

func main() {
	if err := godotenv.Load(".env", ".local.env"); err != nil {
		// Both files are optional.
		slog.Debug("no env file loaded", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "mapfileprocess:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "query":
		return runQuery(ctx, rest, stdout, stderr)
	case "convert":
		return runConvert(ctx, rest, stdout, stderr)
	case "serve":
		return runServe(ctx, rest, stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, ver.String())
		return nil
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	debug   bool
	epsilon float64
	idStart int64
	index   string
}

func newFlagSet(name string, stderr io.Writer, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&common.debug, "debug", envBool("MAPFILE_DEBUG", false), "Enable debug logging")
	fs.Float64Var(&common.epsilon, "epsilon", osmdoc.DefaultDuplicateEpsilon, "Coordinate tolerance for vertex deduplication, in degrees")
	fs.Int64Var(&common.idStart, "id-start", osmdoc.DefaultIDStart, "First identifier handed out to new nodes and ways")
	fs.StringVar(&common.index, "index", envString("MAPFILE_INDEX", "grid"), "Vertex proximity index: grid or quadtree")
	return fs
}

// parseFlags parses args, mapping flag errors to errUsage.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func (c *commonFlags) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if c.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// documentOptions returns the options of every document a command creates.
func (c *commonFlags) documentOptions(logger *slog.Logger) ([]osmdoc.Option, error) {
	opts := []osmdoc.Option{
		osmdoc.WithLogger(logger),
		osmdoc.WithDuplicateEpsilon(c.epsilon),
		osmdoc.WithIDStart(c.idStart),
		osmdoc.WithHooks(monitoring.DocumentHooks()),
	}

	switch c.index {
	case "", "grid":
	case "quadtree":
		// Each document needs its own index.
		opts = append(opts, func(d *osmdoc.Document) {
			osmdoc.WithSpatialIndex(spatial.NewQuadtree[osmdoc.ID](spatial.WorldBound))(d)
		})
	default:
		return nil, fmt.Errorf("%w: unknown index %q", errUsage, c.index)
	}
	return opts, nil
}

// startTracing initialises tracing and returns its shutdown function. Tracing
// is not critical; a failure is logged and a no-op shutdown returned.
func startTracing(ctx context.Context, logger *slog.Logger) func() {
	shutdown, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return func() {}
	}
	if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
		logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
	}
	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("error shutting down tracing", "error", err)
		}
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
