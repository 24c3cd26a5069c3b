package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/mapfileprocess/pkg/mapfile"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
)

func runConvert(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		common  commonFlags
		out     string
		outDir  string
		ext     string
		from    string
		fromOSM bool
		jobs    int
	)
	fs := newFlagSet("convert", stderr, &common)
	fs.StringVarP(&out, "out", "o", "", "Output file; the extension selects the compression")
	fs.StringVar(&outDir, "out-dir", "", "Output directory when converting several files")
	fs.StringVar(&ext, "ext", ".osm", "Output extension used with --out-dir, e.g. .osm.zst")
	fs.StringVar(&from, "from", "", "Input format: document, osm or pbf (default: from the file name)")
	fs.BoolVar(&fromOSM, "from-osm", false, "Read inputs as standard OSM XML (same as --from osm)")
	fs.IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "Files converted concurrently")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: mapfileprocess convert [flags] -o OUT IN")
		fmt.Fprintln(stderr, "       mapfileprocess convert [flags] --out-dir DIR IN...")
		fs.PrintDefaults()
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fromOSM {
		from = string(mapfile.FormatOSMXML)
	}

	inputs := fs.Args()
	jobsList, err := planConversions(inputs, out, outDir, ext)
	if err != nil {
		fs.Usage()
		return err
	}
	for i := range jobsList {
		if jobsList[i].format, err = inputFormat(from, jobsList[i].in); err != nil {
			return err
		}
	}

	logger := common.logger(stderr)
	defer startTracing(ctx, logger)()

	opts, err := common.documentOptions(logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	results := make([]convertResult, len(jobsList))
	for i, job := range jobsList {
		g.Go(func() error {
			res, err := convertFile(ctx, logger, job, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		fmt.Fprintf(stdout, "%s -> %s (%d nodes, %d ways)\n", res.in, res.out, res.nodes, res.ways)
	}
	return nil
}

type conversion struct {
	in     string
	out    string
	format mapfile.Format
}

type convertResult struct {
	in, out     string
	nodes, ways int
}

// planConversions pairs every input with its output path.
func planConversions(inputs []string, out, outDir, ext string) ([]conversion, error) {
	switch {
	case len(inputs) == 0:
		return nil, fmt.Errorf("%w: no input files", errUsage)
	case out != "" && outDir != "":
		return nil, fmt.Errorf("%w: --out and --out-dir are exclusive", errUsage)
	case out != "":
		if len(inputs) != 1 {
			return nil, fmt.Errorf("%w: --out takes a single input, use --out-dir", errUsage)
		}
		return []conversion{{in: inputs[0], out: out}}, nil
	case outDir == "":
		return nil, fmt.Errorf("%w: one of --out or --out-dir is required", errUsage)
	}

	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	seen := make(map[string]string, len(inputs))
	plan := make([]conversion, 0, len(inputs))
	for _, in := range inputs {
		target := filepath.Join(outDir, stem(in)+ext)
		if prev, dup := seen[target]; dup {
			return nil, fmt.Errorf("%w: %s and %s both convert to %s", errUsage, prev, in, target)
		}
		seen[target] = in
		plan = append(plan, conversion{in: in, out: target})
	}
	return plan, nil
}

// stem returns the base name of path without its map and compression
// extensions.
func stem(path string) string {
	base := filepath.Base(path)
	if mapfile.CompressionFor(base) != mapfile.None {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".osm", ".pbf", ".xml":
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if strings.HasSuffix(strings.ToLower(base), ".osm") {
		base = base[:len(base)-len(".osm")]
	}
	return base
}

func convertFile(ctx context.Context, logger *slog.Logger, job conversion, opts []osmdoc.Option) (convertResult, error) {
	start := time.Now()
	doc, err := mapfile.LoadAs(ctx, job.in, job.format, opts...)
	if err != nil {
		return convertResult{}, err
	}
	if err := mapfile.Save(ctx, job.out, doc); err != nil {
		return convertResult{}, err
	}

	logger.Info("converted map file",
		"in", job.in,
		"out", job.out,
		"format", job.format,
		"compression", mapfile.CompressionFor(job.out),
		"nodes", doc.NodeCount(),
		"ways", doc.WayCount(),
		"duration", time.Since(start))

	return convertResult{
		in:    job.in,
		out:   job.out,
		nodes: doc.NodeCount(),
		ways:  doc.WayCount(),
	}, nil
}
