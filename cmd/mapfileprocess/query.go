package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/NERVsystems/mapfileprocess/pkg/geometry"
	"github.com/NERVsystems/mapfileprocess/pkg/mapfile"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
)

func runQuery(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		common commonFlags
		tags   []string
		format string
		from   string
		limit  int
		bounds bool
	)
	fs := newFlagSet("query", stderr, &common)
	fs.StringArrayVarP(&tags, "tag", "t", nil, "Tag predicate key=value; repeat to require several")
	fs.StringVarP(&format, "format", "f", "ids", "Output format: ids, json or geojson")
	fs.StringVar(&from, "from", "", "Input format: document, osm or pbf (default: from the file name)")
	fs.IntVarP(&limit, "limit", "n", 0, "Print at most this many ways (0 for all)")
	fs.BoolVar(&bounds, "bounds", false, "Compute way bounds before printing")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: mapfileprocess query [flags] FILE")
		fs.PrintDefaults()
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("%w: query takes exactly one file", errUsage)
	}

	preds, err := parsePredicates(tags)
	if err != nil {
		return err
	}
	switch format {
	case "ids", "json", "geojson":
	default:
		return fmt.Errorf("%w: unknown output format %q", errUsage, format)
	}

	logger := common.logger(stderr)
	defer startTracing(ctx, logger)()

	opts, err := common.documentOptions(logger)
	if err != nil {
		return err
	}

	path := fs.Arg(0)
	inFormat, err := inputFormat(from, path)
	if err != nil {
		return err
	}
	doc, err := mapfile.LoadAs(ctx, path, inFormat, opts...)
	if err != nil {
		return err
	}

	if bounds {
		n := geometry.ComputeWayBounds(doc)
		logger.Debug("computed way bounds", "ways", n)
	}

	var ways []*osmdoc.Way
	if len(preds) == 0 {
		ways = doc.Ways()
	} else {
		ways = doc.WaysMatching(preds...)
	}
	if ways == nil {
		ways = []*osmdoc.Way{}
	}
	if limit > 0 && len(ways) > limit {
		ways = ways[:limit]
	}

	logger.Debug("query finished",
		"path", path,
		"predicates", len(preds),
		"matched", len(ways))

	return writeWays(stdout, doc, ways, format)
}

func writeWays(w io.Writer, doc *osmdoc.Document, ways []*osmdoc.Way, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ways)
	case "geojson":
		data, err := json.MarshalIndent(geometry.FeatureCollection(doc, ways), "", "  ")
		if err != nil {
			return fmt.Errorf("encode geojson: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		for _, way := range ways {
			if _, err := fmt.Fprintln(w, way.ID); err != nil {
				return err
			}
		}
		return nil
	}
}

// parsePredicates turns key=value arguments into tag predicates. A bare key
// is an error; an empty value is allowed.
func parsePredicates(args []string) ([]osmdoc.Tag, error) {
	preds := make([]osmdoc.Tag, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: tag predicate %q is not key=value", errUsage, arg)
		}
		preds = append(preds, osmdoc.Tag{Key: key, Value: value})
	}
	return preds, nil
}

// inputFormat resolves a --from value, falling back to the file name.
func inputFormat(from, path string) (mapfile.Format, error) {
	switch mapfile.Format(from) {
	case "":
		return mapfile.FormatFor(path), nil
	case mapfile.FormatDocument, mapfile.FormatOSMXML, mapfile.FormatPBF:
		return mapfile.Format(from), nil
	default:
		return "", fmt.Errorf("%w: unknown input format %q", errUsage, from)
	}
}
