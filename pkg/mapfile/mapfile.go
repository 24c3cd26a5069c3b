// Package mapfile loads and saves documents on disk. The compression codec
// is chosen from the file extension: .gz, .zst and .lz4 are recognised and
// anything else is read and written as is.
package mapfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/mapfileprocess/pkg/convert"
	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/tracing"
)

// Compression identifies a file codec.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
	LZ4  Compression = "lz4"
)

// Format identifies what a file contains once decompressed.
type Format string

const (
	// FormatDocument is the document XML written by Save.
	FormatDocument Format = "document"
	// FormatOSMXML is a standard OSM XML extract.
	FormatOSMXML Format = "osm"
	// FormatPBF is an OSM PBF extract.
	FormatPBF Format = "pbf"
)

// ErrUnsupportedFormat is returned when saving to a format other than
// FormatDocument.
var ErrUnsupportedFormat = errors.New("mapfile: unsupported format")

// CompressionFor returns the codec implied by the extension of path.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return Gzip
	case ".zst", ".zstd":
		return Zstd
	case ".lz4":
		return LZ4
	default:
		return None
	}
}

// FormatFor returns the format implied by path once any compression
// extension is removed. Paths ending in .pbf are PBF extracts, everything
// else is a document.
func FormatFor(path string) Format {
	base := strings.ToLower(path)
	if CompressionFor(base) != None {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if filepath.Ext(base) == ".pbf" {
		return FormatPBF
	}
	return FormatDocument
}

// Open opens path for reading through the codec its extension implies.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(f, CompressionFor(path))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &stackedReader{ReadCloser: r, file: f}, nil
}

// Create creates path for writing through the codec its extension implies.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return wrapFile(f, CompressionFor(path))
}

// NewReader decompresses r with codec c.
func NewReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

// NewWriter compresses into w with codec c. Closing the returned writer
// flushes the codec but does not close w.
func NewWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// Load reads a document from path in the format its name implies.
func Load(ctx context.Context, path string, opts ...osmdoc.Option) (*osmdoc.Document, error) {
	return LoadAs(ctx, path, FormatFor(path), opts...)
}

// LoadAs reads a document from path in the given format.
func LoadAs(ctx context.Context, path string, format Format, opts ...osmdoc.Option) (doc *osmdoc.Document, err error) {
	compression := CompressionFor(path)
	ctx, span := tracing.StartSpan(ctx, "mapfile.Load", trace.WithAttributes(
		tracing.FileAttributes(path, string(compression), fileSize(path))...,
	))
	start := time.Now()
	defer func() {
		monitoring.RecordFileOperation("load", string(compression), time.Since(start), err == nil)
		if doc != nil {
			span.SetAttributes(tracing.DocumentAttributes("", doc.NodeCount(), doc.WayCount())...)
		}
		tracing.EndSpan(span, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	defer r.Close()

	switch format {
	case FormatDocument:
		doc, err = osmdoc.Decode(r, opts...)
	case FormatOSMXML:
		doc, _, err = convert.ScanXML(ctx, r, opts...)
	case FormatPBF:
		doc, _, err = convert.ScanPBF(ctx, r, 0, opts...)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return doc, nil
}

// Save writes doc to path. The file is written next to path under a
// temporary name and renamed into place once complete.
func Save(ctx context.Context, path string, doc *osmdoc.Document) (err error) {
	compression := CompressionFor(path)
	ctx, span := tracing.StartSpan(ctx, "mapfile.Save", trace.WithAttributes(
		tracing.DocumentAttributes("", doc.NodeCount(), doc.WayCount())...,
	))
	start := time.Now()
	defer func() {
		monitoring.RecordFileOperation("save", string(compression), time.Since(start), err == nil)
		if err == nil {
			span.SetAttributes(tracing.FileAttributes(path, string(compression), fileSize(path))...)
		}
		tracing.EndSpan(span, err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if FormatFor(path) != FormatDocument {
		return fmt.Errorf("save %s: %w", path, ErrUnsupportedFormat)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w, err := wrapFile(tmp, compression)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if _, err := doc.WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func wrapFile(f *os.File, c Compression) (io.WriteCloser, error) {
	w, err := NewWriter(f, c)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &stackedWriter{WriteCloser: w, file: f}, nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// stackedReader closes the codec and then the file under it.
type stackedReader struct {
	io.ReadCloser
	file *os.File
}

func (r *stackedReader) Close() error {
	return errors.Join(r.ReadCloser.Close(), r.file.Close())
}

// stackedWriter flushes the codec, syncs and closes the file under it.
type stackedWriter struct {
	io.WriteCloser
	file *os.File
}

func (w *stackedWriter) Close() error {
	if err := w.WriteCloser.Close(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
