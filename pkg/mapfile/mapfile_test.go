package mapfile

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
)

func quiet() osmdoc.Option {
	return osmdoc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sample(t *testing.T) *osmdoc.Document {
	t.Helper()
	d := osmdoc.New(quiet())
	d.SetBoundingBox(1, 0, 0, 1)
	d.BeginWay()
	require.NoError(t, d.AddTag("highway", "residential"))
	require.NoError(t, d.AddVertex(0.1, 0.1))
	require.NoError(t, d.AddVertex(0.2, 0.2))
	require.NoError(t, d.EndWay())
	return d
}

func TestCompressionFor(t *testing.T) {
	tests := map[string]Compression{
		"map.osm":        None,
		"map.osm.gz":     Gzip,
		"MAP.OSM.GZ":     Gzip,
		"map.osm.zst":    Zstd,
		"map.osm.lz4":    LZ4,
		"map":            None,
		"dir.gz/map.osm": None,
	}
	for path, want := range tests {
		assert.Equal(t, want, CompressionFor(path), path)
	}
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{
		"map.osm":         FormatDocument,
		"map.osm.zst":     FormatDocument,
		"extract.osm.pbf": FormatPBF,
		"extract.pbf.gz":  FormatPBF,
	}
	for path, want := range tests {
		assert.Equal(t, want, FormatFor(path), path)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"map.osm", "map.osm.gz", "map.osm.zst", "map.osm.lz4"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			src := sample(t)

			require.NoError(t, Save(context.Background(), path, src))

			got, err := Load(context.Background(), path, quiet())
			require.NoError(t, err)

			assert.Equal(t, src.Nodes(), got.Nodes())
			require.Equal(t, 1, got.WayCount())
			assert.Equal(t, src.Ways()[0].Nodes, got.Ways()[0].Nodes)
			assert.Len(t, got.WaysMatching(osmdoc.Tag{Key: "highway", Value: "residential"}), 1)
		})
	}
}

func TestCompressedFilesAreCompressed(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "map.osm")
	packed := filepath.Join(dir, "map.osm.zst")

	require.NoError(t, Save(context.Background(), plain, sample(t)))
	require.NoError(t, Save(context.Background(), packed, sample(t)))

	raw, err := os.ReadFile(packed)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(raw, []byte("<?xml")))

	// zstd frame magic
	assert.True(t, bytes.HasPrefix(raw, []byte{0x28, 0xb5, 0x2f, 0xfd}))
}

func TestSaveLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(context.Background(), filepath.Join(dir, "map.osm.gz"), sample(t)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "map.osm.gz", entries[0].Name())
}

func TestSavedFileIsWorldReadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "map.osm")
	require.NoError(t, Save(context.Background(), path, sample(t)))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), fi.Mode().Perm())
}

func TestSaveRejectsPBF(t *testing.T) {
	err := Save(context.Background(), filepath.Join(t.TempDir(), "x.osm.pbf"), sample(t))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.osm"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Load(ctx, "whatever.osm")
	assert.ErrorIs(t, err, context.Canceled)

	bad := filepath.Join(t.TempDir(), "bad.osm.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0o644))
	_, err = Load(context.Background(), bad)
	assert.Error(t, err)
}

func TestLoadAsOSMXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.osm.gz")

	w, err := Create(path)
	require.NoError(t, err)
	_, err = io.WriteString(w, `<osm version="0.6">
  <node id="1" lat="1" lon="1" visible="true"/>
  <node id="2" lat="2" lon="2" visible="true"/>
  <way id="3" visible="true"><nd ref="1"/><nd ref="2"/><tag k="waterway" v="stream"/></way>
</osm>`)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	d, err := LoadAs(context.Background(), path, FormatOSMXML, quiet())
	require.NoError(t, err)

	assert.Equal(t, 2, d.NodeCount())
	assert.Len(t, d.WaysMatching(osmdoc.Tag{Key: "waterway", Value: "stream"}), 1)
}

func TestCodecsStream(t *testing.T) {
	for _, c := range []Compression{None, Gzip, Zstd, LZ4} {
		t.Run(string(c), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, c)
			require.NoError(t, err)
			_, err = io.WriteString(w, "hello map")
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewReader(&buf, c)
			require.NoError(t, err)
			defer r.Close()
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "hello map", string(data))
		})
	}
}
