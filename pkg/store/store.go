// Package store keeps documents in memory under opaque handles so that
// several requests can work on the same document. Documents are held in an
// LRU; the least recently used one is dropped once the store is full.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/NERVsystems/mapfileprocess/pkg/mapfile"
	"github.com/NERVsystems/mapfileprocess/pkg/monitoring"
	"github.com/NERVsystems/mapfileprocess/pkg/osmdoc"
	"github.com/NERVsystems/mapfileprocess/pkg/tracing"
)

// DefaultSize is the number of documents kept when no size is configured.
const DefaultSize = 32

// ErrNotFound is returned for unknown or evicted handles.
var ErrNotFound = errors.New("store: document not found")

// Loader reads a document from path.
type Loader func(ctx context.Context, path string, opts ...osmdoc.Option) (*osmdoc.Document, error)

// Info describes a stored document.
type Info struct {
	Handle  string    `json:"handle"`
	Path    string    `json:"path,omitempty"`
	Created time.Time `json:"created"`
}

type entry struct {
	mu   sync.Mutex
	info Info
	doc  *osmdoc.Document
}

// Store is a bounded set of documents addressed by handle. It is safe for
// concurrent use; access to a single document is serialised by With.
type Store struct {
	docs   *lru.Cache[string, *entry]
	group  singleflight.Group
	logger *slog.Logger

	load    Loader
	docOpts []osmdoc.Option

	mu    sync.Mutex
	paths map[string]string // absolute path -> handle
}

// Option configures a Store.
type Option func(*config)

type config struct {
	size    int
	logger  *slog.Logger
	load    Loader
	docOpts []osmdoc.Option
}

// WithSize bounds the number of documents held.
func WithSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoader replaces mapfile.Load.
func WithLoader(load Loader) Option {
	return func(c *config) {
		if load != nil {
			c.load = load
		}
	}
}

// WithDocumentOptions sets the options of every document the store creates
// or loads.
func WithDocumentOptions(opts ...osmdoc.Option) Option {
	return func(c *config) {
		c.docOpts = append(c.docOpts, opts...)
	}
}

// New creates a store.
func New(opts ...Option) (*Store, error) {
	cfg := config{
		size:   DefaultSize,
		logger: slog.Default(),
		load:   mapfile.Load,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	docs, err := lru.New[string, *entry](cfg.size)
	if err != nil {
		return nil, fmt.Errorf("store: create cache: %w", err)
	}

	return &Store{
		docs:    docs,
		logger:  cfg.logger,
		load:    cfg.load,
		docOpts: cfg.docOpts,
		paths:   make(map[string]string),
	}, nil
}

// Create adds an empty document and returns its handle.
func (s *Store) Create() string {
	return s.Add(osmdoc.New(s.docOpts...), "")
}

// Add stores doc and returns its new handle. A non-empty path makes later
// Loads of that path return the same handle.
func (s *Store) Add(doc *osmdoc.Document, path string) string {
	e := &entry{
		info: Info{Handle: uuid.NewString(), Path: path, Created: time.Now()},
		doc:  doc,
	}

	if path != "" {
		key := pathKey(path)
		s.mu.Lock()
		s.paths[key] = e.info.Handle
		s.mu.Unlock()
	}

	if s.docs.Add(e.info.Handle, e) {
		s.logger.Debug("evicted least recently used document")
	}
	monitoring.UpdateCacheSize(monitoring.CacheTypeDocuments, s.docs.Len())
	return e.info.Handle
}

// Load returns the handle of the document stored for path, loading it when
// it is not held. Concurrent loads of one path share a single read.
func (s *Store) Load(ctx context.Context, path string) (handle string, err error) {
	ctx, span := tracing.StartSpan(ctx, "store.Load",
		trace.WithAttributes(attribute.String(tracing.AttrFilePath, path)))
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.String(tracing.AttrDocumentHandle, handle))
		}
		tracing.EndSpan(span, err)
	}()

	key := pathKey(path)
	if handle, ok := s.lookupPath(key); ok {
		monitoring.RecordCacheHit(monitoring.CacheTypeDocuments)
		span.SetAttributes(attribute.Bool(tracing.AttrStoreHit, true))
		return handle, nil
	}
	monitoring.RecordCacheMiss(monitoring.CacheTypeDocuments)
	span.SetAttributes(attribute.Bool(tracing.AttrStoreHit, false))

	// The shared load outlives any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		if handle, ok := s.lookupPath(key); ok {
			return handle, nil
		}

		start := time.Now()
		doc, err := s.load(loadCtx, path, s.docOpts...)
		if err != nil {
			monitoring.RecordError("store", "load")
			return "", err
		}

		handle := s.Add(doc, path)
		s.logger.Info("loaded document",
			"path", path,
			"handle", handle,
			"nodes", doc.NodeCount(),
			"ways", doc.WayCount(),
			"duration", time.Since(start))
		return handle, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		span.SetAttributes(attribute.Bool(tracing.AttrStoreShared, res.Shared))
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// lookupPath returns the handle stored for a path if its document is still
// held, dropping stale aliases.
func (s *Store) lookupPath(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.paths[key]
	if !ok {
		return "", false
	}
	if !s.docs.Contains(handle) {
		delete(s.paths, key)
		return "", false
	}
	return handle, true
}

// Get returns the document stored under handle. Callers sharing the store
// with other goroutines should prefer With.
func (s *Store) Get(handle string) (*osmdoc.Document, bool) {
	e, ok := s.docs.Get(handle)
	if !ok {
		return nil, false
	}
	return e.doc, true
}

// With runs fn with exclusive access to the document stored under handle.
func (s *Store) With(handle string, fn func(*osmdoc.Document) error) error {
	e, ok := s.docs.Get(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.doc)
}

// Info returns the description of a stored document.
func (s *Store) Info(handle string) (Info, bool) {
	e, ok := s.docs.Peek(handle)
	if !ok {
		return Info{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.info, true
}

// List describes every stored document, oldest first.
func (s *Store) List() []Info {
	var out []Info
	for _, handle := range s.docs.Keys() {
		if info, ok := s.Info(handle); ok {
			out = append(out, info)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// SetPath records that the document under handle now lives at path, for
// instance after it was saved there.
func (s *Store) SetPath(handle, path string) error {
	e, ok := s.docs.Peek(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	key := pathKey(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.info.Path != "" {
		if old := pathKey(e.info.Path); s.paths[old] == handle {
			delete(s.paths, old)
		}
	}
	e.info.Path = path
	s.paths[key] = handle
	return nil
}

// Remove drops a document. It reports whether the handle was held.
func (s *Store) Remove(handle string) bool {
	e, ok := s.docs.Peek(handle)
	if !ok {
		return false
	}
	s.docs.Remove(handle)

	s.mu.Lock()
	if e.info.Path != "" {
		if key := pathKey(e.info.Path); s.paths[key] == handle {
			delete(s.paths, key)
		}
	}
	s.mu.Unlock()

	monitoring.UpdateCacheSize(monitoring.CacheTypeDocuments, s.docs.Len())
	return true
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	return s.docs.Len()
}

func pathKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
