// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry indexes remote capabilities, answers discovery searches
// and loads full schemas on first selection.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/telemetry"
)

// DefaultTopK bounds search results when the caller passes zero.
const DefaultTopK = 5

// Direct selection prefixes understood by Search.
const (
	PrefixSelect = "select:"
	PrefixLoad   = "load:"
)

// SchemaSource fetches the full parameter schema of a capability.
type SchemaSource interface {
	FetchSchema(ctx context.Context, name string) (json.RawMessage, error)
}

// Lister lists capabilities. Both a single session and a provider pool
// satisfy it.
type Lister interface {
	ListCapabilities(ctx context.Context) ([]mcp.Descriptor, error)
}

// ListingSource adapts a Lister to SchemaSource by listing and picking the
// named capability.
type ListingSource struct {
	Lister Lister
}

// FetchSchema implements SchemaSource.
func (s ListingSource) FetchSchema(ctx context.Context, name string) (json.RawMessage, error) {
	descs, err := s.Lister.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range descs {
		if d.Name == name {
			return d.Schema, nil
		}
	}
	return nil, errors.New(errors.CodeUnknownCapability, "capability not listed by source", nil).
		WithContext("capability", name)
}

// Filter hides descriptors from search results when it returns false.
type Filter func(mcp.Descriptor) bool

// snapshot is immutable once published.
type snapshot struct {
	order   []string
	entries map[string]mcp.Descriptor
	schemas map[string]json.RawMessage
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		order:   append([]string(nil), s.order...),
		entries: make(map[string]mcp.Descriptor, len(s.entries)),
		schemas: make(map[string]json.RawMessage, len(s.schemas)),
	}
	for k, v := range s.entries {
		next.entries[k] = v
	}
	for k, v := range s.schemas {
		next.schemas[k] = v
	}
	return next
}

// Option configures a Registry.
type Option func(*Registry)

// WithScorer replaces the search strategy.
func WithScorer(s Scorer) Option {
	return func(r *Registry) {
		if s != nil {
			r.scorer = s
		}
	}
}

// WithCatalog attaches curated capability knowledge.
func WithCatalog(c *Catalog) Option {
	return func(r *Registry) {
		r.catalog = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry is safe for concurrent use. Readers never block: they load the
// current snapshot, and writers publish a modified copy.
type Registry struct {
	source  SchemaSource
	scorer  Scorer
	catalog *Catalog
	logger  *slog.Logger
	tracer  trace.Tracer

	mu    sync.Mutex
	state atomic.Pointer[snapshot]
	loads singleflight.Group
}

// New creates an empty registry that loads schemas from source.
func New(source SchemaSource, opts ...Option) *Registry {
	r := &Registry{
		source: source,
		scorer: KeywordScorer{NameBonus: DefaultNameBonus},
		logger: telemetry.Component(slog.Default(), "registry"),
		tracer: otel.Tracer("sextant/registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state.Store(&snapshot{
		entries: map[string]mcp.Descriptor{},
		schemas: map[string]json.RawMessage{},
	})
	return r
}

// Index adds descriptors. Only summaries are kept; schemas are loaded on
// selection. A name seen before keeps its position and has its fields
// merged: non-empty new values win and MutatesState is sticky.
func (r *Registry) Index(descs ...mcp.Descriptor) {
	if len(descs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.state.Load().clone()
	for _, d := range descs {
		if d.Name == "" {
			continue
		}
		d = r.catalog.Apply(d.Summarized())
		prev, ok := next.entries[d.Name]
		if !ok {
			next.order = append(next.order, d.Name)
			next.entries[d.Name] = d
			continue
		}
		next.entries[d.Name] = merge(prev, d)
	}
	r.state.Store(next)
}

func merge(prev, d mcp.Descriptor) mcp.Descriptor {
	if d.Summary != "" {
		prev.Summary = d.Summary
	}
	if d.Category != "" {
		prev.Category = d.Category
	}
	if d.Provider != "" {
		prev.Provider = d.Provider
	}
	prev.MutatesState = prev.MutatesState || d.MutatesState
	return prev
}

// Sync indexes everything l lists.
func (r *Registry) Sync(ctx context.Context, l Lister) error {
	descs, err := l.ListCapabilities(ctx)
	r.Index(descs...)
	r.logger.Debug("registry.sync", slog.Int("listed", len(descs)), slog.Int("indexed", r.Len()))
	return err
}

// Len returns the number of indexed capabilities.
func (r *Registry) Len() int { return len(r.state.Load().order) }

// Names returns capability names in insertion order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.state.Load().order...)
}

// Lookup returns the indexed summary for name.
func (r *Registry) Lookup(name string) (mcp.Descriptor, bool) {
	d, ok := r.state.Load().entries[name]
	return d, ok
}

// Loaded returns the descriptor with its schema if it has been loaded.
func (r *Registry) Loaded(name string) (mcp.Descriptor, bool) {
	snap := r.state.Load()
	d, ok := snap.entries[name]
	if !ok {
		return mcp.Descriptor{}, false
	}
	schema, ok := snap.schemas[name]
	if !ok {
		return mcp.Descriptor{}, false
	}
	d.Schema = schema
	return d, true
}

// Knowledge returns catalog rules for name, or "".
func (r *Registry) Knowledge(name string) string {
	return r.catalog.Knowledge(name)
}

// SelectName extracts the capability name from a "select:" or "load:"
// query.
func SelectName(query string) (string, bool) {
	q := strings.TrimSpace(query)
	for _, prefix := range []string{PrefixSelect, PrefixLoad} {
		if len(q) >= len(prefix) && strings.EqualFold(q[:len(prefix)], prefix) {
			return strings.TrimSpace(q[len(prefix):]), true
		}
	}
	return "", false
}

// Search returns at most topK summaries ranked by the scorer. Ties keep
// insertion order and zero scores are dropped. A "select:<name>" query
// returns that capability alone, or nothing if it is unknown; use Find to
// tell the two apart.
func (r *Registry) Search(query string, topK int, filters ...Filter) []mcp.Descriptor {
	out, _ := r.Find(query, topK, filters...)
	return out
}

// Find is Search with the select form failing with UnknownCapability when
// the name is absent or excluded by the filters.
func (r *Registry) Find(query string, topK int, filters ...Filter) ([]mcp.Descriptor, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	snap := r.state.Load()

	if name, ok := SelectName(query); ok {
		d, found := snap.entries[name]
		if !found || !keep(d, filters) {
			return nil, errors.New(errors.CodeUnknownCapability, "unknown capability "+name, nil).
				WithContext("capability", name)
		}
		return []mcp.Descriptor{d}, nil
	}

	q := NewQuery(query)
	type hit struct {
		d     mcp.Descriptor
		score float64
	}
	var hits []hit
	for _, name := range snap.order {
		d := snap.entries[name]
		if !keep(d, filters) {
			continue
		}
		if s := r.scorer.Score(q, d); s > 0 {
			hits = append(hits, hit{d: d, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]mcp.Descriptor, len(hits))
	for i, h := range hits {
		out[i] = h.d
	}
	return out, nil
}

func keep(d mcp.Descriptor, filters []Filter) bool {
	for _, f := range filters {
		if f != nil && !f(d) {
			return false
		}
	}
	return true
}

// Select returns the full descriptor for name, loading its schema on first
// use, and marks it loaded in session. Loaded schemas never change.
func (r *Registry) Select(ctx context.Context, session *core.SessionState, name string) (mcp.Descriptor, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.Select", trace.WithAttributes(attribute.String("capability.name", name)))
	defer span.End()

	snap := r.state.Load()
	d, ok := snap.entries[name]
	if !ok {
		err := errors.New(errors.CodeUnknownCapability, "unknown capability "+name, nil).
			WithContext("capability", name)
		span.SetStatus(codes.Error, err.Error())
		return mcp.Descriptor{}, err
	}

	schema, cached := snap.schemas[name]
	span.SetAttributes(attribute.Bool("registry.cache_hit", cached))
	if !cached {
		var err error
		schema, err = r.loadSchema(ctx, name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return mcp.Descriptor{}, err
		}
	}

	if session != nil {
		session.MarkLoaded(name)
	}
	d.Schema = schema
	return d, nil
}

func (r *Registry) loadSchema(ctx context.Context, name string) (json.RawMessage, error) {
	if r.source == nil {
		return nil, errors.New(errors.CodeInternal, "registry has no schema source", nil).
			WithContext("capability", name)
	}
	v, err, _ := r.loads.Do(name, func() (any, error) {
		if schema, ok := r.state.Load().schemas[name]; ok {
			return schema, nil
		}
		schema, err := r.source.FetchSchema(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(schema) == 0 || string(schema) == "null" {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		return r.publishSchema(name, schema), nil
	})
	if err != nil {
		code := errors.CodeOf(err)
		if code == "" {
			code = errors.CodeProtocol
		}
		r.logger.Warn("registry.schema.failed", slog.String("capability", name), slog.String("error", err.Error()))
		return nil, errors.New(code, "load schema", err).WithContext("capability", name)
	}
	return v.(json.RawMessage), nil
}

// publishSchema stores schema unless one is already cached, and returns the
// cached value.
func (r *Registry) publishSchema(name string, schema json.RawMessage) json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.state.Load()
	if existing, ok := cur.schemas[name]; ok {
		return existing
	}
	next := cur.clone()
	next.schemas[name] = append(json.RawMessage(nil), schema...)
	r.state.Store(next)
	r.logger.Debug("registry.schema.loaded", slog.String("capability", name))
	return next.schemas[name]
}
