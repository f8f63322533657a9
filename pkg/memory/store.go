// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/keywords"
	"github.com/jllopis/sextant/pkg/telemetry"
)

const (
	// DefaultMaxEpisodes caps the retained episodes.
	DefaultMaxEpisodes = 100
	// DefaultTopK is used when Retrieve is called with topK <= 0.
	DefaultTopK = 5
	// DuplicateThreshold is the signature similarity above which two
	// successful episodes describe the same task.
	DuplicateThreshold = 0.7
	// DefaultSemanticWeight scales the cosine similarity of an attached
	// index.
	DefaultSemanticWeight = 0.5
)

// Option configures a Store.
type Option func(*Store)

// WithBackend sets the durable form.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithScorer replaces the similarity strategy.
func WithScorer(sc Scorer) Option {
	return func(s *Store) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithMaxEpisodes sets the retention cap.
func WithMaxEpisodes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithIndex attaches a semantic index whose similarity is added to the
// keyword score scaled by weight.
func WithIndex(idx Index, weight float64) Option {
	return func(s *Store) {
		s.index = idx
		if weight > 0 {
			s.weight = weight
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the in-memory episode log backed by a Backend. Reads take no
// lock; writes are serialized and persisted before they return.
type Store struct {
	backend Backend
	scorer  Scorer
	index   Index
	weight  float64
	max     int
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	now     func() time.Time

	mu       sync.Mutex
	episodes atomic.Pointer[[]Episode]
}

// NewStore creates an empty store. Call Load to read the backend.
func NewStore(opts ...Option) *Store {
	s := &Store{
		backend: NopBackend{},
		scorer:  KeywordScorer{},
		weight:  DefaultSemanticWeight,
		max:     DefaultMaxEpisodes,
		logger:  telemetry.Component(slog.Default(), "memory"),
		tracer:  otel.Tracer("sextant/memory"),
		metrics: telemetry.DefaultMetrics(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	empty := []Episode{}
	s.episodes.Store(&empty)
	return s
}

func (s *Store) snapshot() []Episode { return *s.episodes.Load() }

// Len returns the number of retained episodes.
func (s *Store) Len() int { return len(s.snapshot()) }

// Episodes returns a copy of the retained episodes, oldest first.
func (s *Store) Episodes() []Episode {
	eps := s.snapshot()
	out := make([]Episode, len(eps))
	for i, e := range eps {
		out[i] = e.clone()
	}
	return out
}

// Load replaces the in-memory log with the backend contents. On failure the
// log is left empty and the error is returned for logging; the store stays
// usable.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.backend.Load(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		empty := []Episode{}
		s.episodes.Store(&empty)
		s.logger.WarnContext(ctx, "memory.load.failed", slog.String("error", err.Error()))
		return errors.New(errors.CodeMemoryError, "load episodes", err).WithRecoverable(true)
	}
	next := s.enforceCap(sortByTime(loaded))
	s.episodes.Store(&next)
	s.logger.InfoContext(ctx, "memory.load", slog.Int("episodes", len(next)))
	return nil
}

// Flush persists the current log.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, s.snapshot())
}

func (s *Store) persist(ctx context.Context, episodes []Episode) error {
	if err := s.backend.Save(ctx, episodes); err != nil {
		s.logger.WarnContext(ctx, "memory.save.failed", slog.String("error", err.Error()))
		return errors.New(errors.CodeMemoryError, "save episodes", err).WithRecoverable(true)
	}
	return nil
}

// Record appends e and persists the log. A successful episode replaces a
// near-identical successful one with a longer chain. The oldest episodes
// are evicted beyond the cap. The episode stays recorded in memory even if
// persisting fails.
func (s *Store) Record(ctx context.Context, e Episode) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if len(e.Keywords) == 0 {
		e.Keywords = keywords.Tokens(e.Signature)
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}

	s.mu.Lock()
	cur := s.snapshot()
	next := make([]Episode, 0, len(cur)+1)
	next = append(next, cur...)

	replaced := -1
	if e.Outcome == OutcomeSuccess && len(e.Chain) > 0 {
		set := e.KeywordSet()
		for i, old := range next {
			if old.Outcome != OutcomeSuccess || len(e.Chain) >= len(old.Chain) {
				continue
			}
			if keywords.Jaccard(set, old.KeywordSet()) > DuplicateThreshold {
				e.ReplacedChain = len(old.Chain)
				next = append(next[:i], next[i+1:]...)
				replaced = i
				break
			}
		}
	}
	next = append(next, e)
	next = s.enforceCap(sortByTime(next))
	s.episodes.Store(&next)
	err := s.persist(ctx, next)
	s.mu.Unlock()

	s.metrics.RecordEpisode(ctx, string(e.Outcome))
	s.logger.DebugContext(ctx, "memory.record",
		slog.String("episode_id", e.ID),
		slog.String("outcome", string(e.Outcome)),
		slog.Int("chain", len(e.Chain)),
		slog.Bool("replaced", replaced >= 0),
	)

	if s.index != nil {
		if idxErr := s.index.Add(ctx, e); idxErr != nil {
			s.logger.WarnContext(ctx, "memory.index.add_failed", slog.String("error", idxErr.Error()))
		}
	}
	return err
}

// sortByTime orders episodes oldest first, keeping insertion order for equal
// timestamps.
func sortByTime(eps []Episode) []Episode {
	sort.SliceStable(eps, func(i, j int) bool { return eps[i].Timestamp.Before(eps[j].Timestamp) })
	return eps
}

func (s *Store) enforceCap(eps []Episode) []Episode {
	if len(eps) <= s.max {
		return eps
	}
	evicted := len(eps) - s.max
	s.logger.Debug("memory.evict", slog.Int("evicted", evicted))
	return append([]Episode(nil), eps[evicted:]...)
}

type scored struct {
	e     Episode
	score float64
}

// Retrieve returns up to topK episodes related to signature, most similar
// first. Ties go to the better outcome, then to the more recent episode.
// The results are copies; editing them leaves the store untouched.
func (s *Store) Retrieve(ctx context.Context, signature string, topK int) []Episode {
	ctx, span := s.tracer.Start(ctx, "Memory.Retrieve")
	defer span.End()

	if topK <= 0 {
		topK = DefaultTopK
	}
	eps := s.snapshot()
	if len(eps) == 0 {
		return nil
	}
	query := keywords.SetOf(signature)

	var semantic map[string]float64
	if s.index != nil {
		var err error
		semantic, err = s.index.Similar(ctx, signature, topK*4)
		if err != nil {
			s.logger.WarnContext(ctx, "memory.index.degraded", slog.String("error", err.Error()))
			semantic = nil
		}
	}
	if len(query) == 0 && len(semantic) == 0 {
		return nil
	}

	hits := make([]scored, 0, len(eps))
	for _, e := range eps {
		score := s.scorer.Score(query, e)
		if cos, ok := semantic[e.ID]; ok {
			score += s.weight * cos
		}
		if score > 0 {
			hits = append(hits, scored{e: e, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ra, rb := a.e.Outcome.rank(), b.e.Outcome.rank(); ra != rb {
			return ra > rb
		}
		return a.e.Timestamp.After(b.e.Timestamp)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]Episode, len(hits))
	for i, h := range hits {
		out[i] = h.e.clone()
	}
	span.SetAttributes(attribute.Int("memory.hits", len(out)), attribute.Bool("memory.semantic", semantic != nil))
	return out
}

// Prune drops episodes older than maxAge and persists the result. It returns
// the number removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	return s.rewrite(ctx, func(eps []Episode) []Episode {
		kept := make([]Episode, 0, len(eps))
		for _, e := range eps {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		return kept
	})
}

// Deduplicate keeps, among near-identical successful episodes, only the one
// with the shortest chain. It returns the number removed.
func (s *Store) Deduplicate(ctx context.Context) (int, error) {
	return s.rewrite(ctx, func(eps []Episode) []Episode {
		drop := make(map[int]bool)
		for i := range eps {
			if drop[i] || eps[i].Outcome != OutcomeSuccess {
				continue
			}
			si := eps[i].KeywordSet()
			for j := i + 1; j < len(eps); j++ {
				if drop[j] || eps[j].Outcome != OutcomeSuccess {
					continue
				}
				if keywords.Jaccard(si, eps[j].KeywordSet()) <= DuplicateThreshold {
					continue
				}
				li, lj := len(eps[i].Chain), len(eps[j].Chain)
				if lj > li {
					drop[j] = true
				} else if li > lj {
					drop[i] = true
					break
				}
			}
		}
		kept := make([]Episode, 0, len(eps))
		for i, e := range eps {
			if !drop[i] {
				kept = append(kept, e)
			}
		}
		return kept
	})
}

// Clear removes every episode.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.rewrite(ctx, func([]Episode) []Episode { return []Episode{} })
	return err
}

func (s *Store) rewrite(ctx context.Context, fn func([]Episode) []Episode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	next := fn(append([]Episode(nil), cur...))
	removed := len(cur) - len(next)
	if removed == 0 && len(cur) > 0 {
		return 0, nil
	}
	s.episodes.Store(&next)
	return removed, s.persist(ctx, next)
}
