// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sync"
)

// VectorStore is a vector database holding one point per episode.
type VectorStore interface {
	// Upsert adds or updates points in the vector store.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the nearest points to vector.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	// CreateCollection creates a collection of the given vector size.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
}

// Point represents a data point in the vector store.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult represents a result from a vector search.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Embedder converts text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index finds episodes whose signatures are semantically close to a query.
type Index interface {
	Add(ctx context.Context, e Episode) error
	// Similar maps episode ids to cosine similarity in [0, 1].
	Similar(ctx context.Context, signature string, limit int) (map[string]float64, error)
}

// SemanticIndex embeds task signatures into a VectorStore.
type SemanticIndex struct {
	store      VectorStore
	embedder   Embedder
	collection string

	initMu sync.Mutex
	ready  bool
}

// NewSemanticIndex creates an index over store using embedder.
func NewSemanticIndex(store VectorStore, embedder Embedder, collection string) *SemanticIndex {
	if collection == "" {
		collection = "sextant_episodes"
	}
	return &SemanticIndex{store: store, embedder: embedder, collection: collection}
}

// Init ensures the collection exists, probing the embedder for the vector
// size. An existing collection is accepted when it answers a search.
func (s *SemanticIndex) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, "episode")
	if err != nil {
		return fmt.Errorf("probe embedding dimension: %w", err)
	}
	if err := s.store.CreateCollection(ctx, s.collection, uint64(len(vec))); err != nil {
		if _, searchErr := s.store.Search(ctx, s.collection, vec, 1, 0); searchErr != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

// Add implements Index.
func (s *SemanticIndex) Add(ctx context.Context, e Episode) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	vec, err := s.embedder.Embed(ctx, e.Signature)
	if err != nil {
		return fmt.Errorf("embed signature: %w", err)
	}
	return s.store.Upsert(ctx, s.collection, []Point{{
		ID:     e.ID,
		Vector: vec,
		Payload: map[string]any{
			"signature": e.Signature,
			"outcome":   string(e.Outcome),
			"timestamp": e.Timestamp.Unix(),
		},
	}})
}

// Similar implements Index.
func (s *SemanticIndex) Similar(ctx context.Context, signature string, limit int) (map[string]float64, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	vec, err := s.embedder.Embed(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.store.Search(ctx, s.collection, vec, limit, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(results))
	for _, r := range results {
		score := float64(r.Score)
		if score <= 0 {
			continue
		}
		out[r.ID] = min(score, 1)
	}
	return out, nil
}
