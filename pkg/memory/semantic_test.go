// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
)

type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

type memVectors struct {
	created   map[string]uint64
	createErr error
	points    map[string]Point
}

func (m *memVectors) CreateCollection(_ context.Context, name string, size uint64) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created[name] = size
	return nil
}

func (m *memVectors) Upsert(_ context.Context, _ string, points []Point) error {
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *memVectors) Search(_ context.Context, _ string, _ []float32, limit int, _ float32) ([]SearchResult, error) {
	var out []SearchResult
	for id, p := range m.points {
		if strings.Contains(p.Payload["signature"].(string), "stock") {
			out = append(out, SearchResult{ID: id, Score: 1.5})
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestSemanticIndex(t *testing.T) {
	ctx := context.Background()
	vs := &memVectors{created: map[string]uint64{}, points: map[string]Point{}}
	idx := NewSemanticIndex(vs, lengthEmbedder{}, "")

	if err := idx.Add(ctx, Episode{ID: "e1", Signature: "check stock", Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(ctx, Episode{ID: "e2", Signature: "track parcel"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if vs.created["sextant_episodes"] != 2 {
		t.Fatalf("expected collection sized from probe, got %v", vs.created)
	}
	if vs.points["e1"].Payload["outcome"] != "success" {
		t.Fatalf("unexpected payload %v", vs.points["e1"].Payload)
	}

	sims, err := idx.Similar(ctx, "inventory", 5)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(sims) != 1 || sims["e1"] != 1 {
		t.Fatalf("expected clamped similarity for e1, got %v", sims)
	}
}

func TestSemanticIndexAcceptsExistingCollection(t *testing.T) {
	vs := &memVectors{created: map[string]uint64{}, points: map[string]Point{}, createErr: stderrors.New("already exists")}
	if err := NewSemanticIndex(vs, lengthEmbedder{}, "c").Init(context.Background()); err != nil {
		t.Fatalf("expected existing collection to be accepted: %v", err)
	}
}
