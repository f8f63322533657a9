// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/sextant/pkg/memory"
)

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "episodes.db")

	b, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := memory.NewStore(memory.WithBackend(b))
	for i, sig := range []string{"check stock for part X", "track shipment 7", "cancel order 9"} {
		err := store.Record(ctx, memory.Episode{
			Signature: sig,
			Chain:     []memory.Call{memory.NewCall(fmt.Sprintf("tool_%d", i), map[string]any{"id": i})},
			Outcome:   memory.OutcomeSuccess,
			Timestamp: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	again := memory.NewStore(memory.WithBackend(reopened))
	if err := again.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if again.Len() != 3 {
		t.Fatalf("expected 3 episodes, got %d", again.Len())
	}
	hits := again.Retrieve(ctx, "stock of part X", 1)
	if len(hits) != 1 || hits[0].Chain[0].Name != "tool_0" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if got := hits[0].Chain[0].Args["id"]; got != "number" {
		t.Fatalf("expected argument shape, got %q", got)
	}

	if _, err := again.Prune(ctx, time.Hour); err != nil {
		t.Fatalf("prune: %v", err)
	}
	eps, err := reopened.Load(ctx)
	if err != nil || len(eps) != 0 {
		t.Fatalf("expected pruned table, got %d (%v)", len(eps), err)
	}
}

func TestNewRejectsNilDB(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error")
	}
}
