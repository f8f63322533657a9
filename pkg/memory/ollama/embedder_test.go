// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != DefaultModel || req.Prompt != "check stock" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.5,-1,2]}`))
	}))
	defer srv.Close()

	vec, err := NewEmbedder(srv.URL+"/", "").Embed(context.Background(), "check stock")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -1 || vec[2] != 2 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestEmbedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "empty" {
			_, _ = w.Write([]byte(`{"embedding":[]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewEmbedder(srv.URL, "m").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 500")
	}
	if _, err := NewEmbedder(srv.URL, "empty").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on empty embedding")
	}
}
