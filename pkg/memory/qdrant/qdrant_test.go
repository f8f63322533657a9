// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package qdrant

import (
	"reflect"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
)

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]any{
		"signature": "check stock",
		"ok":        true,
		"count":     3,
		"ts":        int64(1700000000),
		"score":     0.25,
		"ignored":   []string{"x"},
	}
	got := fromPayload(toPayload(in))
	want := map[string]any{
		"signature": "check stock",
		"ok":        true,
		"count":     int64(3),
		"ts":        int64(1700000000),
		"score":     0.25,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPointID(t *testing.T) {
	if got := pointID(&pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "abc"}}); got != "abc" {
		t.Fatalf("expected uuid, got %q", got)
	}
	if got := pointID(&pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 42}}); got != "42" {
		t.Fatalf("expected numeric id, got %q", got)
	}
}

func TestNewIsLazy(t *testing.T) {
	s, err := New("127.0.0.1:1")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
