// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jllopis/sextant/pkg/errors"
)

func TestInitStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("test-service", "v0.0.1", Config{Exporter: "stdout", Output: &buf})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitNone(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1", Config{Exporter: "none"})
	if err != nil || shutdown == nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init("svc", "v", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
	if _, err := Init("svc", "v", Config{Exporter: "otlp"}); err == nil {
		t.Fatalf("expected error for otlp without endpoint")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordError(ctx, errors.New(errors.CodeTimeout, "slow", nil), "mcp")
	m.RecordInvocation(ctx, "check_stock", "success", time.Millisecond)
	m.RecordRun(ctx, "success", 3)
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordError(ctx, errors.New(errors.CodeTimeout, "slow", nil), "mcp")
	m.RecordInvocation(ctx, "check_stock", "success", 2*time.Millisecond)
	m.RecordModelCall(ctx, "gpt", "primary")
	m.RecordFallback(ctx, "auxiliary", "primary")
	m.RecordEpisode(ctx, "success")
}

func TestLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	Component(logger, "mcp").Warn("mcp.session.lost", slog.String("endpoint", "tcp://x"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"component":"mcp"`) || !strings.Contains(out, `"msg":"mcp.session.lost"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("short strings are unchanged, got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("héllo", 2); got != "h..." {
		t.Fatalf("expected cut on rune boundary, got %q", got)
	}
}
