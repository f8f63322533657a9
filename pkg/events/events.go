// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package events delivers agent loop events to logs, brokers and tests.
package events

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/jllopis/sextant/pkg/core"
)

// LogEmitter writes each event as a structured log record.
type LogEmitter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogEmitter creates a LogEmitter. Warnings and errors are always logged
// at their own level; other events use level.
func NewLogEmitter(logger *slog.Logger, level slog.Level) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger, level: level}
}

// Emit implements core.EventEmitter.
func (l *LogEmitter) Emit(ctx context.Context, e core.Event) {
	level := l.level
	switch e.Type {
	case core.EventWarning:
		level = slog.LevelWarn
	case core.EventError:
		level = slog.LevelError
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}
	attrs := []slog.Attr{
		slog.String("run_id", e.RunID),
		slog.Int("iteration", e.Iteration),
	}
	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", e.SessionID))
	}
	if len(e.Payload) > 0 {
		args := make([]any, 0, len(e.Payload))
		for k, v := range e.Payload {
			args = append(args, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("payload", args...))
	}
	l.logger.LogAttrs(ctx, level, string(e.Type), attrs...)
}

// Multi fans events out to several emitters in order.
type Multi []core.EventEmitter

// Emit implements core.EventEmitter.
func (m Multi) Emit(ctx context.Context, e core.Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(ctx, e)
		}
	}
}

// Close closes every emitter that is an io.Closer and reports all failures.
func (m Multi) Close() error {
	var result *multierror.Error
	for _, em := range m {
		if c, ok := em.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

// Emit implements core.EventEmitter.
func (r *Recorder) Emit(_ context.Context, e core.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
