// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
)

// FallbackFunc produces a value after the primary operation failed.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// WithFallback executes primary and, when it fails and shouldFallback
// accepts the error, runs fallback instead. A nil shouldFallback accepts
// every error. Cancellation of ctx is never masked by a fallback.
func WithFallback[T any](ctx context.Context, primary func(ctx context.Context) (T, error), fallback FallbackFunc[T], shouldFallback func(error) bool) (T, error) {
	v, err := primary(ctx)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return v, err
	}
	if shouldFallback != nil && !shouldFallback(err) {
		return v, err
	}
	return fallback(ctx, err)
}
