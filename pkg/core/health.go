// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the types shared by every layer of the engine: session
// state, modes, events and health reporting.
package core

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	Component string       `json:"component"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
	Error     error        `json:"-"`
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// CheckAll runs every checker and returns the results with the worst status.
func CheckAll(ctx context.Context, checkers map[string]HealthChecker) ([]HealthResult, HealthStatus) {
	overall := HealthHealthy
	results := make([]HealthResult, 0, len(checkers))
	for name, checker := range checkers {
		res := checker.Check(ctx)
		if res.Component == "" {
			res.Component = name
		}
		if res.LastCheck.IsZero() {
			res.LastCheck = time.Now().UTC()
		}
		results = append(results, res)
		switch res.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}
