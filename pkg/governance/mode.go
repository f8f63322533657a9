// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"path"
	"strings"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/mcp"
)

// ModeFilter combines a mode's category and read-only restrictions with a
// CapabilityFilter.
type ModeFilter struct {
	capabilities *CapabilityFilter
}

// NewModeFilter creates a ModeFilter. A nil filter permits every name.
func NewModeFilter(capabilities *CapabilityFilter) *ModeFilter {
	return &ModeFilter{capabilities: capabilities}
}

// Check decides whether d may be discovered or called under spec.
func (m *ModeFilter) Check(ctx context.Context, spec core.ModeSpec, d mcp.Descriptor) Decision {
	if !CategoryAllowed(spec.Categories, d.Category) {
		return deny("category " + d.Category + " is not allowed in this mode")
	}
	if spec.ReadOnly && d.MutatesState {
		return deny("mode is read-only and capability mutates state")
	}
	if m == nil {
		return allow
	}
	return m.capabilities.IsAllowed(ctx, d.Name)
}

// Predicate returns a search filter for spec.
func (m *ModeFilter) Predicate(ctx context.Context, spec core.ModeSpec) func(mcp.Descriptor) bool {
	return func(d mcp.Descriptor) bool {
		return m.Check(ctx, spec, d).IsAllowed()
	}
}

// CategoryAllowed matches category against glob patterns. No patterns
// allow every category.
func CategoryAllowed(patterns []string, category string) bool {
	if len(patterns) == 0 {
		return true
	}
	category = strings.ToLower(category)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" || p == category {
			return true
		}
		if ok, err := path.Match(p, category); err == nil && ok {
			return true
		}
	}
	return false
}
