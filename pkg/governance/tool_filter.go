// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"path"
	"strings"
)

// CapabilityFilter applies allowlists, denylists and a policy engine to
// capability names.
type CapabilityFilter struct {
	allowlist    map[string]bool
	denylist     map[string]bool
	policyEngine PolicyEngine
}

// FilterOption configures a CapabilityFilter.
type FilterOption func(*CapabilityFilter)

// NewCapabilityFilter creates a filter with the given options.
func NewCapabilityFilter(opts ...FilterOption) *CapabilityFilter {
	f := &CapabilityFilter{
		allowlist: make(map[string]bool),
		denylist:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithAllowlist sets the permitted capability names or glob patterns.
func WithAllowlist(names []string) FilterOption {
	return func(f *CapabilityFilter) { f.AddToAllowlist(names...) }
}

// WithDenylist sets the forbidden capability names or glob patterns.
func WithDenylist(names []string) FilterOption {
	return func(f *CapabilityFilter) { f.AddToDenylist(names...) }
}

// WithPolicyEngine attaches a policy engine for additional evaluation.
func WithPolicyEngine(engine PolicyEngine) FilterOption {
	return func(f *CapabilityFilter) { f.policyEngine = engine }
}

// IsAllowed checks a capability name. The denylist wins, then a non-empty
// allowlist must match, then the policy engine decides.
func (f *CapabilityFilter) IsAllowed(ctx context.Context, name string) Decision {
	if f == nil {
		return allow
	}
	if matchesList(name, f.denylist) {
		return deny("capability is in denylist")
	}
	if len(f.allowlist) > 0 && !matchesList(name, f.allowlist) {
		return deny("capability is not in allowlist")
	}
	if f.policyEngine != nil {
		return f.policyEngine.Evaluate(ctx, Action{Type: ActionCapability, Name: name})
	}
	return allow
}

// FilterNames returns only the permitted names, keeping their order.
func (f *CapabilityFilter) FilterNames(ctx context.Context, names []string) []string {
	if f == nil || (len(f.allowlist) == 0 && len(f.denylist) == 0 && f.policyEngine == nil) {
		return names
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if f.IsAllowed(ctx, name).IsAllowed() {
			out = append(out, name)
		}
	}
	return out
}

func matchesList(name string, list map[string]bool) bool {
	if list[name] {
		return true
	}
	for pattern := range list {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// AddToAllowlist adds names or patterns to the allowlist.
func (f *CapabilityFilter) AddToAllowlist(names ...string) {
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			f.allowlist[n] = true
		}
	}
}

// AddToDenylist adds names or patterns to the denylist.
func (f *CapabilityFilter) AddToDenylist(names ...string) {
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			f.denylist[n] = true
		}
	}
}
