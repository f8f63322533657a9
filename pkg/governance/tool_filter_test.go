// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"reflect"
	"testing"
)

func TestCapabilityFilter_EmptyFilter(t *testing.T) {
	filter := NewCapabilityFilter()
	if !filter.IsAllowed(context.Background(), "any_capability").IsAllowed() {
		t.Error("empty filter should allow everything")
	}
	var nilFilter *CapabilityFilter
	if !nilFilter.IsAllowed(context.Background(), "x").IsAllowed() {
		t.Error("nil filter should allow everything")
	}
}

func TestCapabilityFilter_Lists(t *testing.T) {
	filter := NewCapabilityFilter(
		WithAllowlist([]string{"inventory_*", "orders_status", "orders_cancel"}),
		WithDenylist([]string{"orders_cancel", " "}),
	)

	tests := []struct {
		name       string
		capability string
		allowed    bool
	}{
		{"glob match", "inventory_check_stock", true},
		{"exact match", "orders_status", true},
		{"denylist wins", "orders_cancel", false},
		{"not in allowlist", "shipments_track", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := filter.IsAllowed(context.Background(), tc.capability)
			if decision.IsAllowed() != tc.allowed {
				t.Errorf("%q: expected allowed=%v, got %v (%s)", tc.capability, tc.allowed, decision.IsAllowed(), decision.Reason)
			}
		})
	}
}

func TestCapabilityFilter_FilterNames(t *testing.T) {
	filter := NewCapabilityFilter(WithAllowlist([]string{"a_tool", "c_tool"}))
	got := filter.FilterNames(context.Background(), []string{"a_tool", "b_tool", "c_tool", "d_tool"})
	if want := []string{"a_tool", "c_tool"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCapabilityFilter_AddToLists(t *testing.T) {
	filter := NewCapabilityFilter()
	filter.AddToAllowlist("new_tool")
	filter.AddToDenylist("bad_tool")

	if !filter.IsAllowed(context.Background(), "new_tool").IsAllowed() {
		t.Error("new_tool should be allowed after AddToAllowlist")
	}
	if filter.IsAllowed(context.Background(), "bad_tool").IsAllowed() {
		t.Error("bad_tool should be denied after AddToDenylist")
	}
	if filter.IsAllowed(context.Background(), "other_tool").IsAllowed() {
		t.Error("other_tool should be denied (not in allowlist)")
	}
}

func TestCapabilityFilter_WithPolicyEngine(t *testing.T) {
	filter := NewCapabilityFilter(WithPolicyEngine(NewRuleSet([]Rule{
		{ID: "deny-payroll", Effect: "deny", Type: ActionCapability, Name: "payroll_*", Reason: "sensitive"},
	})))

	if !filter.IsAllowed(context.Background(), "orders_status").IsAllowed() {
		t.Error("orders_status should be allowed by policy")
	}
	d := filter.IsAllowed(context.Background(), "payroll_export")
	if d.IsAllowed() || d.RuleID != "deny-payroll" || d.Reason != "sensitive" {
		t.Errorf("payroll_export should be denied by policy, got %+v", d)
	}
}
