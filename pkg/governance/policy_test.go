// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"testing"
)

func TestRuleSetEvaluate(t *testing.T) {
	rules := []Rule{
		{ID: "deny-provider", Effect: "deny", Type: ActionProvider, Name: "secrets*", Reason: "blocked"},
		{ID: "allow-inventory", Effect: "allow", Type: ActionCapability, Name: "inventory_*"},
		{ID: "deny-rest", Effect: "DENY", Type: ActionCapability},
	}
	engine := NewRuleSet(rules)

	decision := engine.Evaluate(context.Background(), Action{Type: ActionCapability, Name: "inventory_check_stock"})
	if !decision.Allowed || decision.RuleID != "allow-inventory" {
		t.Fatalf("expected allowed by allow-inventory, got %+v", decision)
	}
	decision = engine.Evaluate(context.Background(), Action{Type: ActionProvider, Name: "secrets-vault"})
	if decision.Allowed || decision.Reason != "blocked" {
		t.Fatalf("expected denied provider, got %+v", decision)
	}
	decision = engine.Evaluate(context.Background(), Action{Type: ActionCapability, Name: "orders_cancel"})
	if !decision.IsDenied() {
		t.Fatalf("expected catch-all deny, got %+v", decision)
	}
	decision = engine.Evaluate(context.Background(), Action{Type: ActionProvider, Name: "erp"})
	if !decision.IsAllowed() {
		t.Fatalf("expected default allow, got %+v", decision)
	}
}

func TestRuleSetFromConfig(t *testing.T) {
	rs := RuleSetFromConfig([]RuleConfig{
		{Effect: "deny", Name: "orders_delete*", Reason: "irreversible"},
		{ID: "prov", Effect: "deny", Type: "Provider", Name: "legacy"},
	})
	if len(rs.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rs.Rules))
	}
	if rs.Rules[0].ID != "rule-1" || rs.Rules[0].Type != ActionCapability {
		t.Fatalf("unexpected defaults: %+v", rs.Rules[0])
	}
	if rs.Rules[1].Type != ActionProvider {
		t.Fatalf("expected lowercased type, got %q", rs.Rules[1].Type)
	}
	d := rs.Evaluate(context.Background(), Action{Type: ActionCapability, Name: "orders_delete_line"})
	if d.IsAllowed() || d.Reason != "irreversible" {
		t.Fatalf("expected deny, got %+v", d)
	}
	if !RuleSetFromConfig(nil).Evaluate(context.Background(), Action{Name: "x"}).IsAllowed() {
		t.Fatal("empty config should allow")
	}
}
