// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides which capabilities a conversation may see and
// call.
package governance

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// ActionType describes the type of action to evaluate.
type ActionType string

const (
	// ActionCapability is a concrete capability call or selection.
	ActionCapability ActionType = "capability"
	// ActionProvider is a capability provider connection.
	ActionProvider ActionType = "provider"
)

// Action describes a decision target for policy evaluation.
type Action struct {
	Type     ActionType
	Name     string
	Metadata map[string]string
}

// Decision captures the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
	RuleID  string
	Status  DecisionStatus
}

// PolicyEngine evaluates actions.
type PolicyEngine interface {
	Evaluate(ctx context.Context, action Action) Decision
}

// Rule defines a single policy rule.
type Rule struct {
	ID     string
	Effect string // allow or deny
	Type   ActionType
	Name   string // glob pattern, optional
	Reason string
}

// RuleConfig is the configuration form of a Rule.
type RuleConfig struct {
	ID     string `koanf:"id"`
	Effect string `koanf:"effect"`
	Type   string `koanf:"type"`
	Name   string `koanf:"name"`
	Reason string `koanf:"reason"`
}

// DecisionStatus captures the policy outcome.
type DecisionStatus string

const (
	DecisionStatusAllow DecisionStatus = "allow"
	DecisionStatusDeny  DecisionStatus = "deny"
)

var allow = Decision{Allowed: true, Status: DecisionStatusAllow}

func deny(reason string) Decision {
	return Decision{Allowed: false, Status: DecisionStatusDeny, Reason: reason}
}

// RuleSet evaluates rules in order.
type RuleSet struct {
	Rules           []Rule
	DefaultDecision Decision
}

// NewRuleSet creates a rule set with a default allow decision.
func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{
		Rules:           append([]Rule(nil), rules...),
		DefaultDecision: allow,
	}
}

// Evaluate checks rules in order and returns the first match.
func (r *RuleSet) Evaluate(_ context.Context, action Action) Decision {
	for _, rule := range r.Rules {
		if rule.Type != "" && rule.Type != action.Type {
			continue
		}
		if rule.Name != "" && !matchPattern(rule.Name, action.Name) {
			continue
		}
		decision := Decision{Reason: rule.Reason, RuleID: rule.ID}
		if strings.EqualFold(rule.Effect, "deny") {
			decision.Status = DecisionStatusDeny
		} else {
			decision.Status = DecisionStatusAllow
		}
		decision.Allowed = decision.Status == DecisionStatusAllow
		return decision
	}
	return r.DefaultDecision
}

// IsAllowed returns true when the decision permits the action.
func (d Decision) IsAllowed() bool {
	if d.Status == "" {
		return d.Allowed
	}
	return d.Status == DecisionStatusAllow
}

// IsDenied returns true when the decision forbids the action.
func (d Decision) IsDenied() bool { return !d.IsAllowed() }

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}

// RuleSetFromConfig builds a rule set from configured rules. Rules without
// a type apply to capabilities.
func RuleSetFromConfig(cfg []RuleConfig) *RuleSet {
	rules := make([]Rule, 0, len(cfg))
	for i, rc := range cfg {
		id := strings.TrimSpace(rc.ID)
		if id == "" {
			id = fmt.Sprintf("rule-%d", i+1)
		}
		typ := ActionType(strings.ToLower(strings.TrimSpace(rc.Type)))
		if typ == "" {
			typ = ActionCapability
		}
		rules = append(rules, Rule{
			ID:     id,
			Effect: rc.Effect,
			Type:   typ,
			Name:   rc.Name,
			Reason: rc.Reason,
		})
	}
	return NewRuleSet(rules)
}
