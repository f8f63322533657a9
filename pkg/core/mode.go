// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"strings"
)

// Mode is a named policy bundle for a conversation phase.
type Mode string

const (
	ModeExplore Mode = "explore"
	ModePlan    Mode = "plan"
	ModeGeneral Mode = "general"
)

// ParseMode normalizes a mode name. Unknown names are rejected.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "explore":
		return ModeExplore, nil
	case "plan":
		return ModePlan, nil
	case "general", "general-purpose", "":
		return ModeGeneral, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Tier selects which model serves a mode.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierAuxiliary Tier = "auxiliary"
)

// ModeSpec is the policy attached to one mode.
type ModeSpec struct {
	Tier Tier `koanf:"tier" json:"tier"`
	// Categories lists allowed capability categories as glob patterns.
	// Empty means every category.
	Categories []string `koanf:"categories" json:"categories,omitempty"`
	// ReadOnly hides capabilities that mutate remote state.
	ReadOnly bool `koanf:"read_only" json:"read_only,omitempty"`
}

// RoutingPolicy maps modes to their policy. It is treated as read-only once
// handed to a session.
type RoutingPolicy map[Mode]ModeSpec

// DefaultRoutingPolicy returns the built-in mode table.
func DefaultRoutingPolicy() RoutingPolicy {
	return RoutingPolicy{
		ModeExplore: {Tier: TierAuxiliary, ReadOnly: true},
		ModePlan:    {Tier: TierPrimary, ReadOnly: true},
		ModeGeneral: {Tier: TierPrimary},
	}
}

// Spec returns the policy for mode, falling back to the general mode and
// finally to a primary-tier spec with no restrictions.
func (p RoutingPolicy) Spec(mode Mode) ModeSpec {
	if spec, ok := p[mode]; ok {
		return spec
	}
	if spec, ok := p[ModeGeneral]; ok {
		return spec
	}
	return ModeSpec{Tier: TierPrimary}
}
