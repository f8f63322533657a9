// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"testing"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/mcp"
)

func TestModeFilter(t *testing.T) {
	ctx := context.Background()
	m := NewModeFilter(NewCapabilityFilter(WithDenylist([]string{"inventory_purge"})))

	stock := mcp.Descriptor{Name: "inventory_check_stock", Category: "inventory"}
	adjust := mcp.Descriptor{Name: "inventory_adjust", Category: "inventory", MutatesState: true}
	purge := mcp.Descriptor{Name: "inventory_purge", Category: "inventory"}
	ship := mcp.Descriptor{Name: "shipments_track", Category: "shipments"}

	explore := core.ModeSpec{Tier: core.TierAuxiliary, ReadOnly: true, Categories: []string{"inv*"}}
	general := core.ModeSpec{Tier: core.TierPrimary}

	cases := []struct {
		spec core.ModeSpec
		d    mcp.Descriptor
		want bool
	}{
		{explore, stock, true},
		{explore, adjust, false},
		{explore, ship, false},
		{explore, purge, false},
		{general, adjust, true},
		{general, ship, true},
		{general, purge, false},
	}
	for _, tc := range cases {
		if got := m.Check(ctx, tc.spec, tc.d).IsAllowed(); got != tc.want {
			t.Errorf("%s under %+v: expected %v, got %v", tc.d.Name, tc.spec, tc.want, got)
		}
	}

	keep := m.Predicate(ctx, explore)
	if !keep(stock) || keep(ship) {
		t.Error("predicate disagrees with Check")
	}

	var nilFilter *ModeFilter
	if !nilFilter.Check(ctx, general, purge).IsAllowed() {
		t.Error("nil mode filter applies only the mode restrictions")
	}
}

func TestCategoryAllowed(t *testing.T) {
	if !CategoryAllowed(nil, "anything") {
		t.Error("no patterns allow all")
	}
	if !CategoryAllowed([]string{"*"}, "x") || !CategoryAllowed([]string{"Orders"}, "orders") {
		t.Error("expected match")
	}
	if CategoryAllowed([]string{"orders"}, "inventory") {
		t.Error("unexpected match")
	}
}
