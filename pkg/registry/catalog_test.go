// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/sextant/pkg/mcp"
)

const testCatalog = `
capabilities:
  inventory_check_stock:
    summary: Stock on hand for a part at one warehouse
    category: stock
  orders_lookup:
    mutates: true
procedural:
  inventory_check_stock:
    rules:
      - Resolve the warehouse id before checking stock
      - Part numbers are case sensitive
common_errors:
  - pattern: passing a site name as warehouse
    correction: use the warehouse code
    keywords: [stock, warehouse]
`

func TestCatalog_LoadApplyKnowledge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	r := New(nil, WithCatalog(c))
	r.Index(
		mcp.Descriptor{Name: "inventory_check_stock", Summary: "raw", Category: "inventory"},
		mcp.Descriptor{Name: "orders_lookup", Summary: "Find an order"},
	)

	d, _ := r.Lookup("inventory_check_stock")
	assert.Equal(t, "Stock on hand for a part at one warehouse", d.Summary)
	assert.Equal(t, "stock", d.Category)

	o, _ := r.Lookup("orders_lookup")
	assert.Equal(t, "Find an order", o.Summary)
	assert.True(t, o.MutatesState)

	k := r.Knowledge("inventory_check_stock")
	assert.Contains(t, k, "Rules:")
	assert.Contains(t, k, "- Part numbers are case sensitive")
	assert.Contains(t, k, "Avoid: passing a site name as warehouse -> use the warehouse code")
	assert.Empty(t, r.Knowledge("orders_lookup"))
}

func TestCatalog_Errors(t *testing.T) {
	_, err := ParseCatalog([]byte("capabilities: [unclosed"))
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	var nilCatalog *Catalog
	d := mcp.Descriptor{Name: "x", Summary: "y"}
	assert.Equal(t, d, nilCatalog.Apply(d))
	assert.Empty(t, nilCatalog.Knowledge("x"))
}
