// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/sextant/pkg/mcp"
)

// Catalog is curated knowledge about capabilities. Entries override what
// providers report and rules are shown to the model when a capability is
// selected.
type Catalog struct {
	Capabilities map[string]CatalogEntry `yaml:"capabilities"`
	Procedural   map[string]Procedure    `yaml:"procedural"`
	CommonErrors []CommonError           `yaml:"common_errors"`
}

// CatalogEntry overrides descriptor fields. Nil or empty fields are left
// untouched.
type CatalogEntry struct {
	Summary  string `yaml:"summary"`
	Category string `yaml:"category"`
	Mutates  *bool  `yaml:"mutates"`
}

// Procedure lists rules to follow when calling a capability.
type Procedure struct {
	Rules []string `yaml:"rules"`
}

// CommonError is a known mistake, matched against capability names by
// keyword.
type CommonError struct {
	Pattern    string   `yaml:"pattern"`
	Correction string   `yaml:"correction"`
	Keywords   []string `yaml:"keywords"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for name := range c.Capabilities {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("parse catalog: empty capability name")
		}
	}
	return &c, nil
}

// Apply overlays the catalog entry for d.Name, if any.
func (c *Catalog) Apply(d mcp.Descriptor) mcp.Descriptor {
	if c == nil {
		return d
	}
	e, ok := c.Capabilities[d.Name]
	if !ok {
		return d
	}
	if e.Summary != "" {
		d.Summary = e.Summary
	}
	if e.Category != "" {
		d.Category = e.Category
	}
	if e.Mutates != nil {
		d.MutatesState = *e.Mutates
	}
	return d
}

// Knowledge renders the rules and known mistakes for a capability, or ""
// when there are none.
func (c *Catalog) Knowledge(name string) string {
	if c == nil {
		return ""
	}
	var parts []string
	if p, ok := c.Procedural[name]; ok && len(p.Rules) > 0 {
		parts = append(parts, "Rules:")
		for _, r := range p.Rules {
			parts = append(parts, "- "+r)
		}
	}
	lower := strings.ToLower(name)
	for _, ce := range c.CommonErrors {
		for _, kw := range ce.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				parts = append(parts, fmt.Sprintf("Avoid: %s -> %s", ce.Pattern, ce.Correction))
				break
			}
		}
	}
	return strings.Join(parts, "\n")
}
