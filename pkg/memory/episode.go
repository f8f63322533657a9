// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements episodic memory: completed tasks are recorded
// with the capability chain that served them and retrieved for similar
// future tasks.
package memory

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jllopis/sextant/pkg/keywords"
)

// Outcome classifies how a task ended.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeFailure        Outcome = "failure"
	OutcomeCancelled      Outcome = "cancelled"
)

// rank orders outcomes for tie-breaking; higher is preferred.
func (o Outcome) rank() int {
	switch o {
	case OutcomeSuccess:
		return 3
	case OutcomePartialFailure:
		return 2
	case OutcomeFailure:
		return 1
	default:
		return 0
	}
}

// Call is one capability call of a chain. Args maps argument names to
// their JSON type, never their values.
type Call struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// NewCall records the shape of args.
func NewCall(name string, args map[string]any) Call {
	c := Call{Name: name}
	if len(args) == 0 {
		return c
	}
	c.Args = make(map[string]string, len(args))
	for k, v := range args {
		c.Args[k] = shapeOf(v)
	}
	return c
}

func shapeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// String renders the call as name(arg:type, ...) with sorted arguments.
func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Name + "()"
	}
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + c.Args[k]
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Episode is a completed task. Episodes are never mutated once recorded.
type Episode struct {
	ID        string    `json:"id"`
	Signature string    `json:"signature"`
	Keywords  []string  `json:"keywords"`
	Chain     []Call    `json:"chain"`
	Outcome   Outcome   `json:"outcome"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Warnings  []string  `json:"warnings,omitempty"`
	// ReplacedChain is the length of a longer chain this episode replaced.
	ReplacedChain int               `json:"replaced_chain,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// clone returns a deep copy of e.
func (e Episode) clone() Episode {
	e.Keywords = slices.Clone(e.Keywords)
	e.Warnings = slices.Clone(e.Warnings)
	e.Metadata = maps.Clone(e.Metadata)
	if e.Chain != nil {
		chain := make([]Call, len(e.Chain))
		for i, c := range e.Chain {
			c.Args = maps.Clone(c.Args)
			chain[i] = c
		}
		e.Chain = chain
	}
	return e
}

// KeywordSet returns the signature keywords, tokenizing the signature when
// none were stored.
func (e Episode) KeywordSet() keywords.Set {
	if len(e.Keywords) > 0 {
		return keywords.NewSet(e.Keywords)
	}
	return keywords.SetOf(e.Signature)
}

// ChainNames returns the capability names of the chain in order.
func (e Episode) ChainNames() []string {
	out := make([]string, len(e.Chain))
	for i, c := range e.Chain {
		out[i] = c.Name
	}
	return out
}
