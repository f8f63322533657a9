// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/jllopis/sextant/pkg/agent"
	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/llm"
	"github.com/jllopis/sextant/pkg/mcp"
)

// progress prints loop events for a person watching a terminal.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progress) Emit(_ context.Context, e core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Type {
	case core.EventCapabilityCall:
		fmt.Fprintf(p.w, "  -> %v %v\n", e.Payload["capability"], e.Payload["arguments"])
	case core.EventCapabilityResult:
		if outcome, ok := e.Payload["outcome"]; ok && outcome != "success" {
			fmt.Fprintf(p.w, "  x  %v: %v\n", e.Payload["capability"], outcome)
		}
	case core.EventWarning:
		fmt.Fprintf(p.w, "  !  %v\n", e.Payload["message"])
	case core.EventTaskUpdate:
		if tasks, ok := e.Payload["tasks"].([]core.Task); ok {
			for _, t := range tasks {
				fmt.Fprintf(p.w, "  [%s] %s\n", t.Status, t.Content)
			}
		}
	case core.EventCompaction:
		fmt.Fprintf(p.w, "  (history compacted, %v messages summarized)\n", e.Payload["summarized"])
	}
}

// runOutput is the JSON form of a run result.
type runOutput struct {
	RunID      string    `json:"run_id"`
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Answer     string    `json:"answer"`
	Warnings   []string  `json:"warnings,omitempty"`
	Iterations int       `json:"iterations"`
	Chain      []string  `json:"chain,omitempty"`
	Failures   int       `json:"failures"`
	Usage      llm.Usage `json:"usage"`
	Error      string    `json:"error,omitempty"`
}

func newRunOutput(res *agent.Result, err error) runOutput {
	out := runOutput{
		RunID:      res.RunID,
		SessionID:  res.SessionID,
		Status:     string(res.Status),
		Answer:     res.Answer,
		Warnings:   res.Warnings,
		Iterations: res.Iterations,
		Failures:   res.Failures,
		Usage:      res.Usage,
	}
	if res.Session != nil {
		out.Mode = string(res.Session.Mode())
	}
	for _, c := range res.Chain {
		out.Chain = append(out.Chain, c.Name)
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// printResult writes the answer, or the whole result as JSON.
func printResult(w io.Writer, res *agent.Result, err error, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newRunOutput(res, err))
	}
	if res.Answer != "" {
		fmt.Fprintln(w, res.Answer)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if res.Status != agent.StatusSuccess {
		fmt.Fprintf(w, "[%s after %d iterations]\n", res.Status, res.Iterations)
	}
	return nil
}

// printDescriptors lists capabilities one per line, marking the ones that
// change remote state with "!".
func printDescriptors(w io.Writer, descs []mcp.Descriptor, asJSON bool) error {
	if asJSON {
		if descs == nil {
			descs = []mcp.Descriptor{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}
	if len(descs) == 0 {
		fmt.Fprintln(w, "No capabilities found.")
		return nil
	}
	for _, d := range descs {
		mark := ""
		if d.MutatesState {
			mark = "!"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\n", d.Name, mark, d.Category, d.Summary)
	}
	return nil
}
