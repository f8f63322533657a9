// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/llm"
)

const summaryPrefix = "Summary of the earlier conversation:\n"

const summarizePrompt = `Summarize the conversation below for an assistant that will continue it.
Keep user goals, capability names that were loaded or called, identifiers, results and open questions.
Be concise.`

// EstimateTokens approximates the token count of messages at four
// characters per token.
func EstimateTokens(messages []llm.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return chars / 4
}

// compactionCut returns the bounds of the prefix to summarize: messages
// [start, end) are replaced. The first protected messages (the system
// prompt and episode hint of this run) are kept; a summary carried in from
// history is summarized again. ok is false when nothing can be summarized.
func compactionCut(messages []llm.Message, protected, keepRecent int) (start, end int, ok bool) {
	start = min(max(protected, 0), len(messages))
	end = len(messages) - keepRecent
	// Tool results must stay with the assistant turn that requested them.
	for end > start && end < len(messages) && messages[end].Role == llm.RoleTool {
		end--
	}
	if end-start < 2 {
		return 0, 0, false
	}
	return start, end, true
}

// compact replaces an old prefix of the transcript with a single system
// summary when it grows past the compaction threshold. The input slice is
// never modified.
func (a *Agent) compact(ctx context.Context, run *runState) {
	limit := int(float64(a.cfg.ContextTokens) * a.cfg.CompactThreshold)
	before := EstimateTokens(run.messages)
	if before <= limit {
		return
	}
	start, end, ok := compactionCut(run.messages, run.injected, a.cfg.KeepRecent)
	if !ok {
		return
	}

	summary, err := a.summarize(ctx, run.messages[start:end])
	if err != nil {
		a.logger.WarnContext(ctx, "agent.compaction.failed",
			slog.String("run_id", run.id),
			slog.String("error", err.Error()),
		)
		return
	}

	next := make([]llm.Message, 0, start+1+len(run.messages)-end)
	next = append(next, run.messages[:start]...)
	next = append(next, llm.Message{Role: llm.RoleSystem, Content: summaryPrefix + summary})
	next = append(next, run.messages[end:]...)
	run.messages = next

	after := EstimateTokens(next)
	a.logger.InfoContext(ctx, "agent.compaction",
		slog.String("run_id", run.id),
		slog.Int("summarized", end-start),
		slog.Int("tokens_before", before),
		slog.Int("tokens_after", after),
	)
	a.emit(ctx, run, core.EventCompaction, map[string]any{
		"summarized":    end - start,
		"tokens_before": before,
		"tokens_after":  after,
	})
}

func (a *Agent) summarize(ctx context.Context, messages []llm.Message) (string, error) {
	m := a.summarizer
	if !m.ok() {
		m = a.primary
	}
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "[%s call] %s(%s)\n", msg.Role, tc.Function.Name, tc.Function.Arguments)
		}
	}
	resp, err := a.chat(ctx, m, core.TierPrimary, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summarizePrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned an empty summary")
	}
	return summary, nil
}

// reminder returns the context note appended to tool results once usage
// passes the reminder threshold, or "". It names the task in progress when
// the session has one.
func (a *Agent) reminder(messages []llm.Message, session *core.SessionState) string {
	used := float64(EstimateTokens(messages)) / float64(a.cfg.ContextTokens)
	if used < a.cfg.ReminderThreshold {
		return ""
	}
	var current string
	if session != nil {
		if t, ok := session.CurrentTask(); ok {
			current = "Current task: " + t.Content + "\n"
		}
	}
	return fmt.Sprintf("\n\n<system-reminder>%sContext is %d%% full. Keep capability calls focused and answer as soon as you can.</system-reminder>",
		current, int(used*100))
}
