// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/llm"
)

// TaskTool is the meta-capability that replaces the session task list.
const TaskTool = "update_tasks"

func taskDefinition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name: TaskTool,
			Description: "Replace the task list for multi-step work. Send the whole list every time. " +
				"Keep exactly one task in_progress while working and mark tasks completed as soon as they are done.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tasks": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"content": map[string]any{"type": "string"},
								"status": map[string]any{
									"type": "string",
									"enum": []string{string(core.TaskPending), string(core.TaskInProgress), string(core.TaskCompleted)},
								},
							},
							"required": []string{"content", "status"},
						},
					},
				},
				"required": []string{"tasks"},
			},
		},
	}
}

// updateTasks replaces the session task list and renders it back.
func (a *Agent) updateTasks(ctx context.Context, run *runState, args map[string]any) string {
	raw, ok := args["tasks"].([]any)
	if !ok {
		return fmt.Sprintf("Error (%s): tasks must be an array of {content, status} objects.", errors.CodeInvalidInput)
	}
	tasks := make([]core.Task, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Sprintf("Error (%s): task %d is not an object.", errors.CodeInvalidInput, i+1)
		}
		content, _ := m["content"].(string)
		status, _ := m["status"].(string)
		tasks = append(tasks, core.Task{Content: content, Status: core.TaskStatus(status)})
	}
	if err := run.session.SetTasks(tasks); err != nil {
		return fmt.Sprintf("Error (%s): %v", errors.CodeInvalidInput, err)
	}
	tasks = run.session.Tasks()
	a.emit(ctx, run, core.EventTaskUpdate, map[string]any{"tasks": tasks})
	return formatTasks(tasks)
}

func formatTasks(tasks []core.Task) string {
	if len(tasks) == 0 {
		return "Task list cleared."
	}
	counts := make(map[core.TaskStatus]int, 3)
	var b strings.Builder
	for _, t := range tasks {
		counts[t.Status]++
		marker := "[ ]"
		switch t.Status {
		case core.TaskCompleted:
			marker = "[x]"
		case core.TaskInProgress:
			marker = "[>]"
		}
		fmt.Fprintf(&b, "\n%s %s", marker, t.Content)
	}
	return fmt.Sprintf("Updated %d tasks (%d done, %d in progress, %d pending):",
		len(tasks), counts[core.TaskCompleted], counts[core.TaskInProgress], counts[core.TaskPending]) + b.String()
}
