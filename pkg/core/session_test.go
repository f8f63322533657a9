// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"
)

func TestSessionSetModeInvalidatesActiveSet(t *testing.T) {
	s := NewSessionState(ModeExplore, nil)
	s.Activate("check_stock")
	s.MarkLoaded("check_stock")

	if !s.IsActive("check_stock") {
		t.Fatalf("expected capability to be active")
	}
	if changed := s.SetMode(ModeExplore); changed {
		t.Fatalf("same mode should not report a change")
	}
	if !s.SetMode(ModeGeneral) {
		t.Fatalf("expected mode change")
	}
	if s.IsActive("check_stock") {
		t.Fatalf("expected active set to be cleared on mode change")
	}
	if !s.IsLoaded("check_stock") {
		t.Fatalf("loaded schemas survive mode changes")
	}
	if s.ModeSpec().Tier != TierPrimary {
		t.Fatalf("expected primary tier for general mode")
	}
}

func TestSessionActivateIsIdempotent(t *testing.T) {
	s := NewSessionState(ModeGeneral, nil)
	if !s.Activate("a") || s.Activate("a") {
		t.Fatalf("expected first activation only to report true")
	}
	s.Activate("b")
	if got := s.Active(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected active order %v", got)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"Explore": ModeExplore, "plan": ModePlan, "general-purpose": ModeGeneral, "": ModeGeneral}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("root"); err == nil {
		t.Errorf("expected error for unknown mode")
	}
}

func TestRoutingPolicyFallback(t *testing.T) {
	p := RoutingPolicy{ModeGeneral: {Tier: TierAuxiliary}}
	if got := p.Spec(ModePlan); got.Tier != TierAuxiliary {
		t.Fatalf("expected fallback to general spec, got %v", got)
	}
	if got := (RoutingPolicy{}).Spec(ModePlan); got.Tier != TierPrimary {
		t.Fatalf("expected primary default, got %v", got)
	}
}

type staticChecker HealthStatus

func (c staticChecker) Check(context.Context) HealthResult {
	return HealthResult{Status: HealthStatus(c)}
}

func TestCheckAll(t *testing.T) {
	results, overall := CheckAll(context.Background(), map[string]HealthChecker{
		"a": staticChecker(HealthHealthy),
		"b": staticChecker(HealthDegraded),
	})
	if len(results) != 2 || overall != HealthDegraded {
		t.Fatalf("expected degraded overall, got %v", overall)
	}
}

func TestSessionTasks(t *testing.T) {
	s := NewSessionState(ModePlan, nil)
	if _, ok := s.CurrentTask(); ok {
		t.Fatalf("new session has no current task")
	}
	err := s.SetTasks([]Task{
		{Content: " check stock ", Status: TaskCompleted},
		{Content: "reserve parts", Status: TaskInProgress},
		{Content: "create order"},
	})
	if err != nil {
		t.Fatalf("SetTasks: %v", err)
	}
	tasks := s.Tasks()
	if len(tasks) != 3 || tasks[0].Content != "check stock" || tasks[2].Status != TaskPending {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	cur, ok := s.CurrentTask()
	if !ok || cur.Content != "reserve parts" {
		t.Fatalf("current task = %+v, %v", cur, ok)
	}

	tasks[0].Content = "changed"
	if s.Tasks()[0].Content != "check stock" {
		t.Fatalf("Tasks must return a copy")
	}

	s.SetMode(ModeGeneral)
	if len(s.Tasks()) != 3 {
		t.Fatalf("task list should survive mode changes")
	}
}

func TestSessionSetTasksRejectsInvalidLists(t *testing.T) {
	cases := map[string][]Task{
		"empty content":  {{Content: "  "}},
		"unknown status": {{Content: "a", Status: "blocked"}},
		"two in progress": {
			{Content: "a", Status: TaskInProgress},
			{Content: "b", Status: TaskInProgress},
		},
	}
	for name, tasks := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewSessionState(ModeGeneral, nil)
			if err := s.SetTasks([]Task{{Content: "keep"}}); err != nil {
				t.Fatalf("SetTasks: %v", err)
			}
			if err := s.SetTasks(tasks); err == nil {
				t.Fatalf("expected an error")
			}
			if got := s.Tasks(); len(got) != 1 || got[0].Content != "keep" {
				t.Fatalf("rejected list must not replace the current one, got %+v", got)
			}
		})
	}
}
