// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SessionState is the per-conversation state threaded through the agent loop.
// It is created at conversation start and discarded at its end.
type SessionState struct {
	id     string
	policy RoutingPolicy

	mu     sync.RWMutex
	mode   Mode
	loaded map[string]struct{}
	active []string
	tasks  []Task
}

// NewSessionState creates a session in the given mode. A nil policy uses
// DefaultRoutingPolicy.
func NewSessionState(mode Mode, policy RoutingPolicy) *SessionState {
	if policy == nil {
		policy = DefaultRoutingPolicy()
	}
	if mode == "" {
		mode = ModeGeneral
	}
	return &SessionState{
		id:     uuid.NewString(),
		policy: policy,
		mode:   mode,
		loaded: make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (s *SessionState) ID() string { return s.id }

// Policy returns the routing policy.
func (s *SessionState) Policy() RoutingPolicy { return s.policy }

// Mode returns the active mode.
func (s *SessionState) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// ModeSpec returns the policy for the active mode.
func (s *SessionState) ModeSpec() ModeSpec {
	return s.policy.Spec(s.Mode())
}

// SetMode switches mode. A change invalidates the active capability set so
// capabilities must be re-selected under the new policy. It reports whether
// the mode changed.
func (s *SessionState) SetMode(mode Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == "" || mode == s.mode {
		return false
	}
	s.mode = mode
	s.active = nil
	return true
}

// MarkLoaded records that a capability schema was fetched in this session.
func (s *SessionState) MarkLoaded(name string) {
	s.mu.Lock()
	s.loaded[name] = struct{}{}
	s.mu.Unlock()
}

// IsLoaded reports whether the capability schema was fetched in this session.
func (s *SessionState) IsLoaded(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.loaded[name]
	return ok
}

// Loaded returns the loaded capability names, sorted.
func (s *SessionState) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.loaded))
	for name := range s.loaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Activate adds a capability to the active tool set. It reports false when
// it was already active.
func (s *SessionState) Activate(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.active {
		if n == name {
			return false
		}
	}
	s.active = append(s.active, name)
	return true
}

// IsActive reports whether the capability is in the active tool set.
func (s *SessionState) IsActive(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.active {
		if n == name {
			return true
		}
	}
	return false
}

// Active returns the active tool set in activation order.
func (s *SessionState) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.active...)
}

// TaskStatus is the progress of one task list item.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one item of the session task list.
type Task struct {
	Content string     `json:"content"`
	Status  TaskStatus `json:"status"`
}

// SetTasks replaces the task list. Items need content and a known status,
// and at most one may be in progress. An empty status means pending. The
// list survives mode changes.
func (s *SessionState) SetTasks(tasks []Task) error {
	out := make([]Task, 0, len(tasks))
	inProgress := 0
	for i, t := range tasks {
		t.Content = strings.TrimSpace(t.Content)
		if t.Content == "" {
			return fmt.Errorf("task %d has no content", i+1)
		}
		switch t.Status {
		case "":
			t.Status = TaskPending
		case TaskPending, TaskCompleted:
		case TaskInProgress:
			inProgress++
		default:
			return fmt.Errorf("task %d has unknown status %q", i+1, t.Status)
		}
		out = append(out, t)
	}
	if inProgress > 1 {
		return fmt.Errorf("%d tasks are in progress; only one may be", inProgress)
	}
	s.mu.Lock()
	s.tasks = out
	s.mu.Unlock()
	return nil
}

// Tasks returns a copy of the task list.
func (s *SessionState) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Task(nil), s.tasks...)
}

// CurrentTask returns the task in progress, if any.
func (s *SessionState) CurrentTask() (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Status == TaskInProgress {
			return t, true
		}
	}
	return Task{}, false
}
