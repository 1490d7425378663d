// Package task defines the task domain model and its lifecycle state machine.
//
// A task is the unit of schedulable, resumable work. Its record is the single
// source of truth: execution contexts may be suspended and destroyed by the
// host at any time, so everything observable about a task must round-trip
// through the store.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskforge/internal/jsonx"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is one of the four enumerated statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Well-known task types. The type enum is open: dispatch routes unknown types
// by registered classification, not by this list.
const (
	TypeCodeGeneration = "code_generation"
	TypeAnalysis       = "analysis"
	TypeSourceSync     = "source_sync"
)

// ErrCancelled is the sentinel error text written by a user cancellation.
const ErrCancelled = "Cancelled by user"

// Task is the persisted task record.
type Task struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data jsonx.RawMessage `json:"data,omitempty"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	Result jsonx.RawMessage `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a queued task with a fresh, never-reused identifier.
func New(taskType string, data jsonx.RawMessage) *Task {
	return &Task{
		ID:        fmt.Sprintf("task-%s", uuid.New().String()),
		Type:      taskType,
		Data:      data,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep enough copy that callers can hand the task across
// goroutine boundaries without sharing mutable state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Data != nil {
		clone.Data = append(jsonx.RawMessage(nil), t.Data...)
	}
	if t.Result != nil {
		clone.Result = append(jsonx.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
