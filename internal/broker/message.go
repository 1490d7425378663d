// Package broker defines the typed messages exchanged between execution
// contexts and UI subscribers.
//
// The message set is a closed tagged union discriminated by a "type" field on
// the wire. Delivery is at-most-once and fire-and-forget: a sender never
// learns whether any receiver is alive.
package broker

import (
	"taskforge/internal/jsonx"
	"taskforge/internal/task"
)

// Message kind tags as they appear on the wire.
const (
	TypeExecuteTask  = "execute_task"
	TypeCancelTask   = "cancel_task"
	TypeTaskUpdate   = "task_update"
	TypeTaskComplete = "task_complete"
	TypeTaskError    = "task_error"
	TypeTaskProgress = "task_progress"
)

// Message is the closed union of broker message kinds. The unexported marker
// keeps the set closed so dispatch switches stay exhaustive.
type Message interface {
	MessageType() string
	isMessage()
}

// ExecuteTask asks the background context to begin executing a task
// immediately, independent of wake cycles.
type ExecuteTask struct {
	Task *task.Task `json:"task"`
}

// CancelTask asks the background context to cancel the named task.
type CancelTask struct {
	TaskID string `json:"task_id"`
}

// TaskUpdate carries the full task record after any mutation.
type TaskUpdate struct {
	Task *task.Task `json:"task"`
}

// TaskComplete announces a terminal success.
type TaskComplete struct {
	TaskID string           `json:"task_id"`
	Result jsonx.RawMessage `json:"result,omitempty"`
}

// TaskError announces a terminal failure.
type TaskError struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// TaskProgress reports forward progress of a running task.
type TaskProgress struct {
	TaskID   string `json:"task_id"`
	Progress int    `json:"progress"`
}

func (ExecuteTask) MessageType() string  { return TypeExecuteTask }
func (CancelTask) MessageType() string   { return TypeCancelTask }
func (TaskUpdate) MessageType() string   { return TypeTaskUpdate }
func (TaskComplete) MessageType() string { return TypeTaskComplete }
func (TaskError) MessageType() string    { return TypeTaskError }
func (TaskProgress) MessageType() string { return TypeTaskProgress }

func (ExecuteTask) isMessage()  {}
func (CancelTask) isMessage()   {}
func (TaskUpdate) isMessage()   {}
func (TaskComplete) isMessage() {}
func (TaskError) isMessage()    {}
func (TaskProgress) isMessage() {}
