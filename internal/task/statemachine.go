package task

import (
	"errors"
	"fmt"
	"time"

	"taskforge/internal/jsonx"
)

// State machine errors.
var (
	// ErrTerminalState indicates a transition was attempted out of
	// completed or failed. Resuming finished work requires a new task.
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrInvalidTransition indicates the requested transition is not
	// defined from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrProgressRegression indicates a progress update below the
	// current value while running.
	ErrProgressRegression = errors.New("progress must be non-decreasing")
)

// Start transitions queued -> running and stamps StartedAt.
func (t *Task) Start() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("start %s: %w", t.ID, ErrTerminalState)
	}
	if t.Status != StatusQueued {
		return fmt.Errorf("start %s from %s: %w", t.ID, t.Status, ErrInvalidTransition)
	}
	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	return nil
}

// Succeed transitions running -> completed, pinning progress to 100 and
// recording the result.
func (t *Task) Succeed(result jsonx.RawMessage) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("succeed %s: %w", t.ID, ErrTerminalState)
	}
	if t.Status != StatusRunning {
		return fmt.Errorf("succeed %s from %s: %w", t.ID, t.Status, ErrInvalidTransition)
	}
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.Progress = 100
	t.Result = result
	t.Error = ""
	t.CompletedAt = &now
	return nil
}

// Fail transitions queued/running -> failed, recording the error text for
// user display.
func (t *Task) Fail(errText string) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("fail %s: %w", t.ID, ErrTerminalState)
	}
	if errText == "" {
		errText = "unknown error"
	}
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.Error = errText
	t.Result = nil
	t.CompletedAt = &now
	return nil
}

// Cancel transitions queued/running -> failed with the sentinel error text.
// Cancellation is advisory: it cannot abort an in-flight remote call, it only
// marks the record so late responses are discarded.
func (t *Task) Cancel() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("cancel %s: %w", t.ID, ErrTerminalState)
	}
	return t.Fail(ErrCancelled)
}

// SetProgress updates progress while running. Values are clamped to [0, 100]
// and regressions are rejected.
func (t *Task) SetProgress(progress int) error {
	if t.Status != StatusRunning {
		return fmt.Errorf("progress %s from %s: %w", t.ID, t.Status, ErrInvalidTransition)
	}
	if progress > 100 {
		progress = 100
	}
	if progress < t.Progress {
		return fmt.Errorf("progress %s: %d < %d: %w", t.ID, progress, t.Progress, ErrProgressRegression)
	}
	t.Progress = progress
	return nil
}
