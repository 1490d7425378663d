// Package store persists task records and provider credentials.
package store

import (
	"context"
	"errors"

	"taskforge/internal/task"
)

var (
	// ErrStorageUnavailable indicates the underlying medium could not be
	// opened. Callers surface it; there is no automatic retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTaskNotFound indicates no record exists for the requested id.
	ErrTaskNotFound = errors.New("task not found")
)

// Store is the task persistence port. Concurrent writes to the same id are
// last-writer-wins; Claim is the only compare-and-swap primitive.
type Store interface {
	// Open prepares the medium, creating the schema on first use.
	// Idempotent.
	Open(ctx context.Context) error

	// Put upserts a task record.
	Put(ctx context.Context, t *task.Task) error

	// Get retrieves a task by id. Returns ErrTaskNotFound when absent.
	Get(ctx context.Context, id string) (*task.Task, error)

	// List returns all tasks, oldest first.
	List(ctx context.Context) ([]*task.Task, error)

	// ListByStatus returns tasks matching status, oldest first.
	ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)

	// Claim atomically flips a task's status from one value to another.
	// It returns false when the task is absent or its status has moved on,
	// which is how two contexts avoid racing for the same queued task.
	Claim(ctx context.Context, id string, from, to task.Status) (bool, error)

	// Delete removes a task. Tasks are only ever removed this way, never
	// automatically on completion.
	Delete(ctx context.Context, id string) error

	// PutCredential stores the single current secret for a provider,
	// overwriting any previous value.
	PutCredential(ctx context.Context, provider, secret string) error

	// Credential returns the secret for a provider. A missing provider is
	// reported with ok=false, not an error.
	Credential(ctx context.Context, provider string) (secret string, ok bool, err error)

	// Close releases the medium.
	Close() error
}
