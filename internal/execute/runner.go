// Package execute owns the single-task execution lifecycle shared by the
// per-task worker path and the background context: claim, run, finalize.
package execute

import (
	"context"
	"fmt"

	"taskforge/internal/broker"
	"taskforge/internal/jsonx"
	"taskforge/internal/logging"
	"taskforge/internal/metrics"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

// Executor produces a result for one task, reporting coarse progress through
// report. Implementations call the remote model and the response parser.
type Executor interface {
	Execute(ctx context.Context, t *task.Task, report func(progress int)) (jsonx.RawMessage, error)
}

// Publisher is the fire-and-forget side of the emitter.
type Publisher interface {
	Publish(msg broker.Message)
}

// Runner drives one task from claimed to terminal. Every path out of Run
// writes a terminal state; a crash mid-task must never leave the record
// stuck in running.
type Runner struct {
	Store    store.Store
	Executor Executor
	Emitter  Publisher
	Metrics  *metrics.Metrics
	Logger   logging.Logger
}

// Run claims the task (CAS queued -> running) and executes it. A lost claim
// means another context owns the task; that is a quiet no-op, not an error.
func (r *Runner) Run(ctx context.Context, id string) {
	logger := logging.OrNop(r.Logger)

	won, err := r.Store.Claim(ctx, id, task.StatusQueued, task.StatusRunning)
	if err != nil {
		logger.Error("claim %s: %v", id, err)
		return
	}
	if !won {
		logger.Debug("lost claim for %s, another context owns it", id)
		return
	}

	current, err := r.Store.Get(ctx, id)
	if err != nil {
		logger.Error("reload claimed task %s: %v", id, err)
		return
	}

	r.Metrics.TaskStarted()
	r.publish(broker.TaskUpdate{Task: current.Clone()})

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic executing %s: %v", id, rec)
			r.finalize(ctx, id, nil, fmt.Errorf("panic: %v", rec))
		}
	}()

	result, execErr := r.Executor.Execute(ctx, current.Clone(), func(progress int) {
		r.reportProgress(ctx, id, progress)
	})
	r.finalize(ctx, id, result, execErr)
}

// Cancel transitions a queued or running task to failed with the sentinel
// error text. Advisory only: an in-flight remote call keeps running, its
// late response is discarded by finalize's status re-check.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	current, err := r.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := current.Cancel(); err != nil {
		return err
	}
	if err := r.Store.Put(ctx, current); err != nil {
		return err
	}

	r.Metrics.TaskCancelled()
	r.publish(broker.TaskError{TaskID: id, Error: task.ErrCancelled})
	r.publish(broker.TaskUpdate{Task: current.Clone()})
	return nil
}

// finalize persists the terminal state. The record is re-read immediately
// before the write: when its status is no longer running (a cancellation won
// the race) the write is a no-op, so a late provider response can never
// resurrect a cancelled task.
func (r *Runner) finalize(ctx context.Context, id string, result jsonx.RawMessage, execErr error) {
	logger := logging.OrNop(r.Logger)

	current, err := r.Store.Get(ctx, id)
	if err != nil {
		logger.Error("finalize reload %s: %v", id, err)
		return
	}
	if current.Status != task.StatusRunning {
		logger.Info("discarding result for %s: status is %s, not running", id, current.Status)
		r.Metrics.TaskAbandoned()
		return
	}

	if execErr != nil {
		if ferr := current.Fail(execErr.Error()); ferr != nil {
			logger.Error("fail transition %s: %v", id, ferr)
			return
		}
	} else {
		if serr := current.Succeed(result); serr != nil {
			logger.Error("succeed transition %s: %v", id, serr)
			return
		}
	}

	if err := r.Store.Put(ctx, current); err != nil {
		logger.Error("persist terminal state for %s: %v", id, err)
		return
	}

	if execErr != nil {
		r.Metrics.TaskFailed()
		r.publish(broker.TaskError{TaskID: id, Error: current.Error})
	} else {
		r.Metrics.TaskCompleted()
		r.publish(broker.TaskComplete{TaskID: id, Result: current.Result})
	}
	r.publish(broker.TaskUpdate{Task: current.Clone()})
}

// reportProgress persists and broadcasts forward progress, dropping updates
// for tasks that have already left running.
func (r *Runner) reportProgress(ctx context.Context, id string, progress int) {
	logger := logging.OrNop(r.Logger)

	current, err := r.Store.Get(ctx, id)
	if err != nil || current.Status != task.StatusRunning {
		return
	}
	if err := current.SetProgress(progress); err != nil {
		logger.Debug("progress update for %s rejected: %v", id, err)
		return
	}
	if err := r.Store.Put(ctx, current); err != nil {
		logger.Warn("persist progress for %s: %v", id, err)
		return
	}
	r.publish(broker.TaskProgress{TaskID: id, Progress: current.Progress})
}

func (r *Runner) publish(msg broker.Message) {
	if r.Emitter != nil {
		r.Emitter.Publish(msg)
	}
}
