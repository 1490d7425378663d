// Package background owns the long-lived execution context that outlives any
// single UI client.
//
// The host controls the context's lifecycle: it may be suspended and
// destroyed at any time, so the manager treats all in-memory state as
// disposable and reconstructs its world from the store on every wake.
package background

import (
	"context"
	"sync/atomic"
	"time"

	"taskforge/internal/broker"
	"taskforge/internal/execute"
	"taskforge/internal/logging"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

// Wake signal tags delivered by the host.
const (
	// WakeSync is the explicit "check the store now" signal.
	WakeSync = "sync-tasks"

	// WakePeriodic tags the optional periodic wake.
	WakePeriodic = "process-tasks"
)

// Phase is the manager's lifecycle state.
type Phase int32

const (
	PhaseInstalling Phase = iota
	PhaseActivating
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseInstalling:
		return "installing"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}

// Manager processes queued tasks sequentially, one at a time, to bound
// memory pressure and avoid overloading the store.
type Manager struct {
	store    store.Store
	runner   *execute.Runner
	logger   logging.Logger
	interval time.Duration

	phase  atomic.Int32
	wakeCh chan string
	msgCh  chan broker.Message
}

// Option configures the manager.
type Option func(*Manager)

// WithPeriodicWake enables the optional "process-tasks" periodic wake.
// Zero disables it.
func WithPeriodicWake(interval time.Duration) Option {
	return func(m *Manager) { m.interval = interval }
}

// NewManager creates a manager in the installing phase.
func NewManager(st store.Store, runner *execute.Runner, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		runner: runner,
		logger: logging.OrNop(logger),
		wakeCh: make(chan string, 8),
		msgCh:  make(chan broker.Message, 32),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Phase reports the current lifecycle phase.
func (m *Manager) Phase() Phase {
	return Phase(m.phase.Load())
}

// Wake delivers a tagged wake signal. Non-blocking: coalescing wakes is
// fine, one store scan serves them all.
func (m *Manager) Wake(tag string) {
	select {
	case m.wakeCh <- tag:
	default:
	}
}

// Deliver hands a broker message to the manager. Fire-and-forget: a full
// mailbox drops the message, matching at-most-once delivery.
func (m *Manager) Deliver(msg broker.Message) {
	select {
	case m.msgCh <- msg:
	default:
		m.logger.Warn("mailbox full, dropping %s", msg.MessageType())
	}
}

// Cancel transitions the named task to failed with the sentinel error.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.runner.Cancel(ctx, id)
}

// Run installs and activates the context, then serves wake signals and
// messages until ctx is cancelled. Activation immediately runs a sync wake
// cycle, so tasks queued while no context was alive are picked up without
// waiting for the next signal — no task is left orphaned.
func (m *Manager) Run(ctx context.Context) {
	m.phase.Store(int32(PhaseActivating))
	m.logger.Info("background context activating")

	m.reconcile(ctx)
	m.processQueued(ctx)

	m.phase.Store(int32(PhaseActive))
	m.logger.Info("background context active")

	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("background context suspended: %v", ctx.Err())
			return
		case tag := <-m.wakeCh:
			m.logger.Debug("wake signal %q", tag)
			if tag == WakeSync || tag == WakePeriodic {
				m.processQueued(ctx)
			}
		case <-tick:
			m.logger.Debug("wake signal %q", WakePeriodic)
			m.processQueued(ctx)
		case msg := <-m.msgCh:
			m.handleMessage(ctx, msg)
		}
	}
}

// handleMessage reacts to control messages. The switch is exhaustive over
// the closed union; event messages are for subscribers, not the manager.
func (m *Manager) handleMessage(ctx context.Context, msg broker.Message) {
	switch msg := msg.(type) {
	case broker.ExecuteTask:
		// Direct execution request: begin immediately, independent of
		// wake cycles.
		if msg.Task == nil || msg.Task.ID == "" {
			m.logger.Warn("execute_task without a task payload")
			return
		}
		m.runner.Run(ctx, msg.Task.ID)
	case broker.CancelTask:
		if err := m.Cancel(ctx, msg.TaskID); err != nil {
			m.logger.Warn("cancel %s: %v", msg.TaskID, err)
		}
	case broker.TaskUpdate, broker.TaskComplete, broker.TaskError, broker.TaskProgress:
		// Subscriber-facing events; nothing for the manager to do.
	}
}

// processQueued is one wake cycle: reload queued work from the store and
// execute it strictly sequentially. The claim inside Run keeps two contexts
// from racing for the same task.
func (m *Manager) processQueued(ctx context.Context) {
	queued, err := m.store.ListByStatus(ctx, task.StatusQueued)
	if err != nil {
		m.logger.Error("scan queued tasks: %v", err)
		return
	}
	if len(queued) == 0 {
		return
	}

	m.logger.Info("wake cycle: %d queued task(s)", len(queued))
	for _, t := range queued {
		if ctx.Err() != nil {
			return
		}
		m.runner.Run(ctx, t.ID)
	}
}

// reconcile sweeps tasks stuck in running from a context that died without
// finalizing. Nothing in memory survives suspension, so a running record
// with no live owner is unfinishable and is failed outright.
func (m *Manager) reconcile(ctx context.Context) {
	running, err := m.store.ListByStatus(ctx, task.StatusRunning)
	if err != nil {
		m.logger.Error("scan running tasks: %v", err)
		return
	}

	for _, t := range running {
		if err := t.Fail("execution context terminated before completion"); err != nil {
			continue
		}
		if err := m.store.Put(ctx, t); err != nil {
			m.logger.Error("reconcile %s: %v", t.ID, err)
		} else {
			m.logger.Warn("reconciled orphaned running task %s to failed", t.ID)
		}
	}
}
