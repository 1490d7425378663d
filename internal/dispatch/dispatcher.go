// Package dispatch routes submitted tasks to an execution domain.
//
// Two domains exist: short-lived parallel workers spawned per task for
// CPU-bound, parseable work, and the background context for work that must
// survive the submitting UI going away.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskforge/internal/async"
	"taskforge/internal/broker"
	"taskforge/internal/execute"
	"taskforge/internal/jsonx"
	"taskforge/internal/logging"
	"taskforge/internal/metrics"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

var (
	// ErrValidation indicates a submission with missing required fields.
	ErrValidation = errors.New("validation error")

	// ErrUnknownTaskType indicates no route exists for the task type.
	ErrUnknownTaskType = errors.New("unknown task type")
)

// Route identifies the execution domain for a task type.
type Route int

const (
	// RouteWorker spawns a bounded-lifetime worker goroutine per task.
	// No pooling: the worker is torn down when the task ends.
	RouteWorker Route = iota

	// RouteBackground queues the task for the background context.
	RouteBackground
)

// Waker is the background context's wake-signal surface.
type Waker interface {
	Wake(tag string)
}

// Dispatcher validates submissions, persists the queued record, and routes
// by task type.
type Dispatcher struct {
	store   store.Store
	runner  *execute.Runner
	waker   Waker
	emitter execute.Publisher
	metrics *metrics.Metrics
	logger  logging.Logger
	routes  map[string]Route
}

// NewDispatcher builds a dispatcher with the default route table.
func NewDispatcher(st store.Store, runner *execute.Runner, waker Waker, emitter execute.Publisher, m *metrics.Metrics, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		store:   st,
		runner:  runner,
		waker:   waker,
		emitter: emitter,
		metrics: m,
		logger:  logging.OrNop(logger),
		routes: map[string]Route{
			task.TypeAnalysis:       RouteWorker,
			task.TypeCodeGeneration: RouteBackground,
			task.TypeSourceSync:     RouteBackground,
		},
	}
}

// RegisterRoute binds a task type to a route. The type enum is open; new
// types only need a route to become submittable.
func (d *Dispatcher) RegisterRoute(taskType string, route Route) {
	d.routes[taskType] = route
}

// Submit validates the request, persists a queued task, and routes it.
// Returns the task id the caller can subscribe on.
func (d *Dispatcher) Submit(ctx context.Context, taskType string, data jsonx.RawMessage) (string, error) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return "", fmt.Errorf("task type is required: %w", ErrValidation)
	}

	route, ok := d.routes[taskType]
	if !ok {
		return "", fmt.Errorf("no route for type %q: %w", taskType, ErrUnknownTaskType)
	}

	t := task.New(taskType, data)
	if err := d.store.Put(ctx, t); err != nil {
		return "", fmt.Errorf("persist submission: %w", err)
	}

	d.metrics.TaskSubmitted()
	if d.emitter != nil {
		d.emitter.Publish(broker.TaskUpdate{Task: t.Clone()})
	}

	switch route {
	case RouteWorker:
		d.spawnWorker(t.ID)
	case RouteBackground:
		d.logger.Debug("queued %s for background context", t.ID)
		if d.waker != nil {
			d.waker.Wake("sync-tasks")
		}
	}

	return t.ID, nil
}

// spawnWorker starts a dedicated goroutine for one task. The goroutine owns
// no shared mutable state: everything flows through the store and the
// emitter, and the worker is gone once the task reaches a terminal state.
func (d *Dispatcher) spawnWorker(id string) {
	d.logger.Debug("spawning worker for %s", id)
	async.Go(d.logger, "dispatch.worker."+id, func() {
		// The worker deliberately detaches from the submitting request's
		// context: the task must not die with the HTTP request.
		d.runner.Run(context.Background(), id)
	})
}
