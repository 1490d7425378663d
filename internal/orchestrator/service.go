// Package orchestrator ties the task subsystem together behind one service
// object per process. Nothing here uses ambient globals; every collaborator
// is injected at construction.
package orchestrator

import (
	"context"

	"taskforge/internal/async"
	"taskforge/internal/broker"
	"taskforge/internal/jsonx"
	"taskforge/internal/logging"
	"taskforge/internal/notify"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

// Submitter accepts new task submissions. The dispatcher implements this.
type Submitter interface {
	Submit(ctx context.Context, taskType string, data jsonx.RawMessage) (string, error)
}

// Canceller requests task cancellation. The background manager implements
// this for tasks in any execution domain.
type Canceller interface {
	Cancel(ctx context.Context, id string) error
}

// Service is the single entry point the transport layer talks to.
type Service struct {
	store     store.Store
	submitter Submitter
	canceller Canceller
	emitter   *notify.Emitter
	logger    logging.Logger
}

// NewService wires the service from its collaborators.
func NewService(st store.Store, submitter Submitter, canceller Canceller, emitter *notify.Emitter, logger logging.Logger) *Service {
	return &Service{
		store:     st,
		submitter: submitter,
		canceller: canceller,
		emitter:   emitter,
		logger:    logging.OrNop(logger),
	}
}

// Submit validates and enqueues a task, returning its id.
func (s *Service) Submit(ctx context.Context, taskType string, data jsonx.RawMessage) (string, error) {
	return s.submitter.Submit(ctx, taskType, data)
}

// Cancel requests cancellation of a queued or running task.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.canceller.Cancel(ctx, id)
}

// Task returns one task record.
func (s *Service) Task(ctx context.Context, id string) (*task.Task, error) {
	return s.store.Get(ctx, id)
}

// Tasks returns all task records, oldest first.
func (s *Service) Tasks(ctx context.Context) ([]*task.Task, error) {
	return s.store.List(ctx)
}

// Delete removes a task record. Explicit deletion is the only way a record
// ever leaves the store.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Subscribe exposes the raw event stream for transports that manage their
// own read loop, such as the websocket handler.
func (s *Service) Subscribe() (<-chan broker.Message, func()) {
	return s.emitter.Subscribe()
}

// OnTaskEvent invokes fn for every task event until the returned unsubscribe
// function is called. fn runs on a dedicated goroutine; a slow fn loses
// events rather than stalling publishers.
func (s *Service) OnTaskEvent(fn func(broker.Message)) (unsubscribe func()) {
	ch, cancel := s.emitter.Subscribe()
	async.Go(s.logger, "orchestrator.events", func() {
		for msg := range ch {
			fn(msg)
		}
	})
	return cancel
}
