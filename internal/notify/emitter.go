// Package notify fans task state changes out to connected subscribers.
package notify

import (
	"sync"

	"taskforge/internal/broker"
	"taskforge/internal/logging"
)

const defaultBuffer = 64

// Emitter delivers broker messages to every currently connected subscriber.
// Publishing iterates a snapshot of the subscriber list, never the live map,
// so a callback that unsubscribes mid-delivery cannot corrupt the iteration.
type Emitter struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan broker.Message
	nextID      uint64
	logger      logging.Logger
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter(logger logging.Logger) *Emitter {
	return &Emitter{
		subscribers: make(map[uint64]chan broker.Message),
		logger:      logging.OrNop(logger),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe handle. Unsubscribing closes the channel; calling the handle
// twice is safe.
func (e *Emitter) Subscribe() (<-chan broker.Message, func()) {
	ch := make(chan broker.Message, defaultBuffer)

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subscribers[id] = ch
	e.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			e.mu.Lock()
			if _, ok := e.subscribers[id]; ok {
				delete(e.subscribers, id)
				close(ch)
			}
			e.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Publish delivers msg to a snapshot of current subscribers. Sends are
// non-blocking: a subscriber that has disconnected or stopped draining is
// silently skipped, never treated as an error.
func (e *Emitter) Publish(msg broker.Message) {
	if msg == nil {
		return
	}

	e.mu.RLock()
	snapshot := make([]chan broker.Message, 0, len(e.subscribers))
	for _, ch := range e.subscribers {
		snapshot = append(snapshot, ch)
	}
	e.mu.RUnlock()

	for _, ch := range snapshot {
		e.safeSend(ch, msg)
	}
}

// SubscriberCount reports how many subscribers are currently connected.
func (e *Emitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}

func (e *Emitter) safeSend(ch chan broker.Message, msg broker.Message) {
	defer func() {
		if recover() != nil {
			// The channel was closed after we copied the snapshot. Drop the
			// message and keep delivering to the remaining subscribers.
		}
	}()

	select {
	case ch <- msg:
	default:
		e.logger.Debug("subscriber buffer full, dropping %s", msg.MessageType())
	}
}
