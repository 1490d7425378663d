package notify

import (
	"testing"
	"time"

	"taskforge/internal/broker"
)

func TestEmitterDeliversToAllSubscribers(t *testing.T) {
	emitter := NewEmitter(nil)

	first, stopFirst := emitter.Subscribe()
	second, stopSecond := emitter.Subscribe()
	defer stopFirst()
	defer stopSecond()

	emitter.Publish(broker.TaskProgress{TaskID: "task-1", Progress: 50})

	for _, ch := range []<-chan broker.Message{first, second} {
		select {
		case msg := <-ch:
			progress, ok := msg.(broker.TaskProgress)
			if !ok || progress.TaskID != "task-1" || progress.Progress != 50 {
				t.Fatalf("unexpected message: %#v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestEmitterSkipsDisconnectedSubscribers(t *testing.T) {
	emitter := NewEmitter(nil)

	kept, stopKept := emitter.Subscribe()
	defer stopKept()

	_, stopGone := emitter.Subscribe()
	stopGone()

	emitter.Publish(broker.TaskError{TaskID: "task-2", Error: "boom"})

	select {
	case msg := <-kept:
		if msg.MessageType() != broker.TypeTaskError {
			t.Fatalf("unexpected message type %s", msg.MessageType())
		}
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber did not receive message")
	}

	if emitter.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", emitter.SubscriberCount())
	}
}

func TestEmitterUnsubscribeClosesChannel(t *testing.T) {
	emitter := NewEmitter(nil)
	ch, stop := emitter.Subscribe()

	stop()
	stop() // idempotent

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close")
	}
}

func TestEmitterFullBufferDoesNotBlock(t *testing.T) {
	emitter := NewEmitter(nil)
	_, stop := emitter.Subscribe()
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBuffer*2; i++ {
			emitter.Publish(broker.TaskProgress{TaskID: "task-3", Progress: i % 100})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}
