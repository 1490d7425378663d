package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/execute"
	"taskforge/internal/jsonx"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

type stubExecutor struct {
	result jsonx.RawMessage
	err    error
}

func (s stubExecutor) Execute(_ context.Context, _ *task.Task, _ func(int)) (jsonx.RawMessage, error) {
	return s.result, s.err
}

type recordingWaker struct {
	tags chan string
}

func (w *recordingWaker) Wake(tag string) { w.tags <- tag }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewFileStore(t.TempDir())
	require.NoError(t, st.Open(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSubmitRejectsEmptyTaskType(t *testing.T) {
	st := newTestStore(t)
	d := NewDispatcher(st, &execute.Runner{Store: st}, nil, nil, nil, nil)

	_, err := d.Submit(context.Background(), "   ", nil)
	require.ErrorIs(t, err, ErrValidation)

	tasks, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks, "rejected submission must not be persisted")
}

func TestSubmitRejectsUnknownTaskType(t *testing.T) {
	st := newTestStore(t)
	d := NewDispatcher(st, &execute.Runner{Store: st}, nil, nil, nil, nil)

	_, err := d.Submit(context.Background(), "bogus_type", nil)
	require.ErrorIs(t, err, ErrUnknownTaskType)
}

func TestSubmitWorkerRouteRunsToCompletion(t *testing.T) {
	st := newTestStore(t)
	runner := &execute.Runner{
		Store:    st,
		Executor: stubExecutor{result: jsonx.RawMessage(`{"summary":"ok"}`)},
	}
	d := NewDispatcher(st, runner, nil, nil, nil, nil)

	id, err := d.Submit(context.Background(), task.TypeAnalysis, jsonx.RawMessage(`{"text":"input"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := st.Get(context.Background(), id)
		return err == nil && current.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	current, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"ok"}`, string(current.Result))
	assert.Equal(t, 100, current.Progress)
}

func TestSubmitWorkerFailureReachesFailed(t *testing.T) {
	st := newTestStore(t)
	runner := &execute.Runner{
		Store:    st,
		Executor: stubExecutor{err: errors.New("model exploded")},
	}
	d := NewDispatcher(st, runner, nil, nil, nil, nil)

	id, err := d.Submit(context.Background(), task.TypeAnalysis, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := st.Get(context.Background(), id)
		return err == nil && current.Status == task.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	current, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "model exploded", current.Error)
}

func TestSubmitBackgroundRouteQueuesAndWakes(t *testing.T) {
	st := newTestStore(t)
	waker := &recordingWaker{tags: make(chan string, 1)}
	d := NewDispatcher(st, &execute.Runner{Store: st}, waker, nil, nil, nil)

	id, err := d.Submit(context.Background(), task.TypeCodeGeneration, jsonx.RawMessage(`{"prompt":"write a parser"}`))
	require.NoError(t, err)

	select {
	case tag := <-waker.tags:
		assert.Equal(t, "sync-tasks", tag)
	case <-time.After(time.Second):
		t.Fatal("no wake signal after background submission")
	}

	current, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, current.Status, "background tasks wait for the context to claim them")
}

func TestRegisterRouteMakesNewTypeSubmittable(t *testing.T) {
	st := newTestStore(t)
	waker := &recordingWaker{tags: make(chan string, 1)}
	d := NewDispatcher(st, &execute.Runner{Store: st}, waker, nil, nil, nil)

	_, err := d.Submit(context.Background(), "nightly_report", nil)
	require.ErrorIs(t, err, ErrUnknownTaskType)

	d.RegisterRoute("nightly_report", RouteBackground)
	_, err = d.Submit(context.Background(), "nightly_report", nil)
	require.NoError(t, err)
}
