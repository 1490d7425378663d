package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/background"
	"taskforge/internal/broker"
	"taskforge/internal/dispatch"
	"taskforge/internal/execute"
	"taskforge/internal/jsonx"
	"taskforge/internal/notify"
	"taskforge/internal/provider"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

// harness wires a complete subsystem against a scripted model client, the
// same shape main assembles in production.
type harness struct {
	service *Service
	store   store.Store
	client  *provider.MockClient
	manager *background.Manager
}

func newHarness(t *testing.T, client *provider.MockClient) *harness {
	t.Helper()

	st := store.NewFileStore(t.TempDir())
	require.NoError(t, st.Open(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	emitter := notify.NewEmitter(nil)
	runner := &execute.Runner{
		Store:    st,
		Executor: NewModelExecutor(client, "test-model", nil),
		Emitter:  emitter,
	}
	manager := background.NewManager(st, runner, nil)
	dispatcher := dispatch.NewDispatcher(st, runner, manager, emitter, nil, nil)
	service := NewService(st, dispatcher, manager, emitter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		manager.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{service: service, store: st, client: client, manager: manager}
}

func (h *harness) waitTerminal(t *testing.T, id string) *task.Task {
	t.Helper()
	require.Eventually(t, func() bool {
		current, err := h.store.Get(context.Background(), id)
		return err == nil && current.Status.IsTerminal()
	}, 3*time.Second, 10*time.Millisecond)
	current, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return current
}

func TestCodeGenerationCompletesWithExtractedCode(t *testing.T) {
	client := provider.NewMockClient("").Queue(
		"Here is the function you asked for:\n```go\nfunc Add(a, b int) int {\n\treturn a + b\n}\n```\nLet me know if you need tests.")
	h := newHarness(t, client)

	id, err := h.service.Submit(context.Background(), task.TypeCodeGeneration,
		jsonx.RawMessage(`{"prompt":"write an add function"}`))
	require.NoError(t, err)

	final := h.waitTerminal(t, id)
	require.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Empty(t, final.Error)

	var result struct {
		Code string `json:"code"`
	}
	require.NoError(t, jsonx.Unmarshal(final.Result, &result))
	assert.Equal(t, "func Add(a, b int) int {\n\treturn a + b\n}", result.Code)
}

func TestAnalysisParsesStructuredResponse(t *testing.T) {
	client := provider.NewMockClient("").Queue(
		`Sure! Here is my assessment: {"risk":"low","issues":[]} Hope that helps.`)
	h := newHarness(t, client)

	id, err := h.service.Submit(context.Background(), task.TypeAnalysis,
		jsonx.RawMessage(`{"prompt":"assess this diff"}`))
	require.NoError(t, err)

	final := h.waitTerminal(t, id)
	require.Equal(t, task.StatusCompleted, final.Status)
	assert.JSONEq(t, `{"risk":"low","issues":[]}`, string(final.Result))
}

func TestAnalysisTruncatedResponseFailsTask(t *testing.T) {
	client := provider.NewMockClient("").Queue(`{"risk":"lo`)
	h := newHarness(t, client)

	id, err := h.service.Submit(context.Background(), task.TypeAnalysis,
		jsonx.RawMessage(`{"prompt":"assess"}`))
	require.NoError(t, err)

	final := h.waitTerminal(t, id)
	require.Equal(t, task.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "truncated")
}

func TestSourceSyncReportsManifestReceipt(t *testing.T) {
	h := newHarness(t, provider.NewMockClient(""))

	id, err := h.service.Submit(context.Background(), task.TypeSourceSync,
		jsonx.RawMessage(`{"files":["a.go","b.go"]}`))
	require.NoError(t, err)

	final := h.waitTerminal(t, id)
	require.Equal(t, task.StatusCompleted, final.Status)

	var result struct {
		Synced int `json:"synced"`
	}
	require.NoError(t, jsonx.Unmarshal(final.Result, &result))
	assert.Equal(t, 2, result.Synced)
	assert.Empty(t, h.client.Calls(), "source sync never touches the model")
}

func TestCancelViaServiceSticksEvenWithLateResponse(t *testing.T) {
	client := provider.NewMockClient("```go\nlate\n```")
	client.Block()
	h := newHarness(t, client)

	id, err := h.service.Submit(context.Background(), task.TypeCodeGeneration,
		jsonx.RawMessage(`{"prompt":"slow"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := h.store.Get(context.Background(), id)
		return err == nil && current.Status == task.StatusRunning
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.service.Cancel(context.Background(), id))
	client.Release()
	time.Sleep(50 * time.Millisecond)

	final, err := h.service.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	assert.Equal(t, task.ErrCancelled, final.Error)
}

func TestOnTaskEventDeliversLifecycle(t *testing.T) {
	client := provider.NewMockClient("").Queue("```\ndone\n```")
	h := newHarness(t, client)

	var mu sync.Mutex
	var seen []string
	unsubscribe := h.service.OnTaskEvent(func(msg broker.Message) {
		mu.Lock()
		seen = append(seen, msg.MessageType())
		mu.Unlock()
	})
	defer unsubscribe()

	id, err := h.service.Submit(context.Background(), task.TypeCodeGeneration,
		jsonx.RawMessage(`{"prompt":"p"}`))
	require.NoError(t, err)
	h.waitTerminal(t, id)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, kind := range seen {
			if kind == broker.TypeTaskComplete {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, broker.TypeTaskUpdate)
	assert.Contains(t, seen, broker.TypeTaskProgress)
}

func TestDeleteRemovesRecord(t *testing.T) {
	h := newHarness(t, provider.NewMockClient("```\nx\n```"))

	id, err := h.service.Submit(context.Background(), task.TypeCodeGeneration,
		jsonx.RawMessage(`{"prompt":"p"}`))
	require.NoError(t, err)
	h.waitTerminal(t, id)

	require.NoError(t, h.service.Delete(context.Background(), id))
	_, err = h.service.Task(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}
