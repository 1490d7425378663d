package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/jsonx"
	"taskforge/internal/task"
)

func newOpenStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(t.TempDir())
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Open(ctx))
}

func TestOpenUnwritableDirIsStorageUnavailable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission bits are not enforced")
	}
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0o500))
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

	s := NewFileStore(filepath.Join(parent, "nested"))
	err := s.Open(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newOpenStore(t)
	ctx := context.Background()

	original := task.New(task.TypeCodeGeneration, jsonx.RawMessage(`{"prompt":"add a button"}`))
	require.NoError(t, original.Start())
	require.NoError(t, original.SetProgress(42))
	require.NoError(t, s.Put(ctx, original))

	loaded, err := s.Get(ctx, original.ID)
	require.NoError(t, err)

	assert.Equal(t, original.ID, loaded.ID)
	assert.Equal(t, original.Type, loaded.Type)
	assert.Equal(t, original.Status, loaded.Status)
	assert.Equal(t, original.Progress, loaded.Progress)
	assert.JSONEq(t, string(original.Data), string(loaded.Data))
	assert.WithinDuration(t, original.CreatedAt, loaded.CreatedAt, 0)
	require.NotNil(t, loaded.StartedAt)
	assert.WithinDuration(t, *original.StartedAt, *loaded.StartedAt, 0)
}

func TestGetMissingTask(t *testing.T) {
	s := newOpenStore(t)
	_, err := s.Get(context.Background(), "task-nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestPutIsLastWriterWins(t *testing.T) {
	s := newOpenStore(t)
	ctx := context.Background()

	tk := task.New(task.TypeAnalysis, nil)
	require.NoError(t, s.Put(ctx, tk))

	require.NoError(t, tk.Start())
	require.NoError(t, s.Put(ctx, tk))

	loaded, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, loaded.Status)
}

func TestListByStatusSortedByCreation(t *testing.T) {
	s := newOpenStore(t)
	ctx := context.Background()

	first := task.New(task.TypeAnalysis, nil)
	second := task.New(task.TypeAnalysis, nil)
	second.CreatedAt = first.CreatedAt.Add(1)
	running := task.New(task.TypeAnalysis, nil)
	require.NoError(t, running.Start())

	for _, tk := range []*task.Task{second, first, running} {
		require.NoError(t, s.Put(ctx, tk))
	}

	queued, err := s.ListByStatus(ctx, task.StatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, first.ID, queued[0].ID)
	assert.Equal(t, second.ID, queued[1].ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestClaimIsExclusive(t *testing.T) {
	s := newOpenStore(t)
	ctx := context.Background()

	tk := task.New(task.TypeCodeGeneration, nil)
	require.NoError(t, s.Put(ctx, tk))

	won, err := s.Claim(ctx, tk.ID, task.StatusQueued, task.StatusRunning)
	require.NoError(t, err)
	assert.True(t, won)

	// Second claimant loses: the status already moved on.
	won, err = s.Claim(ctx, tk.ID, task.StatusQueued, task.StatusRunning)
	require.NoError(t, err)
	assert.False(t, won)

	loaded, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, loaded.Status)
	assert.NotNil(t, loaded.StartedAt)
}

func TestClaimMissingTask(t *testing.T) {
	s := newOpenStore(t)
	_, err := s.Claim(context.Background(), "task-ghost", task.StatusQueued, task.StatusRunning)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := newOpenStore(t)
	ctx := context.Background()

	tk := task.New(task.TypeAnalysis, nil)
	require.NoError(t, s.Put(ctx, tk))
	require.NoError(t, s.Delete(ctx, tk.ID))

	_, err := s.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, s.Delete(ctx, tk.ID), ErrTaskNotFound)
}

func TestCredentialsOverwriteOnSave(t *testing.T) {
	s := newOpenStore(t)
	ctx := context.Background()

	_, ok, err := s.Credential(ctx, "openrouter")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutCredential(ctx, "openrouter", "sk-first"))
	require.NoError(t, s.PutCredential(ctx, "openrouter", "sk-second"))

	secret, ok, err := s.Credential(ctx, "openrouter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-second", secret)
}
