package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"taskforge/internal/jsonx"
	"taskforge/internal/task"
)

const (
	tasksSubdir     = "tasks"
	credentialsFile = "credentials.json"
)

// FileStore persists each task as {dir}/tasks/{id}.json and credentials as a
// single JSON document. Writes go through a temp file + rename so a crash
// mid-write never corrupts a record. All operations are thread-safe; the
// claim CAS is serialized by the store mutex, which is sufficient because a
// file store is only ever owned by one process.
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	opened bool
}

// NewFileStore returns a store rooted at dir. Nothing touches the filesystem
// until Open.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Open creates the directory layout. Idempotent.
func (s *FileStore) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.dir, tasksSubdir), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.opened = true
	return nil
}

func (s *FileStore) Put(_ context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("filestore: task id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(t)
}

func (s *FileStore) Get(_ context.Context, id string) (*task.Task, error) {
	if id == "" {
		return nil, fmt.Errorf("filestore: task id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLocked(id)
}

func (s *FileStore) List(_ context.Context) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked(func(*task.Task) bool { return true })
}

func (s *FileStore) ListByStatus(_ context.Context, status task.Status) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked(func(t *task.Task) bool { return t.Status == status })
}

// Claim flips status from -> to under the store lock, persisting the change
// before returning. A mismatch reports false with no write.
func (s *FileStore) Claim(_ context.Context, id string, from, to task.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.loadLocked(id)
	if err != nil {
		return false, err
	}
	if t.Status != from {
		return false, nil
	}

	if from == task.StatusQueued && to == task.StatusRunning {
		if err := t.Start(); err != nil {
			return false, err
		}
	} else {
		t.Status = to
	}

	if err := s.writeLocked(t); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("filestore: task id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.taskPath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("filestore: %w: %s", ErrTaskNotFound, id)
		}
		return fmt.Errorf("filestore: delete failed: %w", err)
	}
	return nil
}

func (s *FileStore) PutCredential(_ context.Context, provider, secret string) error {
	if provider == "" {
		return fmt.Errorf("filestore: provider name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadCredentialsLocked()
	if err != nil {
		return err
	}
	creds[provider] = secret

	data, err := jsonx.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal credentials: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, credentialsFile), data, 0o600)
}

func (s *FileStore) Credential(_ context.Context, provider string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, err := s.loadCredentialsLocked()
	if err != nil {
		return "", false, err
	}
	secret, ok := creds[provider]
	return secret, ok, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) writeLocked(t *task.Task) error {
	data, err := jsonx.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal failed: %w", err)
	}
	if err := atomicWrite(s.taskPath(t.ID), data, 0o644); err != nil {
		return fmt.Errorf("filestore: write failed: %w", err)
	}
	return nil
}

func (s *FileStore) loadLocked(id string) (*task.Task, error) {
	data, err := os.ReadFile(s.taskPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("filestore: %w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("filestore: read failed: %w", err)
	}

	var t task.Task
	if err := jsonx.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("filestore: unmarshal failed: %w", err)
	}
	return &t, nil
}

func (s *FileStore) listLocked(keep func(*task.Task) bool) ([]*task.Task, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, tasksSubdir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // nothing persisted yet
		}
		return nil, fmt.Errorf("filestore: readdir failed: %w", err)
	}

	var tasks []*task.Task
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		t, err := s.loadLocked(id)
		if err != nil {
			continue // skip corrupt files
		}
		if keep(t) {
			tasks = append(tasks, t)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *FileStore) loadCredentialsLocked() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, credentialsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("filestore: read credentials: %w", err)
	}

	creds := map[string]string{}
	if err := jsonx.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("filestore: unmarshal credentials: %w", err)
	}
	return creds, nil
}

func (s *FileStore) taskPath(id string) string {
	return filepath.Join(s.dir, tasksSubdir, id+".json")
}

// atomicWrite writes data via a temporary file + rename so partial writes
// never corrupt the destination.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
