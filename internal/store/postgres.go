package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskforge/internal/jsonx"
	"taskforge/internal/task"
)

const (
	taskTable       = "tasks"
	credentialTable = "provider_credentials"
)

// PostgresStore is a pgx-backed Store for deployments where multiple
// background contexts share one durable medium. The Claim CAS runs as a
// single UPDATE guarded by the current status, so concurrent contexts cannot
// both win the same queued task.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgresStore connects with dsn and prepares the schema. Connection
// failures surface as ErrStorageUnavailable.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Open(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Open creates the schema if it does not exist. Idempotent.
func (s *PostgresStore) Open(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: pool not initialized", ErrStorageUnavailable)
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    data JSONB,
    status TEXT NOT NULL,
    progress INT NOT NULL DEFAULT 0,
    result JSONB,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);`, taskTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_tasks_status ON %s (status);`, taskTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    provider TEXT PRIMARY KEY,
    secret TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`, credentialTable),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("postgres store: task id is required")
	}

	query := fmt.Sprintf(`INSERT INTO %s
    (id, type, data, status, progress, result, error, created_at, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    type = EXCLUDED.type,
    data = EXCLUDED.data,
    status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    result = EXCLUDED.result,
    error = EXCLUDED.error,
    started_at = EXCLUDED.started_at,
    completed_at = EXCLUDED.completed_at;`, taskTable)

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Type, rawOrNil(t.Data), string(t.Status), t.Progress,
		rawOrNil(t.Result), t.Error, t.CreatedAt, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres store: put %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*task.Task, error) {
	query := fmt.Sprintf(`SELECT id, type, data, status, progress, result, error, created_at, started_at, completed_at
FROM %s WHERE id = $1;`, taskTable)

	t, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres store: %w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*task.Task, error) {
	query := fmt.Sprintf(`SELECT id, type, data, status, progress, result, error, created_at, started_at, completed_at
FROM %s ORDER BY created_at ASC;`, taskTable)
	return s.queryTasks(ctx, query)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	query := fmt.Sprintf(`SELECT id, type, data, status, progress, result, error, created_at, started_at, completed_at
FROM %s WHERE status = $1 ORDER BY created_at ASC;`, taskTable)
	return s.queryTasks(ctx, query, string(status))
}

// Claim performs the status CAS in one statement. queued -> running also
// stamps started_at.
func (s *PostgresStore) Claim(ctx context.Context, id string, from, to task.Status) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s
SET status = $1,
    started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $4 ELSE started_at END
WHERE id = $2 AND status = $3;`, taskTable)

	tag, err := s.pool.Exec(ctx, query, string(to), id, string(from), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("postgres store: claim %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1;`, taskTable), id)
	if err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: %w: %s", ErrTaskNotFound, id)
	}
	return nil
}

func (s *PostgresStore) PutCredential(ctx context.Context, provider, secret string) error {
	if provider == "" {
		return fmt.Errorf("postgres store: provider name is required")
	}
	query := fmt.Sprintf(`INSERT INTO %s (provider, secret, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (provider) DO UPDATE SET secret = EXCLUDED.secret, updated_at = EXCLUDED.updated_at;`, credentialTable)

	if _, err := s.pool.Exec(ctx, query, provider, secret, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres store: put credential %s: %w", provider, err)
	}
	return nil
}

func (s *PostgresStore) Credential(ctx context.Context, provider string) (string, bool, error) {
	var secret string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT secret FROM %s WHERE provider = $1;`, credentialTable), provider).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres store: credential %s: %w", provider, err)
	}
	return secret, true, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t      task.Task
		status string
		data   []byte
		result []byte
	)
	err := row.Scan(&t.ID, &t.Type, &data, &status, &t.Progress, &result,
		&t.Error, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	if len(data) > 0 {
		t.Data = jsonx.RawMessage(data)
	}
	if len(result) > 0 {
		t.Result = jsonx.RawMessage(result)
	}
	return &t, nil
}

func rawOrNil(raw jsonx.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
