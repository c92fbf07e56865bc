package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ytget/ytjobs/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS download_tasks (
    id           TEXT PRIMARY KEY,
    job_id       TEXT NOT NULL,
    state        TEXT NOT NULL,
    attempts     INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    progress     JSONB,
    claimed_by   TEXT NOT NULL DEFAULT '',
    deleted      BOOLEAN NOT NULL DEFAULT FALSE,
    purge_files  BOOLEAN NOT NULL DEFAULT FALSE,
    available_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE download_tasks ADD COLUMN IF NOT EXISTS deleted BOOLEAN NOT NULL DEFAULT FALSE;
ALTER TABLE download_tasks ADD COLUMN IF NOT EXISTS purge_files BOOLEAN NOT NULL DEFAULT FALSE;
CREATE INDEX IF NOT EXISTS download_tasks_ready_idx
    ON download_tasks (available_at)
    WHERE state IN ('PENDING', 'RETRY');
`

const taskColumns = `id, job_id, state, attempts, error, progress, claimed_by, deleted, purge_files, available_at, created_at, updated_at`

// PostgresBroker keeps tasks in the download_tasks table
type PostgresBroker struct {
	pool *pgxpool.Pool
}

// NewPostgresBroker connects to databaseURL
func NewPostgresBroker(ctx context.Context, databaseURL string) (*PostgresBroker, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &PostgresBroker{pool: pool}, nil
}

// NewPostgresBrokerWithPool wraps an existing pool
func NewPostgresBrokerWithPool(pool *pgxpool.Pool) *PostgresBroker {
	return &PostgresBroker{pool: pool}
}

// Pool returns the underlying connection pool
func (b *PostgresBroker) Pool() *pgxpool.Pool { return b.pool }

// Migrate creates the task table when missing
func (b *PostgresBroker) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate download_tasks: %w", err)
	}
	return nil
}

// Enqueue implements Broker
func (b *PostgresBroker) Enqueue(ctx context.Context, taskID, jobID string) error {
	query := `
INSERT INTO download_tasks (id, job_id, state)
VALUES ($1, $2, 'PENDING')
ON CONFLICT (id) DO UPDATE
SET job_id = EXCLUDED.job_id,
    state = 'PENDING',
    attempts = 0,
    error = '',
    claimed_by = '',
    deleted = FALSE,
    purge_files = FALSE,
    available_at = NOW(),
    updated_at = NOW();
`
	if _, err := b.pool.Exec(ctx, query, taskID, jobID); err != nil {
		return fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return nil
}

// Claim implements Broker
func (b *PostgresBroker) Claim(ctx context.Context, workerID string) (*Task, error) {
	query := `
UPDATE download_tasks
SET state = 'STARTED',
    attempts = attempts + 1,
    claimed_by = $1,
    updated_at = NOW()
WHERE id = (
    SELECT id FROM download_tasks
    WHERE state IN ('PENDING', 'RETRY') AND available_at <= NOW()
    ORDER BY available_at, created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING ` + taskColumns + `;`
	t, err := scanTask(b.pool.QueryRow(ctx, query, workerID))
	if errors.Is(err, ErrTaskNotFound) {
		return nil, ErrNoTask
	}
	return t, err
}

// Get implements Broker
func (b *PostgresBroker) Get(ctx context.Context, taskID string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks WHERE id = $1;`
	return scanTask(b.pool.QueryRow(ctx, query, taskID))
}

// SaveProgress implements Broker
func (b *PostgresBroker) SaveProgress(ctx context.Context, taskID string, snap *model.Job) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	query := `
UPDATE download_tasks
SET state = 'PROGRESS', progress = $2::jsonb, updated_at = NOW()
WHERE id = $1 AND state IN ('STARTED', 'PROGRESS');
`
	return b.execRunning(ctx, query, taskID, payload)
}

// Heartbeat implements Broker
func (b *PostgresBroker) Heartbeat(ctx context.Context, taskID string) error {
	query := `
UPDATE download_tasks SET updated_at = NOW()
WHERE id = $1 AND state IN ('STARTED', 'PROGRESS');
`
	return b.execRunning(ctx, query, taskID)
}

// Finish implements Broker
func (b *PostgresBroker) Finish(ctx context.Context, taskID string, state TaskState, errMsg string, snap *model.Job) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	query := `
UPDATE download_tasks
SET state = $2,
    error = $3,
    progress = COALESCE($4::jsonb, progress),
    claimed_by = '',
    updated_at = NOW()
WHERE id = $1 AND state IN ('STARTED', 'PROGRESS');
`
	return b.execRunning(ctx, query, taskID, string(state), errMsg, payload)
}

// Retry implements Broker
func (b *PostgresBroker) Retry(ctx context.Context, taskID string, delay time.Duration, errMsg string) error {
	query := `
UPDATE download_tasks
SET state = 'RETRY',
    error = $2,
    claimed_by = '',
    available_at = NOW() + make_interval(secs => $3),
    updated_at = NOW()
WHERE id = $1 AND state IN ('STARTED', 'PROGRESS');
`
	return b.execRunning(ctx, query, taskID, errMsg, delay.Seconds())
}

// Revoke implements Broker
func (b *PostgresBroker) Revoke(ctx context.Context, taskID string) (TaskState, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev string
	err = tx.QueryRow(ctx, `SELECT state FROM download_tasks WHERE id = $1 FOR UPDATE;`, taskID).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", fmt.Errorf("revoke task %s: %w", taskID, err)
	}

	if !TaskState(prev).IsFinal() {
		query := `UPDATE download_tasks SET state = 'REVOKED', updated_at = NOW() WHERE id = $1;`
		if _, err := tx.Exec(ctx, query, taskID); err != nil {
			return "", fmt.Errorf("revoke task %s: %w", taskID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return TaskState(prev), nil
}

// MarkDeleted implements Broker
func (b *PostgresBroker) MarkDeleted(ctx context.Context, taskID string, purgeFiles bool) error {
	query := `UPDATE download_tasks SET deleted = TRUE, purge_files = $2, updated_at = NOW() WHERE id = $1;`
	tag, err := b.pool.Exec(ctx, query, taskID, purgeFiles)
	if err != nil {
		return fmt.Errorf("mark task %s deleted: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Delete implements Broker
func (b *PostgresBroker) Delete(ctx context.Context, taskID string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM download_tasks WHERE id = $1;`, taskID)
	return err
}

// RequeueStale implements Broker
func (b *PostgresBroker) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
UPDATE download_tasks
SET state = 'RETRY', claimed_by = '', available_at = NOW(), updated_at = NOW()
WHERE state IN ('STARTED', 'PROGRESS')
  AND updated_at < NOW() - make_interval(secs => $1);
`
	tag, err := b.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// PurgeFinished implements Broker
func (b *PostgresBroker) PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
DELETE FROM download_tasks
WHERE state IN ('SUCCESS', 'FAILURE', 'REVOKED')
  AND updated_at < NOW() - make_interval(secs => $1);
`
	tag, err := b.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Close implements Broker
func (b *PostgresBroker) Close() {
	b.pool.Close()
}

func (b *PostgresBroker) execRunning(ctx context.Context, query string, args ...any) error {
	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskGone
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t        Task
		state    string
		progress []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.JobID,
		&state,
		&t.Attempts,
		&t.Error,
		&progress,
		&t.ClaimedBy,
		&t.Deleted,
		&t.PurgeFiles,
		&t.AvailableAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	t.State = TaskState(state)
	if len(progress) > 0 {
		var snap model.Job
		if err := json.Unmarshal(progress, &snap); err != nil {
			return nil, fmt.Errorf("decode progress of task %s: %w", t.ID, err)
		}
		t.Progress = &snap
	}
	return &t, nil
}

// encodeSnapshot returns nil for a nil job so the column keeps its value
func encodeSnapshot(snap *model.Job) (*string, error) {
	if snap == nil {
		return nil, nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}
	s := string(data)
	return &s, nil
}
