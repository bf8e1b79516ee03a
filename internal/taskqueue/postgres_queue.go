package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PostgresQueue implements Queue using a PostgreSQL table.
//
// Schema (created automatically if missing):
//
//	CREATE TABLE IF NOT EXISTS split_tasks (
//	    id          BIGSERIAL PRIMARY KEY,
//	    task_id     TEXT NOT NULL,
//	    execution   TEXT NOT NULL,
//	    layer       TEXT NOT NULL,
//	    split       INTEGER NOT NULL,
//	    payload     BYTEA NOT NULL,
//	    not_before  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Tasks are claimed FIFO among those whose not_before has passed.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewPostgresQueue creates the required schema if needed and returns a Queue.
func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{
		db:           db,
		pollInterval: 50 * time.Millisecond,
		logger:       slog.Default().With(slog.String("component", "postgres_queue")),
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS split_tasks (
			id         BIGSERIAL PRIMARY KEY,
			task_id    TEXT NOT NULL,
			execution  TEXT NOT NULL,
			layer      TEXT NOT NULL,
			split      INTEGER NOT NULL,
			payload    BYTEA NOT NULL,
			not_before TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

// Enqueue inserts a task into the queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	notBefore := t.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now()
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO split_tasks (task_id, execution, layer, split, payload, not_before)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Coordinates.Execution, t.Coordinates.Layer, t.Coordinates.Index, data, notBefore.UTC())
	return err
}

// Dequeue blocks (with polling) until a task is available or ctx is cancelled.
// SELECT ... FOR UPDATE SKIP LOCKED claims one row per transaction, so
// several workers can poll the same table.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim removes and returns the oldest eligible task, or nil when there is
// none.
func (q *PostgresQueue) claim(ctx context.Context) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload
		FROM split_tasks
		WHERE not_before <= now()
		ORDER BY not_before, id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM split_tasks WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task, err := DecodeTask(payload)
	if err != nil {
		return nil, fmt.Errorf("decode task %d: %w", id, err)
	}
	return task, nil
}

// Len returns an approximate number of queued tasks.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM split_tasks`).Scan(&n); err != nil {
		q.logger.Warn("len failed", slog.String("error", err.Error()))
		return 0
	}
	return n
}
