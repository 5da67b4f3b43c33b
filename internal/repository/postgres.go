// Package repository provides PostgreSQL persistence for harvest task history.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/task"
	"go.uber.org/zap"
)

const DefaultHistoryLimit = 50

const schema = `
	CREATE TABLE IF NOT EXISTS harvest_tasks (
		task_id      TEXT PRIMARY KEY,
		owner        TEXT NOT NULL,
		channel_ref  TEXT NOT NULL,
		posts_limit  INTEGER NOT NULL,
		keywords     JSONB,
		keyword_mode TEXT NOT NULL DEFAULT 'any',
		status       TEXT NOT NULL DEFAULT 'pending',
		progress     INTEGER NOT NULL DEFAULT 0,
		error        TEXT,
		csv_file     TEXT,
		json_file    TEXT,
		stats        JSONB,
		result       JSONB,
		worker_id    TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		duration_ms  INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_harvest_tasks_owner ON harvest_tasks (owner, created_at DESC);
`

const taskColumns = `
	task_id, owner, channel_ref, posts_limit, keywords, keyword_mode,
	status, progress, COALESCE(error, ''), COALESCE(csv_file, ''),
	COALESCE(json_file, ''), created_at, started_at, completed_at
`

type PostgresTaskRepository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewPostgresTaskRepository(connectionString string, logger *zap.SugaredLogger) (*PostgresTaskRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PostgresTaskRepository{db: db, logger: logger}, nil
}

func (r *PostgresTaskRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (r *PostgresTaskRepository) SaveTask(ctx context.Context, t *task.Task) error {
	keywords, err := json.Marshal(t.Keywords.Terms)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	query := `
		INSERT INTO harvest_tasks (
			task_id, owner, channel_ref, posts_limit, keywords,
			keyword_mode, status, progress, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Owner,
		t.ChannelRef,
		t.PostsLimit,
		keywords,
		string(t.Keywords.Mode),
		string(t.Status),
		t.Progress,
		t.CreatedAt,
	)

	return err
}

func (r *PostgresTaskRepository) UpdateTaskStatus(ctx context.Context, taskID string, status task.TaskStatus, workerID string) error {
	statusStr := string(status)
	query := `
		UPDATE harvest_tasks
		SET status = $1,
		    started_at = CASE WHEN $4::text = 'running' THEN NOW() ELSE started_at END,
		    worker_id = $2
		WHERE task_id = $3
	`

	_, err := r.db.ExecContext(ctx, query, statusStr, workerID, taskID, statusStr)
	return err
}

// CompleteTask records the finished task together with its full result.
func (r *PostgresTaskRepository) CompleteTask(ctx context.Context, t *task.Task, result *harvest.Result) error {
	statsJSON, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		UPDATE harvest_tasks
		SET status = 'completed',
		    progress = 100,
		    completed_at = NOW(),
		    csv_file = $1,
		    json_file = $2,
		    stats = $3,
		    result = $4,
		    duration_ms = $5
		WHERE task_id = $6
	`
	_, err = r.db.ExecContext(ctx, query, t.CSVFile, t.JSONFile, statsJSON, resultJSON, int(t.Duration().Milliseconds()), t.ID)

	return err
}

func (r *PostgresTaskRepository) FailTask(ctx context.Context, taskID string, reason string, durationMs int) error {
	query := `
		UPDATE harvest_tasks
		SET status = 'failed',
		    completed_at = NOW(),
		    error = $1,
		    duration_ms = $2
		WHERE task_id = $3
	`
	_, err := r.db.ExecContext(ctx, query, reason, durationMs, taskID)

	return err
}

func (r *PostgresTaskRepository) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM harvest_tasks WHERE task_id = $1`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// GetResult returns the stored result of a completed task.
func (r *PostgresTaskRepository) GetResult(ctx context.Context, taskID string) (*harvest.Result, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT result FROM harvest_tasks WHERE task_id = $1`, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrResultNotFound
	}

	var result harvest.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

func (r *PostgresTaskRepository) GetOwnerTasks(ctx context.Context, owner string, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `SELECT ` + taskColumns + `
		FROM harvest_tasks
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, owner, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// DeleteTask removes a task only when it belongs to owner.
func (r *PostgresTaskRepository) DeleteTask(ctx context.Context, taskID string, owner string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM harvest_tasks WHERE task_id = $1 AND owner = $2`, taskID, owner)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresTaskRepository) GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error) {
	query := `
		SELECT
			status, COUNT(*) as count,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COALESCE(MAX(duration_ms), 0) as max_duration_ms,
			COALESCE(AVG((stats->>'unique_users')::int), 0) as avg_unique_users
		FROM harvest_tasks
		WHERE created_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY status
		ORDER BY status
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var stats []TaskStats
	for rows.Next() {
		var s TaskStats
		if err := rows.Scan(
			&s.Status,
			&s.Count,
			&s.AvgDurationMs,
			&s.MaxDurationMs,
			&s.AvgUniqueUsers,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresTaskRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var t task.Task
	var keywords []byte
	var mode, status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.Owner,
		&t.ChannelRef,
		&t.PostsLimit,
		&keywords,
		&mode,
		&status,
		&t.Progress,
		&t.Error,
		&t.CSVFile,
		&t.JSONFile,
		&t.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &t.Keywords.Terms); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	t.Keywords.Mode = keyword.Mode(mode)
	t.Status = task.TaskStatus(status)

	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}

	return &t, nil
}
