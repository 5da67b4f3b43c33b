package repository

import (
	"context"
	"errors"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/task"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrResultNotFound = errors.New("result not found")
)

// TaskRepository keeps the durable history of harvest tasks, scoped by owner.
type TaskRepository interface {
	SaveTask(ctx context.Context, t *task.Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status task.TaskStatus, workerID string) error
	CompleteTask(ctx context.Context, t *task.Task, result *harvest.Result) error
	FailTask(ctx context.Context, taskID string, reason string, durationMs int) error
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	GetResult(ctx context.Context, taskID string) (*harvest.Result, error)
	GetOwnerTasks(ctx context.Context, owner string, limit int) ([]*task.Task, error)
	DeleteTask(ctx context.Context, taskID string, owner string) (bool, error)
	GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error)
	Close() error
}

type TaskStats struct {
	Status         string  `json:"status"`
	Count          int     `json:"count"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	MaxDurationMs  int     `json:"max_duration_ms"`
	AvgUniqueUsers float64 `json:"avg_unique_users"`
}
