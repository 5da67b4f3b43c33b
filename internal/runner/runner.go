// Package runner is the caller-facing side of background harvests: it
// submits tasks to the queue and answers polls, result fetches, deletes and
// history listings. Execution happens in the worker.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/metrics"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/repository"
	"github.com/nadmax/harvq/internal/task"
	"go.uber.org/zap"
)

const (
	DefaultPostsLimit    = 30
	DefaultPostsLimitMax = 1000
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrTaskNotFound   = errors.New("task not found")
	ErrNotCompleted   = errors.New("task is not completed")
	ErrTaskRunning    = errors.New("task is running")
)

type SubmitRequest struct {
	Owner      string
	ChannelRef string
	// PostsLimit defaults to DefaultPostsLimit when zero.
	PostsLimit int
	// Keywords are normalized; KeywordMode accepts any/all and or/and.
	Keywords    []string
	KeywordMode string
}

type Runner struct {
	queue         *queue.Queue
	postsLimitMax int
	logger        *zap.SugaredLogger
}

func New(q *queue.Queue, postsLimitMax int, logger *zap.SugaredLogger) *Runner {
	if postsLimitMax <= 0 {
		postsLimitMax = DefaultPostsLimitMax
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Runner{queue: q, postsLimitMax: postsLimitMax, logger: logger}
}

// Submit validates req, stores a pending task and schedules it. It returns
// as soon as the task is queued.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}

	channelRef := strings.TrimSpace(req.ChannelRef)
	if channelRef == "" {
		return "", fmt.Errorf("%w: channel reference is required", ErrInvalidRequest)
	}

	postsLimit := req.PostsLimit
	if postsLimit == 0 {
		postsLimit = DefaultPostsLimit
	}
	if postsLimit < 0 || postsLimit > r.postsLimitMax {
		return "", fmt.Errorf("%w: posts limit must be between 1 and %d", ErrInvalidRequest, r.postsLimitMax)
	}

	mode, err := keyword.ParseMode(req.KeywordMode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	t := task.NewTask(owner, channelRef, postsLimit, keyword.NewSpec(req.Keywords, mode))
	if err := r.queue.Enqueue(ctx, t); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.RecordTaskSubmitted(mode)
	r.logger.Infow("task submitted",
		"task_id", t.ID,
		"owner", owner,
		"channel", channelRef,
		"posts_limit", postsLimit,
		"keywords", len(t.Keywords.Terms),
	)

	return t.ID, nil
}

// Poll returns the latest snapshot of a task. It never blocks on a running
// harvest; the worker publishes whole records, so a snapshot is never torn.
func (r *Runner) Poll(ctx context.Context, taskID string) (task.Snapshot, error) {
	t, err := r.lookup(ctx, taskID)
	if err != nil {
		return task.Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// FetchResult returns the result of a completed task, ErrNotCompleted for
// any other status. Results outlive the live record in the history store.
func (r *Runner) FetchResult(ctx context.Context, taskID string) (*harvest.Result, error) {
	t, err := r.lookup(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if t.Status != task.CompletedStatus {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, t.Status)
	}

	result, err := r.queue.GetResult(ctx, taskID)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, queue.ErrResultNotFound) {
		return nil, err
	}

	repo := r.queue.GetRepository()
	if repo == nil {
		return nil, ErrTaskNotFound
	}

	result, err = repo.GetResult(ctx, taskID)
	if errors.Is(err, repository.ErrTaskNotFound) || errors.Is(err, repository.ErrResultNotFound) {
		return nil, ErrTaskNotFound
	}
	return result, err
}

// Delete removes a finished or pending task owned by owner. Tasks of other
// owners are reported as not found. A pending task that a worker has
// already claimed counts as running.
func (r *Runner) Delete(ctx context.Context, taskID, owner string) error {
	repo := r.queue.GetRepository()

	t, err := r.queue.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, queue.ErrTaskNotFound):
		if repo == nil {
			return ErrTaskNotFound
		}
		deleted, err := repo.DeleteTask(ctx, taskID, owner)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrTaskNotFound
		}
		metrics.RecordTaskDeleted()
		return nil
	case err != nil:
		return err
	}

	if t.Owner != owner {
		return ErrTaskNotFound
	}

	switch t.Status {
	case task.RunningStatus:
		return ErrTaskRunning
	case task.PendingStatus:
		removed, err := r.queue.DeletePending(ctx, taskID)
		if err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		if !removed {
			return ErrTaskRunning
		}
	default:
		if err := r.queue.DeleteTask(ctx, taskID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
	}

	if repo != nil {
		if _, err := repo.DeleteTask(ctx, taskID, owner); err != nil {
			r.logger.Warnw("failed to delete task history", "task_id", taskID, "error", err)
		}
	}

	metrics.RecordTaskDeleted()
	r.logger.Infow("task deleted", "task_id", taskID, "owner", owner)
	return nil
}

// History lists an owner's tasks newest first.
func (r *Runner) History(ctx context.Context, owner string, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = repository.DefaultHistoryLimit
	}

	if repo := r.queue.GetRepository(); repo != nil {
		return repo.GetOwnerTasks(ctx, owner, limit)
	}

	all, err := r.queue.GetAllTasks(ctx)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(all))
	for _, t := range all {
		if t.Owner == owner {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}

	return tasks, nil
}

// lookup prefers the live status store and falls back to history.
func (r *Runner) lookup(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := r.queue.GetTask(ctx, taskID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, queue.ErrTaskNotFound) {
		return nil, err
	}

	repo := r.queue.GetRepository()
	if repo == nil {
		return nil, ErrTaskNotFound
	}

	t, err = repo.GetTask(ctx, taskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return nil, ErrTaskNotFound
	}
	return t, err
}
