// Package queue stores harvest tasks in Redis. The "tasks" hash holds the
// latest task record, "task_queue" orders pending tasks for dispatch,
// "task_processing" holds claimed ids scored by claim time and
// "task_results" keeps the result of every completed task.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/repository"
	"github.com/nadmax/harvq/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	tasksKey      = "tasks"
	queueKey      = "task_queue"
	processingKey = "task_processing"
	resultsKey    = "task_results"
)

// claimScript moves the oldest queued id to the processing set.
var claimScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], popped[1])
return popped[1]
`)

// deletePendingScript deletes a task only while it is still queued.
var deletePendingScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrResultNotFound = errors.New("result not found")
)

type Queue struct {
	client *redis.Client
	repo   repository.TaskRepository
}

// NewQueue connects to Redis. repo receives a copy of every enqueued task
// and may be nil.
func NewQueue(redisAddr string, repo repository.TaskRepository) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{
		client: client,
		repo:   repo,
	}, nil
}

// Enqueue stores t and schedules it, oldest first.
func (q *Queue) Enqueue(ctx context.Context, t *task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tasksKey, t.ID, taskJSON)
		pipe.ZAdd(ctx, queueKey, redis.Z{
			Score:  float64(t.CreatedAt.UnixMilli()),
			Member: t.ID,
		})
		return nil
	})
	if err != nil {
		return err
	}

	if q.repo != nil {
		if err := q.repo.SaveTask(ctx, t); err != nil {
			return fmt.Errorf("failed to save task history: %w", err)
		}
	}

	return nil
}

// Dequeue claims the oldest pending task. It returns nil, nil when the queue
// is empty. A claimed id stays in the processing set until Ack.
func (q *Queue) Dequeue(ctx context.Context) (*task.Task, error) {
	claimed, err := claimScript.Run(ctx, q.client,
		[]string{queueKey, processingKey},
		time.Now().UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t, err := q.GetTask(ctx, claimed)
	if errors.Is(err, ErrTaskNotFound) {
		return nil, q.Ack(ctx, claimed)
	}
	return t, err
}

// Ack releases a claim taken by Dequeue.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	return q.client.ZRem(ctx, processingKey, taskID).Err()
}

// Reclaim puts back claims older than olderThan whose task never started,
// which happens when a worker dies between Dequeue and the running
// transition. Claims of finished or deleted tasks are dropped; running
// tasks are left alone.
func (q *Queue) Reclaim(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		t, err := q.GetTask(ctx, id)
		switch {
		case errors.Is(err, ErrTaskNotFound):
			err = q.Ack(ctx, id)
		case err != nil:
		case t.Status == task.PendingStatus:
			_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, processingKey, id)
				pipe.ZAdd(ctx, queueKey, redis.Z{
					Score:  float64(t.CreatedAt.UnixMilli()),
					Member: id,
				})
				return nil
			})
			if err == nil {
				requeued++
			}
		case t.Status.Terminal():
			err = q.Ack(ctx, id)
		}
		if err != nil {
			return requeued, err
		}
	}

	return requeued, nil
}

func (q *Queue) UpdateTask(ctx context.Context, t *task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}
	return q.client.HSet(ctx, tasksKey, t.ID, taskJSON).Err()
}

func (q *Queue) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	taskJSON, err := q.client.HGet(ctx, tasksKey, taskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return task.TaskFromJSON(taskJSON)
}

func (q *Queue) GetAllTasks(ctx context.Context) ([]*task.Task, error) {
	taskMap, err := q.client.HGetAll(ctx, tasksKey).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(taskMap))
	for _, taskJSON := range taskMap {
		t, err := task.TaskFromJSON(taskJSON)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (q *Queue) SaveResult(ctx context.Context, taskID string, result *harvest.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return q.client.HSet(ctx, resultsKey, taskID, data).Err()
}

func (q *Queue) GetResult(ctx context.Context, taskID string) (*harvest.Result, error) {
	data, err := q.client.HGet(ctx, resultsKey, taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}

	var result harvest.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// DeleteTask removes a task regardless of its status.
func (q *Queue) DeleteTask(ctx context.Context, taskID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, tasksKey, taskID)
		pipe.ZRem(ctx, queueKey, taskID)
		pipe.ZRem(ctx, processingKey, taskID)
		pipe.HDel(ctx, resultsKey, taskID)
		return nil
	})
	return err
}

// DeletePending removes a task that no worker has claimed yet. It reports
// false when the id is no longer queued.
func (q *Queue) DeletePending(ctx context.Context, taskID string) (bool, error) {
	removed, err := deletePendingScript.Run(ctx, q.client,
		[]string{queueKey, tasksKey, resultsKey},
		taskID,
	).Int()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

// Claimed is the number of tasks taken by a worker and not yet released.
func (q *Queue) Claimed(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, processingKey).Result()
}

// Depth is the number of tasks waiting for a worker.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, queueKey).Result()
}

func (q *Queue) GetRepository() repository.TaskRepository {
	return q.repo
}

func (q *Queue) Close() error {
	return q.client.Close()
}
