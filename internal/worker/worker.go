// Package worker provides the background processor that consumes harvest
// tasks from the queue and runs them on a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/metrics"
	"github.com/nadmax/harvq/internal/notify"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/task"
	"go.uber.org/zap"
)

// TaskHandler runs one harvest task. Progress and status reported to obs
// are published to the task's status record.
type TaskHandler func(ctx context.Context, t *task.Task, obs harvest.Observer) (*harvest.Result, error)

// DefaultClaimTimeout is how long a claimed task may sit unstarted before a
// starting worker puts it back on the queue.
const DefaultClaimTimeout = 5 * time.Minute

type Worker struct {
	id           string
	queue        *queue.Queue
	handler      TaskHandler
	notifier     notify.Notifier
	logger       *zap.SugaredLogger
	pollInterval time.Duration
	claimTimeout time.Duration
	concurrency  int
	active       atomic.Int32
	wg           sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(id string, q *queue.Queue, handler TaskHandler, logger *zap.SugaredLogger) *Worker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Worker{
		id:           id,
		queue:        q,
		handler:      handler,
		logger:       logger.With("worker_id", id),
		pollInterval: time.Second,
		claimTimeout: DefaultClaimTimeout,
		concurrency:  1,
	}
}

func (w *Worker) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

func (w *Worker) SetClaimTimeout(d time.Duration) {
	if d > 0 {
		w.claimTimeout = d
	}
}

// SetConcurrency bounds the number of harvests running at once.
func (w *Worker) SetConcurrency(n int) {
	if n > 0 {
		w.concurrency = n
	}
}

func (w *Worker) SetNotifier(n notify.Notifier) {
	w.notifier = n
}

// Start dequeues and runs tasks until ctx is done or Stop is called. Running
// harvests are canceled on shutdown and Start returns once they are failed.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	defer close(done)
	defer cancel()

	w.logger.Infow("worker started", "concurrency", w.concurrency)

	if n, err := w.queue.Reclaim(ctx, w.claimTimeout); err != nil {
		w.logger.Warnw("failed to reclaim stale tasks", "error", err)
	} else if n > 0 {
		w.logger.Infow("requeued stale tasks", "count", n)
	}

	slots := make(chan struct{}, w.concurrency)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("worker stopped")
			return
		case slots <- struct{}{}:
		}

		t, err := w.queue.Dequeue(ctx)
		if err != nil || t == nil {
			<-slots
			if err != nil && ctx.Err() == nil {
				w.logger.Warnw("failed to dequeue task", "error", err)
			}
			w.idle(ctx)
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-slots }()
			w.processTask(ctx, t)
		}()
	}
}

func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Stop cancels Start and waits for it to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) processTask(ctx context.Context, t *task.Task) {
	// Final writes must land even when the run itself was canceled.
	storeCtx := context.WithoutCancel(ctx)
	log := w.logger.With("task_id", t.ID, "channel", t.ChannelRef)

	defer func() {
		if err := w.queue.Ack(storeCtx, t.ID); err != nil {
			log.Warnw("failed to release task claim", "error", err)
		}
	}()

	startedAt := time.Now()
	if err := t.Start(startedAt); err != nil {
		log.Warnw("skipping task", "status", t.Status, "error", err)
		return
	}
	t.Message = "Starting..."

	metrics.RecordTaskWaitTime(startedAt.Sub(t.CreatedAt))
	metrics.UpdateActiveWorkers(int(w.active.Add(1)))
	defer func() { metrics.UpdateActiveWorkers(int(w.active.Add(-1))) }()

	if err := w.queue.UpdateTask(storeCtx, t); err != nil {
		log.Warnw("failed to update task status to running", "error", err)
	}
	if repo := w.queue.GetRepository(); repo != nil {
		if err := repo.UpdateTaskStatus(storeCtx, t.ID, task.RunningStatus, w.id); err != nil {
			log.Warnw("failed to record task start", "error", err)
		}
	}
	log.Infow("processing task", "posts_limit", t.PostsLimit, "keywords", len(t.Keywords.Terms))

	status := newStatusWriter(w.queue, t, log)
	go status.run(storeCtx)

	result, err := w.run(ctx, t.Clone(), harvest.ObserverFuncs{
		Progress: func(percent, current, total int) {
			status.update(func(t *task.Task) { t.SetProgress(percent, current, total) })
		},
		Status: func(message string) {
			status.update(func(t *task.Task) { t.Message = message })
		},
	})

	t = status.close()

	if err == nil {
		err = w.queue.SaveResult(storeCtx, t.ID, result)
		if err != nil {
			err = &harvest.Failure{
				Category: harvest.FailureUnexpected,
				Message:  fmt.Sprintf("Failed to save result: %v", err),
				Err:      err,
			}
		}
	}

	if err != nil {
		w.fail(storeCtx, t, err, log)
		return
	}
	w.complete(storeCtx, t, result, log)
}

// run calls the handler and converts a panic into a run failure.
func (w *Worker) run(ctx context.Context, t *task.Task, obs harvest.Observer) (result *harvest.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorw("task handler panicked", "task_id", t.ID, "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = &harvest.Failure{Category: harvest.FailureUnexpected, Message: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()

	if w.handler == nil {
		return nil, &harvest.Failure{Category: harvest.FailureUnexpected, Message: "No harvest handler configured"}
	}

	result, err = w.handler(ctx, t, obs)
	if err == nil && result == nil {
		err = &harvest.Failure{Category: harvest.FailureUnexpected, Message: "Harvest returned no result"}
	}
	return result, err
}

func (w *Worker) complete(ctx context.Context, t *task.Task, result *harvest.Result, log *zap.SugaredLogger) {
	t.CSVFile = result.CSVFile
	t.JSONFile = result.JSONFile
	t.Message = "Completed"
	if err := t.Complete(time.Now()); err != nil {
		log.Errorw("invalid completion", "error", err)
		return
	}

	if err := w.queue.UpdateTask(ctx, t); err != nil {
		log.Errorw("failed to update completed task", "error", err)
	}
	if repo := w.queue.GetRepository(); repo != nil {
		if err := repo.CompleteTask(ctx, t, result); err != nil {
			log.Warnw("failed to record task completion", "error", err)
		}
	}

	metrics.RecordTaskCompleted(t.Duration())
	metrics.RecordHarvestStats(result.Stats)
	log.Infow("task completed",
		"duration", t.Duration(),
		"harvest_time", result.Stats.Elapsed(),
		"posts_checked", result.Stats.PostsChecked,
		"comments", result.Stats.TotalComments,
		"unique_users", result.Stats.UniqueUsers,
	)

	w.notify(ctx, t, &result.Stats, log)
}

func (w *Worker) fail(ctx context.Context, t *task.Task, err error, log *zap.SugaredLogger) {
	category := harvest.FailureUnexpected
	reason := fmt.Sprintf("Unexpected error: %v", err)

	var failure *harvest.Failure
	if errors.As(err, &failure) {
		category = failure.Category
		reason = failure.Message
	}

	if ferr := t.Fail(time.Now(), reason); ferr != nil {
		log.Errorw("invalid failure transition", "error", ferr)
		return
	}

	if err := w.queue.UpdateTask(ctx, t); err != nil {
		log.Errorw("failed to update failed task", "error", err)
	}
	if repo := w.queue.GetRepository(); repo != nil {
		if err := repo.FailTask(ctx, t.ID, reason, int(t.Duration().Milliseconds())); err != nil {
			log.Warnw("failed to record task failure", "error", err)
		}
	}

	metrics.RecordTaskFailed(category, t.Duration())
	log.Warnw("task failed", "category", category, "reason", reason)

	w.notify(ctx, t, nil, log)
}

func (w *Worker) notify(ctx context.Context, t *task.Task, stats *harvest.Stats, log *zap.SugaredLogger) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, notify.NewEvent(t, stats)); err != nil {
		log.Warnw("failed to send notification", "error", err)
	}
}
