package main

import (
	"context"
	"time"

	"github.com/nadmax/harvq/internal/metrics"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/task"
	"go.uber.org/zap"
)

func startMetricsCollector(ctx context.Context, q *queue.Queue, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		updateQueueMetrics(ctx, q, logger)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updateQueueMetrics(ctx context.Context, q *queue.Queue, logger *zap.SugaredLogger) {
	tasks, err := q.GetAllTasks(ctx)
	if err != nil {
		logger.Warnw("failed to get tasks for metrics", "error", err)
		return
	}

	tasksByStatus := make(map[task.TaskStatus]int)
	for _, t := range tasks {
		tasksByStatus[t.Status]++
	}
	metrics.UpdateTaskGauges(tasksByStatus)

	depth, err := q.Depth(ctx)
	if err != nil {
		logger.Warnw("failed to get queue depth", "error", err)
		return
	}
	metrics.UpdateQueueDepth(int(depth))
}
