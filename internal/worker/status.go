package worker

import (
	"context"
	"sync"

	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/task"
	"go.uber.org/zap"
)

// statusWriter is the only writer of one running task's status record.
// The harvest mutates the latest snapshot through update; run coalesces
// bursts of updates and stores whole records, so pollers never observe a
// partial write.
type statusWriter struct {
	queue  *queue.Queue
	logger *zap.SugaredLogger

	mu     sync.Mutex
	latest *task.Task

	signal chan struct{}
	done   chan struct{}
}

func newStatusWriter(q *queue.Queue, t *task.Task, logger *zap.SugaredLogger) *statusWriter {
	return &statusWriter{
		queue:  q,
		logger: logger,
		latest: t.Clone(),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *statusWriter) update(fn func(t *task.Task)) {
	s.mu.Lock()
	fn(s.latest)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *statusWriter) snapshot() *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest.Clone()
}

func (s *statusWriter) run(ctx context.Context) {
	defer close(s.done)

	for range s.signal {
		t := s.snapshot()
		if err := s.queue.UpdateTask(ctx, t); err != nil {
			s.logger.Warnw("failed to publish task status", "task_id", t.ID, "error", err)
		}
	}
}

// close flushes pending updates and returns the final snapshot. The caller
// becomes the record's writer again.
func (s *statusWriter) close() *task.Task {
	close(s.signal)
	<-s.done
	return s.snapshot()
}
