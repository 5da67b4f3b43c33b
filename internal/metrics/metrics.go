// Package metrics provides Prometheus metrics for the harvest service.
package metrics

import (
	"time"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvq_tasks_submitted_total",
			Help: "Total number of harvest tasks submitted",
		},
		[]string{"keyword_mode"},
	)
	TasksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvq_tasks_completed_total",
			Help: "Total number of harvest tasks completed successfully",
		},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvq_tasks_failed_total",
			Help: "Total number of harvest tasks that failed, by failure category",
		},
		[]string{"category"},
	)
	TasksDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvq_tasks_deleted_total",
			Help: "Total number of harvest tasks deleted by their owner",
		},
	)
	TasksInQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvq_tasks_in_queue",
			Help: "Current number of tasks in the status store by status",
		},
		[]string{"status"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvq_task_duration_seconds",
			Help:    "Harvest task execution duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)
	TaskWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvq_task_wait_time_seconds",
			Help:    "Time tasks spend pending before a worker picks them up",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)
	PostsChecked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvq_posts_checked_total",
			Help: "Total number of channel posts walked",
		},
	)
	CommentsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvq_comments_collected_total",
			Help: "Total number of human comments collected before filtering",
		},
	)
	RepliesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvq_replies_skipped_total",
			Help: "Total number of replies skipped, by reason",
		},
		[]string{"reason"},
	)
	PostsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvq_posts_skipped_total",
			Help: "Total number of posts skipped after retries or errors",
		},
	)
	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvq_rate_limit_waits_total",
			Help: "Total number of rate limit waits honored",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvq_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvq_queue_depth",
			Help: "Current number of tasks waiting for a worker",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvq_workers_active",
			Help: "Number of harvests currently running",
		},
	)
)

func RecordTaskSubmitted(mode keyword.Mode) {
	TasksSubmitted.WithLabelValues(string(mode)).Inc()
}

func RecordTaskCompleted(duration time.Duration) {
	TasksCompleted.Inc()
	TaskDuration.WithLabelValues("completed").Observe(duration.Seconds())
}

func RecordTaskFailed(category harvest.FailureCategory, duration time.Duration) {
	TasksFailed.WithLabelValues(string(category)).Inc()
	TaskDuration.WithLabelValues("failed").Observe(duration.Seconds())
}

func RecordTaskDeleted() {
	TasksDeleted.Inc()
}

func RecordTaskWaitTime(waitTime time.Duration) {
	TaskWaitTime.Observe(waitTime.Seconds())
}

func RecordHarvestStats(s harvest.Stats) {
	PostsChecked.Add(float64(s.PostsChecked))
	CommentsCollected.Add(float64(s.TotalComments))
	RepliesSkipped.WithLabelValues("bot").Add(float64(s.SkippedBots))
	RepliesSkipped.WithLabelValues("error").Add(float64(s.SkippedErrors))
	PostsSkipped.Add(float64(s.SkippedPosts))
	RateLimitWaits.Add(float64(s.RateLimitWaits))
}

func UpdateTaskGauges(tasksByStatus map[task.TaskStatus]int) {
	TasksInQueue.Reset()
	for status, count := range tasksByStatus {
		TasksInQueue.WithLabelValues(string(status)).Set(float64(count))
	}
}

func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func UpdateActiveWorkers(count int) {
	WorkersActive.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
