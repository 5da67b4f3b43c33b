// Package dashboard serves aggregate views over harvest tasks for monitoring.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nadmax/harvq/internal/httputil"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/repository"
	"github.com/nadmax/harvq/internal/task"
)

const defaultStatsHours = 24

type Dashboard struct {
	queue *queue.Queue
}

type Stats struct {
	TotalTasks      int            `json:"total_tasks"`
	PendingTasks    int            `json:"pending_tasks"`
	RunningTasks    int            `json:"running_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	QueueDepth      int64          `json:"queue_depth"`
	ClaimedTasks    int64          `json:"claimed_tasks"`
	TasksByChannel  map[string]int `json:"tasks_by_channel"`
	AverageWaitTime string         `json:"average_wait_time"`
	LastUpdated     time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID      string          `json:"task_id"`
	Owner       string          `json:"owner"`
	ChannelRef  string          `json:"channel_ref"`
	Status      task.TaskStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Duration    string          `json:"duration"`
}

func NewDashboard(q *queue.Queue) *Dashboard {
	return &Dashboard{queue: q}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	tasks, err := d.queue.GetAllTasks(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	depth, err := d.queue.Depth(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	claimed, err := d.queue.Claimed(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats := Stats{
		TotalTasks:     len(tasks),
		QueueDepth:     depth,
		ClaimedTasks:   claimed,
		TasksByChannel: make(map[string]int),
		LastUpdated:    time.Now(),
	}

	var totalWaitTime time.Duration
	waitCount := 0

	for _, t := range tasks {
		switch t.Status {
		case task.PendingStatus:
			stats.PendingTasks++
		case task.RunningStatus:
			stats.RunningTasks++
		case task.CompletedStatus:
			stats.CompletedTasks++
		case task.FailedStatus:
			stats.FailedTasks++
		}

		stats.TasksByChannel[t.ChannelRef]++

		if t.StartedAt != nil {
			totalWaitTime += t.StartedAt.Sub(t.CreatedAt)
			waitCount++
		}
	}

	if waitCount > 0 {
		avgWait := totalWaitTime / time.Duration(waitCount)
		stats.AverageWaitTime = avgWait.Round(time.Millisecond).String()
	} else {
		stats.AverageWaitTime = "N/A"
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

// GetRecentTasks lists tasks finished within the last 24 hours.
func (d *Dashboard) GetRecentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := d.queue.GetAllTasks(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	history := []TaskHistory{}

	for _, t := range tasks {
		if t.CompletedAt == nil || t.CompletedAt.Before(cutoff) {
			continue
		}

		var duration string
		if t.StartedAt != nil {
			duration = t.Duration().Round(time.Millisecond).String()
		}

		history = append(history, TaskHistory{
			TaskID:      t.ID,
			Owner:       t.Owner,
			ChannelRef:  t.ChannelRef,
			Status:      t.Status,
			Error:       t.Error,
			CreatedAt:   t.CreatedAt,
			CompletedAt: t.CompletedAt,
			Duration:    duration,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, history)
}

// GetHistoryStats aggregates the durable task history over ?hours=
// (default 24). It needs a repository.
func (d *Dashboard) GetHistoryStats(w http.ResponseWriter, r *http.Request) {
	repo := d.queue.GetRepository()
	if repo == nil {
		httputil.WriteJSONError(w, "History is not available", http.StatusServiceUnavailable)
		return
	}

	hours := defaultStatsHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h <= 0 {
			httputil.WriteJSONError(w, "Invalid hours", http.StatusBadRequest)
			return
		}
		hours = h
	}

	stats, err := repo.GetTaskStats(r.Context(), hours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []repository.TaskStats{}
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}
