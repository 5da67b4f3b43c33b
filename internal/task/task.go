// Package task defines the harvest task model shared by the queue, the worker
// and the persistence layer. It contains the status state machine, the poll
// snapshot and serialization helpers.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/harvq/internal/keyword"
)

type (
	TaskStatus string
	Task       struct {
		ID          string       `json:"id"`
		Owner       string       `json:"owner"`
		ChannelRef  string       `json:"channel_ref"`
		PostsLimit  int          `json:"posts_limit"`
		Keywords    keyword.Spec `json:"keywords"`
		Status      TaskStatus   `json:"status"`
		Progress    int          `json:"progress"`
		Current     int          `json:"current"`
		Total       int          `json:"total"`
		Message     string       `json:"message,omitempty"`
		Error       string       `json:"error,omitempty"`
		CSVFile     string       `json:"csv_file,omitempty"`
		JSONFile    string       `json:"json_file,omitempty"`
		CreatedAt   time.Time    `json:"created_at"`
		StartedAt   *time.Time   `json:"started_at,omitempty"`
		CompletedAt *time.Time   `json:"completed_at,omitempty"`
	}
)

const (
	PendingStatus   TaskStatus = "pending"
	RunningStatus   TaskStatus = "running"
	CompletedStatus TaskStatus = "completed"
	FailedStatus    TaskStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

func NewTask(owner, channelRef string, postsLimit int, keywords keyword.Spec) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Owner:      owner,
		ChannelRef: channelRef,
		PostsLimit: postsLimit,
		Keywords:   keywords,
		Status:     PendingStatus,
		CreatedAt:  time.Now(),
	}
}

func (s TaskStatus) Terminal() bool {
	return s == CompletedStatus || s == FailedStatus
}

// CanTransition reports whether a task may move from s to next. The only
// legal path is pending -> running -> completed|failed.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case PendingStatus:
		return next == RunningStatus
	case RunningStatus:
		return next == CompletedStatus || next == FailedStatus
	default:
		return false
	}
}

func (t *Task) Start(at time.Time) error {
	if err := t.transition(RunningStatus); err != nil {
		return err
	}
	t.StartedAt = &at
	return nil
}

func (t *Task) Complete(at time.Time) error {
	if err := t.transition(CompletedStatus); err != nil {
		return err
	}
	t.Progress = 100
	t.Error = ""
	t.CompletedAt = &at
	return nil
}

func (t *Task) Fail(at time.Time, reason string) error {
	if err := t.transition(FailedStatus); err != nil {
		return err
	}
	t.Error = reason
	t.CompletedAt = &at
	return nil
}

func (t *Task) transition(next TaskStatus) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	return nil
}

// SetProgress records harvest progress. Progress never decreases within a run.
func (t *Task) SetProgress(percent, current, total int) {
	if percent > 100 {
		percent = 100
	}
	if percent > t.Progress {
		t.Progress = percent
	}
	t.Current = current
	t.Total = total
}

// Duration is the time spent running, zero until the task finishes.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

type Snapshot struct {
	TaskID   string     `json:"task_id"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Current  int        `json:"current"`
	Total    int        `json:"total"`
	Message  string     `json:"message,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		TaskID:   t.ID,
		Status:   t.Status,
		Progress: t.Progress,
		Current:  t.Current,
		Total:    t.Total,
		Message:  t.Message,
		Error:    t.Error,
	}
}

func (t *Task) Clone() *Task {
	c := *t
	c.Keywords.Terms = append([]string(nil), t.Keywords.Terms...)
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), err
}

func TaskFromJSON(data string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, err
	}

	return &task, nil
}
