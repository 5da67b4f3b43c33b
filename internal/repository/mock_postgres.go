package repository

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/task"
)

// MockPostgresRepository is an in-memory TaskRepository that records calls.
type MockPostgresRepository struct {
	mu                    sync.Mutex
	GetTaskCalls          []string
	SaveTaskCalls         []SaveTaskCall
	UpdateTaskStatusCalls []UpdateTaskStatusCall
	CompleteTaskCalls     []CompleteTaskCall
	FailTaskCalls         []FailTaskCall
	DeleteTaskCalls       []DeleteTaskCall
	Tasks                 map[string]*task.Task
	Results               map[string]*harvest.Result
	TaskStats             []TaskStats
	GetTaskError          error
	GetResultError        error
	SaveTaskError         error
	UpdateTaskStatusError error
	CompleteTaskError     error
	FailTaskError         error
	GetOwnerTasksError    error
	DeleteTaskError       error
	GetTaskStatsError     error
}

type SaveTaskCall struct {
	Task *task.Task
}

type UpdateTaskStatusCall struct {
	TaskID   string
	Status   task.TaskStatus
	WorkerID string
}

type CompleteTaskCall struct {
	TaskID string
	Stats  harvest.Stats
	Result *harvest.Result
}

type FailTaskCall struct {
	TaskID     string
	Reason     string
	DurationMs int
}

type DeleteTaskCall struct {
	TaskID string
	Owner  string
}

func NewMockPostgresRepository() *MockPostgresRepository {
	return &MockPostgresRepository{
		Tasks:     make(map[string]*task.Task),
		Results:   make(map[string]*harvest.Result),
		TaskStats: make([]TaskStats, 0),
	}
}

func (m *MockPostgresRepository) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetTaskCalls = append(m.GetTaskCalls, taskID)

	if m.GetTaskError != nil {
		return nil, m.GetTaskError
	}

	t, exists := m.Tasks[taskID]
	if !exists {
		return nil, ErrTaskNotFound
	}

	return t.Clone(), nil
}

func (m *MockPostgresRepository) SaveTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveTaskCalls = append(m.SaveTaskCalls, SaveTaskCall{Task: t})

	if m.SaveTaskError != nil {
		return m.SaveTaskError
	}

	m.Tasks[t.ID] = t.Clone()
	return nil
}

func (m *MockPostgresRepository) UpdateTaskStatus(ctx context.Context, taskID string, status task.TaskStatus, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateTaskStatusCalls = append(m.UpdateTaskStatusCalls, UpdateTaskStatusCall{
		TaskID:   taskID,
		Status:   status,
		WorkerID: workerID,
	})

	if m.UpdateTaskStatusError != nil {
		return m.UpdateTaskStatusError
	}

	if t, exists := m.Tasks[taskID]; exists {
		t.Status = status
	}

	return nil
}

func (m *MockPostgresRepository) CompleteTask(ctx context.Context, t *task.Task, result *harvest.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CompleteTaskCalls = append(m.CompleteTaskCalls, CompleteTaskCall{
		TaskID: t.ID,
		Stats:  result.Stats,
		Result: result,
	})

	if m.CompleteTaskError != nil {
		return m.CompleteTaskError
	}

	if stored, exists := m.Tasks[t.ID]; exists {
		stored.Status = task.CompletedStatus
		stored.Progress = 100
		stored.CSVFile = t.CSVFile
		stored.JSONFile = t.JSONFile
		m.Results[t.ID] = result
	}

	return nil
}

func (m *MockPostgresRepository) FailTask(ctx context.Context, taskID string, reason string, durationMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FailTaskCalls = append(m.FailTaskCalls, FailTaskCall{
		TaskID:     taskID,
		Reason:     reason,
		DurationMs: durationMs,
	})

	if m.FailTaskError != nil {
		return m.FailTaskError
	}

	if t, exists := m.Tasks[taskID]; exists {
		t.Status = task.FailedStatus
		t.Error = reason
	}

	return nil
}

func (m *MockPostgresRepository) GetResult(ctx context.Context, taskID string) (*harvest.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetResultError != nil {
		return nil, m.GetResultError
	}

	if _, exists := m.Tasks[taskID]; !exists {
		return nil, ErrTaskNotFound
	}
	result, exists := m.Results[taskID]
	if !exists {
		return nil, ErrResultNotFound
	}
	return result, nil
}

func (m *MockPostgresRepository) GetOwnerTasks(ctx context.Context, owner string, limit int) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetOwnerTasksError != nil {
		return nil, m.GetOwnerTasksError
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var tasks []*task.Task
	for _, t := range m.Tasks {
		if t.Owner == owner {
			tasks = append(tasks, t.Clone())
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

func (m *MockPostgresRepository) DeleteTask(ctx context.Context, taskID string, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteTaskCalls = append(m.DeleteTaskCalls, DeleteTaskCall{TaskID: taskID, Owner: owner})

	if m.DeleteTaskError != nil {
		return false, m.DeleteTaskError
	}

	t, exists := m.Tasks[taskID]
	if !exists || t.Owner != owner {
		return false, nil
	}
	delete(m.Tasks, taskID)
	delete(m.Results, taskID)
	return true, nil
}

func (m *MockPostgresRepository) GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetTaskStatsError != nil {
		return nil, m.GetTaskStatsError
	}

	return slices.Clone(m.TaskStats), nil
}

func (m *MockPostgresRepository) Close() error {
	return nil
}

func (m *MockPostgresRepository) GetSaveTaskCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SaveTaskCalls)
}

func (m *MockPostgresRepository) GetCompleteTaskCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteTaskCalls)
}

func (m *MockPostgresRepository) GetFailTaskCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FailTaskCalls)
}

func (m *MockPostgresRepository) WasTaskSaved(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.Tasks[taskID]
	return exists
}

func (m *MockPostgresRepository) GetTaskStatus(taskID string) (task.TaskStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.Tasks[taskID]
	if !exists {
		return "", false
	}
	return t.Status, true
}

func (m *MockPostgresRepository) LastFailReason(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.FailTaskCalls) - 1; i >= 0; i-- {
		if m.FailTaskCalls[i].TaskID == taskID {
			return m.FailTaskCalls[i].Reason
		}
	}
	return ""
}
