package task

import (
	"testing"
	"time"

	"github.com/nadmax/harvq/internal/keyword"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	spec := keyword.NewSpec([]string{"price"}, keyword.ModeAll)

	task := NewTask("user-1", "https://t.me/okkosport", 30, spec)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "user-1", task.Owner)
	assert.Equal(t, "https://t.me/okkosport", task.ChannelRef)
	assert.Equal(t, 30, task.PostsLimit)
	assert.Equal(t, spec, task.Keywords)
	assert.Equal(t, PendingStatus, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)
}

func TestTaskStatuses(t *testing.T) {
	assert.Equal(t, TaskStatus("pending"), PendingStatus)
	assert.Equal(t, TaskStatus("running"), RunningStatus)
	assert.Equal(t, TaskStatus("completed"), CompletedStatus)
	assert.Equal(t, TaskStatus("failed"), FailedStatus)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		allowed  bool
	}{
		{PendingStatus, RunningStatus, true},
		{PendingStatus, CompletedStatus, false},
		{PendingStatus, FailedStatus, false},
		{RunningStatus, CompletedStatus, true},
		{RunningStatus, FailedStatus, true},
		{RunningStatus, PendingStatus, false},
		{CompletedStatus, FailedStatus, false},
		{CompletedStatus, RunningStatus, false},
		{FailedStatus, CompletedStatus, false},
		{FailedStatus, PendingStatus, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestLifecycle_Complete(t *testing.T) {
	task := NewTask("u", "chan", 10, keyword.Spec{})
	start := time.Now()

	require.NoError(t, task.Start(start))
	assert.Equal(t, RunningStatus, task.Status)
	assert.Equal(t, &start, task.StartedAt)

	task.SetProgress(40, 4, 10)
	end := start.Add(3 * time.Second)
	require.NoError(t, task.Complete(end))

	assert.Equal(t, CompletedStatus, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, 3*time.Second, task.Duration())
	assert.True(t, task.Status.Terminal())

	assert.ErrorIs(t, task.Fail(time.Now(), "late"), ErrInvalidTransition)
	assert.Equal(t, CompletedStatus, task.Status)
}

func TestLifecycle_Fail(t *testing.T) {
	task := NewTask("u", "chan", 10, keyword.Spec{})

	assert.ErrorIs(t, task.Complete(time.Now()), ErrInvalidTransition)

	require.NoError(t, task.Start(time.Now()))
	require.NoError(t, task.Fail(time.Now(), "Channel is private or you are not subscribed"))

	assert.Equal(t, FailedStatus, task.Status)
	assert.Equal(t, "Channel is private or you are not subscribed", task.Error)
	assert.ErrorIs(t, task.Start(time.Now()), ErrInvalidTransition)
}

func TestSetProgress_Monotonic(t *testing.T) {
	task := NewTask("u", "chan", 10, keyword.Spec{})

	task.SetProgress(50, 5, 10)
	task.SetProgress(30, 3, 10)
	assert.Equal(t, 50, task.Progress)

	task.SetProgress(150, 10, 10)
	assert.Equal(t, 100, task.Progress)
}

func TestSnapshot(t *testing.T) {
	task := NewTask("u", "chan", 10, keyword.Spec{})
	task.SetProgress(20, 2, 10)
	task.Message = "Post #5: no comments"

	s := task.Snapshot()

	assert.Equal(t, Snapshot{TaskID: task.ID, Status: PendingStatus, Progress: 20, Current: 2, Total: 10, Message: "Post #5: no comments"}, s)
}

func TestClone_IsIndependent(t *testing.T) {
	task := NewTask("u", "chan", 10, keyword.NewSpec([]string{"a"}, keyword.ModeAny))
	require.NoError(t, task.Start(time.Now()))

	c := task.Clone()
	c.Keywords.Terms[0] = "changed"
	*c.StartedAt = c.StartedAt.Add(time.Hour)

	assert.Equal(t, "a", task.Keywords.Terms[0])
	assert.NotEqual(t, *task.StartedAt, *c.StartedAt)
}

func TestTaskJSONRoundTrip(t *testing.T) {
	task := NewTask("u", "chan", 10, keyword.NewSpec([]string{"x", "y"}, keyword.ModeAll))
	require.NoError(t, task.Start(time.Now()))

	jsonStr, err := task.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, jsonStr, `"channel_ref":"chan"`)

	restored, err := TaskFromJSON(jsonStr)
	require.NoError(t, err)

	assert.Equal(t, task.ID, restored.ID)
	assert.Equal(t, task.Status, restored.Status)
	assert.Equal(t, task.Keywords, restored.Keywords)
	assert.True(t, task.StartedAt.Equal(*restored.StartedAt))
}

func TestTaskFromJSON_InvalidJSON(t *testing.T) {
	_, err := TaskFromJSON("invalid json")

	assert.Error(t, err)
}
