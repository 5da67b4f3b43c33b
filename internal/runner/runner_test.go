package runner

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/repository"
	"github.com/nadmax/harvq/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRunner(t *testing.T, repo repository.TaskRepository) (*Runner, *queue.Queue) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := queue.NewQueue(mr.Addr(), repo)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	return New(q, 100, nil), q
}

func submit(t *testing.T, r *Runner, owner string) string {
	t.Helper()
	id, err := r.Submit(context.Background(), SubmitRequest{Owner: owner, ChannelRef: "https://t.me/news", PostsLimit: 10})
	require.NoError(t, err)
	return id
}

// finish moves a queued task to a terminal state the way the worker does.
func finish(t *testing.T, q *queue.Queue, id string, status task.TaskStatus) {
	t.Helper()
	ctx := context.Background()

	tk, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	require.NoError(t, tk.Start(time.Now()))

	switch status {
	case task.CompletedStatus:
		require.NoError(t, q.SaveResult(ctx, id, &harvest.Result{Channel: "news", Stats: harvest.Stats{PostsChecked: 10}}))
		require.NoError(t, tk.Complete(time.Now()))
	case task.FailedStatus:
		require.NoError(t, tk.Fail(time.Now(), "Channel is private or you are not subscribed"))
	}
	require.NoError(t, q.UpdateTask(ctx, tk))
}

func TestSubmit(t *testing.T) {
	r, q := setupRunner(t, nil)
	ctx := context.Background()

	id, err := r.Submit(ctx, SubmitRequest{
		Owner:       "alice",
		ChannelRef:  " https://t.me/news ",
		Keywords:    []string{" Price ", "", "SALE"},
		KeywordMode: "and",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tk, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.PendingStatus, tk.Status)
	assert.Equal(t, "https://t.me/news", tk.ChannelRef)
	assert.Equal(t, DefaultPostsLimit, tk.PostsLimit)
	assert.Equal(t, []string{"price", "sale"}, tk.Keywords.Terms)
	assert.Equal(t, keyword.ModeAll, tk.Keywords.Mode)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestSubmit_Invalid(t *testing.T) {
	r, _ := setupRunner(t, nil)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{name: "missing owner", req: SubmitRequest{ChannelRef: "@news"}},
		{name: "missing channel", req: SubmitRequest{Owner: "alice", ChannelRef: "  "}},
		{name: "negative limit", req: SubmitRequest{Owner: "alice", ChannelRef: "@news", PostsLimit: -1}},
		{name: "limit above max", req: SubmitRequest{Owner: "alice", ChannelRef: "@news", PostsLimit: 101}},
		{name: "unknown mode", req: SubmitRequest{Owner: "alice", ChannelRef: "@news", KeywordMode: "xor"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestPoll(t *testing.T) {
	r, q := setupRunner(t, nil)
	ctx := context.Background()
	id := submit(t, r, "alice")

	snap, err := r.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.Snapshot{TaskID: id, Status: task.PendingStatus}, snap)

	tk, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	require.NoError(t, tk.Start(time.Now()))
	tk.SetProgress(30, 3, 10)
	tk.Message = "Post #3: 4 comments"
	require.NoError(t, q.UpdateTask(ctx, tk))

	snap, err = r.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.RunningStatus, snap.Status)
	assert.Equal(t, 30, snap.Progress)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 10, snap.Total)
	assert.Equal(t, "Post #3: 4 comments", snap.Message)

	_, err = r.Poll(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestPoll_FallsBackToHistory(t *testing.T) {
	repo := repository.NewMockPostgresRepository()
	r, q := setupRunner(t, repo)
	ctx := context.Background()
	id := submit(t, r, "alice")

	require.NoError(t, q.DeleteTask(ctx, id))

	snap, err := r.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.TaskID)
	assert.Equal(t, task.PendingStatus, snap.Status)
}

func TestFetchResult(t *testing.T) {
	r, q := setupRunner(t, nil)
	ctx := context.Background()

	pending := submit(t, r, "alice")
	_, err := r.FetchResult(ctx, pending)
	assert.ErrorIs(t, err, ErrNotCompleted)

	failed := submit(t, r, "alice")
	finish(t, q, failed, task.FailedStatus)
	_, err = r.FetchResult(ctx, failed)
	assert.ErrorIs(t, err, ErrNotCompleted)

	done := submit(t, r, "alice")
	finish(t, q, done, task.CompletedStatus)
	result, err := r.FetchResult(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, "news", result.Channel)
	assert.Equal(t, 10, result.Stats.PostsChecked)

	_, err = r.FetchResult(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestFetchResult_FromHistory(t *testing.T) {
	repo := repository.NewMockPostgresRepository()
	r, q := setupRunner(t, repo)
	ctx := context.Background()

	id := submit(t, r, "alice")
	finish(t, q, id, task.CompletedStatus)
	tk, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	require.NoError(t, repo.CompleteTask(ctx, tk, &harvest.Result{Channel: "news", Stats: harvest.Stats{PostsChecked: 7}}))

	t.Run("redis result expired", func(t *testing.T) {
		require.NoError(t, q.DeleteTask(ctx, id))
		require.NoError(t, q.UpdateTask(ctx, tk))

		result, err := r.FetchResult(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 7, result.Stats.PostsChecked)
	})

	t.Run("status record gone", func(t *testing.T) {
		require.NoError(t, q.DeleteTask(ctx, id))

		result, err := r.FetchResult(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "news", result.Channel)
	})

	t.Run("no stored result", func(t *testing.T) {
		delete(repo.Results, id)

		_, err := r.FetchResult(ctx, id)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("not completed in history", func(t *testing.T) {
		pending := submit(t, r, "bob")
		require.NoError(t, q.DeleteTask(ctx, pending))

		_, err := r.FetchResult(ctx, pending)
		assert.ErrorIs(t, err, ErrNotCompleted)
	})
}

func TestDelete(t *testing.T) {
	repo := repository.NewMockPostgresRepository()
	r, q := setupRunner(t, repo)
	ctx := context.Background()

	t.Run("owner deletes finished task", func(t *testing.T) {
		id := submit(t, r, "alice")
		finish(t, q, id, task.CompletedStatus)

		require.NoError(t, r.Delete(ctx, id, "alice"))

		_, err := q.GetTask(ctx, id)
		assert.ErrorIs(t, err, queue.ErrTaskNotFound)
		assert.False(t, repo.WasTaskSaved(id))
		_, err = r.Poll(ctx, id)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("other owner", func(t *testing.T) {
		id := submit(t, r, "alice")

		assert.ErrorIs(t, r.Delete(ctx, id, "mallory"), ErrTaskNotFound)
		_, err := q.GetTask(ctx, id)
		assert.NoError(t, err)
	})

	t.Run("running task", func(t *testing.T) {
		id := submit(t, r, "alice")
		tk, err := q.GetTask(ctx, id)
		require.NoError(t, err)
		require.NoError(t, tk.Start(time.Now()))
		require.NoError(t, q.UpdateTask(ctx, tk))

		assert.ErrorIs(t, r.Delete(ctx, id, "alice"), ErrTaskRunning)
	})

	t.Run("pending task leaves the dispatch queue", func(t *testing.T) {
		id := submit(t, r, "bob")
		require.NoError(t, r.Delete(ctx, id, "bob"))

		for {
			tk, err := q.Dequeue(ctx)
			require.NoError(t, err)
			if tk == nil {
				break
			}
			assert.NotEqual(t, id, tk.ID)
		}
	})

	t.Run("pending task claimed by a worker", func(t *testing.T) {
		id := submit(t, r, "dave")
		claimed, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.Equal(t, id, claimed.ID)

		assert.ErrorIs(t, r.Delete(ctx, id, "dave"), ErrTaskRunning)

		tk, err := q.GetTask(ctx, id)
		require.NoError(t, err)
		require.NoError(t, tk.Start(time.Now()))
		require.NoError(t, q.UpdateTask(ctx, tk))
		assert.True(t, repo.WasTaskSaved(id))
	})

	t.Run("history only", func(t *testing.T) {
		id := submit(t, r, "carol")
		require.NoError(t, q.DeleteTask(ctx, id))

		require.NoError(t, r.Delete(ctx, id, "carol"))
		assert.False(t, repo.WasTaskSaved(id))
		assert.ErrorIs(t, r.Delete(ctx, id, "carol"), ErrTaskNotFound)
	})
}

func TestHistory(t *testing.T) {
	t.Run("from status store", func(t *testing.T) {
		r, _ := setupRunner(t, nil)
		ctx := context.Background()

		first := submit(t, r, "alice")
		time.Sleep(2 * time.Millisecond)
		second := submit(t, r, "alice")
		submit(t, r, "bob")

		tasks, err := r.History(ctx, "alice", 0)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, second, tasks[0].ID)
		assert.Equal(t, first, tasks[1].ID)

		tasks, err = r.History(ctx, "alice", 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, second, tasks[0].ID)
	})

	t.Run("from repository", func(t *testing.T) {
		repo := repository.NewMockPostgresRepository()
		r, _ := setupRunner(t, repo)

		id := submit(t, r, "alice")
		submit(t, r, "bob")

		tasks, err := r.History(context.Background(), "alice", 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, id, tasks[0].ID)
	})
}
