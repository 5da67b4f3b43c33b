package harvest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nadmax/harvq/internal/record"
)

type fakeClient struct {
	mu          sync.Mutex
	channel     record.Channel
	resolveErr  error
	posts       []record.Post
	postsErr    error
	replies     map[int64][]record.Reply
	replyErrs   map[int64][]error
	senders     map[int64]*record.Identity
	senderErrs  map[int64]error
	replyCalls  map[int64]int
	senderCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		channel:    record.Channel{ID: 1, Username: "testchan", Title: "Test Channel"},
		replies:    make(map[int64][]record.Reply),
		replyErrs:  make(map[int64][]error),
		senders:    make(map[int64]*record.Identity),
		senderErrs: make(map[int64]error),
		replyCalls: make(map[int64]int),
	}
}

func (f *fakeClient) addPost(id int64, replies ...record.Reply) {
	f.posts = append(f.posts, record.Post{ID: id, ReplyCount: len(replies)})
	for i := range replies {
		replies[i].PostID = id
	}
	f.replies[id] = replies
}

func (f *fakeClient) addSender(id int64, name string, bot bool) {
	f.senders[id] = &record.Identity{ID: id, FirstName: name, Username: name, Bot: bot}
}

func (f *fakeClient) ResolveChannel(_ context.Context, _ string) (record.Channel, error) {
	if f.resolveErr != nil {
		return record.Channel{}, f.resolveErr
	}
	return f.channel, nil
}

func (f *fakeClient) ListPosts(_ context.Context, _ record.Channel, limit int) ([]record.Post, error) {
	if f.postsErr != nil {
		return nil, f.postsErr
	}
	if limit < len(f.posts) {
		return f.posts[:limit], nil
	}
	return f.posts, nil
}

func (f *fakeClient) ListReplies(_ context.Context, _ record.Channel, postID int64, _ int) ([]record.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.replyCalls[postID]++
	if errs := f.replyErrs[postID]; len(errs) > 0 {
		err := errs[0]
		if len(errs) > 1 {
			f.replyErrs[postID] = errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return f.replies[postID], nil
}

func (f *fakeClient) ResolveSender(_ context.Context, reply record.Reply) (*record.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.senderCalls++
	if err := f.senderErrs[reply.SenderID]; err != nil {
		return nil, err
	}
	return f.senders[reply.SenderID], nil
}

func reply(id, sender int64, text string) record.Reply {
	return record.Reply{ID: id, SenderID: sender, Text: text}
}

// alwaysRateLimited is sticky: the last error in a replyErrs list repeats.
func alwaysRateLimited(wait time.Duration) []error {
	return []error{&RateLimitedError{Wait: wait}}
}

var errBoom = errors.New("boom")

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}
