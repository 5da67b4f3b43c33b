package harvest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nadmax/harvq/internal/dedupe"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/record"
	"go.uber.org/zap"
)

var errRetriesExhausted = errors.New("rate limit retries exhausted")

type Options struct {
	// ReplyLimit caps the replies requested for a single post.
	ReplyLimit int `mapstructure:"reply_limit"`
	// MaxAttempts bounds reply fetches for one post while rate limited.
	MaxAttempts        int           `mapstructure:"max_attempts"`
	PostPause          time.Duration `mapstructure:"post_pause"`
	HeavyPostPause     time.Duration `mapstructure:"heavy_post_pause"`
	HeavyPostThreshold int           `mapstructure:"heavy_post_threshold"`
}

func DefaultOptions() Options {
	return Options{
		ReplyLimit:         10000,
		MaxAttempts:        3,
		PostPause:          time.Second,
		HeavyPostPause:     2 * time.Second,
		HeavyPostThreshold: 100,
	}
}

type Request struct {
	ChannelRef string       `json:"channel_ref"`
	PostsLimit int          `json:"posts_limit"`
	Keywords   keyword.Spec `json:"keywords"`
}

// Harvest is the raw, unfiltered output of one channel walk.
type Harvest struct {
	Channel  string
	Comments []record.Comment
	Stats    Stats
}

type Harvester struct {
	client Client
	filter *keyword.Filter
	opts   Options
	logger *zap.SugaredLogger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func NewHarvester(client Client, filter *keyword.Filter, opts Options, logger *zap.SugaredLogger) *Harvester {
	if filter == nil {
		filter = keyword.NewFilter(nil)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Harvester{
		client: client,
		filter: filter,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Parse harvests req.ChannelRef, filters the comments by req.Keywords and
// deduplicates them by identity. The returned error is always a *Failure.
func (h *Harvester) Parse(ctx context.Context, req Request, obs Observer) (*Result, error) {
	start := h.now()
	o := guard(obs, h.logger)

	hv, err := h.harvest(ctx, req.ChannelRef, req.PostsLimit, o)
	if err != nil {
		return nil, err
	}

	filtered := hv.Comments
	if !req.Keywords.Empty() {
		o.OnStatus("Filtering by keywords...")
		filtered = h.filter.Apply(hv.Comments, req.Keywords)
	}
	unique := dedupe.ByIdentity(filtered)

	stats := hv.Stats
	stats.FilteredComments = len(filtered)
	stats.UniqueUsers = len(unique)
	stats.ElapsedTime = h.now().Sub(start).Seconds()

	return &Result{
		Channel:       hv.Channel,
		Results:       filtered,
		UniqueResults: unique,
		Stats:         stats,
	}, nil
}

// Harvest walks the channel without filtering. The returned error is always
// a *Failure; per-post problems are counted in Stats instead.
func (h *Harvester) Harvest(ctx context.Context, channelRef string, postsLimit int, obs Observer) (*Harvest, error) {
	return h.harvest(ctx, channelRef, postsLimit, guard(obs, h.logger))
}

func (h *Harvester) harvest(ctx context.Context, channelRef string, postsLimit int, obs Observer) (hv *Harvest, err error) {
	defer func() {
		if r := recover(); r != nil {
			hv = nil
			err = &Failure{Category: FailureUnexpected, Message: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()

	if strings.TrimSpace(channelRef) == "" {
		return nil, &Failure{Category: FailureInvalidRequest, Message: "Channel reference is required"}
	}
	if postsLimit <= 0 {
		return nil, &Failure{Category: FailureInvalidRequest, Message: fmt.Sprintf("Posts limit must be positive, got %d", postsLimit)}
	}

	obs.OnStatus(fmt.Sprintf("Getting channel: %s", channelRef))
	ch, err := h.client.ResolveChannel(ctx, channelRef)
	if err != nil {
		return nil, channelFailure(ctx, err)
	}

	handle := ch.Username
	if handle == "" {
		handle = HandleFromRef(channelRef)
	}

	obs.OnStatus(fmt.Sprintf("Fetching %d posts...", postsLimit))
	posts, err := h.client.ListPosts(ctx, ch, postsLimit)
	if err != nil {
		return nil, channelFailure(ctx, err)
	}
	if len(posts) > postsLimit {
		posts = posts[:postsLimit]
	}

	hv = &Harvest{Channel: handle, Comments: []record.Comment{}}
	hv.Stats.PostsChecked = len(posts)

	for i, post := range posts {
		if ctx.Err() != nil {
			return nil, canceledFailure(ctx.Err())
		}

		comments, err := h.harvestPost(ctx, ch, handle, post, &hv.Stats, obs)
		if err != nil {
			return nil, canceledFailure(err)
		}
		hv.Comments = append(hv.Comments, comments...)

		obs.OnProgress(progressPercent(i+1, len(posts)), i+1, len(posts))
	}

	hv.Stats.TotalComments = len(hv.Comments)
	return hv, nil
}

// harvestPost collects the human replies of one post. It only returns an
// error when ctx is done; every other problem skips the post.
func (h *Harvester) harvestPost(ctx context.Context, ch record.Channel, handle string, post record.Post, stats *Stats, obs Observer) (comments []record.Comment, err error) {
	defer func() {
		if r := recover(); r != nil {
			obs.OnStatus(fmt.Sprintf("Error parsing post #%d: %v", post.ID, r))
			stats.SkippedPosts++
			comments, err = nil, nil
		}
	}()

	if post.ReplyCount <= 0 {
		obs.OnStatus(fmt.Sprintf("Post #%d: no comments", post.ID))
		return nil, nil
	}

	stats.PostsWithComments++
	obs.OnStatus(fmt.Sprintf("Post #%d: %d comments", post.ID, post.ReplyCount))

	replies, err := h.fetchReplies(ctx, ch, post, stats, obs)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, errRetriesExhausted):
		obs.OnStatus(fmt.Sprintf("Skipping post #%d after retries", post.ID))
		stats.SkippedPosts++
		return nil, nil
	case err != nil:
		obs.OnStatus(fmt.Sprintf("Error parsing post #%d: %v", post.ID, err))
		stats.SkippedPosts++
		return nil, nil
	}

	if len(replies) < post.ReplyCount {
		obs.OnStatus(fmt.Sprintf("⚠ Post #%d: got %d/%d comments", post.ID, len(replies), post.ReplyCount))
	}

	for _, reply := range replies {
		sender, err := h.client.ResolveSender(ctx, reply)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case err != nil, sender == nil:
			stats.SkippedErrors++
		case sender.Bot:
			stats.SkippedBots++
		default:
			comments = append(comments, record.NewComment(handle, post, reply, *sender))
		}
	}

	if err := h.pause(ctx, len(replies)); err != nil {
		return nil, err
	}

	return comments, nil
}

func (h *Harvester) fetchReplies(ctx context.Context, ch record.Channel, post record.Post, stats *Stats, obs Observer) ([]record.Reply, error) {
	for attempt := 1; attempt <= h.opts.MaxAttempts; attempt++ {
		replies, err := h.client.ListReplies(ctx, ch, post.ID, h.opts.ReplyLimit)
		if err == nil {
			return replies, nil
		}

		var rl *RateLimitedError
		if !errors.As(err, &rl) {
			return nil, err
		}
		if attempt == h.opts.MaxAttempts {
			break
		}

		stats.RateLimitWaits++
		obs.OnStatus(fmt.Sprintf("Rate limit. Waiting %ds...", int(math.Ceil(rl.Wait.Seconds()))))
		if err := h.sleep(ctx, rl.Wait); err != nil {
			return nil, err
		}
	}

	return nil, errRetriesExhausted
}

// pause spaces out posts so the session stays under the platform's flood
// threshold. Posts with many replies get an extra pause.
func (h *Harvester) pause(ctx context.Context, replies int) error {
	if err := h.sleep(ctx, h.opts.PostPause); err != nil {
		return err
	}
	if replies > h.opts.HeavyPostThreshold {
		return h.sleep(ctx, h.opts.HeavyPostPause)
	}
	return nil
}

// HandleFromRef derives a channel handle from the last path segment of a
// reference such as https://t.me/okkosport.
func HandleFromRef(ref string) string {
	ref = strings.TrimRight(strings.TrimSpace(ref), "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.TrimPrefix(ref, "@")
}

func progressPercent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
