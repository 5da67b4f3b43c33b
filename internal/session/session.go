// Package session talks to the account session service over NATS
// request/reply. The service owns the platform login; a Client here is the
// harvest.Client every harvest in a worker shares.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/record"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	opResolveChannel = "resolve_channel"
	opListPosts      = "list_posts"
	opListReplies    = "list_replies"
	opResolveSender  = "resolve_sender"
)

// Error codes carried in a reply envelope.
const (
	CodeRateLimited  = "rate_limited"
	CodePrivate      = "private"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

var ErrUnavailable = errors.New("session service unavailable")

type Options struct {
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Rate          float64       `mapstructure:"rate"`
	Burst         int           `mapstructure:"burst"`
}

type envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

type resolveChannelRequest struct {
	Ref string `json:"ref"`
}

type listPostsRequest struct {
	Channel record.Channel `json:"channel"`
	Limit   int            `json:"limit"`
}

type listRepliesRequest struct {
	Channel record.Channel `json:"channel"`
	PostID  int64          `json:"post_id"`
	Limit   int            `json:"limit"`
}

type resolveSenderRequest struct {
	Reply record.Reply `json:"reply"`
}

type Client struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

var _ harvest.Client = (*Client)(nil)

func NewClient(nc *nats.Conn, opts Options, logger *zap.SugaredLogger) *Client {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "session"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = nats.DefaultTimeout
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		nc:      nc,
		prefix:  opts.SubjectPrefix,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger,
	}
}

func (c *Client) ResolveChannel(ctx context.Context, ref string) (record.Channel, error) {
	return request[resolveChannelRequest, record.Channel](ctx, c, opResolveChannel, resolveChannelRequest{Ref: ref})
}

func (c *Client) ListPosts(ctx context.Context, ch record.Channel, limit int) ([]record.Post, error) {
	return request[listPostsRequest, []record.Post](ctx, c, opListPosts, listPostsRequest{Channel: ch, Limit: limit})
}

func (c *Client) ListReplies(ctx context.Context, ch record.Channel, postID int64, limit int) ([]record.Reply, error) {
	return request[listRepliesRequest, []record.Reply](ctx, c, opListReplies, listRepliesRequest{Channel: ch, PostID: postID, Limit: limit})
}

func (c *Client) ResolveSender(ctx context.Context, reply record.Reply) (*record.Identity, error) {
	return request[resolveSenderRequest, *record.Identity](ctx, c, opResolveSender, resolveSenderRequest{Reply: reply})
}

func (c *Client) subject(op string) string {
	return c.prefix + "." + op
}

func request[Req, Resp any](ctx context.Context, c *Client, op string, req Req) (Resp, error) {
	var zero Resp

	if err := c.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return zero, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject(op), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return zero, fmt.Errorf("%s: %w", op, ErrUnavailable)
		}
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return zero, fmt.Errorf("%s: malformed reply: %w", op, err)
	}
	if env.Error != nil {
		c.logger.Debugw("session error reply", "op", op, "code", env.Error.Code, "message", env.Error.Message)
		return zero, decodeError(op, env.Error)
	}

	var resp Resp
	if len(env.Data) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return zero, fmt.Errorf("%s: malformed data: %w", op, err)
	}
	return resp, nil
}

func decodeError(op string, e *wireError) error {
	switch e.Code {
	case CodeRateLimited:
		return &harvest.RateLimitedError{Wait: time.Duration(e.WaitSeconds) * time.Second}
	case CodePrivate:
		return fmt.Errorf("%s: %s: %w", op, e.Message, harvest.ErrChannelPrivate)
	case CodeUnauthorized:
		return fmt.Errorf("%s: %s: %w", op, e.Message, harvest.ErrUnauthorized)
	default:
		return fmt.Errorf("%s: %s", op, e.Message)
	}
}
