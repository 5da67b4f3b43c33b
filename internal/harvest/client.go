// Package harvest walks a channel's recent posts, collects the human replies
// under each post and reduces them to a keyword-filtered, per-identity
// deduplicated result.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/harvq/internal/record"
)

// Client is the account session used to read the platform. A single Client
// is a single logical connection; the harvester calls it sequentially.
type Client interface {
	ResolveChannel(ctx context.Context, ref string) (record.Channel, error)
	ListPosts(ctx context.Context, ch record.Channel, limit int) ([]record.Post, error)
	ListReplies(ctx context.Context, ch record.Channel, postID int64, limit int) ([]record.Reply, error)
	// ResolveSender returns nil when the author no longer exists.
	ResolveSender(ctx context.Context, reply record.Reply) (*record.Identity, error)
}

var (
	ErrChannelPrivate = errors.New("channel is private")
	ErrUnauthorized   = errors.New("unauthorized")
)

// RateLimitedError is returned by a Client when the platform asks the caller
// to wait before the next request.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

type FailureCategory string

const (
	FailureInvalidRequest FailureCategory = "invalid_request"
	FailurePrivate        FailureCategory = "private"
	FailureUnauthorized   FailureCategory = "unauthorized"
	FailureUnreachable    FailureCategory = "unreachable"
	FailureCanceled       FailureCategory = "canceled"
	FailureUnexpected     FailureCategory = "unexpected"
)

// Failure is the single terminal error a run can end with. Message is meant
// for the person who submitted the run.
type Failure struct {
	Category FailureCategory
	Message  string
	Err      error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func channelFailure(ctx context.Context, err error) *Failure {
	switch {
	case ctx.Err() != nil:
		return canceledFailure(ctx.Err())
	case errors.Is(err, ErrChannelPrivate):
		return &Failure{Category: FailurePrivate, Message: "Channel is private or you are not subscribed", Err: err}
	case errors.Is(err, ErrUnauthorized):
		return &Failure{Category: FailureUnauthorized, Message: "Session is not authorized to read this channel", Err: err}
	default:
		return &Failure{Category: FailureUnreachable, Message: fmt.Sprintf("Could not access channel: %v", err), Err: err}
	}
}

func canceledFailure(err error) *Failure {
	return &Failure{Category: FailureCanceled, Message: "Parsing was canceled", Err: err}
}
