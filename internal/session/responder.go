package session

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Serve answers session requests on prefix.* with backend. The session
// service process uses it to expose its platform client; unsubscribe the
// returned subscription to stop.
func Serve(nc *nats.Conn, prefix string, backend harvest.Client, logger *zap.SugaredLogger) (*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return nc.Subscribe(prefix+".*", func(msg *nats.Msg) {
		op := msg.Subject[len(prefix)+1:]
		data, err := dispatch(context.Background(), backend, op, msg.Data)

		var env envelope
		if err != nil {
			env.Error = encodeError(err)
		} else {
			env.Data = data
		}

		reply, err := json.Marshal(env)
		if err != nil {
			logger.Errorw("failed to encode session reply", "op", op, "error", err)
			return
		}
		if err := msg.Respond(reply); err != nil {
			logger.Warnw("failed to send session reply", "op", op, "error", err)
		}
	})
}

func dispatch(ctx context.Context, backend harvest.Client, op string, payload []byte) (json.RawMessage, error) {
	switch op {
	case opResolveChannel:
		var req resolveChannelRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		ch, err := backend.ResolveChannel(ctx, req.Ref)
		return marshal(ch, err)
	case opListPosts:
		var req listPostsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		posts, err := backend.ListPosts(ctx, req.Channel, req.Limit)
		return marshal(posts, err)
	case opListReplies:
		var req listRepliesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		replies, err := backend.ListReplies(ctx, req.Channel, req.PostID, req.Limit)
		return marshal(replies, err)
	case opResolveSender:
		var req resolveSenderRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		sender, err := backend.ResolveSender(ctx, req.Reply)
		return marshal(sender, err)
	default:
		return nil, errors.New("unknown operation " + op)
	}
}

func marshal(v any, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func encodeError(err error) *wireError {
	var rl *harvest.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return &wireError{
			Code:        CodeRateLimited,
			Message:     err.Error(),
			WaitSeconds: int(math.Ceil(rl.Wait.Seconds())),
		}
	case errors.Is(err, harvest.ErrChannelPrivate):
		return &wireError{Code: CodePrivate, Message: err.Error()}
	case errors.Is(err, harvest.ErrUnauthorized):
		return &wireError{Code: CodeUnauthorized, Message: err.Error()}
	default:
		return &wireError{Code: CodeInternal, Message: err.Error()}
	}
}
