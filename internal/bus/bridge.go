package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/relay"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const receiveRetryDelay = 500 * time.Millisecond

// PubSub is the slice of the go-redis subscription client the bridge needs.
type PubSub interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	ReceiveMessage(ctx context.Context) (*redis.Message, error)
}

// Fanout receives decoded bus messages for local delivery.
type Fanout interface {
	SendMessage(channelId relay.ChannelID, payload []byte, excludeUserId relay.UserID)
}

// Bridge keeps the process's shared-bus subscriptions aligned with local
// channel interest. One bus channel exists per ChannelID, named by the
// stringified id.
type Bridge struct {
	logger *zap.Logger
	pubsub PubSub

	mu         sync.Mutex
	subscribed map[relay.ChannelID]struct{}
}

func NewBridge(
	logger *zap.Logger,
	pubsub PubSub,
) *Bridge {
	return &Bridge{
		logger:     logger,
		pubsub:     pubsub,
		subscribed: make(map[relay.ChannelID]struct{}),
	}
}

// EnsureSubscribed subscribes to every channel not already covered.
// Subscribing to a covered channel is a no-op; a failure for one channel is
// logged and does not abort the remaining ids.
func (b *Bridge) EnsureSubscribed(ctx context.Context, channelIds []relay.ChannelID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, channelId := range channelIds {
		if _, ok := b.subscribed[channelId]; ok {
			continue
		}

		err := b.pubsub.Subscribe(ctx, channelName(channelId))
		if err != nil {
			b.logger.Warn("failed to subscribe to bus channel",
				zap.Int64("channelId", int64(channelId)),
				zap.Error(err))

			continue
		}

		b.subscribed[channelId] = struct{}{}
	}
}

// Release unsubscribes from channels that no longer have local members.
// Best effort: a stale subscription only costs extra inbound traffic.
func (b *Bridge) Release(ctx context.Context, channelIds []relay.ChannelID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, channelId := range channelIds {
		if _, ok := b.subscribed[channelId]; !ok {
			continue
		}

		delete(b.subscribed, channelId)

		err := b.pubsub.Unsubscribe(ctx, channelName(channelId))
		if err != nil {
			b.logger.Warn("failed to unsubscribe from bus channel",
				zap.Int64("channelId", int64(channelId)),
				zap.Error(err))
		}
	}
}

// Run consumes the shared bus for the lifetime of ctx and fans each message
// out to local members. A malformed bus message is logged and skipped; it
// must never take the loop down.
func (b *Bridge) Run(ctx context.Context, fanout Fanout) {
	for {
		message, err := b.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				b.logger.Info("bus ingestion stopped")

				return
			}

			b.logger.Warn("failed to receive bus message", zap.Error(err))

			// Keeps a persistently failing bus from spinning the loop hot.
			select {
			case <-ctx.Done():
			case <-time.After(receiveRetryDelay):
			}

			continue
		}

		channelId, err := strconv.ParseInt(message.Channel, 10, 64)
		if err != nil {
			b.logger.Warn("bus message on non-numeric channel",
				zap.String("channel", message.Channel))

			continue
		}

		var envelope Envelope
		if err := json.Unmarshal([]byte(message.Payload), &envelope); err != nil {
			b.logger.Warn("malformed bus message payload",
				zap.Int64("channelId", channelId),
				zap.Error(err))

			continue
		}

		excludeUserId := relay.NoExclusion
		if envelope.Sender != nil {
			excludeUserId = relay.UserID(*envelope.Sender)
		}

		fanout.SendMessage(
			relay.ChannelID(channelId),
			[]byte(envelope.Message),
			excludeUserId,
		)
	}
}

func channelName(channelId relay.ChannelID) string {
	return strconv.FormatInt(int64(channelId), 10)
}
