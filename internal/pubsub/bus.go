package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus publishes workflow events to Redis pub/sub and, when a hub is
// attached, to local WebSocket subscribers. Delivery is at-most-once;
// there is no replay.
type Bus struct {
	rdb   *redis.Client
	log   *zap.Logger
	ctx   context.Context
	wsHub WSHub
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb: rdb,
		log: log,
		ctx: context.Background(),
	}
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// PublishUser publishes an event to a user's personal channel
func (b *Bus) PublishUser(userID string, event map[string]interface{}) error {
	return b.Publish("user:"+userID, event)
}

// PublishConversation publishes an event to a conversation's channel
func (b *Bus) PublishConversation(conversationID string, event map[string]interface{}) error {
	return b.Publish("conversation:"+conversationID, event)
}

// Publish publishes an event to a channel
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = b.rdb.Publish(b.ctx, channel, data).Err()
	if err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	if b.wsHub != nil {
		b.wsHub.Publish(channel, event)
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.String("event", string(data)))
	return nil
}
