package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clinicflow/scheduling-engine/internal/events"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

// DefaultChannel is the Redis channel carrying lifecycle events between the
// worker (which drains the outbox) and API processes (which hold sockets).
const DefaultChannel = "clinicflow:events"

type bridgeMessage struct {
	OrgID   string          `json:"org_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RedisPublisher forwards outbox entries onto a Redis channel. It plugs into
// the outbox deliverer as one of its handlers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

var _ events.DeliveryHandler = (*RedisPublisher)(nil)

func (p *RedisPublisher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	data, err := json.Marshal(bridgeMessage{
		OrgID:   entry.OrgID,
		Type:    entry.Type,
		Payload: entry.Payload,
	})
	if err != nil {
		return fmt.Errorf("realtime: marshal bridge message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("realtime: publish event %s: %w", entry.ID, err)
	}
	return nil
}

// RunSubscriber feeds the hub from the Redis channel until ctx is cancelled.
func RunSubscriber(ctx context.Context, client *redis.Client, channel string, hub *Hub, logger *logging.Logger) {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Default()
	}

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm bridgeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				logger.Error("realtime: bad bridge message", "error", err)
				continue
			}
			hub.Broadcast(bm.OrgID, Frame{Type: bm.Type, Payload: bm.Payload})
		}
	}
}
