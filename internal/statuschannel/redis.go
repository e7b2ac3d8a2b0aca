// Package statuschannel delivers session status transitions to observers on
// other devices, over redis pub/sub or by polling the session store.
package statuschannel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/retry"
)

// ChannelName is the pub/sub channel carrying one session's transitions.
func ChannelName(sessionID string) string {
	return fmt.Sprintf("verification:session:%s", sessionID)
}

// RedisChannel publishes and subscribes through redis pub/sub. Delivery
// order matches publish order for a single session.
type RedisChannel struct {
	client *redis.Client
	logger *zap.Logger
	retry  retry.Policy
}

// NewRedisChannel constructs a channel on client.
func NewRedisChannel(client *redis.Client, logger *zap.Logger) *RedisChannel {
	return &RedisChannel{client: client, logger: logger.Named("status_channel"), retry: retry.DefaultPolicy()}
}

// Publish implements ports.StatusPublisher.
func (c *RedisChannel) Publish(ctx context.Context, event ports.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return logging.NewOperationError("statuschannel.publish", event.SessionID, err)
	}
	return retry.Do(ctx, c.logger, c.retry, "statuschannel.publish", event.SessionID, func() error {
		return c.client.Publish(ctx, ChannelName(event.SessionID), payload).Err()
	})
}

// Subscribe implements ports.StatusSubscriber. The subscription is
// confirmed before Subscribe returns, so no event published afterwards is
// missed. The returned channel closes when ctx ends.
func (c *RedisChannel) Subscribe(ctx context.Context, sessionID string) (<-chan ports.StatusEvent, error) {
	pubsub := c.client.Subscribe(ctx, ChannelName(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		wrapped := logging.NewOperationError("statuschannel.subscribe", sessionID, err)
		c.logger.Error("subscribe failed", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger := logging.WithOperation(c.logger, "statuschannel.subscribe", sessionID)
	out := make(chan ports.StatusEvent, 8)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event ports.StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					opLogger.Warn("dropping undecodable status event", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
