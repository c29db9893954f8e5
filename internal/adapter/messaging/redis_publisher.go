package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RedisPublisher fans trade events out over Redis pub/sub. Every event goes
// to the shared channel and to one channel per participant so notification
// workers can subscribe narrowly.
type RedisPublisher struct {
	client  goredis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client goredis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// UserChannel returns the per-user channel name for userID.
func (p *RedisPublisher) UserChannel(userID uuid.UUID) string {
	return p.channel + ":user:" + userID.String()
}

// Publish implements ports.EventPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, event *domain.TradeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}

	_, err = p.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.Publish(ctx, p.UserChannel(event.BuyerID), payload)
		pipe.Publish(ctx, p.UserChannel(event.SellerID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type, err)
	}
	return nil
}
