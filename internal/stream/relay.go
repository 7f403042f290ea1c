package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis channels, one per message type.
const (
	ChannelPrices     = "price_updates"
	ChannelPnL        = "pnl_updates"
	ChannelRiskAlerts = "risk_alerts"
)

// ChannelFor maps a message type to its Redis channel.
func ChannelFor(msgType string) string {
	switch msgType {
	case TypePriceUpdate:
		return ChannelPrices
	case TypePnLUpdate:
		return ChannelPnL
	default:
		return ChannelRiskAlerts
	}
}

// RedisRelay publishes messages to Redis and re-broadcasts everything
// received on the relay channels to the local hub, so every instance's
// clients see every update. Messages published here reach the local hub
// through the subscription, not directly.
type RedisRelay struct {
	rdb *redis.Client
	hub *Hub
}

// NewRedisRelay creates a relay feeding hub.
func NewRedisRelay(rdb *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{rdb: rdb, hub: hub}
}

// Publish implements Publisher.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	if err := r.rdb.Publish(ctx, ChannelFor(msg.Type), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// Run subscribes to the relay channels until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, ChannelPrices, ChannelPnL, ChannelRiskAlerts)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("redis relay subscribed", "channels", []string{ChannelPrices, ChannelPnL, ChannelRiskAlerts})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if !json.Valid([]byte(m.Payload)) {
				slog.Warn("redis relay dropped invalid payload", "channel", m.Channel)
				continue
			}
			r.hub.broadcastRaw([]byte(m.Payload))
		}
	}
}
