package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/coinwatch/internal/domain"
)

const alertsChannel = "alerts"

// Stream is the outbound transport to the bot front-end: fired alerts on a
// pub/sub channel and refreshed price snapshots per asset. Each snapshot is
// also mirrored under a short-TTL key so the front-end can render last
// known prices without a round trip to the engine.
type Stream struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStream(client *redis.Client, ttl time.Duration) *Stream {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Stream{client: client, ttl: ttl}
}

func (s *Stream) PublishSnapshot(ctx context.Context, snap domain.PriceSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Publish(ctx, "prices."+string(snap.Asset), data)
	pipe.Set(ctx, "last_price:"+string(snap.Asset), data, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// PublishAlert pushes one fired-alert notification. Delivery past this
// point is the sink's concern; the engine never resends.
func (s *Stream) PublishAlert(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, alertsChannel, data).Err()
}

func (s *Stream) SubscribePrices(ctx context.Context, asset domain.AssetID) *redis.PubSub {
	return s.client.Subscribe(ctx, "prices."+string(asset))
}

func (s *Stream) SubscribeAlerts(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, alertsChannel)
}
