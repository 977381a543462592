package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/slotgrid/pkg/logger"
)

// RedisRelay is the Redis pub/sub counterpart of NATSRelay.
type RedisRelay struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	hub     *Hub
}

func NewRedisRelay(ctx context.Context, url, channel string, hub *Hub) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return &RedisRelay{client: client, pubsub: pubsub, channel: channel, hub: hub}, nil
}

func (r *RedisRelay) Subscribe(eventID string) *Subscription { return r.hub.Subscribe(eventID) }

func (r *RedisRelay) Unsubscribe(sub *Subscription) { r.hub.Unsubscribe(sub) }

func (r *RedisRelay) Publish(ctx context.Context, eventID string, msg Message) error {
	msg.EventID = eventID
	payload, err := encode(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event message: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "channel", r.channel, "event_id", eventID, "type", msg.Type)

	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run drives the hub keep-alive and copies broker messages into the hub.
func (r *RedisRelay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.hub.Run(ctx) })
	g.Go(func() error {
		ch := r.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case m, ok := <-ch:
				if !ok {
					return nil
				}
				msg, err := decode([]byte(m.Payload))
				if err != nil || msg.EventID == "" {
					logger.Warn("discarding malformed relay message", "channel", m.Channel, "error", err)
					continue
				}
				_ = r.hub.Publish(ctx, msg.EventID, msg)
			}
		}
	})
	return g.Wait()
}

func (r *RedisRelay) Close() error {
	_ = r.pubsub.Close()
	_ = r.client.Close()
	return r.hub.Close()
}
