package wakebus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTransport adapts github.com/redis/go-redis/v9's Pub/Sub to the
// Transport interface, grounded on fabric.RedisPubSubClient's minimal
// Publish/Subscribe contract.
type RedisTransport struct {
	client *redis.Client
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	pubsub := t.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("wakebus: redis subscribe %s: %w", channel, err)
	}

	ch := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		pubsub.Close()
	}, nil
}
