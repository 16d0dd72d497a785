// Alternate Transport for GCP deployments that prefer Cloud Pub/Sub over
// Redis Pub/Sub for the session-events channel. Not wired into cmd/server
// by default (Redis is already wired for the billing gate's shadow-balance
// cache and better fits this bus's single low-volume channel), but kept as
// a drop-in Transport implementation.
//
// Grounded on events.PubSubEventBus's create-topic-if-missing + ordered
// publish + ack-on-success subscriber shape.
package wakebus

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubTransport publishes wake frames to a Cloud Pub/Sub topic and
// delivers a subscription's pulled messages back to the bus.
type PubSubTransport struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	subID  string
	logger *log.Logger
}

// NewPubSubTransport connects to projectID and ensures topicID exists,
// creating it if necessary (events.PubSubEventBus's pattern).
func NewPubSubTransport(ctx context.Context, projectID, topicID, subID string) (*PubSubTransport, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("wakebus: pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("wakebus: topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("wakebus: CreateTopic: %w", err)
		}
	}

	t := &PubSubTransport{
		client: client,
		topic:  topic,
		subID:  subID,
		logger: log.New(log.Writer(), "[WAKEBUS-PUBSUB] ", log.LstdFlags),
	}
	t.logger.Printf("✅ connected to Pub/Sub topic %s", topic.String())
	return t, nil
}

func (t *PubSubTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	result := t.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"channel": channel},
	})
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("wakebus: pubsub publish: %w", err)
	}
	return nil
}

// Subscribe pulls messages from the configured subscription and hands
// their payload to handler, acking on delivery. The returned unsubscribe
// function cancels the pull loop.
func (t *PubSubTransport) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := t.client.Subscription(t.subID)
	pullCtx, cancel := context.WithCancel(ctx)

	go func() {
		err := sub.Receive(pullCtx, func(_ context.Context, msg *pubsub.Message) {
			if msg.Attributes["channel"] != channel {
				msg.Nack()
				return
			}
			handler(msg.Data)
			msg.Ack()
		})
		if err != nil && pullCtx.Err() == nil {
			t.logger.Printf("❌ pubsub receive loop ended: %v", err)
		}
	}()

	return cancel, nil
}

// Close releases the Pub/Sub client.
func (t *PubSubTransport) Close() error {
	t.topic.Stop()
	return t.client.Close()
}

var _ Transport = (*PubSubTransport)(nil)
