// Package wakebus carries user_message frames from the client that
// received them to the session's other registered async clients (spec
// §4.6 Wake Bus).
//
// Grounded on fabric.EventBus (in-process pub/sub interface +
// LocalEventBus fan-out) layered with fabric.RedisEventBus's cross-pod
// Redis Pub/Sub design — without a transport, Publish fans out locally;
// with one bound, local subscribers receive frames through the
// transport's own subscription, and a publish failure falls back to
// local-only delivery.
package wakebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/proliferate/automation-core/internal/ids"
)

// Frame is the wake-bus message shape (spec §4.6 Protocol).
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Source    string `json:"source"`
	Content   string `json:"content"`
	UserID    string `json:"userId"`
}

const FrameTypeUserMessage = "user_message"

// Handler processes one frame.
type Handler func(ctx context.Context, frame Frame)

// Transport is the cross-process fan-out a Bus may be layered over
// (Redis Pub/Sub in production). Publish failures fall back to
// local-only delivery (spec Design Notes, grounded on
// fabric.RedisEventBus.Publish).
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

const channelName = "session-events"

// Bus is the process-wide wake-bus: in-memory fan-out to local
// subscribers, optionally layered over a cross-process Transport.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]Handler
	transport Transport
	unsub     func()
	logger    *log.Logger
}

// NewBus creates a local-only bus. Use WithTransport to layer Redis (or
// any other cross-process) delivery on top.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string]Handler),
		logger: log.New(log.Writer(), "[WAKEBUS] ", log.LstdFlags),
	}
}

// WithTransport subscribes to the cross-process transport so remote
// publishes are delivered to local subscribers too, and binds the
// transport for outgoing Publish calls.
func (b *Bus) WithTransport(ctx context.Context, t Transport) error {
	unsub, err := t.Subscribe(ctx, channelName, func(data []byte) {
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Printf("⚠️ failed to unmarshal wake frame: %v", err)
			return
		}
		b.deliverLocal(ctx, frame)
	})
	if err != nil {
		return fmt.Errorf("wakebus: subscribe transport: %w", err)
	}
	b.mu.Lock()
	b.transport = t
	b.unsub = unsub
	b.mu.Unlock()
	return nil
}

// Subscribe registers a handler for every frame delivered to the bus,
// local or cross-process. Returns an unsubscribe function.
func (b *Bus) Subscribe(id string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == "" {
		id = ids.NewUUID()
	}
	b.subs[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers a frame to every local subscriber, and — if a
// transport is bound — to every other process's subscribers too. A
// transport publish failure falls back to local-only delivery rather
// than dropping the frame (spec §4.6: "at-least-once delivery").
func (b *Bus) Publish(ctx context.Context, frame Frame) {
	if frame.Type != FrameTypeUserMessage {
		// spec §4.6 step 2: "Ignores non-user_message types."
		return
	}

	b.mu.RLock()
	transport := b.transport
	b.mu.RUnlock()

	if transport != nil {
		data, err := json.Marshal(frame)
		if err == nil {
			if err := transport.Publish(ctx, channelName, data); err != nil {
				b.logger.Printf("⚠️ transport publish failed, falling back to local: %v", err)
				b.deliverLocal(ctx, frame)
			}
			return
		}
		b.logger.Printf("⚠️ failed to marshal wake frame: %v", err)
	}

	b.deliverLocal(ctx, frame)
}

func (b *Bus) deliverLocal(ctx context.Context, frame Frame) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(ctx, frame)
	}
}

// Close unsubscribes from the transport, if bound.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub != nil {
		b.unsub()
	}
	b.subs = nil
	return nil
}
