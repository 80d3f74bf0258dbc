package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker wraps two Redis connections — one logical publisher, one
// logical subscriber — matching the "two logical connections, same broker
// protocol" design: a single client can publish and subscribe, but keeping
// them separate means a burst of subscribe traffic can never starve a
// publish, and vice versa.
type RedisBroker struct {
	publisher  *redis.Client
	subscriber *redis.Client
	log        *slog.Logger

	mu   sync.Mutex
	subs map[string]*channelSub

	shuttingDown bool
}

type channelSub struct {
	pubsub   *redis.PubSub
	handlers []Handler
	cancel   context.CancelFunc
}

// NewRedisBroker parses redisURL and constructs both connections,
// retrying transient connect failures with min(n*50ms, 2000ms) up to 3
// attempts, matching internal/broker's retry contract.
func NewRedisBroker(ctx context.Context, redisURL string, log *slog.Logger) (*RedisBroker, error) {
	if log == nil {
		log = slog.Default()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("broker: invalid redis URL: %w", err)
	}

	publisher := redis.NewClient(opts)
	subscriber := redis.NewClient(opts)

	if err := withRetry(ctx, "connect publisher", func() error { return publisher.Ping(ctx).Err() }); err != nil {
		return nil, err
	}
	if err := withRetry(ctx, "connect subscriber", func() error { return subscriber.Ping(ctx).Err() }); err != nil {
		publisher.Close()
		return nil, err
	}

	return &RedisBroker{
		publisher:  publisher,
		subscriber: subscriber,
		log:        log,
		subs:       make(map[string]*channelSub),
	}, nil
}

// Publish wraps data in an Envelope and publishes it to channel, retrying
// transient failures.
func (b *RedisBroker) Publish(ctx context.Context, channel string, data any) error {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return ErrShuttingDown
	}
	b.mu.Unlock()

	envelope := Envelope{Meta: Meta{Timestamp: time.Now(), Channel: channel}, Payload: data}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("broker: marshal envelope for %q: %w", channel, err)
	}

	return withRetry(ctx, fmt.Sprintf("publish %q", channel), func() error {
		return b.publisher.Publish(ctx, channel, body).Err()
	})
}

// Subscribe registers handler for channel. On first subscription to a
// channel it issues a broker-level subscribe and starts a receive loop;
// subsequent subscriptions to the same channel only add the handler.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shuttingDown {
		return ErrShuttingDown
	}

	if sub, ok := b.subs[channel]; ok {
		sub.handlers = append(sub.handlers, handler)
		return nil
	}

	pubsub := b.subscriber.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return &NetworkError{Op: fmt.Sprintf("subscribe %q", channel), Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &channelSub{pubsub: pubsub, handlers: []Handler{handler}, cancel: cancel}
	b.subs[channel] = sub

	go b.receiveLoop(loopCtx, channel, sub)
	return nil
}

func (b *RedisBroker) receiveLoop(ctx context.Context, channel string, sub *channelSub) {
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				b.log.Warn("broker: dropping malformed message", "channel", channel, "error", err)
				continue
			}

			b.mu.Lock()
			handlers := append([]Handler(nil), sub.handlers...)
			b.mu.Unlock()

			for _, h := range handlers {
				b.invoke(h, channel, envelope)
			}
		}
	}
}

func (b *RedisBroker) invoke(h Handler, channel string, envelope Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("broker: subscriber handler panicked", "channel", channel, "panic", r)
		}
	}()
	h(channel, envelope)
}

// Unsubscribe removes handler from channel's handler list. Handler
// identity is compared by function pointer: callers must pass the same
// variable they originally subscribed with, not a freshly-built closure.
// If no handlers remain for the channel, the broker-level subscription is
// torn down.
func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[channel]
	if !ok {
		return nil
	}

	target := reflect.ValueOf(handler).Pointer()
	remaining := sub.handlers[:0]
	for _, h := range sub.handlers {
		if reflect.ValueOf(h).Pointer() != target {
			remaining = append(remaining, h)
		}
	}
	sub.handlers = remaining

	if len(sub.handlers) == 0 {
		sub.cancel()
		sub.pubsub.Close()
		delete(b.subs, channel)
	}
	return nil
}

// HasSubscribers reports whether channel currently has at least one
// subscriber anywhere on the broker (not just locally).
func (b *RedisBroker) HasSubscribers(ctx context.Context, channel string) (bool, error) {
	counts, err := b.publisher.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return false, &NetworkError{Op: fmt.Sprintf("numsub %q", channel), Err: err}
	}
	return counts[channel] > 0, nil
}

// Shutdown publishes a terminal system notice, waits briefly for it to
// propagate, then closes both connections.
func (b *RedisBroker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.shuttingDown = true
	for channel, sub := range b.subs {
		sub.cancel()
		sub.pubsub.Close()
		delete(b.subs, channel)
	}
	b.mu.Unlock()

	_ = b.publisher.Publish(ctx, "system:shutdown", `{"reason":"orchestrator shutdown"}`).Err()
	time.Sleep(200 * time.Millisecond)

	pubErr := b.publisher.Close()
	subErr := b.subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}
