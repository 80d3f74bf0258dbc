package broker

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker implementation with no network
// dependency, useful for tests and single-process development — the
// broker-layer counterpart to settingsstore's MemoryStore.
type MemoryBroker struct {
	mu           sync.Mutex
	subs         map[string][]Handler
	shuttingDown bool
}

// NewMemoryBroker constructs an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]Handler)}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, data any) error {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return ErrShuttingDown
	}
	handlers := append([]Handler(nil), b.subs[channel]...)
	b.mu.Unlock()

	envelope := Envelope{Meta: Meta{Timestamp: time.Now(), Channel: channel}, Payload: data}
	for _, h := range handlers {
		h(channel, envelope)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shuttingDown {
		return ErrShuttingDown
	}
	b.subs[channel] = append(b.subs[channel], handler)
	return nil
}

func (b *MemoryBroker) Unsubscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.subs[channel]
	if !ok {
		return nil
	}
	target := reflect.ValueOf(handler).Pointer()
	remaining := handlers[:0]
	for _, h := range handlers {
		if reflect.ValueOf(h).Pointer() != target {
			remaining = append(remaining, h)
		}
	}
	if len(remaining) == 0 {
		delete(b.subs, channel)
	} else {
		b.subs[channel] = remaining
	}
	return nil
}

func (b *MemoryBroker) HasSubscribers(ctx context.Context, channel string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel]) > 0, nil
}

func (b *MemoryBroker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shuttingDown = true
	b.subs = make(map[string][]Handler)
	return nil
}
