package broker

import (
	"context"
	"testing"
	"time"
)

func TestRetryDelayCapsAtTwoSeconds(t *testing.T) {
	if got := retryDelay(1); got != 50*time.Millisecond {
		t.Fatalf("expected 50ms, got %v", got)
	}
	if got := retryDelay(10); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %v", got)
	}
	if got := retryDelay(1000); got != 2*time.Second {
		t.Fatalf("expected delay capped at 2s, got %v", got)
	}
}

func TestWithRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "op", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls)
	}
}

func TestWithRetryExhaustsAttemptsAndWrapsError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "op", func() error {
		calls++
		return errTestBoom
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != maxConnectAttempts {
		t.Fatalf("expected %d attempts, got %d", maxConnectAttempts, calls)
	}
	var netErr *NetworkError
	if !asNetworkError(err, &netErr) {
		t.Fatalf("expected a *NetworkError, got %T", err)
	}
}

func asNetworkError(err error, target **NetworkError) bool {
	ne, ok := err.(*NetworkError)
	if ok {
		*target = ne
	}
	return ok
}

var errTestBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestMemoryBrokerPublishInvokesSubscribedHandlers(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	var got Envelope
	handler := func(channel string, envelope Envelope) { got = envelope }

	if err := b.Subscribe(ctx, "token:price", handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Publish(ctx, "token:price", map[string]string{"symbol": "SOL"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Meta.Channel != "token:price" {
		t.Fatalf("expected envelope channel set, got %+v", got)
	}
}

func TestMemoryBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	calls := 0
	handler := func(channel string, envelope Envelope) { calls++ }

	b.Subscribe(ctx, "chan", handler)
	b.Unsubscribe(ctx, "chan", handler)
	b.Publish(ctx, "chan", nil)

	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d calls", calls)
	}
}

func TestMemoryBrokerHasSubscribers(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	has, _ := b.HasSubscribers(ctx, "chan")
	if has {
		t.Fatal("expected no subscribers initially")
	}

	b.Subscribe(ctx, "chan", func(string, Envelope) {})
	has, _ = b.HasSubscribers(ctx, "chan")
	if !has {
		t.Fatal("expected a subscriber after Subscribe")
	}
}

func TestMemoryBrokerShutdownRejectsFurtherUse(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Publish(ctx, "chan", nil); err != ErrShuttingDown {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}
