package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/common/logger"
)

func TestMemoryEventBusDeliversExactSubjectMatch(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	received := false
	sub, err := b.Subscribe("session.warning", func(ctx context.Context, e *Event) error {
		mu.Lock()
		received = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(context.Background(), "session.warning", NewEvent("sessionWarning", "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		r := received
		mu.Unlock()
		if r {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the handler to be invoked for an exact subject match")
}

func TestMemoryEventBusWildcardMatch(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	count := 0
	sub, err := b.Subscribe("session.*", func(ctx context.Context, e *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	b.Publish(context.Background(), "session.warning", NewEvent("sessionWarning", "test", nil))
	b.Publish(context.Background(), "session.expired", NewEvent("sessionExpired", "test", nil))
	b.Publish(context.Background(), "other.thing", NewEvent("other", "test", nil))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		c := count
		mu.Unlock()
		if c == 2 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected exactly 2 deliveries for session.* (got some count < 2)")
}

func TestMemoryEventBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	count := 0
	sub, err := b.Subscribe("x.y", func(ctx context.Context, e *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Unsubscribe()
	if sub.IsValid() {
		t.Fatal("expected IsValid=false after Unsubscribe")
	}

	b.Publish(context.Background(), "x.y", NewEvent("x", "test", nil))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestMemoryEventBusPublishAfterCloseErrors(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	b.Close()

	if err := b.Publish(context.Background(), "x.y", NewEvent("x", "test", nil)); err == nil {
		t.Fatal("expected Publish to error once the bus is closed")
	}
	if b.IsConnected() {
		t.Fatal("expected IsConnected=false once closed")
	}
}

func TestMemoryEventBusQueueSubscribeLoadBalances(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"w1", "w2"} {
		n := name
		sub, err := b.QueueSubscribe("work", "workers", func(ctx context.Context, e *Event) error {
			mu.Lock()
			counts[n]++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("queue subscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), "work", NewEvent("work", "test", nil))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		total := counts["w1"] + counts["w2"]
		mu.Unlock()
		if total == 10 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts["w1"]+counts["w2"] != 10 {
		t.Fatalf("expected all 10 events delivered exactly once across the queue group, got %+v", counts)
	}
}
