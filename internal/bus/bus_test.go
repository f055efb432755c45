package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sagarrgarg/material-price-control/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()

	var mu sync.Mutex
	var received []*domain.Message

	sub, err := b.Subscribe(ctx, domain.TopicAnomalyLogged, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if sub.Topic() != domain.TopicAnomalyLogged {
		t.Errorf("Topic() = %q", sub.Topic())
	}

	if err := b.Publish(ctx, domain.TopicAnomalyLogged, []byte(`{"itemCode":"WIDGET"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Delivery is asynchronous.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0].Topic != domain.TopicAnomalyLogged {
		t.Errorf("topic = %q", received[0].Topic)
	}
	if string(received[0].Payload) != `{"itemCode":"WIDGET"}` {
		t.Errorf("payload = %q", received[0].Payload)
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	_, err := b.Subscribe(ctx, domain.TopicScanCompleted, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(ctx, domain.TopicTransactionBlocked, []byte("x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("subscriber received %d messages from a different topic", count)
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping on open bus failed: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Publish(ctx, domain.TopicAnomalyLogged, []byte("x")); err == nil {
		t.Error("expected error publishing to closed bus")
	}
	if _, err := b.Subscribe(ctx, domain.TopicAnomalyLogged, nil); err == nil {
		t.Error("expected error subscribing to closed bus")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping failure on closed bus")
	}

	// Closing twice is fine.
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestNewBusConfig(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b.Close()

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
