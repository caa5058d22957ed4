package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/ethscore/internal/domain"
)

func waitGroup(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicPredictionScored, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicPredictionScored, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitGroup(t, &wg, time.Second)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicPredictionScored {
			t.Errorf("expected topic %s, got %s", domain.TopicPredictionScored, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" || receivedMsg.Timestamp == 0 {
			t.Error("expected message envelope to carry ID and timestamp")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var scored, alerts atomic.Int32

		bus.Subscribe(ctx, "isolation.scored", func(ctx context.Context, msg *domain.Message) error {
			scored.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "isolation.alert", func(ctx context.Context, msg *domain.Message) error {
			alerts.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.scored", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if scored.Load() != 1 {
			t.Errorf("scored subscriber should receive 1 message, got %d", scored.Load())
		}
		if alerts.Load() != 0 {
			t.Errorf("alert subscriber should receive 0 messages, got %d", alerts.Load())
		}
	})

	t.Run("RequiresTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, "", []byte("data")); err == nil {
			t.Error("expected error for empty topic")
		}

		_, err := bus.Subscribe(ctx, "", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty topic")
		}
	})

	t.Run("PublishWithoutSubscribers", func(t *testing.T) {
		if err := bus.Publish(ctx, "nobody.listens", []byte("data")); err != nil {
			t.Errorf("publish without subscribers should succeed: %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, domain.TopicPredictionAlert, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != domain.TopicPredictionAlert {
			t.Errorf("expected topic %q, got %q", domain.TopicPredictionAlert, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		for _, typ := range []string{"", "none"} {
			bus, err := New(domain.EventBusConfig{Type: typ})
			if err != nil {
				t.Fatalf("New(%q) failed: %v", typ, err)
			}
			if _, ok := bus.(NopBus); !ok {
				t.Errorf("expected NopBus for %q", typ)
			}
			if err := bus.Publish(context.Background(), "any", nil); err != nil {
				t.Errorf("NopBus publish should succeed: %v", err)
			}
		}
	})

	t.Run("KafkaWithoutBrokers", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for kafka without brokers")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "amqp"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	waitGroup(t, &wg, 5*time.Second)

	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func TestKafkaPing(t *testing.T) {
	t.Run("Reachable", func(t *testing.T) {
		b := &KafkaBus{refresh: func() error { return nil }}
		if err := b.Ping(context.Background()); err != nil {
			t.Errorf("expected healthy ping, got %v", err)
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		b := &KafkaBus{refresh: func() error { return cause }}
		if err := b.Ping(context.Background()); !errors.Is(err, cause) {
			t.Errorf("expected wrapped cause, got %v", err)
		}
	})

	t.Run("BoundedByContext", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		b := &KafkaBus{refresh: func() error {
			<-block
			return nil
		}}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := b.Ping(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("ping blocked for %s", elapsed)
		}
	})
}
