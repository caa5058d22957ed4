package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/ethscore/internal/domain"
)

// New creates a new event bus based on configuration.
// "channel" keeps events in-process; "nats" and "kafka" fan out
// to other processes; "none" discards them.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "none":
		return NopBus{}, nil

	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

// NopBus drops every message. Subscriptions never fire.
type NopBus struct{}

func (NopBus) Publish(ctx context.Context, topic string, payload []byte) error { return nil }

func (NopBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nopSubscription(topic), nil
}

func (NopBus) Ping(ctx context.Context) error { return nil }

func (NopBus) Close() error { return nil }

type nopSubscription string

func (s nopSubscription) Unsubscribe() error { return nil }
func (s nopSubscription) Topic() string      { return string(s) }
