package domain

import (
	"context"
)

// EventBus defines the interface for prediction event fan-out.
// Supports Go channels, NATS or Kafka.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "none", "channel", "nats" or "kafka"
	Type string `json:"type"`

	// Channel settings
	ChannelBufferSize int `json:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `json:"natsUrl"`
	NATSToken         string `json:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait"` // seconds

	// Kafka settings
	KafkaBrokers []string `json:"kafkaBrokers"`
	KafkaGroupID string   `json:"kafkaGroupId"`
}

// Topic names for prediction events.
const (
	TopicPredictionScored = "ethscore.prediction.scored"
	TopicPredictionAlert  = "ethscore.prediction.alert"
)
