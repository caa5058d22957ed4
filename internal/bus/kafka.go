package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/opensource-finance/ethscore/internal/domain"
)

// defaultKafkaGroupID is used when no consumer group is configured.
const defaultKafkaGroupID = "ethscore"

// KafkaBus implements EventBus on Kafka topics.
// Publish is synchronous and waits for broker acknowledgement.
type KafkaBus struct {
	mu            sync.Mutex
	brokers       []string
	groupID       string
	config        *sarama.Config
	client        sarama.Client
	producer      sarama.SyncProducer
	refresh       func() error
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

type kafkaSubscription struct {
	id     string
	topic  string
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	done   chan struct{}
	bus    *KafkaBus
}

// NewKafkaBus connects a sync producer to the configured brokers.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	brokers := make([]string, 0, len(cfg.KafkaBrokers))
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = defaultKafkaGroupID
	}

	sc := sarama.NewConfig()
	sc.ClientID = "ethscore"
	sc.Version = sarama.V2_1_0_0

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 200 * time.Millisecond
	// SyncProducer requires both.
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	slog.Info("kafka producer connected", "brokers", brokers, "group_id", groupID)

	return &KafkaBus{
		brokers:       brokers,
		groupID:       groupID,
		config:        sc,
		client:        client,
		producer:      producer,
		refresh:       func() error { return client.RefreshMetadata() },
		subscriptions: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish sends the message envelope to the Kafka topic of the same name.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	msg := newMessage(topic, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// SyncProducer takes no context; check before sending.
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(msg.ID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the configured consumer group for a topic.
// Messages are delivered on a background goroutine until Unsubscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	group, err := sarama.NewConsumerGroup(b.brokers, b.groupID, b.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		group:  group,
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}

	go sub.run(subCtx, &kafkaHandler{handler: handler})
	go func() {
		for err := range group.Errors() {
			slog.Error("kafka consumer error", "topic", topic, "error", err)
		}
	}()

	b.subscriptions[sub.id] = sub
	return sub, nil
}

// Ping refreshes cluster metadata on the bus's own client.
// It returns when ctx ends even if the brokers do not answer.
func (b *KafkaBus) Ping(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- b.refresh() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("kafka unreachable: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka ping: %w", ctx.Err())
	}
}

// Close stops all consumer groups and the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*kafkaSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	// The producer does not own the client.
	if err := b.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// run re-enters Consume after every rebalance until the context ends.
func (s *kafkaSubscription) run(ctx context.Context, h sarama.ConsumerGroupHandler) {
	defer close(s.done)
	for {
		if err := s.group.Consume(ctx, []string{s.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			slog.Error("kafka consume error", "topic", s.topic, "error", err)
			time.Sleep(300 * time.Millisecond)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	err := s.group.Close()
	<-s.done
	return err
}

// Unsubscribe leaves the consumer group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.stop()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

// kafkaHandler adapts a MessageHandler to sarama's group handler.
type kafkaHandler struct {
	handler domain.MessageHandler
}

var _ sarama.ConsumerGroupHandler = (*kafkaHandler)(nil)

func (h *kafkaHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for km := range claim.Messages() {
		var msg domain.Message
		if err := json.Unmarshal(km.Value, &msg); err != nil {
			slog.Error("failed to unmarshal kafka message",
				"topic", km.Topic,
				"partition", km.Partition,
				"offset", km.Offset,
				"error", err,
			)
			sess.MarkMessage(km, "")
			continue
		}

		if err := h.handler(sess.Context(), &msg); err != nil {
			slog.Error("handler error",
				"topic", km.Topic,
				"message_id", msg.ID,
				"error", err,
			)
		}
		sess.MarkMessage(km, "")
	}
	return nil
}
