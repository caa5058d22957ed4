// Package events publishes prediction events onto the event bus.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/metrics"
	"github.com/opensource-finance/ethscore/internal/scoring"
)

const (
	// DefaultQueueSize bounds events waiting for the bus.
	DefaultQueueSize = 1024

	// DefaultSendTimeout bounds a single bus publish.
	DefaultSendTimeout = 2 * time.Second
)

type pending struct {
	payload   []byte
	requestID string
	alert     bool
}

// Publisher fans prediction results out to downstream consumers.
// Publish only enqueues; a background goroutine drains the queue onto the
// bus. A full queue drops the event. Failures are logged and counted but
// never returned to the caller.
type Publisher struct {
	bus     domain.EventBus
	info    domain.ModelInfo
	now     func() time.Time
	timeout time.Duration

	mu     sync.RWMutex
	queue  chan pending
	closed bool
	done   chan struct{}
}

// NewPublisher creates a publisher stamping events with the model identity
// and starts its drain goroutine. Call Close to flush and stop it.
func NewPublisher(bus domain.EventBus, info domain.ModelInfo) *Publisher {
	return newPublisher(bus, info, DefaultQueueSize, DefaultSendTimeout)
}

func newPublisher(bus domain.EventBus, info domain.ModelInfo, queueSize int, timeout time.Duration) *Publisher {
	p := &Publisher{
		bus:     bus,
		info:    info,
		now:     time.Now,
		timeout: timeout,
		queue:   make(chan pending, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Event builds the bus payload for a prediction.
func (p *Publisher) Event(pred *scoring.Prediction, requestID string) domain.PredictionEvent {
	return domain.PredictionEvent{
		TxHash:           pred.TxHash,
		FraudProbability: pred.FraudProbability,
		IsFraud:          pred.IsFraud,
		Classification:   pred.Classification,
		ModelName:        p.info.Name,
		ModelVersion:     p.info.Version,
		RequestID:        requestID,
		ScoredAt:         p.now().UTC(),
	}
}

// Publish queues prediction.scored and, for High Risk, prediction.alert.
// It never blocks on the bus.
func (p *Publisher) Publish(ctx context.Context, pred *scoring.Prediction, requestID string) {
	if p == nil || p.bus == nil || pred == nil {
		return
	}

	payload, err := json.Marshal(p.Event(pred, requestID))
	if err != nil {
		slog.Error("failed to marshal prediction event",
			"request_id", requestID,
			"error", err,
		)
		return
	}

	ev := pending{
		payload:   payload,
		requestID: requestID,
		alert:     pred.Classification == domain.ClassificationHigh,
	}

	// Read lock keeps Close from closing the queue mid-send.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(ev, "publisher closed")
		return
	}

	select {
	case p.queue <- ev:
	default:
		p.drop(ev, "event queue full")
	}
}

// Close stops accepting events and waits until queued ones are sent.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	<-p.done
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)

	for ev := range p.queue {
		p.send(domain.TopicPredictionScored, ev)
		if ev.alert {
			p.send(domain.TopicPredictionAlert, ev)
		}
	}
}

func (p *Publisher) send(topic string, ev pending) {
	// Detached from the request: the response has already gone out.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.bus.Publish(ctx, topic, ev.payload); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(topic, "error").Inc()
		slog.Warn("failed to publish prediction event",
			"topic", topic,
			"request_id", ev.requestID,
			"error", err,
		)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(topic, "ok").Inc()
}

func (p *Publisher) drop(ev pending, reason string) {
	metrics.EventsPublishedTotal.WithLabelValues(domain.TopicPredictionScored, "dropped").Inc()
	if ev.alert {
		metrics.EventsPublishedTotal.WithLabelValues(domain.TopicPredictionAlert, "dropped").Inc()
	}
	slog.Warn("dropping prediction event",
		"reason", reason,
		"request_id", ev.requestID,
	)
}
