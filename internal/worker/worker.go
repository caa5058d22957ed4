// Package worker consumes prediction events asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/metrics"
)

// AlertHandler is invoked for every decoded High Risk event.
type AlertHandler func(ctx context.Context, ev *domain.PredictionEvent) error

// AlertWorker subscribes to prediction.alert and surfaces each alert.
type AlertWorker struct {
	bus     domain.EventBus
	handler AlertHandler

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewAlertWorker creates an alert worker. A nil handler only logs.
func NewAlertWorker(bus domain.EventBus, handler AlertHandler) *AlertWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &AlertWorker{
		bus:     bus,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the alert topic.
func (w *AlertWorker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicPredictionAlert, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("alert worker started", "topic", domain.TopicPredictionAlert)
	return nil
}

func (w *AlertWorker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ev domain.PredictionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse prediction alert",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	metrics.AlertsConsumedTotal.Inc()
	slog.Warn("high risk transaction",
		"tx_hash", ev.TxHash,
		"fraud_probability", ev.FraudProbability,
		"classification", ev.Classification,
		"model_name", ev.ModelName,
		"model_version", ev.ModelVersion,
		"request_id", ev.RequestID,
	)

	if w.handler != nil {
		return w.handler(ctx, &ev)
	}
	return nil
}

// Stop gracefully stops the worker.
func (w *AlertWorker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("alert worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *AlertWorker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
