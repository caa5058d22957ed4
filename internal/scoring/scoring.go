// Package scoring turns raw prediction requests into risk classifications.
// It validates features, invokes the injected model once per request and
// maps the fraud probability onto the risk tiers.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ethscore-scoring")

// Validation is the outcome of validate: either a complete feature vector
// or the list of missing feature names.
type Validation struct {
	TxHash   any
	Features domain.FeatureVector
	Missing  []string
}

// OK reports whether every required feature was present.
func (v Validation) OK() bool {
	return len(v.Missing) == 0
}

// Err returns a *domain.MissingFeaturesError, or nil when valid.
func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return &domain.MissingFeaturesError{Missing: v.Missing}
}

// Validate checks that all required features are present.
// Values are not type-checked; tx_hash is optional metadata.
// The input map is not modified.
func Validate(raw map[string]any) Validation {
	var v Validation
	v.TxHash = raw[domain.TxHashField]

	for i, name := range domain.FeatureNames {
		val, ok := raw[name]
		if !ok {
			v.Missing = append(v.Missing, name)
			continue
		}
		v.Features[i] = val
	}

	if !v.OK() {
		v.Features = domain.FeatureVector{}
	}
	return v
}

// Classify maps a probability onto the risk tiers. is_fraud uses its own
// cut point and is independent of the tier.
func Classify(probability float64) domain.ScoreResult {
	result := domain.ScoreResult{
		FraudProbability: probability,
		IsFraud:          probability >= domain.FraudThreshold,
	}

	switch {
	case probability >= domain.HighRiskThreshold:
		result.Classification = domain.ClassificationHigh
		result.Message = domain.MessageHighRisk
	case probability >= domain.MediumRiskThreshold:
		result.Classification = domain.ClassificationMedium
		result.Message = domain.MessageMediumRisk
	default:
		result.Classification = domain.ClassificationLow
		result.Message = domain.MessageLowRisk
	}

	return result
}

// ScoringError wraps a model failure. It is never masked.
type ScoringError struct {
	Err error
}

func (e *ScoringError) Error() string {
	return "scoring failed: " + e.Err.Error()
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

// Prediction is the successful response for one transaction.
type Prediction struct {
	TxHash any `json:"tx_hash"`
	domain.ScoreResult
}

// Service scores feature vectors against an injected, read-only model.
type Service struct {
	model domain.Model
}

// NewService creates a scoring service around a loaded model.
func NewService(model domain.Model) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	return &Service{model: model}, nil
}

// Model returns the model handle.
func (s *Service) Model() domain.Model {
	return s.model
}

// Score invokes the model exactly once and returns the fraud probability.
func (s *Service) Score(ctx context.Context, features domain.FeatureVector) (float64, error) {
	info := s.model.Info()
	ctx, span := tracer.Start(ctx, "model.predict_proba",
		trace.WithAttributes(
			attribute.String("model.name", info.Name),
			attribute.String("model.version", info.Version),
			attribute.String("model.format", info.Format),
		),
	)
	defer span.End()

	start := time.Now()
	probs, err := s.model.PredictProba(ctx, []domain.FeatureVector{features})
	if err == nil && len(probs) != 1 {
		err = fmt.Errorf("model returned %d probabilities for 1 row", len(probs))
	}
	if err == nil && (probs[0] < 0 || probs[0] > 1 || probs[0] != probs[0]) {
		err = fmt.Errorf("model returned probability %v outside [0,1]", probs[0])
	}
	metrics.ObserveInference(time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "predict_proba failed")
		return 0, &ScoringError{Err: err}
	}

	span.SetAttributes(attribute.Float64("fraud.probability", probs[0]))
	return probs[0], nil
}

// Predict runs validate, score and classify for one raw request body.
// Missing features yield *domain.MissingFeaturesError; model failures
// yield *ScoringError.
func (s *Service) Predict(ctx context.Context, raw map[string]any) (*Prediction, error) {
	v := Validate(raw)
	if !v.OK() {
		metrics.ValidationFailuresTotal.Inc()
		return nil, v.Err()
	}

	probability, err := s.Score(ctx, v.Features)
	if err != nil {
		return nil, err
	}

	result := Classify(probability)
	metrics.PredictionsTotal.WithLabelValues(string(result.Classification)).Inc()
	metrics.FraudProbability.Observe(probability)

	return &Prediction{
		TxHash:      v.TxHash,
		ScoreResult: result,
	}, nil
}

// IsValidationError reports whether err came from missing features.
func IsValidationError(err error) bool {
	var missing *domain.MissingFeaturesError
	return errors.As(err, &missing)
}
