package domain

import (
	"time"
)

// Classification is the human-readable risk tier.
type Classification string

const (
	ClassificationLow    Classification = "Low Risk"
	ClassificationMedium Classification = "Medium Risk"
	ClassificationHigh   Classification = "High Risk"
)

// Thresholds for the decision policy. Lower bounds are inclusive.
// FraudThreshold and MediumRiskThreshold are distinct cut points.
const (
	FraudThreshold      = 0.5
	MediumRiskThreshold = 0.55
	HighRiskThreshold   = 0.85
)

// Actionable messages per tier.
const (
	MessageLowRisk    = "Transaction appears normal. No strong fraud signals detected."
	MessageMediumRisk = "Transaction shows moderate suspicious activity. Monitor closely."
	MessageHighRisk   = "Transaction shows very strong fraud indicators. Immediate action recommended."
)

// ScoreResult is derived from a fraud probability. It is never persisted.
type ScoreResult struct {
	FraudProbability float64        `json:"fraud_probability"`
	IsFraud          bool           `json:"is_fraud"`
	Classification   Classification `json:"classification"`
	Message          string         `json:"message"`
}

// PredictionEvent is published after a prediction has been computed.
type PredictionEvent struct {
	TxHash           any            `json:"tx_hash"`
	FraudProbability float64        `json:"fraud_probability"`
	IsFraud          bool           `json:"is_fraud"`
	Classification   Classification `json:"classification"`
	ModelName        string         `json:"model_name"`
	ModelVersion     string         `json:"model_version"`
	RequestID        string         `json:"request_id,omitempty"`
	ScoredAt         time.Time      `json:"scored_at"`
}
