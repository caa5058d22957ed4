package domain

import (
	"context"
	"time"
)

// Model is a loaded, immutable binary classifier.
// Implementations must be safe for concurrent PredictProba calls.
type Model interface {
	// PredictProba returns the positive-class probability for each row.
	PredictProba(ctx context.Context, rows []FeatureVector) ([]float64, error)

	// Info describes the loaded artifact.
	Info() ModelInfo
}

// ModelInfo describes a loaded model.
type ModelInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Format      string `json:"format"`
	NumFeatures int    `json:"numFeatures"`
	NumTrees    int    `json:"numTrees,omitempty"`
	Objective   string `json:"objective,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
}

// Artifact formats.
const (
	FormatXGBoostJSON = "xgboost-json"
	FormatCEL         = "cel"
)

// Artifact is a serialized classifier as stored by the training job.
type Artifact struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Format    string    `json:"format"`
	Payload   []byte    `json:"payload"`
	SHA256    string    `json:"sha256,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ArtifactStore resolves a configured storage location into an artifact.
type ArtifactStore interface {
	Fetch(ctx context.Context) (*Artifact, error)
	Close() error
}
