// Package model loads trained classifier artifacts into immutable,
// concurrency-safe scoring handles.
package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/ethscore/internal/domain"
)

// ErrUnsupportedFormat is returned for artifacts this service cannot score.
var ErrUnsupportedFormat = errors.New("unsupported model format")

// Load builds a model handle from an artifact.
// An empty format is detected from the payload.
func Load(artifact *domain.Artifact) (domain.Model, error) {
	if artifact == nil || len(artifact.Payload) == 0 {
		return nil, fmt.Errorf("model artifact is empty")
	}

	if artifact.SHA256 == "" {
		artifact.SHA256 = Digest(artifact.Payload)
	}

	format := artifact.Format
	if format == "" {
		detected, err := DetectFormat(artifact.Payload)
		if err != nil {
			return nil, err
		}
		format = detected
		artifact.Format = detected
	}

	switch format {
	case domain.FormatXGBoostJSON:
		return LoadXGBoost(artifact)
	case domain.FormatCEL:
		return LoadCEL(artifact)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// DetectFormat inspects the top-level keys of a JSON payload.
func DetectFormat(payload []byte) (string, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(payload), &probe); err != nil {
		return "", fmt.Errorf("%w: payload is not a JSON object", ErrUnsupportedFormat)
	}

	if _, ok := probe["learner"]; ok {
		return domain.FormatXGBoostJSON, nil
	}
	if _, ok := probe["expression"]; ok {
		return domain.FormatCEL, nil
	}

	return "", fmt.Errorf("%w: cannot detect format", ErrUnsupportedFormat)
}

// Digest returns the hex SHA-256 of an artifact payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
