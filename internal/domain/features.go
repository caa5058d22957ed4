// Package domain defines the core interfaces and types for ethscore.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Feature names in the order the classifier was trained on.
// Reordering this list silently corrupts predictions.
const (
	FeatureHour                      = "Hour"
	FeatureTotalReceived             = "total_received"
	FeatureMeanValueReceived         = "mean_value_received"
	FeatureTimeDiffFirstLastReceived = "time_diff_first_last_received"
	FeatureTotalTxSent               = "total_tx_sent"
	FeatureTotalTxSentUnique         = "total_tx_sent_unique"
	FeatureHasActivity               = "has_activity"
	NumFeatures                      = 7
	TxHashField                      = "tx_hash"
)

// FeatureNames is the fixed feature order.
var FeatureNames = [NumFeatures]string{
	FeatureHour,
	FeatureTotalReceived,
	FeatureMeanValueReceived,
	FeatureTimeDiffFirstLastReceived,
	FeatureTotalTxSent,
	FeatureTotalTxSentUnique,
	FeatureHasActivity,
}

// FeatureVector holds the 7 raw feature values in trained order.
// Values are kept as decoded from the request; conversion to numbers
// happens at the model boundary.
type FeatureVector [NumFeatures]any

// Get returns the raw value of a named feature.
func (v FeatureVector) Get(name string) (any, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return v[i], true
		}
	}
	return nil, false
}

// Floats converts the vector into model input.
// JSON null becomes NaN (missing); booleans become 0/1.
func (v FeatureVector) Floats() ([]float64, error) {
	out := make([]float64, NumFeatures)
	for i, raw := range v {
		f, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", FeatureNames[i], err)
		}
		out[i] = f
	}
	return out, nil
}

// Map returns the vector as a name-keyed map.
func (v FeatureVector) Map() map[string]any {
	m := make(map[string]any, NumFeatures)
	for i, n := range FeatureNames {
		m[n] = v[i]
	}
	return m
}

func toFloat(raw any) (float64, error) {
	switch x := raw.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return f, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", raw)
	}
}

// MissingFeaturesError lists every required feature absent from a request.
type MissingFeaturesError struct {
	Missing []string
}

func (e *MissingFeaturesError) Error() string {
	quoted := make([]string, len(e.Missing))
	for i, name := range e.Missing {
		quoted[i] = "'" + name + "'"
	}
	return "Missing required features: [" + strings.Join(quoted, ", ") + "]"
}
