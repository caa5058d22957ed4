//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running ethscore.
//
// These tests exercise the complete prediction pipeline:
//
//	Request → Validate → Model → Classify → Response
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be running with a loaded model, for example:
//
//	ETHSCORE_MODEL_PATH=./trained_xgb_model.json go run ./cmd/ethscore
//
// Risk tiers:
//
// | Probability   | classification | is_fraud |
// |---------------|----------------|----------|
// | p < 0.5       | Low Risk       | false    |
// | 0.5 ≤ p < 0.55| Low Risk       | true     |
// | 0.55 ≤ p <0.85| Medium Risk    | true     |
// | p ≥ 0.85      | High Risk      | true     |
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("ETHSCORE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// PredictResponse is what POST /predict returns on success.
type PredictResponse struct {
	TxHash           any     `json:"tx_hash"`
	FraudProbability float64 `json:"fraud_probability"`
	IsFraud          bool    `json:"is_fraud"`
	Classification   string  `json:"classification"`
	Message          string  `json:"message"`
}

func features() map[string]any {
	return map[string]any{
		"Hour":                          14,
		"total_received":                300,
		"mean_value_received":           0.0,
		"time_diff_first_last_received": 200.0,
		"total_tx_sent":                 40,
		"total_tx_sent_unique":          16,
		"has_activity":                  1,
	}
}

func post(t *testing.T, config TestConfig, body any) (int, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/predict", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func predict(t *testing.T, config TestConfig, body map[string]any) PredictResponse {
	t.Helper()

	status, respBody := post(t, config, body)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(respBody))
	}

	var result PredictResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}
	return result
}

func expectedTier(p float64) string {
	switch {
	case p >= 0.85:
		return "High Risk"
	case p >= 0.55:
		return "Medium Risk"
	default:
		return "Low Risk"
	}
}

func TestPredict_TxHashEchoed(t *testing.T) {
	config := getTestConfig()

	body := features()
	body["tx_hash"] = "0xa536035bcf5c36976b989e025339f6cc0b3943bc60171de75a224d19ac80000d"

	result := predict(t, config, body)

	if result.TxHash != body["tx_hash"] {
		t.Errorf("Expected tx_hash echoed, got %v", result.TxHash)
	}
	if result.FraudProbability < 0 || result.FraudProbability > 1 {
		t.Errorf("Probability out of range: %v", result.FraudProbability)
	}
	if result.Classification != expectedTier(result.FraudProbability) {
		t.Errorf("Classification %q inconsistent with probability %.4f",
			result.Classification, result.FraudProbability)
	}
	if result.IsFraud != (result.FraudProbability >= 0.5) {
		t.Errorf("is_fraud %v inconsistent with probability %.4f",
			result.IsFraud, result.FraudProbability)
	}
	if result.Message == "" {
		t.Error("Expected a message")
	}
}

func TestPredict_TxHashNullWhenAbsent(t *testing.T) {
	config := getTestConfig()

	status, respBody := post(t, config, features())
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(respBody))
	}

	var raw map[string]any
	if err := json.Unmarshal(respBody, &raw); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	v, ok := raw["tx_hash"]
	if !ok || v != nil {
		t.Errorf("Expected tx_hash: null, got %v (present=%v)", v, ok)
	}
}

func TestPredict_Deterministic(t *testing.T) {
	config := getTestConfig()

	first := predict(t, config, features())
	for i := 0; i < 5; i++ {
		again := predict(t, config, features())
		if again != first {
			t.Fatalf("Same input gave different results: %+v vs %+v", first, again)
		}
	}
}

func TestPredict_MissingFeature(t *testing.T) {
	config := getTestConfig()

	body := features()
	delete(body, "has_activity")

	status, respBody := post(t, config, body)
	if status != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d: %s", status, string(respBody))
	}

	var result map[string]string
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if want := "Missing required features: ['has_activity']"; result["error"] != want {
		t.Errorf("Expected error %q, got %q", want, result["error"])
	}
}

func TestHealth(t *testing.T) {
	config := getTestConfig()

	resp, err := http.Get(config.BaseURL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
}
