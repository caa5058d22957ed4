package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/events"
	"github.com/opensource-finance/ethscore/internal/scoring"
)

const (
	// maxBodyBytes bounds a prediction request body.
	maxBodyBytes = 1 << 20

	// healthCheckTimeout bounds each dependency probe in /health.
	healthCheckTimeout = 2 * time.Second
)

var (
	errInvalidJSON = errors.New("invalid JSON request body")
	errInternal    = errors.New("internal server error")
)

// HealthCheck is a named dependency probed by /health.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer    *scoring.Service
	publisher *events.Publisher
	checks    []HealthCheck
	version   string
}

// NewHandler creates a new API handler. publisher may be nil.
func NewHandler(scorer *scoring.Service, publisher *events.Publisher, version string, checks ...HealthCheck) *Handler {
	return &Handler{
		scorer:    scorer,
		publisher: publisher,
		checks:    checks,
		version:   version,
	}
}

// Predict handles POST /predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := GetRequestID(ctx)

	raw, err := decodeObject(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(errInvalidJSON))
		return
	}

	pred, err := h.scorer.Predict(ctx, raw)
	if err != nil {
		var missing *domain.MissingFeaturesError
		if errors.As(err, &missing) {
			slog.Debug("prediction rejected",
				"missing", missing.Missing,
				"request_id", requestID,
			)
			writeJSON(w, http.StatusBadRequest, errorBody(missing))
			return
		}

		// Model failures are surfaced to operators with the real cause
		slog.Error("prediction failed",
			"error", err,
			"tx_hash", raw[domain.TxHashField],
			"request_id", requestID,
		)
		writeJSON(w, http.StatusInternalServerError, errorBody(errInternal))
		return
	}

	writeJSON(w, http.StatusOK, pred)

	h.publisher.Publish(ctx, pred, requestID)
}

// decodeObject reads the body as a JSON object. Numbers are kept as
// json.Number until the model boundary.
func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errInvalidJSON
	}
	// The body must hold exactly one JSON value.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errInvalidJSON
	}
	return raw, nil
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Model   domain.ModelInfo  `json:"model"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health returns server health status and the loaded model identity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
	}
	if h.scorer != nil {
		resp.Model = h.scorer.Model().Info()
	}

	for _, check := range h.checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(h.checks))
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			slog.Warn("health check failed", "check", check.Name, "error", err)
			resp.Checks[check.Name] = "down"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[check.Name] = "up"
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
// The model is loaded before the server starts, so a running server is ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.scorer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
