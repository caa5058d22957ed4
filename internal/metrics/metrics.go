// Package metrics provides Prometheus instrumentation for ethscore.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethscore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ethscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PredictionsTotal counts classified predictions by tier.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethscore",
			Name:      "predictions_total",
			Help:      "Total predictions by classification.",
		},
		[]string{"classification"},
	)

	// ValidationFailuresTotal counts requests rejected for missing features.
	ValidationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ethscore",
		Name:      "validation_failures_total",
		Help:      "Total requests rejected for missing features.",
	})

	// ScoringErrorsTotal counts model invocations that failed.
	ScoringErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ethscore",
		Name:      "scoring_errors_total",
		Help:      "Total model invocations that returned an error.",
	})

	// InferenceDuration observes model latency.
	InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ethscore",
		Name:      "inference_duration_seconds",
		Help:      "Model predict-probability latency in seconds.",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})

	// FraudProbability observes the distribution of returned probabilities.
	FraudProbability = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ethscore",
		Name:      "fraud_probability",
		Help:      "Distribution of fraud probabilities returned by the model.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.55, 0.6, 0.7, 0.8, 0.85, 0.9, 1},
	})

	// EventsPublishedTotal counts prediction events by topic and result.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ethscore",
			Name:      "events_published_total",
			Help:      "Total prediction events published by topic and result.",
		},
		[]string{"topic", "result"},
	)

	// AlertsConsumedTotal counts high risk alerts handled by the alert worker.
	AlertsConsumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ethscore",
		Name:      "alerts_consumed_total",
		Help:      "Total high risk alerts consumed by the alert worker.",
	})

	// ModelInfo exposes the loaded artifact as labels.
	ModelInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ethscore",
			Name:      "model_info",
			Help:      "Loaded model artifact; value is always 1.",
		},
		[]string{"name", "version", "format"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PredictionsTotal,
		ValidationFailuresTotal,
		ScoringErrorsTotal,
		InferenceDuration,
		FraudProbability,
		EventsPublishedTotal,
		AlertsConsumedTotal,
		ModelInfo,
	)
}

// Middleware records request metrics keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		// Route pattern, not the raw path, to bound label cardinality
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(rw.status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveInference records one model invocation.
func ObserveInference(d time.Duration, err error) {
	InferenceDuration.Observe(d.Seconds())
	if err != nil {
		ScoringErrorsTotal.Inc()
	}
}

// SetModelInfo publishes the loaded model's identity.
func SetModelInfo(name, version, format string) {
	ModelInfo.Reset()
	ModelInfo.WithLabelValues(name, version, format).Set(1)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusBucket groups HTTP status codes into classes (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
