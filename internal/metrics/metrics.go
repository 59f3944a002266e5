// Package metrics provides Prometheus instrumentation for fraudscore.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path pattern, and status bucket.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PredictionsTotal counts successful predictions by label.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscore",
			Name:      "predictions_total",
			Help:      "Total predictions by predicted label.",
		},
		[]string{"label"},
	)

	// PredictionProbability observes the fraud probability of each prediction.
	PredictionProbability = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudscore",
			Name:      "prediction_probability",
			Help:      "Distribution of predicted fraud probabilities.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	// ScoringDuration observes model evaluation latency by operation (predict, explain).
	ScoringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudscore",
			Name:      "scoring_duration_seconds",
			Help:      "Model evaluation duration in seconds.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"operation"},
	)

	// ScoringErrorsTotal counts rejected or failed scoring calls by operation and error kind.
	ScoringErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscore",
			Name:      "scoring_errors_total",
			Help:      "Total scoring failures by operation and error kind.",
		},
		[]string{"operation", "kind"},
	)

	// DatasetLoadDuration observes how long the analytics dataset takes to load.
	DatasetLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudscore",
			Name:      "dataset_load_duration_seconds",
			Help:      "Transaction dataset load duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// DatasetRows tracks the row count of the most recent dataset load.
	DatasetRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudscore",
			Name:      "dataset_rows",
			Help:      "Rows returned by the most recent dataset load.",
		},
	)

	// EventsPublishedTotal counts prediction events by publish result.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudscore",
			Name:      "events_published_total",
			Help:      "Total prediction events by publish result.",
		},
		[]string{"result"},
	)

	// ModelInfo is 1 for the loaded artifact, labelled with its id.
	ModelInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fraudscore",
			Name:      "model_info",
			Help:      "Loaded model artifact.",
		},
		[]string{"model_id", "decision"},
	)

	// ModelFeatures tracks the number of input features of the loaded artifact.
	ModelFeatures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudscore",
			Name:      "model_features",
			Help:      "Number of input features expected by the loaded model.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PredictionsTotal,
		PredictionProbability,
		ScoringDuration,
		ScoringErrorsTotal,
		DatasetLoadDuration,
		DatasetRows,
		EventsPublishedTotal,
		ModelInfo,
		ModelFeatures,
	)
}

// ObserveRequest records one served HTTP request. path must be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, statusBucket(status)).Inc()
}

// SetModel publishes the loaded artifact's identity.
func SetModel(id, decision string, features int) {
	ModelInfo.Reset()
	ModelInfo.WithLabelValues(id, decision).Set(1)
	ModelFeatures.Set(float64(features))
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
