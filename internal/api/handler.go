package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/fraudscore/internal/analytics"
	"github.com/opensource-finance/fraudscore/internal/domain"
	"github.com/opensource-finance/fraudscore/internal/metrics"
	"github.com/opensource-finance/fraudscore/internal/scoring"
)

// maxBodyBytes bounds /predict and /explain payloads.
const maxBodyBytes = 1 << 20

// WelcomeMessage is served on GET /.
const WelcomeMessage = "Welcome to the Fraud Detection API!"

// Handler holds dependencies for API handlers.
type Handler struct {
	scoring *scoring.Service
	dataset domain.DatasetSource
	bus     domain.EventBus
	version string
	started time.Time
}

// NewHandler creates a new API handler. dataset and bus may be nil.
func NewHandler(svc *scoring.Service, dataset domain.DatasetSource, bus domain.EventBus, version string) *Handler {
	return &Handler{
		scoring: svc,
		dataset: dataset,
		bus:     bus,
		version: version,
		started: time.Now(),
	}
}

// Home handles GET /.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, WelcomeMessage)
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	pred, err := h.scoring.Predict(r.Context(), body)
	if err != nil {
		h.logFailure(r, "prediction rejected", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// Explain handles POST /explain.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	attr, err := h.scoring.Explain(r.Context(), body)
	if err != nil {
		h.logFailure(r, "explanation rejected", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attr)
}

// SummaryStatistics handles GET /api/summary_statistics.
func (h *Handler) SummaryStatistics(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.loadDataset(w, r)
	if !ok {
		return
	}

	summary, err := analytics.Summarize(rows)
	if err != nil {
		h.logFailure(r, "summary statistics failed", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// FraudTrends handles GET /api/fraud_trends.
func (h *Handler) FraudTrends(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analytics.TrendByDay(rows))
}

// GeolocationAnalysis handles GET /api/geolocation_analysis.
func (h *Handler) GeolocationAnalysis(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analytics.ByCountry(rows))
}

// FraudByDeviceBrowser handles GET /api/fraud_by_device_browser.
// Rows are grouped by browser only.
func (h *Handler) FraudByDeviceBrowser(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analytics.ByBrowser(rows))
}

// ModelResponse describes the loaded artifact.
type ModelResponse struct {
	ID           string   `json:"id"`
	FeatureNames []string `json:"feature_names"`
	Trees        int      `json:"trees,omitempty"`
	Decision     string   `json:"decision"`
	BaseValue    float64  `json:"base_value"`
}

// Model handles GET /model.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	m := h.scoring.Model()

	resp := ModelResponse{
		ID:           m.ID(),
		FeatureNames: m.FeatureNames(),
		Decision:     m.DecisionPolicy(),
		BaseValue:    m.ExpectedValue(),
	}
	if tc, ok := m.(interface{ NumTrees() int }); ok {
		resp.Trees = tc.NumTrees()
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check dataset health
	if h.dataset != nil {
		if err := h.dataset.Ping(r.Context()); err != nil {
			slog.Warn("dataset unhealthy", "error", err)
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			slog.Warn("event bus unhealthy", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
		"model":   h.scoring.Model().ID(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready handles GET /ready. The model is loaded before the server starts,
// so readiness only depends on the dataset being reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.dataset != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.dataset.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// loadDataset reads the dataset for one analytics request. On failure it
// writes the error response and returns false.
func (h *Handler) loadDataset(w http.ResponseWriter, r *http.Request) ([]domain.Transaction, bool) {
	if h.dataset == nil {
		err := &domain.DatasetLoadError{Source: "none", Err: errNoDataset}
		writeError(w, err)
		return nil, false
	}

	start := time.Now()
	rows, err := h.dataset.Load(r.Context())
	metrics.DatasetLoadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.logFailure(r, "dataset load failed", err)
		writeError(w, err)
		return nil, false
	}

	metrics.DatasetRows.Set(float64(len(rows)))
	return rows, true
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	level := slog.LevelError
	if statusFor(err) < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	slog.Log(r.Context(), level, msg,
		"path", r.URL.Path,
		"request_id", domain.RequestIDFromContext(r.Context()),
		"error", err,
	)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
