package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridsight/gridsight-engine/internal/ai"
	"github.com/gridsight/gridsight-engine/internal/models"
	"github.com/gridsight/gridsight-engine/internal/services"
	"github.com/gridsight/gridsight-engine/internal/utils"
)

// ForecastAPI is the service surface the HTTP handlers depend on.
type ForecastAPI interface {
	Analyze(ctx context.Context) (models.AnomalySummary, error)
	Recommendations(ctx context.Context, useAI bool) (models.AnomalySummary, models.RecommendationSummary, error)
	AnalyzeBatch(ctx context.Context, history, forecast []models.DemandPoint, useAI bool) (models.AnomalySummary, models.RecommendationSummary, error)
	RecommendAt(ctx context.Context, ts time.Time) (models.Recommendation, error)
}

// Handler routes the REST API.
type Handler struct {
	logger  *slog.Logger
	service ForecastAPI
}

// NewHandler constructs the API handler.
func NewHandler(logger *slog.Logger, service ForecastAPI) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// Routes builds the HTTP mux for the API surface.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/api/v1/anomalies", h.handleAnomalies)
	mux.HandleFunc("/api/v1/recommendations", h.handleRecommendations)
	mux.HandleFunc("/api/v1/recommendations/analyze", h.handleAnalyzeBatch)
	mux.HandleFunc("/api/v1/recommendations/anomaly", h.handleRecommendAt)
	return mux
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.service.Analyze(r.Context())
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err)
		return
	}
	h.writeJSON(w, summary)
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	useAI := r.URL.Query().Get("mode") != "rules"
	summary, recs, err := h.service.Recommendations(r.Context(), useAI)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err)
		return
	}
	h.writeJSON(w, map[string]any{
		"anomalies":       summary,
		"recommendations": recs,
	})
}

func (h *Handler) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		History  []models.DemandPoint `json:"history"`
		Forecast []models.DemandPoint `json:"forecast"`
		Mode     string               `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Forecast) == 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("forecast points are required"))
		return
	}

	useAI := req.Mode != "rules"
	summary, recs, err := h.service.AnalyzeBatch(r.Context(), req.History, req.Forecast, useAI)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, map[string]any{
		"anomalies":       summary,
		"recommendations": recs,
	})
}

func (h *Handler) handleRecommendAt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ts, err := utils.ParseRFC3339(r.URL.Query().Get("timestamp"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.service.RecommendAt(r.Context(), ts)
	switch {
	case errors.Is(err, services.ErrNoAnomaly):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ai.ErrUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		h.writeError(w, http.StatusBadGateway, err)
	default:
		h.writeJSON(w, rec)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response failed", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Warn("request failed", slog.Int("status", status), slog.Any("error", err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
