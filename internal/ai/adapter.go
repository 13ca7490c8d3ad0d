// Package ai generates recommendations through an OpenAI-compatible
// chat-completions endpoint, with caching, circuit breaking, and a
// deterministic fallback so batch callers always get a complete result.
package ai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/gridsight/gridsight-engine/internal/cache"
	"github.com/gridsight/gridsight-engine/internal/config"
	"github.com/gridsight/gridsight-engine/internal/engine"
	"github.com/gridsight/gridsight-engine/internal/metrics"
	"github.com/gridsight/gridsight-engine/internal/models"
)

// ErrUnavailable signals that the AI backend could not produce a valid
// result. Batch callers recover via the rule engine; the AI-required path
// surfaces it to the caller.
var ErrUnavailable = errors.New("ai recommendations unavailable")

// Adapter wraps the LLM backend. Safe for concurrent use; batch calls are
// paced sequentially through the rate limiter.
type Adapter struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  string
	model    string
	apiKey   string
	cacheOn  bool
	cache    cache.Provider
	cacheTTL time.Duration
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	rules    *engine.RuleEngine
}

// NewAdapter builds the adapter. provider may be nil, which disables caching.
func NewAdapter(cfg config.AIConfig, provider cache.Provider, rules *engine.RuleEngine, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ai-recommendations",
		Timeout: cfg.BreakerCooloff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFail
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ai breaker state change", "from", from.String(), "to", to.String())
		},
	})

	interval := cfg.InterCallDelay
	if interval <= 0 {
		interval = time.Millisecond
	}

	return &Adapter{
		logger:   logger,
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		cacheOn:  cfg.CacheEnabled,
		cache:    provider,
		cacheTTL: cfg.CacheTTL,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		rules:    rules,
	}
}

// Recommend generates recommendations for the whole anomaly batch. Identical
// batches hit the cache and cost no external call. Any backend failure falls
// back to the deterministic engine; the returned summary is always complete.
func (a *Adapter) Recommend(ctx context.Context, summary models.AnomalySummary, prices engine.PriceLookup, currentDemand float64) models.RecommendationSummary {
	anomalies := summary.Anomalies()
	if len(anomalies) == 0 {
		out := models.RecommendationSummary{GeneratedAt: time.Now().UTC(), AIPowered: true}
		out.Tally()
		return out
	}

	key := cacheKey(anomalies, currentDemand)
	if a.cacheOn {
		if data, err := a.cache.Get(ctx, key); err == nil {
			var cached models.RecommendationSummary
			if err := json.Unmarshal(data, &cached); err == nil {
				a.logger.Debug("ai recommendation cache hit", "anomalies", len(anomalies))
				metrics.ObserveCacheLookup(true)
				return cached
			}
		}
		metrics.ObserveCacheLookup(false)
	}

	recs, err := a.generate(ctx, summary, anomalies, currentDemand)
	if err != nil {
		a.logger.Warn("ai generation failed, using rule engine", "error", err)
		metrics.ObserveAICall(metrics.OutcomeFallback)
		out := a.rules.RecommendAll(summary, prices)
		reason := err.Error()
		for i := range out.Recommendations {
			out.Recommendations[i].FallbackReason = reason
		}
		return out
	}

	metrics.ObserveAICall(metrics.OutcomeSuccess)
	out := models.RecommendationSummary{
		GeneratedAt:     time.Now().UTC(),
		AIPowered:       true,
		Recommendations: recs,
	}
	out.Tally()

	if a.cacheOn {
		if data, err := json.Marshal(out); err == nil {
			// SetNX keeps concurrent identical batches idempotent.
			if _, err := a.cache.SetNX(ctx, key, data, a.cacheTTL); err != nil {
				a.logger.Warn("ai cache store failed", "error", err)
			}
		}
	}
	return out
}

// RecommendOne serves the AI-required path for a single anomaly. Unlike the
// batch path it returns an error instead of a degraded result.
func (a *Adapter) RecommendOne(ctx context.Context, rec models.AnomalyRecord, currentDemand float64) (models.Recommendation, error) {
	summary := models.AnomalySummary{
		TotalPoints:       1,
		AnomaliesDetected: 1,
		GeneratedAt:       time.Now().UTC(),
		Predictions:       []models.AnomalyRecord{rec},
	}
	recs, err := a.generate(ctx, summary, []models.AnomalyRecord{rec}, currentDemand)
	if err != nil {
		return models.Recommendation{}, err
	}
	return recs[0], nil
}

func (a *Adapter) generate(ctx context.Context, summary models.AnomalySummary, anomalies []models.AnomalyRecord, currentDemand float64) ([]models.Recommendation, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body, err := a.breaker.Execute(func() (interface{}, error) {
		return a.call(ctx, buildPrompt(summary, anomalies, currentDemand))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	recs, err := parseResponse(body.(string), anomalies, a.model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return recs, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat responseFmt   `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are an expert grid operations analyst specializing in real-time power system optimization, energy economics, and grid reliability. You provide actionable, data-driven recommendations as JSON."

func (a *Adapter) call(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.3,
		MaxTokens:      1500,
		ResponseFormat: responseFmt{Type: "json_object"},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func buildPrompt(summary models.AnomalySummary, anomalies []models.AnomalyRecord, currentDemand float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following electric grid forecast data and respond with JSON of the form ")
	b.WriteString(`{"recommendations":[{"priority":"HIGH|MEDIUM|LOW","title":"...","why":"...","actions":[{"icon":"...","action":"...","details":"...","timeframe":"..."}]}]}`)
	fmt.Fprintf(&b, "\n\nCurrent demand: %.0f MW\nForecast points analyzed: %d\nAnomalies detected: %d\n\n", currentDemand, summary.TotalPoints, len(anomalies))
	b.WriteString("Detected anomalies:\n")
	for i, an := range anomalies {
		if i >= 5 {
			fmt.Fprintf(&b, "... and %d more\n", len(anomalies)-5)
			break
		}
		fmt.Fprintf(&b, "- %s: %.0f MW (expected %.0f MW, deviation %.1f%%, severity %s, confidence %.0f)\n",
			an.Timestamp.Format(time.RFC3339), an.DemandMW, an.PredictedDemand, an.DeviationPct, an.Severity, an.Confidence)
	}
	b.WriteString("\nProvide one recommendation per anomaly, in the same order.")
	return b.String()
}

type llmRecommendation struct {
	Priority string          `json:"priority"`
	Title    string          `json:"title"`
	Why      string          `json:"why"`
	Actions  []models.Action `json:"actions"`
}

type llmResponse struct {
	Recommendations []llmRecommendation `json:"recommendations"`
}

// parseResponse validates the model output. Missing required fields make the
// whole response invalid; partial output is never trusted.
func parseResponse(content string, anomalies []models.AnomalyRecord, model string) ([]models.Recommendation, error) {
	var parsed llmResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if len(parsed.Recommendations) == 0 {
		return nil, errors.New("response contains no recommendations")
	}

	out := make([]models.Recommendation, 0, len(parsed.Recommendations))
	for i, rec := range parsed.Recommendations {
		priority := models.Priority(strings.ToUpper(rec.Priority))
		if priority != models.PriorityLow && priority != models.PriorityMedium && priority != models.PriorityHigh {
			return nil, fmt.Errorf("recommendation %d has invalid priority %q", i, rec.Priority)
		}
		if rec.Title == "" || rec.Why == "" || len(rec.Actions) == 0 {
			return nil, fmt.Errorf("recommendation %d is missing required fields", i)
		}

		r := models.Recommendation{
			Priority:      priority,
			Title:         rec.Title,
			Why:           rec.Why,
			Actions:       rec.Actions,
			Source:        models.SourceLLM,
			TimeSensitive: priority == models.PriorityHigh,
			CreatedAt:     time.Now().UTC(),
		}
		if i < len(anomalies) {
			an := anomalies[i]
			r.Confidence = an.Confidence
			r.Impact.MagnitudeMW = an.DemandMW - an.PredictedDemand
			if r.Impact.MagnitudeMW < 0 {
				r.Impact.MagnitudeMW = -r.Impact.MagnitudeMW
			}
		}
		r.ID = deterministicID(model, content, i)
		out = append(out, r)
	}
	return out, nil
}

// deterministicID derives a stable ID from the response so cached replays
// keep their identity.
func deterministicID(model, content string, idx int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", model, idx, content)))
	return hex.EncodeToString(sum[:16])
}

// cacheKey hashes the ordered anomaly tuples plus current demand, so the
// same batch always maps to the same entry.
func cacheKey(anomalies []models.AnomalyRecord, currentDemand float64) string {
	parts := make([]string, 0, len(anomalies)+1)
	for _, an := range anomalies {
		parts = append(parts, fmt.Sprintf("%s_%g_%g", an.Timestamp.UTC().Format(time.RFC3339), an.DemandMW, an.Confidence))
	}
	parts = append(parts, fmt.Sprintf("demand_%g", currentDemand))
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "ai:recs:" + hex.EncodeToString(sum[:])
}
