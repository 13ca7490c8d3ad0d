package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gridsight/gridsight-engine/internal/cache"
	"github.com/gridsight/gridsight-engine/internal/models"
)

// ForecastClient fetches demand forecasts and trailing history from the
// upstream feed. Responses are cached through the Provider when a TTL is
// configured, so repeated analysis runs within the horizon reuse one fetch.
type ForecastClient struct {
	baseURL      string
	forecastPath string
	historyPath  string
	historyHours int
	httpClient   *http.Client
	cache        cache.Provider
	cacheTTL     time.Duration
	logger       *slog.Logger
}

// NewForecastClient constructs a client targeting the configured feed.
func NewForecastClient(baseURL, forecastPath, historyPath string, historyHours int, timeout time.Duration, provider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *ForecastClient {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if historyHours <= 0 {
		historyHours = 48
	}
	return &ForecastClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		forecastPath: forecastPath,
		historyPath:  historyPath,
		historyHours: historyHours,
		httpClient:   &http.Client{Timeout: timeout},
		cache:        provider,
		cacheTTL:     cacheTTL,
		logger:       logger,
	}
}

// FetchForecast returns the upcoming demand forecast horizon.
func (c *ForecastClient) FetchForecast(ctx context.Context) ([]models.DemandPoint, error) {
	points, err := c.fetchPoints(ctx, c.forecastPath, "forecast")
	if err != nil {
		return nil, err
	}
	for i := range points {
		points[i].IsForecast = true
	}
	return points, nil
}

// FetchHistory returns trailing demand samples used to seed rolling
// statistics ahead of the forecast horizon.
func (c *ForecastClient) FetchHistory(ctx context.Context) ([]models.DemandPoint, error) {
	return c.fetchPoints(ctx, fmt.Sprintf("%s?hours=%d", c.historyPath, c.historyHours), "history")
}

func (c *ForecastClient) fetchPoints(ctx context.Context, p, kind string) ([]models.DemandPoint, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("forecast feed base URL not configured")
	}

	cacheKey := "feed:" + kind
	if c.cacheTTL > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.DemandPoint
			if err := json.Unmarshal(data, &cached); err == nil {
				c.logger.Debug("feed cache hit", "kind", kind, "points", len(cached))
				return cached, nil
			}
		}
	}

	var response struct {
		Points []struct {
			Timestamp time.Time `json:"timestamp"`
			DemandMW  float64   `json:"demand_mw"`
		} `json:"points"`
	}
	if err := c.getJSON(ctx, c.resolvePath(p), &response); err != nil {
		return nil, fmt.Errorf("forecast feed %s request failed: %w", kind, err)
	}
	if len(response.Points) == 0 {
		return nil, fmt.Errorf("forecast feed returned no %s points", kind)
	}

	points := make([]models.DemandPoint, 0, len(response.Points))
	for _, pt := range response.Points {
		points = append(points, models.DemandPoint{Timestamp: pt.Timestamp, DemandMW: pt.DemandMW})
	}

	if c.cacheTTL > 0 {
		if data, err := json.Marshal(points); err == nil {
			if err := c.cache.Set(ctx, cacheKey, data, c.cacheTTL); err != nil {
				c.logger.Warn("feed cache store failed", "kind", kind, "error", err)
			}
		}
	}
	return points, nil
}

func (c *ForecastClient) resolvePath(p string) string {
	raw := p
	query := ""
	if i := strings.IndexByte(p, '?'); i >= 0 {
		raw, query = p[:i], p[i:]
	}
	cleaned := "/" + strings.TrimLeft(raw, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned + query
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String() + query
}

func (c *ForecastClient) getJSON(ctx context.Context, endpoint string, out any) error {
	if endpoint == "" {
		return errors.New("empty endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
