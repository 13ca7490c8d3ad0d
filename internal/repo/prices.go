package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gridsight/gridsight-engine/internal/models"
)

// Hourly base prices in $/MWh, typical California day-ahead shape. Used when
// no price feed is configured.
var basePrices = [24]float64{
	60, 55, 50, 50, 55, 65,
	85, 110, 130, 140, 145, 150,
	155, 160, 165, 170, 180, 190,
	200, 195, 175, 140, 100, 75,
}

// PriceClient fetches price forecasts, falling back to a deterministic
// synthetic hour-of-day curve when the feed is not configured or fails.
type PriceClient struct {
	baseURL    string
	pricePath  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPriceClient constructs a client. An empty baseURL is valid and selects
// the synthetic curve.
func NewPriceClient(baseURL, pricePath string, timeout time.Duration, logger *slog.Logger) *PriceClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pricePath:  pricePath,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchPrices returns hourly prices covering [start, start+hours). Feed
// errors degrade to the synthetic curve rather than failing the analysis.
func (c *PriceClient) FetchPrices(ctx context.Context, start time.Time, hours int) ([]models.PricePoint, error) {
	if c.baseURL == "" {
		return SyntheticPrices(start, hours), nil
	}

	points, err := c.fetchFeed(ctx)
	if err != nil {
		c.logger.Warn("price feed unavailable, using synthetic curve", "error", err)
		return SyntheticPrices(start, hours), nil
	}
	return points, nil
}

func (c *PriceClient) fetchFeed(ctx context.Context) ([]models.PricePoint, error) {
	endpoint := c.resolvePath(c.pricePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price feed returned %s", resp.Status)
	}

	var response struct {
		Points []struct {
			Timestamp   time.Time `json:"timestamp"`
			PricePerMWh float64   `json:"price_per_mwh"`
		} `json:"points"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(response.Points) == 0 {
		return nil, fmt.Errorf("price feed returned no points")
	}

	points := make([]models.PricePoint, 0, len(response.Points))
	for _, pt := range response.Points {
		points = append(points, models.PricePoint{Timestamp: pt.Timestamp, PricePerMWh: pt.PricePerMWh})
	}
	return points, nil
}

func (c *PriceClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

// SyntheticPrices builds a deterministic hourly price series from the base
// curve and a seasonal multiplier.
func SyntheticPrices(start time.Time, hours int) []models.PricePoint {
	start = start.Truncate(time.Hour)
	points := make([]models.PricePoint, 0, hours)
	for i := 0; i < hours; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		points = append(points, models.PricePoint{
			Timestamp:   ts,
			PricePerMWh: SyntheticPriceAt(ts),
		})
	}
	return points
}

// SyntheticPriceAt returns the synthetic price for one timestamp.
func SyntheticPriceAt(t time.Time) float64 {
	return basePrices[t.Hour()] * seasonMultiplier(t.Month())
}

func seasonMultiplier(m time.Month) float64 {
	switch m {
	case time.December, time.January, time.February:
		return 0.85
	case time.March, time.April, time.May:
		return 0.90
	case time.June, time.July, time.August:
		return 1.25
	default:
		return 0.95
	}
}

// PriceLookupFrom builds a lookup over fetched points, falling back to the
// synthetic curve for hours outside the series.
func PriceLookupFrom(points []models.PricePoint) func(time.Time) float64 {
	index := make(map[time.Time]float64, len(points))
	for _, pt := range points {
		index[pt.Timestamp.UTC().Truncate(time.Hour)] = pt.PricePerMWh
	}
	return func(t time.Time) float64 {
		if p, ok := index[t.UTC().Truncate(time.Hour)]; ok {
			return p
		}
		return SyntheticPriceAt(t)
	}
}
