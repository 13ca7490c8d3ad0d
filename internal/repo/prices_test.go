package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gridsight/gridsight-engine/internal/models"
)

func TestFetchPricesFromFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"points": []map[string]any{
			{"timestamp": "2025-10-15T12:00:00Z", "price_per_mwh": 142.5},
		}})
	}))
	defer srv.Close()

	c := NewPriceClient(srv.URL, "/api/v1/prices", time.Second, repoLogger())
	points, err := c.FetchPrices(context.Background(), time.Now(), 1)
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}
	if len(points) != 1 || points[0].PricePerMWh != 142.5 {
		t.Fatalf("points = %+v", points)
	}
}

func TestFetchPricesSyntheticWithoutFeed(t *testing.T) {
	c := NewPriceClient("", "", time.Second, repoLogger())
	start := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

	points, err := c.FetchPrices(context.Background(), start, 24)
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}
	if len(points) != 24 {
		t.Fatalf("got %d points, want 24", len(points))
	}
	for i, pt := range points {
		want := start.Add(time.Duration(i) * time.Hour)
		if !pt.Timestamp.Equal(want) {
			t.Fatalf("point %d timestamp = %v, want %v", i, pt.Timestamp, want)
		}
		if pt.PricePerMWh <= 0 {
			t.Fatalf("point %d has non-positive price %v", i, pt.PricePerMWh)
		}
	}
}

func TestFetchPricesDegradesOnFeedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewPriceClient(srv.URL, "/api/v1/prices", time.Second, repoLogger())
	points, err := c.FetchPrices(context.Background(), time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC), 6)
	if err != nil {
		t.Fatalf("feed failure should degrade, not error: %v", err)
	}
	if len(points) != 6 {
		t.Fatalf("got %d synthetic points, want 6", len(points))
	}
}

func TestSyntheticPriceSeasonality(t *testing.T) {
	// Same hour, different seasons. Summer carries a 1.25 multiplier against
	// winter's 0.85.
	summer := SyntheticPriceAt(time.Date(2025, 7, 15, 18, 0, 0, 0, time.UTC))
	winter := SyntheticPriceAt(time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC))
	if summer <= winter {
		t.Errorf("summer price %v should exceed winter price %v", summer, winter)
	}

	// Deterministic: identical inputs give identical prices.
	ts := time.Date(2025, 10, 15, 18, 0, 0, 0, time.UTC)
	if SyntheticPriceAt(ts) != SyntheticPriceAt(ts) {
		t.Error("synthetic prices must be deterministic")
	}

	// Evening peak exceeds overnight trough within the same day.
	peak := SyntheticPriceAt(time.Date(2025, 10, 15, 18, 0, 0, 0, time.UTC))
	trough := SyntheticPriceAt(time.Date(2025, 10, 15, 3, 0, 0, 0, time.UTC))
	if peak <= trough {
		t.Errorf("evening price %v should exceed overnight price %v", peak, trough)
	}
}

func TestPriceLookupFrom(t *testing.T) {
	ts := time.Date(2025, 10, 15, 18, 0, 0, 0, time.UTC)
	lookup := PriceLookupFrom([]models.PricePoint{{Timestamp: ts, PricePerMWh: 250}})

	if got := lookup(ts); got != 250 {
		t.Errorf("lookup = %v, want the feed price", got)
	}
	// Hours outside the series fall back to the synthetic curve.
	outside := ts.Add(48 * time.Hour)
	if got := lookup(outside); got != SyntheticPriceAt(outside) {
		t.Errorf("lookup outside series = %v, want synthetic", got)
	}
}
