package main

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"
)

type demandPoint struct {
	Timestamp time.Time `json:"timestamp"`
	DemandMW  float64   `json:"demand_mw"`
}

type pricePoint struct {
	Timestamp   time.Time `json:"timestamp"`
	PricePerMWh float64   `json:"price_per_mwh"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
		points := make([]demandPoint, 0, 30)
		for i := 0; i < 30; i++ {
			ts := start.Add(time.Duration(i) * time.Hour)
			demand := demandCurve(ts)
			// One deliberate spike so local runs exercise the anomaly path.
			if i == 18 {
				demand *= 2.2
			}
			points = append(points, demandPoint{Timestamp: ts, DemandMW: demand})
		}
		writeJSON(w, map[string]any{"points": points})
	})

	mux.HandleFunc("/api/v1/history", func(w http.ResponseWriter, r *http.Request) {
		hours := 48
		if v := r.URL.Query().Get("hours"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				hours = n
			}
		}
		end := time.Now().UTC().Truncate(time.Hour)
		points := make([]demandPoint, 0, hours)
		for i := hours; i > 0; i-- {
			ts := end.Add(-time.Duration(i) * time.Hour)
			points = append(points, demandPoint{Timestamp: ts, DemandMW: demandCurve(ts)})
		}
		writeJSON(w, map[string]any{"points": points})
	})

	mux.HandleFunc("/api/v1/prices", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC().Truncate(time.Hour)
		points := make([]pricePoint, 0, 48)
		for i := 0; i < 48; i++ {
			ts := start.Add(time.Duration(i) * time.Hour)
			points = append(points, pricePoint{Timestamp: ts, PricePerMWh: priceCurve(ts)})
		}
		writeJSON(w, map[string]any{"points": points})
	})

	logger := log.New(log.Writer(), "feed-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// demandCurve produces a plausible daily load shape around 3000 MW.
func demandCurve(t time.Time) float64 {
	hour := float64(t.Hour())
	base := 3000.0
	daily := 900 * math.Sin((hour-9)*math.Pi/12)
	weekend := 0.0
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = -250
	}
	return base + daily + weekend
}

func priceCurve(t time.Time) float64 {
	hour := float64(t.Hour())
	return 90 + 70*math.Sin((hour-10)*math.Pi/12)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
