package baseline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

const testArtifact = `{
	"generated_at": "2025-09-01T00:00:00Z",
	"sample_count": 8760,
	"overall_stats": {"mean": 3000, "std": 450, "median": 2950, "p25": 2600, "p75": 3300, "p95": 3800, "min": 1800, "max": 4600},
	"hourly_patterns": {
		"18": {"mean": 3600, "std": 380, "median": 3580, "p25": 3300, "p75": 3850, "p95": 4200, "min": 2500, "max": 4600},
		"3":  {"mean": 2100, "std": 220, "median": 2080, "p25": 1950, "p75": 2250, "p95": 2500, "min": 1800, "max": 2700}
	},
	"day_of_week_patterns": {
		"0": {"mean": 3100, "std": 420},
		"5": {"mean": 2750, "std": 390}
	},
	"peak_hours": [17, 18, 19]
}`

func TestLoadAndExpected(t *testing.T) {
	store, err := Load(writeArtifact(t, testArtifact))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !store.Loaded() {
		t.Fatal("store should report loaded")
	}

	slot, err := store.Expected(time.Date(2025, 10, 15, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expected: %v", err)
	}
	if slot.Mean != 3600 || slot.Std != 380 {
		t.Errorf("hour 18 slot = %+v, want mean 3600 std 380", slot)
	}
}

func TestExpectedFallsBackToOverall(t *testing.T) {
	store, err := Load(writeArtifact(t, testArtifact))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Hour 9 has no bucket in the artifact.
	slot, err := store.Expected(time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expected: %v", err)
	}
	if slot.Mean != 3000 {
		t.Errorf("missing hour should fall back to overall, got mean %v", slot.Mean)
	}
}

func TestExpectedWeekday(t *testing.T) {
	store, err := Load(writeArtifact(t, testArtifact))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// 2025-10-13 is a Monday, weekday key "0".
	slot, err := store.ExpectedWeekday(time.Date(2025, 10, 13, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExpectedWeekday: %v", err)
	}
	if slot.Mean != 3100 {
		t.Errorf("Monday slot mean = %v, want 3100", slot.Mean)
	}
}

func TestIsPeakHour(t *testing.T) {
	store, err := Load(writeArtifact(t, testArtifact))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !store.IsPeakHour(time.Date(2025, 10, 15, 18, 0, 0, 0, time.UTC)) {
		t.Error("hour 18 should be a peak hour")
	}
	if store.IsPeakHour(time.Date(2025, 10, 15, 3, 0, 0, 0, time.UTC)) {
		t.Error("hour 3 should not be a peak hour")
	}
}

func TestEmptyStoreUnavailable(t *testing.T) {
	store := Empty()
	if store.Loaded() {
		t.Fatal("empty store reports loaded")
	}
	if _, err := store.Expected(time.Now()); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("expected ErrBaselineUnavailable, got %v", err)
	}
	if _, err := store.ExpectedWeekday(time.Now()); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("expected ErrBaselineUnavailable, got %v", err)
	}
	if store.IsPeakHour(time.Now()) {
		t.Error("empty store has no peak hours")
	}
}

func TestLoadRejectsIncompleteArtifact(t *testing.T) {
	cases := map[string]string{
		"missing overall": `{"hourly_patterns": {"0": {"mean": 1}}}`,
		"no hourly":       `{"overall_stats": {"mean": 3000}}`,
		"not json":        `not json at all`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeArtifact(t, content)); err == nil {
				t.Fatal("expected load failure")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
