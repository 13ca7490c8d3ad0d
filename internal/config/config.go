package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the forecast engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	AI        AIConfig        `yaml:"ai"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// FeedsConfig groups upstream forecast and price integrations.
type FeedsConfig struct {
	Forecast ForecastFeedConfig `yaml:"forecast"`
	Price    PriceFeedConfig    `yaml:"price"`
}

// ForecastFeedConfig configures the demand forecast source.
type ForecastFeedConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	ForecastPath string        `yaml:"forecastPath"`
	HistoryPath  string        `yaml:"historyPath"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	HistoryHours int           `yaml:"historyHours"`
}

// PriceFeedConfig configures the price source. When BaseURL is empty the
// engine falls back to a synthetic hour-of-day price curve.
type PriceFeedConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// ArtifactsConfig points at the offline-trained model and pattern files.
type ArtifactsConfig struct {
	ModelDir    string `yaml:"modelDir"`
	PatternPath string `yaml:"patternPath"`
}

// ScoringConfig controls anomaly classification.
type ScoringConfig struct {
	ConfidenceThreshold     float64   `yaml:"confidenceThreshold"`
	SeverityThresholds      []float64 `yaml:"severityThresholds"`
	ReferenceDemandMW       float64   `yaml:"referenceDemandMW"`
	AssumedPricePerMWh      float64   `yaml:"assumedPricePerMWh"`
	SubstituteNearestPeriod bool      `yaml:"substituteNearestPeriod"`
	SignificanceGate        GateConfig `yaml:"significanceGate"`
}

// GateConfig demotes marginal model flags below real operational relevance.
type GateConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MinDeviationPct float64 `yaml:"minDeviationPct"`
	MinDeviationMW  float64 `yaml:"minDeviationMW"`
}

// AIConfig configures the LLM recommendation adapter.
type AIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"baseURL"`
	Model          string        `yaml:"model"`
	APIKeyEnv      string        `yaml:"apiKeyEnv"`
	Timeout        time.Duration `yaml:"timeout"`
	CacheEnabled   bool          `yaml:"cacheEnabled"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	InterCallDelay time.Duration `yaml:"interCallDelay"`
	BreakerMaxFail uint32        `yaml:"breakerMaxFailures"`
	BreakerCooloff time.Duration `yaml:"breakerCooloff"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching. When disabled the engine uses
// an in-process TTL cache instead.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GRIDSIGHT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Feeds: FeedsConfig{
			Forecast: ForecastFeedConfig{
				ForecastPath: "/api/v1/forecast",
				HistoryPath:  "/api/v1/history",
				Timeout:      10 * time.Second,
				CacheTTL:     5 * time.Minute,
				HistoryHours: 48,
			},
			Price: PriceFeedConfig{
				Path:    "/api/v1/prices",
				Timeout: 10 * time.Second,
			},
		},
		Artifacts: ArtifactsConfig{
			ModelDir:    "artifacts/models",
			PatternPath: "artifacts/baseline_patterns.json",
		},
		Scoring: ScoringConfig{
			ConfidenceThreshold:     50,
			SeverityThresholds:      []float64{10, 25, 50, 100},
			ReferenceDemandMW:       3000,
			AssumedPricePerMWh:      100,
			SubstituteNearestPeriod: true,
			SignificanceGate: GateConfig{
				Enabled:         true,
				MinDeviationPct: 30,
				MinDeviationMW:  800,
			},
		},
		AI: AIConfig{
			Enabled:        false,
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "GRIDSIGHT_AI_API_KEY",
			Timeout:        15 * time.Second,
			CacheEnabled:   true,
			InterCallDelay: 500 * time.Millisecond,
			BreakerMaxFail: 3,
			BreakerCooloff: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func (c *Config) validate() error {
	if c.Scoring.ConfidenceThreshold < 0 || c.Scoring.ConfidenceThreshold > 100 {
		return fmt.Errorf("scoring.confidenceThreshold must be within [0,100], got %v", c.Scoring.ConfidenceThreshold)
	}
	if len(c.Scoring.SeverityThresholds) != 4 {
		return fmt.Errorf("scoring.severityThresholds requires exactly 4 values, got %d", len(c.Scoring.SeverityThresholds))
	}
	for i := 1; i < len(c.Scoring.SeverityThresholds); i++ {
		if c.Scoring.SeverityThresholds[i] <= c.Scoring.SeverityThresholds[i-1] {
			return fmt.Errorf("scoring.severityThresholds must be strictly increasing")
		}
	}
	if c.Scoring.ReferenceDemandMW <= 0 {
		return fmt.Errorf("scoring.referenceDemandMW must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRIDSIGHT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("GRIDSIGHT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("GRIDSIGHT_FORECAST_BASE_URL"); v != "" {
		cfg.Feeds.Forecast.BaseURL = v
	}
	if v := os.Getenv("GRIDSIGHT_PRICE_BASE_URL"); v != "" {
		cfg.Feeds.Price.BaseURL = v
	}
	if v := os.Getenv("GRIDSIGHT_MODEL_DIR"); v != "" {
		cfg.Artifacts.ModelDir = v
	}
	if v := os.Getenv("GRIDSIGHT_PATTERN_PATH"); v != "" {
		cfg.Artifacts.PatternPath = v
	}
	if v := os.Getenv("GRIDSIGHT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GRIDSIGHT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("GRIDSIGHT_AI_ENABLED"); v != "" {
		cfg.AI.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("GRIDSIGHT_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("GRIDSIGHT_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("GRIDSIGHT_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AI.Timeout = d
		}
	}
	if v := os.Getenv("GRIDSIGHT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("GRIDSIGHT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("GRIDSIGHT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("GRIDSIGHT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("GRIDSIGHT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("GRIDSIGHT_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
}
