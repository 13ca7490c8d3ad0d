package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridsight/gridsight-engine/internal/ai"
	"github.com/gridsight/gridsight-engine/internal/api"
	"github.com/gridsight/gridsight-engine/internal/baseline"
	"github.com/gridsight/gridsight-engine/internal/cache"
	"github.com/gridsight/gridsight-engine/internal/config"
	"github.com/gridsight/gridsight-engine/internal/engine"
	"github.com/gridsight/gridsight-engine/internal/metrics"
	"github.com/gridsight/gridsight-engine/internal/registry"
	"github.com/gridsight/gridsight-engine/internal/repo"
	"github.com/gridsight/gridsight-engine/internal/services"
	"github.com/gridsight/gridsight-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting gridsight-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-memory cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	modelRegistry, err := registry.LoadDir(cfg.Artifacts.ModelDir, logger)
	if err != nil {
		logger.Error("failed to load period models", slog.Any("error", err))
		os.Exit(1)
	}

	patterns := baseline.Empty()
	if cfg.Artifacts.PatternPath != "" {
		loaded, err := baseline.Load(cfg.Artifacts.PatternPath)
		if err != nil {
			logger.Warn("baseline patterns unavailable, severity degrades to confidence-only", slog.Any("error", err))
		} else {
			patterns = loaded
		}
	}

	classifier := engine.NewClassifier(cfg.Scoring)
	pipeline := engine.NewPipeline(logger, modelRegistry, patterns, classifier, cfg.Scoring.SubstituteNearestPeriod)
	ruleEngine := engine.NewRuleEngine(logger, cfg.Scoring.AssumedPricePerMWh)

	var adapter services.Recommender
	if cfg.AI.Enabled {
		adapter = ai.NewAdapter(cfg.AI, cacheProvider, ruleEngine, logger)
	}

	feedClient := repo.NewForecastClient(
		cfg.Feeds.Forecast.BaseURL,
		cfg.Feeds.Forecast.ForecastPath,
		cfg.Feeds.Forecast.HistoryPath,
		cfg.Feeds.Forecast.HistoryHours,
		cfg.Feeds.Forecast.Timeout,
		cacheProvider,
		cfg.Feeds.Forecast.CacheTTL,
		logger,
	)
	priceClient := repo.NewPriceClient(cfg.Feeds.Price.BaseURL, cfg.Feeds.Price.Path, cfg.Feeds.Price.Timeout, logger)

	service := services.NewForecastService(logger, feedClient, priceClient, pipeline, ruleEngine, adapter, cfg.AI.Enabled)

	handler := api.NewHandler(logger, service)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("gridsight-engine stopped")
}
