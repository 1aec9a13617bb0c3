package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aqi-platform/internal/config"
	"aqi-platform/internal/features"
	"aqi-platform/internal/handlers"
	"aqi-platform/internal/ingest"
	"aqi-platform/internal/predict"
	"aqi-platform/internal/registry"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/scheduler"
	"aqi-platform/internal/sources"
	"aqi-platform/internal/training"
	"aqi-platform/pkg/database"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("aqi-engine", version, logging.ParseLevel(cfg.App.LogLevel))
	defer logger.Sync()

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting AQI forecast engine", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
		"sources":     cfg.Sources.Priority,
	})

	metricsCollector := metrics.NewCollector("aqi_platform")

	db, err := database.NewPostgresDB(&database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	store := repository.NewPostgresStore(db, logger, metricsCollector)

	srcChain, err := buildSources(cfg.Sources)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to build source chain", logging.Fields{}, err)
	}

	builder := features.NewBuilder(nil, 0)
	reg := registry.NewRegistry(cfg.Training.RegressionGuardTolerance, logger, metricsCollector)

	// Warm start from the last persisted model, if one exists.
	if persisted, err := store.LatestModel(ctx); err == nil {
		if restoreErr := reg.Restore(ctx, persisted); restoreErr != nil {
			logger.Warn(ctx, "[STARTUP] Persisted model unusable, starting cold", logging.Fields{
				"version_id": persisted.VersionID,
			}, restoreErr)
		}
	} else {
		var notFound *repository.NotFoundError
		if !errors.As(err, &notFound) {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to load persisted model", logging.Fields{}, err)
		}
		logger.Info(ctx, "[STARTUP] No persisted model, starting cold", logging.Fields{})
	}

	ingestSvc := ingest.NewService(srcChain, store, logger, metricsCollector, cfg.Sources.RetryBackoff)
	trainSvc := training.NewService(store, builder, reg, cfg.Training, cfg.GA, logger, metricsCollector)
	predictSvc := predict.NewService(store, reg, builder, logger, metricsCollector)

	sched := scheduler.NewScheduler(
		ingestSvc,
		scheduler.AdaptTrainer(trainSvc),
		cfg.Scheduler.IngestInterval,
		cfg.Scheduler.RetrainInterval,
		logger,
	)
	sched.Start(ctx)
	defer sched.Stop()

	handler := handlers.NewEngineHandler(store, ingestSvc, trainSvc, predictSvc, reg, logger, metricsCollector)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}

// buildSources assembles the prioritized client chain from config
func buildSources(cfg config.SourcesConfig) ([]sources.Source, error) {
	chain := make([]sources.Source, 0, len(cfg.Priority))
	for _, name := range cfg.Priority {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "waqi":
			chain = append(chain, sources.NewWAQIClient(cfg.WAQIToken, cfg.WAQITimeout, cfg.WAQIRetries))
		case "ambee":
			chain = append(chain, sources.NewAmbeeClient(cfg.AmbeeKey, cfg.AmbeeTimeout, cfg.AmbeeRetries))
		case "openweathermap":
			chain = append(chain, sources.NewOpenWeatherMapClient(cfg.OWMKey, cfg.OWMTimeout, cfg.OWMRetries))
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	return chain, nil
}
