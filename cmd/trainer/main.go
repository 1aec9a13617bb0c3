package main

import (
	"context"
	"fmt"
	"os"

	"aqi-platform/internal/config"
	"aqi-platform/internal/features"
	"aqi-platform/internal/registry"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/training"
	"aqi-platform/pkg/database"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("aqi-trainer", "1.0.0", logging.ParseLevel(cfg.App.LogLevel))
	defer logger.Sync()

	ctx := context.Background()
	logger.Info(ctx, "[TRAINER_START] Starting one-shot training run", logging.Fields{
		"version":         "1.0.0",
		"min_readings":    cfg.Training.MinReadings,
		"training_window": cfg.Training.TrainingWindow.String(),
		"ga_population":   cfg.GA.PopulationSize,
		"ga_generations":  cfg.GA.Generations,
		"ga_seed":         cfg.GA.Seed,
	})

	metricsCollector := metrics.NewCollector("aqi_trainer")

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
		logger.Fatal(ctx, "[TRAINER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	store := repository.NewPostgresStore(db, logger, metricsCollector)
	builder := features.NewBuilder(nil, 0)
	reg := registry.NewRegistry(cfg.Training.RegressionGuardTolerance, logger, metricsCollector)

	// One-shot runs compare against the last persisted model so the
	// regression guard still has a baseline.
	if persisted, err := store.LatestModel(ctx); err == nil {
		if restoreErr := reg.Restore(ctx, persisted); restoreErr == nil {
			logger.Info(ctx, "[TRAINER_BASELINE] Guarding against persisted model", logging.Fields{
				"version_id": persisted.VersionID,
				"val_rmse":   persisted.ValMetrics.RMSE,
			})
		}
	}

	trainSvc := training.NewService(store, builder, reg, cfg.Training, cfg.GA, logger, metricsCollector)

	model, err := trainSvc.TrainOnce(ctx)
	if err != nil {
		logger.Fatal(ctx, "[TRAINER_ERROR] Training run failed", logging.Fields{}, err)
	}

	fmt.Println("Training completed successfully")
	fmt.Printf("  Version:        %s\n", model.VersionID)
	fmt.Printf("  C:              %.6g\n", model.C)
	fmt.Printf("  Gamma:          %.6g\n", model.Gamma)
	fmt.Printf("  Support points: %d\n", len(model.SupportInputs))
	fmt.Printf("  Train RMSE:     %.3f\n", model.TrainMetrics.RMSE)
	fmt.Printf("  Val RMSE:       %.3f\n", model.ValMetrics.RMSE)
	fmt.Printf("  Val MAE:        %.3f\n", model.ValMetrics.MAE)
}
