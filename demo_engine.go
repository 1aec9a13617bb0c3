package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aqi-platform/internal/config"
	"aqi-platform/internal/features"
	"aqi-platform/internal/models"
	"aqi-platform/internal/predict"
	"aqi-platform/internal/registry"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/training"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// Demonstrates the full train-and-forecast cycle on synthetic readings,
// no database or API keys needed.
func main() {
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println("AQI PLATFORM - FORECAST ENGINE DEMONSTRATION")
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println()

	logger := logging.NewStructuredLogger("demo", "1.0.0", logging.WarnLevel)
	ctx := context.Background()

	store := repository.NewMemoryStore()
	collector := metrics.NewCollectorWith(prometheus.NewRegistry(), "demo")
	reg := registry.NewRegistry(0.10, logger, collector)
	builder := features.NewBuilder(nil, 0)

	location := &models.Location{City: "Delhi", Country: "IN", Latitude: 28.6139, Longitude: 77.2090}
	if err := store.CreateLocation(ctx, location); err != nil {
		fmt.Printf("Error creating location: %v\n", err)
		os.Exit(1)
	}

	// Ten days of hourly readings: a daily pollution cycle with rush
	// hour bumps, the kind of shape a real station series shows.
	const hours = 240
	start := time.Now().UTC().Add(-hours * time.Hour).Truncate(time.Hour)
	for i := 0; i < hours; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		base := 120 + 50*math.Sin(2*math.Pi*float64(at.Hour()-4)/24)
		switch at.Hour() {
		case 8, 9, 18, 19:
			base += 25
		}
		aqi := int(base)
		pm25 := base / 2

		reading := &models.Reading{
			LocationID:  location.ID,
			RecordedAt:  at,
			PM25:        &pm25,
			AQIValue:    aqi,
			AQICategory: models.Category(float64(aqi)),
			Source:      "demo",
		}
		if err := store.AppendReading(ctx, reading); err != nil {
			fmt.Printf("Error appending reading: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d hourly readings for %s\n\n", hours, location.City)

	trainer := training.NewService(store, builder, reg, config.TrainingConfig{
		MinReadings:              100,
		TrainingWindow:           30 * 24 * time.Hour,
		RegressionGuardTolerance: 0.10,
	}, config.GAConfig{
		PopulationSize:     16,
		Generations:        12,
		MutationRate:       0.15,
		CrossoverRate:      0.8,
		ElitismCount:       2,
		TournamentSize:     3,
		EarlyStopRounds:    5,
		CMin:               0.01,
		CMax:               1000,
		GammaMin:           0.001,
		GammaMax:           10,
		Seed:               42,
		ParallelEvaluators: 4,
	}, logger, collector)

	fmt.Println("Training GA-KELM model...")
	model, err := trainer.TrainOnce(ctx)
	if err != nil {
		fmt.Printf("Training failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("  Version:        %s\n", model.VersionID)
	fmt.Printf("  C:              %.4g\n", model.C)
	fmt.Printf("  Gamma:          %.4g\n", model.Gamma)
	fmt.Printf("  Support points: %d\n", len(model.SupportInputs))
	fmt.Printf("  Val RMSE:       %.2f\n", model.ValMetrics.RMSE)
	fmt.Printf("  Val MAE:        %.2f\n\n", model.ValMetrics.MAE)

	predictor := predict.NewService(store, reg, builder, logger, collector)

	fmt.Println("24-hour forecast:")
	fmt.Println("  Hour                  AQI  Category                        Confidence")
	fmt.Println("  ────────────────────  ───  ──────────────────────────────  ──────────")

	records, err := predictor.Predict(ctx, location.ID, 24)
	if err != nil {
		fmt.Printf("Prediction failed: %v\n", err)
		os.Exit(1)
	}

	for _, r := range records {
		confidence := 0.0
		if r.Confidence != nil {
			confidence = *r.Confidence
		}
		fmt.Printf("  %s  %3d  %-30s  %.2f\n",
			r.PredictedFor.Format("2006-01-02 15:04 MST"),
			r.PredictedAQI,
			r.PredictedCategory,
			confidence,
		)
	}

	fmt.Println()
	fmt.Println("════════════════════════════════════════════════════════════════")
	fmt.Println("DEMONSTRATION COMPLETE")
	fmt.Println("════════════════════════════════════════════════════════════════")
}
