package training

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"aqi-platform/internal/config"
	"aqi-platform/internal/features"
	"aqi-platform/internal/genetic"
	"aqi-platform/internal/kelm"
	"aqi-platform/internal/models"
	"aqi-platform/internal/registry"
	"aqi-platform/internal/repository"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// ErrTrainingInProgress reports a training run refused because one is
// already active.
var ErrTrainingInProgress = errors.New("a training run is already in progress")

// valSplitFraction is the tail share of the chronological dataset
// held out for hyperparameter fitness.
const valSplitFraction = 0.2

// Service runs end to end training: gather history, build features,
// search hyperparameters, fit the final model, and swap it in.
type Service struct {
	store    repository.Store
	builder  *features.Builder
	registry *registry.Registry
	cfg      config.TrainingConfig
	gaCfg    config.GAConfig
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector

	inFlight atomic.Bool
}

// NewService creates a training service
func NewService(
	store repository.Store,
	builder *features.Builder,
	reg *registry.Registry,
	cfg config.TrainingConfig,
	gaCfg config.GAConfig,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *Service {
	return &Service{
		store:    store,
		builder:  builder,
		registry: reg,
		cfg:      cfg,
		gaCfg:    gaCfg,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// timedRow carries one feature row with its reference time so rows
// from different locations merge into one chronological dataset.
type timedRow struct {
	at     time.Time
	values []float64
	target float64
}

// TrainOnce runs one full training cycle. Only one run may be active
// at a time; a second caller gets ErrTrainingInProgress.
func (s *Service) TrainOnce(ctx context.Context) (*models.TrainedModel, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer s.inFlight.Store(false)

	start := time.Now()
	model, err := s.train(ctx)
	s.metrics.TrainingDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.metrics.RecordTrainingRun("success")
	case isInsufficientHistory(err):
		s.metrics.RecordTrainingRun("insufficient_history")
	case isGuardRejection(err):
		s.metrics.RecordTrainingRun("guard_rejected")
	default:
		s.metrics.RecordTrainingRun("failed")
	}

	return model, err
}

func (s *Service) train(ctx context.Context) (*models.TrainedModel, error) {
	rows, err := s.gatherRows(ctx)
	if err != nil {
		return nil, err
	}

	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, row := range rows {
		x[i] = row.values
		y[i] = row.target
	}

	scaler := kelm.FitScaler(x)
	targetMean, targetStd := kelm.FitTarget(y)
	xs := kelm.StandardizeAll(scaler, x)
	ys := kelm.StandardizeTarget(y, targetMean, targetStd)

	split := len(xs) - int(float64(len(xs))*valSplitFraction)
	if split < 1 || split >= len(xs) {
		return nil, &features.InsufficientHistoryError{Available: len(xs), Required: s.cfg.MinReadings}
	}
	trainX, valX := xs[:split], xs[split:]
	trainY, valY := ys[:split], ys[split:]

	s.logger.Info(ctx, "[TRAIN_START] Hyperparameter search starting", logging.Fields{
		"rows":       len(xs),
		"train_rows": len(trainX),
		"val_rows":   len(valX),
	})

	optimizer, err := genetic.NewOptimizer(genetic.Params{
		PopulationSize:     s.gaCfg.PopulationSize,
		Generations:        s.gaCfg.Generations,
		MutationRate:       s.gaCfg.MutationRate,
		CrossoverRate:      s.gaCfg.CrossoverRate,
		ElitismCount:       s.gaCfg.ElitismCount,
		TournamentSize:     s.gaCfg.TournamentSize,
		EarlyStopRounds:    s.gaCfg.EarlyStopRounds,
		CMin:               s.gaCfg.CMin,
		CMax:               s.gaCfg.CMax,
		GammaMin:           s.gaCfg.GammaMin,
		GammaMax:           s.gaCfg.GammaMax,
		Seed:               s.gaCfg.Seed,
		ParallelEvaluators: s.gaCfg.ParallelEvaluators,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure optimizer: %w", err)
	}

	evaluate := func(evalCtx context.Context, c, gamma float64) (float64, error) {
		alpha, err := kelm.Train(trainX, trainY, c, gamma)
		if err != nil {
			return 0, err
		}
		predicted, err := kelm.PredictBatch(trainX, alpha, gamma, valX)
		if err != nil {
			return 0, err
		}
		return kelm.MSE(predicted, valY), nil
	}

	result, err := optimizer.Run(ctx, evaluate)
	if err != nil {
		return nil, fmt.Errorf("hyperparameter search failed: %w", err)
	}
	s.metrics.GAGenerationsRun.Observe(float64(result.Generations))

	// Honest validation metrics come from the split fit; the deployed
	// weights then use every row so the freshest readings count.
	valMetrics, err := s.splitMetrics(trainX, trainY, valX, valY, result.C, result.Gamma, targetStd)
	if err != nil {
		return nil, err
	}

	alpha, err := kelm.Train(xs, ys, result.C, result.Gamma)
	if err != nil {
		return nil, fmt.Errorf("final fit failed: %w", err)
	}

	trainPred, err := kelm.PredictBatch(xs, alpha, result.Gamma, xs)
	if err != nil {
		return nil, err
	}
	trainMetrics := scaleMetrics(trainPred, ys, targetStd)

	trainedAt := time.Now().UTC()
	model := &models.TrainedModel{
		VersionID:            "v" + trainedAt.Format("20060102T150405Z"),
		Kernel:               "rbf",
		C:                    result.C,
		Gamma:                result.Gamma,
		SupportInputs:        xs,
		Alpha:                alpha,
		FeatureScaler:        scaler,
		TargetMean:           targetMean,
		TargetStd:            targetStd,
		FeatureSchemaVersion: models.FeatureSchemaVersion,
		TrainMetrics:         trainMetrics,
		ValMetrics:           valMetrics,
		TrainedAt:            trainedAt,
	}

	if err := s.registry.Swap(ctx, model); err != nil {
		return nil, err
	}

	if err := s.store.SaveModel(ctx, model); err != nil {
		// The swap already landed; losing persistence only costs the
		// warm start after a restart.
		s.logger.Error(ctx, "[TRAIN_PERSIST_FAILED] Model active but not persisted", logging.Fields{
			"version_id": model.VersionID,
		}, err)
	}

	s.logger.Info(ctx, "[TRAIN_DONE] Model trained and activated", logging.Fields{
		"version_id":  model.VersionID,
		"c":           result.C,
		"gamma":       result.Gamma,
		"val_rmse":    valMetrics.RMSE,
		"generations": result.Generations,
	})

	return model, nil
}

// gatherRows builds the chronological dataset across every tracked
// location. Lags resolve within a location's own series only.
func (s *Service) gatherRows(ctx context.Context) ([]timedRow, error) {
	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	since := time.Now().UTC().Add(-s.cfg.TrainingWindow)

	total, err := s.store.CountReadings(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}
	if total < s.cfg.MinReadings {
		return nil, &features.InsufficientHistoryError{Available: total, Required: s.cfg.MinReadings}
	}

	var rows []timedRow
	for _, location := range locations {
		readings, err := s.store.ReadingsAscending(ctx, location.ID, since)
		if err != nil {
			return nil, fmt.Errorf("failed to load readings for location %d: %w", location.ID, err)
		}

		built, err := s.builder.DatasetRows(readings)
		if err != nil {
			var insufficient *features.InsufficientHistoryError
			if errors.As(err, &insufficient) {
				s.logger.Warn(ctx, "[TRAIN_LOCATION_SKIPPED] Series too sparse for lags", logging.Fields{
					"location_id": location.ID,
					"readings":    len(readings),
				}, err)
				continue
			}
			return nil, err
		}

		for _, row := range built {
			rows = append(rows, timedRow{at: row.At, values: row.Features, target: row.Target})
		}
	}

	if len(rows) < s.cfg.MinReadings {
		return nil, &features.InsufficientHistoryError{Available: len(rows), Required: s.cfg.MinReadings}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })
	return rows, nil
}

// splitMetrics refits on the training split and scores the held-out
// tail, reporting errors in original index units.
func (s *Service) splitMetrics(trainX [][]float64, trainY []float64, valX [][]float64, valY []float64, c, gamma, targetStd float64) (models.Metrics, error) {
	alpha, err := kelm.Train(trainX, trainY, c, gamma)
	if err != nil {
		return models.Metrics{}, fmt.Errorf("validation fit failed: %w", err)
	}
	predicted, err := kelm.PredictBatch(trainX, alpha, gamma, valX)
	if err != nil {
		return models.Metrics{}, err
	}
	return scaleMetrics(predicted, valY, targetStd), nil
}

// scaleMetrics maps standardized-space errors back to index units
func scaleMetrics(predicted, actual []float64, targetStd float64) models.Metrics {
	mse := kelm.MSE(predicted, actual) * targetStd * targetStd
	return models.Metrics{
		MSE:  mse,
		RMSE: kelm.RMSE(predicted, actual) * targetStd,
		MAE:  kelm.MAE(predicted, actual) * targetStd,
	}
}

func isInsufficientHistory(err error) bool {
	var insufficient *features.InsufficientHistoryError
	return errors.As(err, &insufficient)
}

func isGuardRejection(err error) bool {
	var guard *registry.ModelRegressionGuardError
	return errors.As(err, &guard)
}
