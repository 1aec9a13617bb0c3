package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"aqi-platform/internal/features"
	"aqi-platform/internal/kelm"
	"aqi-platform/internal/models"
	"aqi-platform/internal/registry"
	"aqi-platform/internal/repository"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// MaxHorizonHours bounds how far ahead one request may forecast
const MaxHorizonHours = 48

// historyFetchLimit is how many recent readings feed lag resolution.
// Twice the deepest lag leaves room for gaps in the series.
const historyFetchLimit = 96

// minConfidence floors the reported confidence on far-out steps
const minConfidence = 0.5

// confidenceDecay shapes the per-step confidence falloff
const confidenceDecay = 0.1

// Service serves AQI forecasts from the active model, falling back to
// a trend extrapolation when no model is available.
type Service struct {
	store    repository.Store
	registry *registry.Registry
	builder  *features.Builder
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewService creates a prediction service
func NewService(
	store repository.Store,
	reg *registry.Registry,
	builder *features.Builder,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *Service {
	return &Service{
		store:    store,
		registry: reg,
		builder:  builder,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Predict forecasts hourly AQI for a location over the horizon. Each
// step feeds the previous prediction back into the lag window, so the
// model walks forward one hour at a time.
func (s *Service) Predict(ctx context.Context, locationID int64, horizonHours int) ([]*models.PredictionRecord, error) {
	if horizonHours < 1 || horizonHours > MaxHorizonHours {
		return nil, fmt.Errorf("horizon must be within [1, %d] hours, got %d", MaxHorizonHours, horizonHours)
	}

	start := time.Now()
	defer func() {
		s.metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	}()

	if _, err := s.store.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}

	readings, err := s.store.LatestReadings(ctx, locationID, historyFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent readings: %w", err)
	}
	if len(readings) == 0 {
		return nil, &features.InsufficientHistoryError{Available: 0, Required: 1}
	}

	model := s.registry.Active()
	if model != nil {
		records, err := s.predictWithModel(ctx, model, locationID, readings, horizonHours)
		if err == nil {
			s.metrics.RecordPrediction("model")
			return records, nil
		}

		var insufficient *features.InsufficientHistoryError
		if !errors.As(err, &insufficient) {
			return nil, err
		}
		s.logger.Warn(ctx, "[PREDICT_FALLBACK] Lag window unresolvable, using trend formula", logging.Fields{
			"location_id": locationID,
			"readings":    len(readings),
		}, err)
	}

	s.metrics.RecordPrediction("formula")
	return s.predictWithFormula(locationID, readings, horizonHours), nil
}

// predictWithModel rolls the model forward hour by hour. Predicted
// values re-enter the series as pseudo readings so deeper steps see
// them as lags; pollutant inputs hold at the last observed values.
func (s *Service) predictWithModel(ctx context.Context, model *models.TrainedModel, locationID int64, readings []*models.Reading, horizonHours int) ([]*models.PredictionRecord, error) {
	series := make([]*models.Reading, len(readings))
	copy(series, readings)
	last := series[len(series)-1]

	now := time.Now().UTC()
	records := make([]*models.PredictionRecord, 0, horizonHours)

	for step := 1; step <= horizonHours; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref := last.RecordedAt.Add(time.Duration(step) * time.Hour)
		row, err := s.builder.Vector(series, ref)
		if err != nil {
			return nil, err
		}

		standardized := kelm.Standardize(model.FeatureScaler, row)
		raw, err := kelm.Predict(model.SupportInputs, model.Alpha, model.Gamma, standardized)
		if err != nil {
			return nil, err
		}

		value := kelm.Destandardize(raw, model.TargetMean, model.TargetStd)
		aqi := models.ClampAQI(int(math.Round(value)))
		confidence := stepConfidence(step)

		records = append(records, &models.PredictionRecord{
			LocationID:        locationID,
			PredictedFor:      ref,
			PredictedAQI:      aqi,
			PredictedCategory: models.Category(float64(aqi)),
			Confidence:        &confidence,
			ModelVersion:      model.VersionID,
			IsMLSourced:       true,
			CreatedAt:         now,
		})

		series = append(series, &models.Reading{
			LocationID:  locationID,
			RecordedAt:  ref,
			PM25:        last.PM25,
			PM10:        last.PM10,
			O3:          last.O3,
			NO2:         last.NO2,
			SO2:         last.SO2,
			CO:          last.CO,
			AQIValue:    aqi,
			AQICategory: models.Category(float64(aqi)),
			Source:      "forecast",
		})
	}

	return records, nil
}

// predictWithFormula extrapolates the recent trend when no trained
// model can serve. The trend damps toward persistence with distance.
func (s *Service) predictWithFormula(locationID int64, readings []*models.Reading, horizonHours int) []*models.PredictionRecord {
	last := readings[len(readings)-1]

	// Average hourly delta over up to the last six intervals.
	trend := 0.0
	window := readings
	if len(window) > 7 {
		window = window[len(window)-7:]
	}
	if len(window) > 1 {
		first, final := window[0], window[len(window)-1]
		hours := final.RecordedAt.Sub(first.RecordedAt).Hours()
		if hours > 0 {
			trend = float64(final.AQIValue-first.AQIValue) / hours
		}
	}

	now := time.Now().UTC()
	records := make([]*models.PredictionRecord, 0, horizonHours)
	for step := 1; step <= horizonHours; step++ {
		damping := math.Exp(-0.2 * float64(step-1))
		value := float64(last.AQIValue) + trend*float64(step)*damping
		aqi := models.ClampAQI(int(math.Round(value)))
		confidence := stepConfidence(step) * 0.8

		records = append(records, &models.PredictionRecord{
			LocationID:        locationID,
			PredictedFor:      last.RecordedAt.Add(time.Duration(step) * time.Hour),
			PredictedAQI:      aqi,
			PredictedCategory: models.Category(float64(aqi)),
			Confidence:        &confidence,
			IsMLSourced:       false,
			CreatedAt:         now,
		})
	}

	return records
}

// stepConfidence decays with forecast distance and never drops below
// the floor.
func stepConfidence(step int) float64 {
	c := math.Exp(-confidenceDecay * float64(step-1))
	if c < minConfidence {
		return minConfidence
	}
	return c
}
