package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/sources"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// AllSourcesFailedError reports that every configured source failed for
// one location. It carries the per-source failures for diagnostics.
type AllSourcesFailedError struct {
	LocationID int64
	Errors     []error
}

func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("all sources failed for location %d: %s", e.LocationID, strings.Join(parts, "; "))
}

func (e *AllSourcesFailedError) IsTransient() bool { return true }

// Service pulls current observations through a prioritized source chain
// and appends normalized readings to the store.
type Service struct {
	sources      []sources.Source
	store        repository.Store
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
	retryBackoff time.Duration
}

// NewService creates an ingestion service. Sources are tried in the
// order given.
func NewService(
	srcs []sources.Source,
	store repository.Store,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	retryBackoff time.Duration,
) *Service {
	return &Service{
		sources:      srcs,
		store:        store,
		logger:       logger,
		metrics:      metricsCollector,
		retryBackoff: retryBackoff,
	}
}

// IngestLocation fetches one observation for a location and appends it.
// It walks the source chain in priority order and falls through to the
// next source when one fails after its retry budget. A stale timestamp
// from the winning source is a logged no-op, not an error.
func (s *Service) IngestLocation(ctx context.Context, location *models.Location) (*models.Reading, error) {
	start := time.Now()

	var failures []error
	for i, src := range s.sources {
		obs, err := s.fetchWithRetries(ctx, src, location)
		if err != nil {
			failures = append(failures, err)
			if i < len(s.sources)-1 {
				s.metrics.RecordSourceFallback(src.Name())
				s.logger.Warn(ctx, "[INGEST_FALLBACK] Source failed, trying next", logging.Fields{
					"location_id": location.ID,
					"source":      src.Name(),
					"next_source": s.sources[i+1].Name(),
				}, err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		reading := s.buildReading(location, obs)
		if err := reading.Validate(); err != nil {
			failures = append(failures, fmt.Errorf("source %s produced invalid reading: %w", src.Name(), err))
			continue
		}

		if err := s.store.AppendReading(ctx, reading); err != nil {
			if errors.Is(err, repository.ErrStaleReading) {
				s.logger.Debug(ctx, "[INGEST_STALE] Reading not newer than stored series, skipped", logging.Fields{
					"location_id": location.ID,
					"recorded_at": reading.RecordedAt,
					"source":      src.Name(),
				})
				return reading, nil
			}
			s.metrics.RecordIngestionError("store")
			return nil, fmt.Errorf("failed to store reading: %w", err)
		}

		s.metrics.ReadingsIngestedTotal.Inc()
		s.metrics.IngestionDuration.Observe(time.Since(start).Seconds())
		s.logger.Info(ctx, "[INGEST_OK] Reading ingested", logging.Fields{
			"location_id": location.ID,
			"city":        location.City,
			"source":      src.Name(),
			"aqi_value":   reading.AQIValue,
			"category":    reading.AQICategory,
		})

		return reading, nil
	}

	s.metrics.RecordIngestionError("all_sources")
	return nil, &AllSourcesFailedError{LocationID: location.ID, Errors: failures}
}

// IngestAll runs one ingestion pass over every tracked location. A
// failed location does not abort the others.
func (s *Service) IngestAll(ctx context.Context) error {
	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list locations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	var mu sync.Mutex
	var failed int

	for _, location := range locations {
		location := location
		g.Go(func() error {
			if _, err := s.IngestLocation(gctx, location); err != nil {
				s.logger.Error(gctx, "[INGEST_LOCATION_FAILED] Location skipped this pass", logging.Fields{
					"location_id": location.ID,
					"city":        location.City,
				}, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if failed == len(locations) && len(locations) > 0 {
		return fmt.Errorf("ingestion pass failed for all %d locations", len(locations))
	}
	return nil
}

// fetchWithRetries tries one source up to 1+retries times with a fixed
// backoff between attempts. Each attempt gets the source's own timeout.
func (s *Service) fetchWithRetries(ctx context.Context, src sources.Source, location *models.Location) (*sources.Observation, error) {
	attempts := src.Retries() + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryBackoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, src.Timeout())
		fetchStart := time.Now()
		obs, err := src.GetReading(attemptCtx, location.Latitude, location.Longitude)
		cancel()

		s.metrics.SourceFetchDuration.WithLabelValues(src.Name()).Observe(time.Since(fetchStart).Seconds())

		if err == nil {
			return obs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// buildReading normalizes a source observation into a stored reading.
// The station's own index wins when the source reports one; otherwise
// the overall index is composed from the pollutant concentrations.
func (s *Service) buildReading(location *models.Location, obs *sources.Observation) *models.Reading {
	aqi := 0
	if obs.StationAQI != nil {
		aqi = models.ClampAQI(*obs.StationAQI)
	} else {
		aqi = models.ComposeAQI(map[models.Pollutant]*float64{
			models.PollutantPM25: obs.PM25,
			models.PollutantPM10: obs.PM10,
			models.PollutantO3:   obs.O3,
			models.PollutantNO2:  obs.NO2,
			models.PollutantSO2:  obs.SO2,
			models.PollutantCO:   obs.CO,
		})
	}

	recordedAt := obs.ObservedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	return &models.Reading{
		LocationID:  location.ID,
		RecordedAt:  recordedAt.UTC().Truncate(time.Second),
		PM25:        obs.PM25,
		PM10:        obs.PM10,
		O3:          obs.O3,
		NO2:         obs.NO2,
		SO2:         obs.SO2,
		CO:          obs.CO,
		AQIValue:    aqi,
		AQICategory: models.Category(float64(aqi)),
		Source:      obs.Source,
	}
}
