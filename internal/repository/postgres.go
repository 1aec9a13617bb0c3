package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aqi-platform/internal/models"
	"aqi-platform/pkg/database"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// postgresStore implements Store on PostgreSQL
type postgresStore struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPostgresStore creates a PostgreSQL-backed engine store
func NewPostgresStore(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) Store {
	return &postgresStore{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// AppendReading appends one reading. ON CONFLICT keeps the store
// append-only: an existing (location_id, recorded_at) row is never
// overwritten.
func (s *postgresStore) AppendReading(ctx context.Context, reading *models.Reading) error {
	if err := reading.Validate(); err != nil {
		return err
	}

	var latest sql.NullTime
	err := s.db.GetContext(ctx, "latest_recorded_at", &latest, `
		SELECT MAX(recorded_at) FROM readings WHERE location_id = $1
	`, reading.LocationID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check latest reading: %w", err)
	}
	if latest.Valid && !reading.RecordedAt.After(latest.Time) {
		return ErrStaleReading
	}

	result, err := s.db.ExecContext(ctx, "append_reading", `
		INSERT INTO readings (
			location_id, recorded_at, pm25, pm10, o3, no2, so2, co,
			aqi_value, aqi_category, source, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (location_id, recorded_at) DO NOTHING
	`,
		reading.LocationID,
		reading.RecordedAt,
		reading.PM25,
		reading.PM10,
		reading.O3,
		reading.NO2,
		reading.SO2,
		reading.CO,
		reading.AQIValue,
		reading.AQICategory,
		reading.Source,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrStaleReading
	}

	s.logger.Debug(ctx, "[REPO_APPEND_READING] Reading appended", logging.Fields{
		"location_id": reading.LocationID,
		"recorded_at": reading.RecordedAt,
		"aqi_value":   reading.AQIValue,
		"source":      reading.Source,
	})

	return nil
}

// ReadingsAscending returns readings since a cutoff in recorded_at order
func (s *postgresStore) ReadingsAscending(ctx context.Context, locationID int64, since time.Time) ([]*models.Reading, error) {
	var readings []*models.Reading
	err := s.db.SelectContext(ctx, "readings_ascending", &readings, `
		SELECT id, location_id, recorded_at, pm25, pm10, o3, no2, so2, co,
		       aqi_value, aqi_category, source, created_at
		FROM readings
		WHERE location_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC
	`, locationID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get readings: %w", err)
	}

	return readings, nil
}

// LatestReadings returns the newest limit readings in ascending order
func (s *postgresStore) LatestReadings(ctx context.Context, locationID int64, limit int) ([]*models.Reading, error) {
	var readings []*models.Reading
	err := s.db.SelectContext(ctx, "latest_readings", &readings, `
		SELECT id, location_id, recorded_at, pm25, pm10, o3, no2, so2, co,
		       aqi_value, aqi_category, source, created_at
		FROM (
			SELECT id, location_id, recorded_at, pm25, pm10, o3, no2, so2, co,
			       aqi_value, aqi_category, source, created_at
			FROM readings
			WHERE location_id = $1
			ORDER BY recorded_at DESC
			LIMIT $2
		) AS recent
		ORDER BY recorded_at ASC
	`, locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest readings: %w", err)
	}

	return readings, nil
}

// CountReadings counts stored readings since a cutoff
func (s *postgresStore) CountReadings(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, "count_readings", &count, `
		SELECT COUNT(*) FROM readings WHERE recorded_at >= $1
	`, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}

	return count, nil
}

// CreateLocation inserts a tracked location
func (s *postgresStore) CreateLocation(ctx context.Context, location *models.Location) error {
	err := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO locations (city, country, latitude, longitude, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		location.City,
		location.Country,
		location.Latitude,
		location.Longitude,
		time.Now().UTC(),
	).Scan(&location.ID)
	if err != nil {
		return fmt.Errorf("failed to create location: %w", err)
	}

	return nil
}

// GetLocation retrieves one location by id
func (s *postgresStore) GetLocation(ctx context.Context, id int64) (*models.Location, error) {
	var location models.Location
	err := s.db.GetContext(ctx, "get_location", &location, `
		SELECT id, city, country, latitude, longitude, created_at
		FROM locations
		WHERE id = $1
	`, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "location", ID: fmt.Sprintf("%d", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	return &location, nil
}

// ListLocations lists all tracked locations
func (s *postgresStore) ListLocations(ctx context.Context) ([]*models.Location, error) {
	var locations []*models.Location
	err := s.db.SelectContext(ctx, "list_locations", &locations, `
		SELECT id, city, country, latitude, longitude, created_at
		FROM locations
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	return locations, nil
}

// trainedModelRow is the storage shape of a persisted model. The weight
// matrices travel as a JSONB payload next to the queryable metadata.
type trainedModelRow struct {
	VersionID string    `db:"version_id"`
	ValRMSE   float64   `db:"val_rmse"`
	TrainedAt time.Time `db:"trained_at"`
	Payload   []byte    `db:"payload"`
}

// SaveModel persists one trained model
func (s *postgresStore) SaveModel(ctx context.Context, model *models.TrainedModel) error {
	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to serialize model: %w", err)
	}

	_, err = s.db.ExecContext(ctx, "save_model", `
		INSERT INTO trained_models (version_id, val_rmse, trained_at, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		model.VersionID,
		model.ValMetrics.RMSE,
		model.TrainedAt,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	s.logger.Info(ctx, "[REPO_SAVE_MODEL] Trained model persisted", logging.Fields{
		"version_id": model.VersionID,
		"val_rmse":   model.ValMetrics.RMSE,
	})

	return nil
}

// LatestModel loads the most recently trained persisted model
func (s *postgresStore) LatestModel(ctx context.Context) (*models.TrainedModel, error) {
	var row trainedModelRow
	err := s.db.GetContext(ctx, "latest_model", &row, `
		SELECT version_id, val_rmse, trained_at, payload
		FROM trained_models
		ORDER BY trained_at DESC
		LIMIT 1
	`)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "trained_model", ID: "latest"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest model: %w", err)
	}

	var model models.TrainedModel
	if err := json.Unmarshal(row.Payload, &model); err != nil {
		return nil, fmt.Errorf("failed to deserialize model %s: %w", row.VersionID, err)
	}

	return &model, nil
}

// HealthCheck performs a repository health check
func (s *postgresStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}
