package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aqi-platform/internal/models"
)

// ErrStaleReading is returned when an appended reading is not strictly
// newer than the latest stored reading for its location. The per-location
// series must be strictly increasing in recorded_at.
var ErrStaleReading = errors.New("reading not newer than latest stored reading")

// ReadingStore is the append-only pollutant reading store
type ReadingStore interface {
	// AppendReading appends one reading; returns ErrStaleReading if it
	// would not extend the location's time series
	AppendReading(ctx context.Context, reading *models.Reading) error

	// ReadingsAscending returns readings for a location recorded at or
	// after since, in ascending recorded_at order
	ReadingsAscending(ctx context.Context, locationID int64, since time.Time) ([]*models.Reading, error)

	// LatestReadings returns the most recent limit readings for a
	// location, in ascending recorded_at order
	LatestReadings(ctx context.Context, locationID int64, limit int) ([]*models.Reading, error)

	// CountReadings counts readings recorded at or after since across
	// all locations
	CountReadings(ctx context.Context, since time.Time) (int, error)
}

// LocationStore manages tracked locations
type LocationStore interface {
	CreateLocation(ctx context.Context, location *models.Location) error
	GetLocation(ctx context.Context, id int64) (*models.Location, error)
	ListLocations(ctx context.Context) ([]*models.Location, error)
}

// ModelStore persists trained models across restarts
type ModelStore interface {
	SaveModel(ctx context.Context, model *models.TrainedModel) error
	LatestModel(ctx context.Context) (*models.TrainedModel, error)
}

// Store combines all persistence concerns of the engine
type Store interface {
	ReadingStore
	LocationStore
	ModelStore
	HealthCheck(ctx context.Context) error
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
