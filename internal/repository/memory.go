package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aqi-platform/internal/models"
)

// memoryStore is an in-memory Store used by tests and the standalone demo.
type memoryStore struct {
	mu        sync.RWMutex
	readings  map[int64][]*models.Reading
	locations map[int64]*models.Location
	modelLog  []*models.TrainedModel
	nextID    int64
}

// NewMemoryStore creates an empty in-memory engine store
func NewMemoryStore() Store {
	return &memoryStore{
		readings:  make(map[int64][]*models.Reading),
		locations: make(map[int64]*models.Location),
		nextID:    1,
	}
}

func (s *memoryStore) AppendReading(ctx context.Context, reading *models.Reading) error {
	if err := reading.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.readings[reading.LocationID]
	if n := len(series); n > 0 && !reading.RecordedAt.After(series[n-1].RecordedAt) {
		return ErrStaleReading
	}

	stored := *reading
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.readings[reading.LocationID] = append(series, &stored)
	reading.ID = stored.ID

	return nil
}

func (s *memoryStore) ReadingsAscending(ctx context.Context, locationID int64, since time.Time) ([]*models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reading
	for _, r := range s.readings[locationID] {
		if !r.RecordedAt.Before(since) {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memoryStore) LatestReadings(ctx context.Context, locationID int64, limit int) ([]*models.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.readings[locationID]
	start := len(series) - limit
	if start < 0 {
		start = 0
	}

	out := make([]*models.Reading, 0, len(series)-start)
	for _, r := range series[start:] {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memoryStore) CountReadings(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, series := range s.readings {
		for _, r := range series {
			if !r.RecordedAt.Before(since) {
				count++
			}
		}
	}
	return count, nil
}

func (s *memoryStore) CreateLocation(ctx context.Context, location *models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	location.ID = s.nextID
	s.nextID++
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}
	stored := *location
	s.locations[location.ID] = &stored

	return nil
}

func (s *memoryStore) GetLocation(ctx context.Context, id int64) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	location, ok := s.locations[id]
	if !ok {
		return nil, &NotFoundError{Resource: "location", ID: fmt.Sprintf("%d", id)}
	}
	copied := *location
	return &copied, nil
}

func (s *memoryStore) ListLocations(ctx context.Context) ([]*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Location, 0, len(s.locations))
	for id := int64(1); id < s.nextID; id++ {
		if location, ok := s.locations[id]; ok {
			copied := *location
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memoryStore) SaveModel(ctx context.Context, model *models.TrainedModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *model
	s.modelLog = append(s.modelLog, &stored)
	return nil
}

func (s *memoryStore) LatestModel(ctx context.Context) (*models.TrainedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.modelLog) == 0 {
		return nil, &NotFoundError{Resource: "trained_model", ID: "latest"}
	}

	latest := s.modelLog[0]
	for _, m := range s.modelLog[1:] {
		if m.TrainedAt.After(latest.TrainedAt) {
			latest = m
		}
	}
	copied := *latest
	return &copied, nil
}

func (s *memoryStore) HealthCheck(ctx context.Context) error {
	return nil
}
