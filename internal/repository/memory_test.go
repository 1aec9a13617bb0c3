package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqi-platform/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func newTestReading(locationID int64, at time.Time, aqi int) *models.Reading {
	return &models.Reading{
		LocationID:  locationID,
		RecordedAt:  at,
		PM25:        floatPtr(12.5),
		AQIValue:    aqi,
		AQICategory: models.Category(float64(aqi)),
		Source:      "waqi",
	}
}

func TestMemoryStoreAppendReading(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendReading(ctx, newTestReading(1, base, 55)))
	require.NoError(t, store.AppendReading(ctx, newTestReading(1, base.Add(time.Hour), 60)))

	t.Run("rejects stale timestamp", func(t *testing.T) {
		err := store.AppendReading(ctx, newTestReading(1, base.Add(30*time.Minute), 58))
		assert.ErrorIs(t, err, ErrStaleReading)
	})

	t.Run("rejects duplicate timestamp", func(t *testing.T) {
		err := store.AppendReading(ctx, newTestReading(1, base.Add(time.Hour), 61))
		assert.ErrorIs(t, err, ErrStaleReading)
	})

	t.Run("other locations unaffected", func(t *testing.T) {
		err := store.AppendReading(ctx, newTestReading(2, base, 40))
		assert.NoError(t, err)
	})

	readings, err := store.ReadingsAscending(ctx, 1, base)
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestMemoryStoreReadingsAscending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendReading(ctx, newTestReading(1, base.Add(time.Duration(i)*time.Hour), 50+i)))
	}

	readings, err := store.ReadingsAscending(ctx, 1, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, readings, 3)
	for i := 1; i < len(readings); i++ {
		assert.True(t, readings[i].RecordedAt.After(readings[i-1].RecordedAt))
	}
	assert.Equal(t, 52, readings[0].AQIValue)
}

func TestMemoryStoreLatestReadings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendReading(ctx, newTestReading(1, base.Add(time.Duration(i)*time.Hour), 50+i)))
	}

	t.Run("returns newest in ascending order", func(t *testing.T) {
		readings, err := store.LatestReadings(ctx, 1, 3)
		require.NoError(t, err)
		require.Len(t, readings, 3)
		assert.Equal(t, 57, readings[0].AQIValue)
		assert.Equal(t, 59, readings[2].AQIValue)
	})

	t.Run("limit larger than series", func(t *testing.T) {
		readings, err := store.LatestReadings(ctx, 1, 100)
		require.NoError(t, err)
		assert.Len(t, readings, 10)
	})

	t.Run("unknown location is empty", func(t *testing.T) {
		readings, err := store.LatestReadings(ctx, 99, 3)
		require.NoError(t, err)
		assert.Empty(t, readings)
	})
}

func TestMemoryStoreCountReadings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendReading(ctx, newTestReading(1, base, 50)))
	require.NoError(t, store.AppendReading(ctx, newTestReading(1, base.Add(time.Hour), 51)))
	require.NoError(t, store.AppendReading(ctx, newTestReading(2, base.Add(2*time.Hour), 52)))

	count, err := store.CountReadings(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStoreLocations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	delhi := &models.Location{City: "Delhi", Country: "IN", Latitude: 28.6139, Longitude: 77.2090}
	require.NoError(t, store.CreateLocation(ctx, delhi))
	assert.NotZero(t, delhi.ID)

	mumbai := &models.Location{City: "Mumbai", Country: "IN", Latitude: 19.0760, Longitude: 72.8777}
	require.NoError(t, store.CreateLocation(ctx, mumbai))

	t.Run("get existing", func(t *testing.T) {
		got, err := store.GetLocation(ctx, delhi.ID)
		require.NoError(t, err)
		assert.Equal(t, "Delhi", got.City)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.GetLocation(ctx, 999)
		var notFound *NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("list all", func(t *testing.T) {
		locations, err := store.ListLocations(ctx)
		require.NoError(t, err)
		assert.Len(t, locations, 2)
	})
}

func TestMemoryStoreModels(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	t.Run("empty store has no model", func(t *testing.T) {
		_, err := store.LatestModel(ctx)
		var notFound *NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	older := &models.TrainedModel{
		VersionID:            "v20250309T000000Z",
		Kernel:               "rbf",
		C:                    10,
		Gamma:                0.1,
		SupportInputs:        [][]float64{{1, 2}},
		Alpha:                []float64{0.5},
		FeatureSchemaVersion: models.FeatureSchemaVersion,
		TrainedAt:            time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
	}
	newer := &models.TrainedModel{
		VersionID:            "v20250310T000000Z",
		Kernel:               "rbf",
		C:                    50,
		Gamma:                0.05,
		SupportInputs:        [][]float64{{3, 4}},
		Alpha:                []float64{0.2},
		FeatureSchemaVersion: models.FeatureSchemaVersion,
		TrainedAt:            time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.SaveModel(ctx, newer))
	require.NoError(t, store.SaveModel(ctx, older))

	latest, err := store.LatestModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v20250310T000000Z", latest.VersionID)
}
