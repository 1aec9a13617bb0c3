package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqi-platform/internal/config"
	"aqi-platform/internal/features"
	"aqi-platform/internal/ingest"
	"aqi-platform/internal/models"
	"aqi-platform/internal/predict"
	"aqi-platform/internal/registry"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/sources"
	"aqi-platform/internal/training"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

type fixedSource struct {
	obs *sources.Observation
	err error
}

func (f *fixedSource) Name() string           { return "waqi" }
func (f *fixedSource) Timeout() time.Duration { return time.Second }
func (f *fixedSource) Retries() int           { return 0 }

func (f *fixedSource) GetReading(ctx context.Context, lat, lon float64) (*sources.Observation, error) {
	return f.obs, f.err
}

type fixture struct {
	router   *mux.Router
	store    repository.Store
	registry *registry.Registry
	trainer  *training.Service
	location *models.Location
}

func newFixture(t *testing.T, src sources.Source) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	collector := metrics.NewCollectorWith(prometheus.NewRegistry(), "test")
	logger := logging.NewNopLogger()
	reg := registry.NewRegistry(0.10, logger, collector)
	builder := features.NewBuilder(nil, 0)

	ingestSvc := ingest.NewService([]sources.Source{src}, store, logger, collector, time.Millisecond)
	trainSvc := training.NewService(store, builder, reg, config.TrainingConfig{
		MinReadings:              50,
		TrainingWindow:           30 * 24 * time.Hour,
		RegressionGuardTolerance: 0.10,
	}, config.GAConfig{
		PopulationSize:     6,
		Generations:        2,
		MutationRate:       0.15,
		CrossoverRate:      0.8,
		ElitismCount:       1,
		TournamentSize:     3,
		CMin:               0.01,
		CMax:               1000,
		GammaMin:           0.001,
		GammaMax:           10,
		Seed:               42,
		ParallelEvaluators: 2,
	}, logger, collector)
	predictSvc := predict.NewService(store, reg, builder, logger, collector)

	handler := NewEngineHandler(store, ingestSvc, trainSvc, predictSvc, reg, logger, collector)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	location := &models.Location{City: "Delhi", Country: "IN", Latitude: 28.6, Longitude: 77.2}
	require.NoError(t, store.CreateLocation(context.Background(), location))

	return &fixture{
		router:   router,
		store:    store,
		registry: reg,
		trainer:  trainSvc,
		location: location,
	}
}

func (f *fixture) seedSeries(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Duration(n) * time.Hour).Truncate(time.Hour)
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		aqi := int(100 + 40*math.Sin(2*math.Pi*float64(at.Hour())/24))
		require.NoError(t, f.store.AppendReading(ctx, &models.Reading{
			LocationID:  f.location.ID,
			RecordedAt:  at,
			PM25:        floatPtr(float64(aqi) / 2),
			AQIValue:    aqi,
			AQICategory: models.Category(float64(aqi)),
			Source:      "waqi",
		}))
	}
}

func (f *fixture) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func goodSource() *fixedSource {
	return &fixedSource{obs: &sources.Observation{
		PM25:       floatPtr(35.0),
		StationAQI: intPtr(99),
		Station:    "Test",
		ObservedAt: time.Now().UTC(),
		Source:     "waqi",
	}}
}

func TestLocationEndpoints(t *testing.T) {
	f := newFixture(t, goodSource())

	t.Run("list", func(t *testing.T) {
		rec := f.do("GET", "/api/locations", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var locations []*models.Location
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &locations))
		assert.Len(t, locations, 1)
	})

	t.Run("create", func(t *testing.T) {
		rec := f.do("POST", "/api/locations", `{"city":"Mumbai","country":"IN","latitude":19.1,"longitude":72.9}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var created models.Location
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.NotZero(t, created.ID)
	})

	t.Run("create rejects bad coordinates", func(t *testing.T) {
		rec := f.do("POST", "/api/locations", `{"city":"Nowhere","latitude":123.0,"longitude":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("create rejects missing city", func(t *testing.T) {
		rec := f.do("POST", "/api/locations", `{"latitude":10,"longitude":10}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIngestEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, goodSource())
		rec := f.do("POST", "/api/ingest/1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var reading models.Reading
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
		assert.Equal(t, 99, reading.AQIValue)
	})

	t.Run("unknown location", func(t *testing.T) {
		f := newFixture(t, goodSource())
		rec := f.do("POST", "/api/ingest/999", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		f := newFixture(t, goodSource())
		rec := f.do("POST", "/api/ingest/abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("all sources down", func(t *testing.T) {
		f := newFixture(t, &fixedSource{err: &sources.FetchError{Source: "waqi", StatusCode: 503}})
		rec := f.do("POST", "/api/ingest/1", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestPredictionsEndpoint(t *testing.T) {
	t.Run("formula forecast without model", func(t *testing.T) {
		f := newFixture(t, goodSource())
		f.seedSeries(t, 12)

		rec := f.do("GET", "/api/predictions/1?horizon=6", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var records []*models.PredictionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		require.Len(t, records, 6)
		assert.False(t, records[0].IsMLSourced)
	})

	t.Run("model forecast after training", func(t *testing.T) {
		f := newFixture(t, goodSource())
		f.seedSeries(t, 120)

		_, err := f.trainer.TrainOnce(context.Background())
		require.NoError(t, err)

		rec := f.do("GET", "/api/predictions/1?horizon=3", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var records []*models.PredictionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		require.Len(t, records, 3)
		assert.True(t, records[0].IsMLSourced)
		assert.Equal(t, f.registry.Active().VersionID, records[0].ModelVersion)
	})

	t.Run("invalid horizon", func(t *testing.T) {
		f := newFixture(t, goodSource())
		rec := f.do("GET", "/api/predictions/1?horizon=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do("GET", "/api/predictions/1?horizon=100", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no readings yet", func(t *testing.T) {
		f := newFixture(t, goodSource())
		rec := f.do("GET", "/api/predictions/1?horizon=6", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestModelEndpoint(t *testing.T) {
	t.Run("no model", func(t *testing.T) {
		f := newFixture(t, goodSource())
		rec := f.do("GET", "/api/model", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("active model", func(t *testing.T) {
		f := newFixture(t, goodSource())
		f.seedSeries(t, 120)
		_, err := f.trainer.TrainOnce(context.Background())
		require.NoError(t, err)

		rec := f.do("GET", "/api/model", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var info models.ModelInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, f.registry.Active().VersionID, info.VersionID)
		assert.Equal(t, "rbf", info.Kernel)
	})
}

func TestTrainEndpoint(t *testing.T) {
	f := newFixture(t, goodSource())
	f.seedSeries(t, 120)

	rec := f.do("POST", "/api/train", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The run completes in the background and installs a model.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if f.registry.Active() != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotNil(t, f.registry.Active())
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, goodSource())
	rec := f.do("GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])
}
