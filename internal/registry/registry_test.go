package registry

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqi-platform/internal/models"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

func newTestRegistry(t *testing.T, tolerance float64) *Registry {
	t.Helper()
	collector := metrics.NewCollectorWith(prometheus.NewRegistry(), "test")
	return NewRegistry(tolerance, logging.NewNopLogger(), collector)
}

func validModel(version string, valMSE float64) *models.TrainedModel {
	return &models.TrainedModel{
		VersionID:            version,
		Kernel:               "rbf",
		C:                    10,
		Gamma:                0.1,
		SupportInputs:        [][]float64{{1, 2}, {3, 4}},
		Alpha:                []float64{0.5, -0.2},
		FeatureSchemaVersion: models.FeatureSchemaVersion,
		ValMetrics:           models.Metrics{MSE: valMSE, RMSE: math.Sqrt(valMSE)},
		TrainedAt:            time.Now().UTC(),
	}
}

func TestRegistrySwap(t *testing.T) {
	ctx := context.Background()

	t.Run("first swap always lands", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		require.Nil(t, reg.Active())

		m := validModel("v1", 100)
		require.NoError(t, reg.Swap(ctx, m))
		assert.Same(t, m, reg.Active())
	})

	t.Run("better model replaces active", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		require.NoError(t, reg.Swap(ctx, validModel("v1", 100)))
		require.NoError(t, reg.Swap(ctx, validModel("v2", 80)))
		assert.Equal(t, "v2", reg.Active().VersionID)
	})

	t.Run("regression within tolerance lands", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		require.NoError(t, reg.Swap(ctx, validModel("v1", 100)))
		require.NoError(t, reg.Swap(ctx, validModel("v2", 109)))
		assert.Equal(t, "v2", reg.Active().VersionID)
	})

	t.Run("regression past tolerance rejected", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		require.NoError(t, reg.Swap(ctx, validModel("v1", 100)))

		err := reg.Swap(ctx, validModel("v2", 120))
		var guard *ModelRegressionGuardError
		require.ErrorAs(t, err, &guard)
		assert.Equal(t, "v2", guard.CandidateVersion)
		assert.Equal(t, "v1", guard.ActiveVersion)
		assert.Equal(t, "v1", reg.Active().VersionID, "rejected swap must leave the active model alone")
	})

	t.Run("non-finite validation error rejected", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		assert.Error(t, reg.Swap(ctx, validModel("v1", math.NaN())))
		assert.Error(t, reg.Swap(ctx, validModel("v2", math.Inf(1))))
		assert.Nil(t, reg.Active())
	})

	t.Run("structurally invalid model rejected", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		broken := validModel("v1", 100)
		broken.Alpha = nil
		assert.Error(t, reg.Swap(ctx, broken))
	})
}

func TestRegistryRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("restores without guard", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		m := validModel("v-restored", 500)
		require.NoError(t, reg.Restore(ctx, m))
		assert.Same(t, m, reg.Active())
	})

	t.Run("rejects schema mismatch", func(t *testing.T) {
		reg := newTestRegistry(t, 0.10)
		m := validModel("v-old", 100)
		m.FeatureSchemaVersion = models.FeatureSchemaVersion + 1
		assert.Error(t, reg.Restore(ctx, m))
		assert.Nil(t, reg.Active())
	})
}

func TestRegistryConcurrentReadersSeeWholeModels(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 10) // generous tolerance so every swap lands

	// Each generation writes C and Gamma from the same value, so any
	// torn read would show up as a mismatched pair.
	makeGen := func(gen int) *models.TrainedModel {
		m := validModel(fmt.Sprintf("v%d", gen), 100)
		m.C = float64(gen + 1)
		m.Gamma = float64(gen + 1)
		return m
	}
	require.NoError(t, reg.Swap(ctx, makeGen(0)))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				m := reg.Active()
				if m.C != m.Gamma {
					t.Errorf("torn snapshot: C=%g gamma=%g", m.C, m.Gamma)
					return
				}
			}
		}()
	}

	for gen := 1; gen <= 200; gen++ {
		require.NoError(t, reg.Swap(ctx, makeGen(gen)))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, "v200", reg.Active().VersionID)
}
