package genetic

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqi-platform/pkg/logging"
)

func testParams() Params {
	return Params{
		PopulationSize:     10,
		Generations:        5,
		MutationRate:       0.15,
		CrossoverRate:      0.8,
		ElitismCount:       2,
		TournamentSize:     3,
		EarlyStopRounds:    0,
		CMin:               0.01,
		CMax:               1000,
		GammaMin:           0.001,
		GammaMax:           10,
		Seed:               42,
		ParallelEvaluators: 4,
	}
}

// bowlEvaluator has its minimum at C=10, gamma=0.1 in log10 space
func bowlEvaluator(ctx context.Context, c, gamma float64) (float64, error) {
	dc := math.Log10(c) - 1
	dg := math.Log10(gamma) + 1
	return dc*dc + dg*dg, nil
}

func TestNewOptimizerValidation(t *testing.T) {
	logger := logging.NewNopLogger()

	t.Run("population too small", func(t *testing.T) {
		p := testParams()
		p.PopulationSize = 1
		_, err := NewOptimizer(p, logger)
		assert.Error(t, err)
	})

	t.Run("inverted C bounds", func(t *testing.T) {
		p := testParams()
		p.CMin, p.CMax = 100, 1
		_, err := NewOptimizer(p, logger)
		assert.Error(t, err)
	})

	t.Run("elitism swallows population", func(t *testing.T) {
		p := testParams()
		p.ElitismCount = 10
		_, err := NewOptimizer(p, logger)
		assert.Error(t, err)
	})
}

func TestRunConvergesTowardMinimum(t *testing.T) {
	p := testParams()
	p.Generations = 30
	opt, err := NewOptimizer(p, logging.NewNopLogger())
	require.NoError(t, err)

	result, err := opt.Run(context.Background(), bowlEvaluator)
	require.NoError(t, err)

	assert.Less(t, result.Fitness, 0.5)
	assert.InDelta(t, 1.0, math.Log10(result.C), 1.0)
	assert.InDelta(t, -1.0, math.Log10(result.Gamma), 1.0)
}

func TestRunIsDeterministic(t *testing.T) {
	run := func(parallel int) *Result {
		p := testParams()
		p.ParallelEvaluators = parallel
		opt, err := NewOptimizer(p, logging.NewNopLogger())
		require.NoError(t, err)
		result, err := opt.Run(context.Background(), bowlEvaluator)
		require.NoError(t, err)
		return result
	}

	first := run(1)
	second := run(1)
	assert.Equal(t, first, second, "same seed must replay the same trajectory")

	wide := run(8)
	assert.Equal(t, first.C, wide.C, "evaluator parallelism must not change the outcome")
	assert.Equal(t, first.Gamma, wide.Gamma)
	assert.Equal(t, first.History, wide.History)

	p := testParams()
	p.Seed = 7
	opt, err := NewOptimizer(p, logging.NewNopLogger())
	require.NoError(t, err)
	other, err := opt.Run(context.Background(), bowlEvaluator)
	require.NoError(t, err)
	assert.NotEqual(t, first.History, other.History, "a different seed should explore differently")
}

func TestRunHistoryIsMonotone(t *testing.T) {
	opt, err := NewOptimizer(testParams(), logging.NewNopLogger())
	require.NoError(t, err)

	result, err := opt.Run(context.Background(), bowlEvaluator)
	require.NoError(t, err)

	require.NotEmpty(t, result.History)
	for i := 1; i < len(result.History); i++ {
		assert.LessOrEqual(t, result.History[i], result.History[i-1],
			"global best must never regress")
	}
}

func TestRunEarlyStop(t *testing.T) {
	p := testParams()
	p.Generations = 50
	p.EarlyStopRounds = 3
	opt, err := NewOptimizer(p, logging.NewNopLogger())
	require.NoError(t, err)

	// Constant landscape: nothing ever improves on generation zero.
	flat := func(ctx context.Context, c, gamma float64) (float64, error) {
		return 1.0, nil
	}

	result, err := opt.Run(context.Background(), flat)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Generations)
}

func TestRunRejectedCandidatesScoreWorst(t *testing.T) {
	p := testParams()
	p.Generations = 3

	var rejected atomic.Int64
	eval := func(ctx context.Context, c, gamma float64) (float64, error) {
		if c > 1 {
			rejected.Add(1)
			return 0, errors.New("kernel matrix singular")
		}
		return bowlEvaluator(ctx, c, gamma)
	}

	opt, err := NewOptimizer(p, logging.NewNopLogger())
	require.NoError(t, err)

	result, err := opt.Run(context.Background(), eval)
	require.NoError(t, err)

	assert.Greater(t, rejected.Load(), int64(0))
	assert.LessOrEqual(t, result.C, 1.0, "winner must come from the accepted region")
	assert.False(t, math.IsInf(result.Fitness, 1))
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opt, err := NewOptimizer(testParams(), logging.NewNopLogger())
	require.NoError(t, err)

	_, err = opt.Run(ctx, bowlEvaluator)
	assert.ErrorIs(t, err, context.Canceled)
}
