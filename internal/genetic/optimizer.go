package genetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"

	"aqi-platform/pkg/logging"
)

// Params configures one optimizer run. Bounds are expressed in the
// original scale; the search itself walks log10 space so a move near
// C=0.01 covers the same relative ground as one near C=1000.
type Params struct {
	PopulationSize     int
	Generations        int
	MutationRate       float64
	CrossoverRate      float64
	ElitismCount       int
	TournamentSize     int
	EarlyStopRounds    int
	CMin               float64
	CMax               float64
	GammaMin           float64
	GammaMax           float64
	Seed               int64
	ParallelEvaluators int
}

// Evaluator scores one hyperparameter pair. Lower is better.
type Evaluator func(ctx context.Context, c, gamma float64) (float64, error)

// Individual is one candidate in log10 space
type Individual struct {
	LogC     float64
	LogGamma float64
	Fitness  float64
}

// C returns the candidate's regularization constant in original scale
func (ind *Individual) C() float64 { return math.Pow(10, ind.LogC) }

// Gamma returns the candidate's kernel width in original scale
func (ind *Individual) Gamma() float64 { return math.Pow(10, ind.LogGamma) }

// Result is the outcome of one optimizer run
type Result struct {
	C           float64
	Gamma       float64
	Fitness     float64
	Generations int
	History     []float64
}

// Optimizer evolves (C, gamma) pairs against an evaluator
type Optimizer struct {
	params Params
	logger *logging.StructuredLogger

	logCMin, logCMax float64
	logGMin, logGMax float64
}

// blxAlpha widens the crossover sampling interval beyond the parents
const blxAlpha = 0.5

// mutationSigmaFrac scales mutation noise to a fraction of the
// per-gene log-space range.
const mutationSigmaFrac = 0.1

// NewOptimizer creates a GA optimizer
func NewOptimizer(params Params, logger *logging.StructuredLogger) (*Optimizer, error) {
	if params.PopulationSize < 2 {
		return nil, fmt.Errorf("population size must be at least 2, got %d", params.PopulationSize)
	}
	if params.CMin <= 0 || params.CMax <= params.CMin {
		return nil, fmt.Errorf("invalid C bounds [%g, %g]", params.CMin, params.CMax)
	}
	if params.GammaMin <= 0 || params.GammaMax <= params.GammaMin {
		return nil, fmt.Errorf("invalid gamma bounds [%g, %g]", params.GammaMin, params.GammaMax)
	}
	if params.ElitismCount >= params.PopulationSize {
		return nil, fmt.Errorf("elitism count %d must be below population size %d", params.ElitismCount, params.PopulationSize)
	}
	if params.TournamentSize < 1 {
		params.TournamentSize = 3
	}
	if params.ParallelEvaluators < 1 {
		params.ParallelEvaluators = 1
	}

	return &Optimizer{
		params:  params,
		logger:  logger,
		logCMin: math.Log10(params.CMin),
		logCMax: math.Log10(params.CMax),
		logGMin: math.Log10(params.GammaMin),
		logGMax: math.Log10(params.GammaMax),
	}, nil
}

// slotRNG derives the random stream for one offspring slot in one
// generation. Streams depend only on (seed, generation, slot), so the
// evolved trajectory is identical no matter how evaluation work is
// scheduled across goroutines.
func (o *Optimizer) slotRNG(generation, slot int) *rand.Rand {
	seed := o.params.Seed
	seed = seed*1000003 + int64(generation)
	seed = seed*1000003 + int64(slot)
	return rand.New(rand.NewSource(seed))
}

// Run evolves the population and returns the best pair ever observed.
// Candidates the evaluator rejects score worst rather than aborting
// the run; only context cancellation stops the search.
func (o *Optimizer) Run(ctx context.Context, eval Evaluator) (*Result, error) {
	population := make([]Individual, o.params.PopulationSize)
	for slot := range population {
		rng := o.slotRNG(0, slot)
		population[slot] = Individual{
			LogC:     o.logCMin + rng.Float64()*(o.logCMax-o.logCMin),
			LogGamma: o.logGMin + rng.Float64()*(o.logGMax-o.logGMin),
		}
	}

	if err := o.evaluate(ctx, population, eval); err != nil {
		return nil, err
	}
	sortByFitness(population)

	best := population[0]
	history := []float64{best.Fitness}
	stale := 0
	generations := 0

	for gen := 1; gen <= o.params.Generations; gen++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		next := make([]Individual, 0, o.params.PopulationSize)
		for i := 0; i < o.params.ElitismCount; i++ {
			next = append(next, population[i])
		}

		for slot := len(next); slot < o.params.PopulationSize; slot++ {
			rng := o.slotRNG(gen, slot)
			a := o.tournament(population, rng)
			b := o.tournament(population, rng)
			child := o.crossover(a, b, rng)
			o.mutate(&child, rng)
			next = append(next, child)
		}

		if err := o.evaluate(ctx, next, eval); err != nil {
			return nil, err
		}
		sortByFitness(next)
		population = next
		generations = gen

		if population[0].Fitness < best.Fitness {
			best = population[0]
			stale = 0
		} else {
			stale++
		}
		history = append(history, best.Fitness)

		o.logger.Debug(ctx, "[GA_GENERATION] Generation evolved", logging.Fields{
			"generation":   gen,
			"best_fitness": best.Fitness,
			"best_c":       best.C(),
			"best_gamma":   best.Gamma(),
			"stale_rounds": stale,
		})

		if o.params.EarlyStopRounds > 0 && stale >= o.params.EarlyStopRounds {
			o.logger.Info(ctx, "[GA_EARLY_STOP] No improvement, stopping", logging.Fields{
				"generation":   gen,
				"stale_rounds": stale,
			})
			break
		}
	}

	if math.IsInf(best.Fitness, 1) {
		return nil, fmt.Errorf("no candidate produced a finite fitness")
	}

	return &Result{
		C:           best.C(),
		Gamma:       best.Gamma(),
		Fitness:     best.Fitness,
		Generations: generations,
		History:     history,
	}, nil
}

// evaluate scores every individual, bounded by ParallelEvaluators
func (o *Optimizer) evaluate(ctx context.Context, population []Individual, eval Evaluator) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.params.ParallelEvaluators)

	for i := range population {
		i := i
		g.Go(func() error {
			fitness, err := eval(gctx, population[i].C(), population[i].Gamma())
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn(gctx, "[GA_CANDIDATE_REJECTED] Candidate scored worst", logging.Fields{
					"c":     population[i].C(),
					"gamma": population[i].Gamma(),
				}, err)
				population[i].Fitness = math.Inf(1)
				return nil
			}
			if math.IsNaN(fitness) {
				population[i].Fitness = math.Inf(1)
				return nil
			}
			population[i].Fitness = fitness
			return nil
		})
	}

	return g.Wait()
}

// tournament draws TournamentSize contestants with replacement and
// returns the fittest.
func (o *Optimizer) tournament(population []Individual, rng *rand.Rand) Individual {
	best := population[rng.Intn(len(population))]
	for i := 1; i < o.params.TournamentSize; i++ {
		contender := population[rng.Intn(len(population))]
		if contender.Fitness < best.Fitness {
			best = contender
		}
	}
	return best
}

// crossover blends two parents per gene with BLX-alpha, or passes the
// first parent through when the crossover roll fails.
func (o *Optimizer) crossover(a, b Individual, rng *rand.Rand) Individual {
	if rng.Float64() >= o.params.CrossoverRate {
		return Individual{LogC: a.LogC, LogGamma: a.LogGamma}
	}

	return Individual{
		LogC:     clamp(blend(a.LogC, b.LogC, rng), o.logCMin, o.logCMax),
		LogGamma: clamp(blend(a.LogGamma, b.LogGamma, rng), o.logGMin, o.logGMax),
	}
}

func blend(x, y float64, rng *rand.Rand) float64 {
	lo, hi := math.Min(x, y), math.Max(x, y)
	span := hi - lo
	lo -= blxAlpha * span
	hi += blxAlpha * span
	return lo + rng.Float64()*(hi-lo)
}

// mutate perturbs each gene independently with Gaussian noise scaled
// to the log-space range.
func (o *Optimizer) mutate(ind *Individual, rng *rand.Rand) {
	if rng.Float64() < o.params.MutationRate {
		sigma := mutationSigmaFrac * (o.logCMax - o.logCMin)
		ind.LogC = clamp(ind.LogC+rng.NormFloat64()*sigma, o.logCMin, o.logCMax)
	}
	if rng.Float64() < o.params.MutationRate {
		sigma := mutationSigmaFrac * (o.logGMax - o.logGMin)
		ind.LogGamma = clamp(ind.LogGamma+rng.NormFloat64()*sigma, o.logGMin, o.logGMax)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sortByFitness(population []Individual) {
	sort.SliceStable(population, func(i, j int) bool {
		return population[i].Fitness < population[j].Fitness
	})
}
