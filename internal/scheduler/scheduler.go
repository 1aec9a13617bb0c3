package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aqi-platform/internal/training"
	"aqi-platform/pkg/logging"
)

// Ingester runs one ingestion pass over all tracked locations
type Ingester interface {
	IngestAll(ctx context.Context) error
}

// Trainer runs one full training cycle
type Trainer interface {
	TrainOnce(ctx context.Context) (err error)
}

// trainerAdapter narrows the training service to the scheduler's view
type trainerAdapter struct {
	svc *training.Service
}

func (a trainerAdapter) TrainOnce(ctx context.Context) error {
	_, err := a.svc.TrainOnce(ctx)
	return err
}

// AdaptTrainer wraps the training service for scheduling
func AdaptTrainer(svc *training.Service) Trainer {
	return trainerAdapter{svc: svc}
}

// Scheduler drives periodic ingestion and retraining on independent
// tickers. A failing or panicking tick never takes the loop down.
type Scheduler struct {
	ingester        Ingester
	trainer         Trainer
	ingestInterval  time.Duration
	retrainInterval time.Duration
	logger          *logging.StructuredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a scheduler
func NewScheduler(
	ingester Ingester,
	trainer Trainer,
	ingestInterval time.Duration,
	retrainInterval time.Duration,
	logger *logging.StructuredLogger,
) *Scheduler {
	return &Scheduler{
		ingester:        ingester,
		trainer:         trainer,
		ingestInterval:  ingestInterval,
		retrainInterval: retrainInterval,
		logger:          logger,
	}
}

// Start launches both loops. It returns immediately; ticks run until
// Stop is called or the parent context ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, "ingest", s.ingestInterval, func(tickCtx context.Context) error {
		return s.ingester.IngestAll(tickCtx)
	})
	go s.loop(ctx, "retrain", s.retrainInterval, func(tickCtx context.Context) error {
		err := s.trainer.TrainOnce(tickCtx)
		if errors.Is(err, training.ErrTrainingInProgress) {
			s.logger.Warn(tickCtx, "[SCHED_RETRAIN_SKIPPED] Previous run still active", logging.Fields{}, err)
			return nil
		}
		return err
	})

	s.logger.Info(ctx, "[SCHED_START] Scheduler started", logging.Fields{
		"ingest_interval":  s.ingestInterval.String(),
		"retrain_interval": s.retrainInterval.String(),
	})
}

// Stop halts both loops and waits for in-flight ticks to finish
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "[SCHED_LOOP_STOP] Loop stopped", logging.Fields{"loop": name})
			return
		case <-ticker.C:
			s.runTick(ctx, name, tick)
		}
	}
}

// runTick isolates one tick: an error is logged and a panic is
// recovered so the next tick still fires.
func (s *Scheduler) runTick(ctx context.Context, name string, tick func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "[SCHED_TICK_PANIC] Tick panicked", logging.Fields{
				"loop": name,
			}, fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	if err := tick(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error(ctx, "[SCHED_TICK_FAILED] Tick failed", logging.Fields{
			"loop":     name,
			"duration": time.Since(start).String(),
		}, err)
		return
	}

	s.logger.Debug(ctx, "[SCHED_TICK_OK] Tick completed", logging.Fields{
		"loop":     name,
		"duration": time.Since(start).String(),
	})
}
