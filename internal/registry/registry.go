package registry

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"aqi-platform/internal/models"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// ModelRegressionGuardError reports a swap rejected because the
// candidate validates worse than the active model by more than the
// configured tolerance.
type ModelRegressionGuardError struct {
	CandidateVersion string
	ActiveVersion    string
	CandidateMSE     float64
	ActiveMSE        float64
}

func (e *ModelRegressionGuardError) Error() string {
	return fmt.Sprintf("model %s rejected: validation MSE %.4f regresses past active %s at %.4f",
		e.CandidateVersion, e.CandidateMSE, e.ActiveVersion, e.ActiveMSE)
}

func (e *ModelRegressionGuardError) IsTransient() bool { return false }

// Registry holds the active model behind an atomic pointer. Readers
// get an immutable snapshot and keep serving from it even while a
// swap lands; a swap is observed in full or not at all.
type Registry struct {
	active    atomic.Pointer[models.TrainedModel]
	tolerance float64
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewRegistry creates an empty registry. Tolerance is the fractional
// validation MSE regression a candidate may show and still be
// accepted, e.g. 0.10 for ten percent.
func NewRegistry(tolerance float64, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Registry {
	return &Registry{
		tolerance: tolerance,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Active returns the current model snapshot, or nil before any swap
func (r *Registry) Active() *models.TrainedModel {
	return r.active.Load()
}

// Swap installs a candidate as the active model after guard checks.
// A candidate with a non-finite validation error never lands, and one
// that regresses past the active model by more than the tolerance is
// rejected.
func (r *Registry) Swap(ctx context.Context, candidate *models.TrainedModel) error {
	if err := candidate.Validate(); err != nil {
		r.metrics.RecordModelSwap("invalid")
		return err
	}
	if math.IsNaN(candidate.ValMetrics.MSE) || math.IsInf(candidate.ValMetrics.MSE, 0) {
		r.metrics.RecordModelSwap("invalid")
		return fmt.Errorf("model %s has non-finite validation MSE", candidate.VersionID)
	}

	active := r.active.Load()
	if active != nil && candidate.ValMetrics.MSE > active.ValMetrics.MSE*(1+r.tolerance) {
		r.metrics.RecordModelSwap("guard_rejected")
		return &ModelRegressionGuardError{
			CandidateVersion: candidate.VersionID,
			ActiveVersion:    active.VersionID,
			CandidateMSE:     candidate.ValMetrics.MSE,
			ActiveMSE:        active.ValMetrics.MSE,
		}
	}

	r.active.Store(candidate)
	r.metrics.RecordModelSwap("accepted")
	r.metrics.ModelValidationRMSE.Set(candidate.ValMetrics.RMSE)
	r.metrics.ActiveModelTrainedAt.Set(float64(candidate.TrainedAt.Unix()))

	fields := logging.Fields{
		"version_id": candidate.VersionID,
		"val_rmse":   candidate.ValMetrics.RMSE,
		"c":          candidate.C,
		"gamma":      candidate.Gamma,
	}
	if active != nil {
		fields["replaced_version"] = active.VersionID
	}
	r.logger.Info(ctx, "[REGISTRY_SWAP] Active model replaced", fields)

	return nil
}

// Restore installs a persisted model without guard checks. Used once
// at startup to reload the last known model.
func (r *Registry) Restore(ctx context.Context, model *models.TrainedModel) error {
	if err := model.Validate(); err != nil {
		return err
	}
	if model.FeatureSchemaVersion != models.FeatureSchemaVersion {
		return fmt.Errorf("model %s built for feature schema %d, runtime expects %d",
			model.VersionID, model.FeatureSchemaVersion, models.FeatureSchemaVersion)
	}

	r.active.Store(model)
	r.metrics.ModelValidationRMSE.Set(model.ValMetrics.RMSE)
	r.metrics.ActiveModelTrainedAt.Set(float64(model.TrainedAt.Unix()))
	r.logger.Info(ctx, "[REGISTRY_RESTORE] Persisted model restored", logging.Fields{
		"version_id": model.VersionID,
		"trained_at": model.TrainedAt,
	})

	return nil
}
