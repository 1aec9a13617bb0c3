package models

import (
	"fmt"
	"time"
)

// FeatureSchemaVersion identifies the feature vector layout a model was
// trained against. Bump when the feature builder changes shape.
const FeatureSchemaVersion = 1

// Metrics holds error measures of a model on one data split
type Metrics struct {
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
}

// Scaler holds per-column standardization parameters fitted on training data
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// TrainedModel is a fitted GA-KELM model. Immutable after training;
// the registry swaps whole instances, never fields.
type TrainedModel struct {
	VersionID            string      `json:"version_id"`
	Kernel               string      `json:"kernel"`
	C                    float64     `json:"c"`
	Gamma                float64     `json:"gamma"`
	SupportInputs        [][]float64 `json:"support_inputs"`
	Alpha                []float64   `json:"alpha"`
	FeatureScaler        Scaler      `json:"feature_scaler"`
	TargetMean           float64     `json:"target_mean"`
	TargetStd            float64     `json:"target_std"`
	FeatureSchemaVersion int         `json:"feature_schema_version"`
	TrainMetrics         Metrics     `json:"train_metrics"`
	ValMetrics           Metrics     `json:"val_metrics"`
	TrainedAt            time.Time   `json:"trained_at"`
}

// Validate checks the structural invariants of a trained model
func (m *TrainedModel) Validate() error {
	if len(m.SupportInputs) == 0 {
		return &ValidationError{
			Field:   "support_inputs",
			Message: "model has no support inputs",
		}
	}
	if len(m.SupportInputs) != len(m.Alpha) {
		return &ValidationError{
			Field:   "alpha",
			Value:   fmt.Sprintf("%d vs %d", len(m.Alpha), len(m.SupportInputs)),
			Message: "support_inputs and alpha lengths must match",
		}
	}
	if m.C <= 0 || m.Gamma <= 0 {
		return &ValidationError{
			Field:   "hyperparameters",
			Value:   fmt.Sprintf("C=%g gamma=%g", m.C, m.Gamma),
			Message: "C and gamma must be positive",
		}
	}
	return nil
}

// PredictionRecord is one forecast handed to the serving layer
type PredictionRecord struct {
	LocationID        int64     `json:"location_id"`
	PredictedFor      time.Time `json:"predicted_for"`
	PredictedAQI      int       `json:"predicted_aqi"`
	PredictedCategory string    `json:"predicted_category"`
	Confidence        *float64  `json:"confidence,omitempty"`
	ModelVersion      string    `json:"model_version"`
	IsMLSourced       bool      `json:"is_ml_sourced"`
	CreatedAt         time.Time `json:"created_at"`
}

// ModelInfo is the read-only summary of the active model
type ModelInfo struct {
	VersionID            string    `json:"version_id"`
	Kernel               string    `json:"kernel"`
	C                    float64   `json:"c"`
	Gamma                float64   `json:"gamma"`
	SupportCount         int       `json:"support_count"`
	FeatureSchemaVersion int       `json:"feature_schema_version"`
	TrainMetrics         Metrics   `json:"train_metrics"`
	ValMetrics           Metrics   `json:"val_metrics"`
	TrainedAt            time.Time `json:"trained_at"`
}

// Info summarizes the model without exposing its weight matrices
func (m *TrainedModel) Info() ModelInfo {
	return ModelInfo{
		VersionID:            m.VersionID,
		Kernel:               m.Kernel,
		C:                    m.C,
		Gamma:                m.Gamma,
		SupportCount:         len(m.SupportInputs),
		FeatureSchemaVersion: m.FeatureSchemaVersion,
		TrainMetrics:         m.TrainMetrics,
		ValMetrics:           m.ValMetrics,
		TrainedAt:            m.TrainedAt,
	}
}
