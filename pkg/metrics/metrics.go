package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Ingestion metrics
	ReadingsIngestedTotal prometheus.Counter
	IngestionDuration     prometheus.Histogram
	IngestionErrorsTotal  *prometheus.CounterVec
	SourceFetchDuration   *prometheus.HistogramVec
	SourceFallbacksTotal  *prometheus.CounterVec

	// Training metrics
	TrainingRunsTotal      *prometheus.CounterVec
	TrainingDuration       prometheus.Histogram
	GAGenerationsRun       prometheus.Histogram
	ModelValidationRMSE    prometheus.Gauge
	ModelSwapsTotal        *prometheus.CounterVec
	ActiveModelTrainedAt   prometheus.Gauge

	// Prediction metrics
	PredictionsTotal   *prometheus.CounterVec
	PredictionDuration prometheus.Histogram

	// Database metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
}

// NewCollector creates a new metrics collector on the default registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace)
}

// NewCollectorWith creates a metrics collector on a specific registry.
// Tests use this to avoid duplicate registration across cases.
func NewCollectorWith(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		ReadingsIngestedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_ingested_total",
				Help:      "Total number of pollutant readings ingested",
			},
		),

		IngestionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of per-location ingestion in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		IngestionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_errors_total",
				Help:      "Total number of ingestion errors by type",
			},
			[]string{"error_type"},
		),

		SourceFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "External source fetch duration in seconds by provider",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"source"},
		),

		SourceFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fallbacks_total",
				Help:      "Total number of failovers from a source to the next in priority",
			},
			[]string{"source"},
		),

		TrainingRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "training_runs_total",
				Help:      "Total number of training runs by outcome",
			},
			[]string{"outcome"},
		),

		TrainingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "training_duration_seconds",
				Help:      "Duration of full GA-KELM training runs in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
		),

		GAGenerationsRun: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ga_generations_run",
				Help:      "Number of generations evolved per training run",
				Buckets:   []float64{5, 10, 20, 30, 50, 75, 100},
			},
		),

		ModelValidationRMSE: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_validation_rmse",
				Help:      "Validation RMSE of the active model",
			},
		),

		ModelSwapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_swaps_total",
				Help:      "Total number of registry swap attempts by outcome",
			},
			[]string{"outcome"},
		),

		ActiveModelTrainedAt: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_model_trained_at_seconds",
				Help:      "Unix timestamp of the active model's training time",
			},
		),

		PredictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_total",
				Help:      "Total number of predictions served by source (model or formula)",
			},
			[]string{"source"},
		),

		PredictionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prediction_duration_seconds",
				Help:      "Prediction request duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordIngestionError increments ingestion error counter
func (c *Collector) RecordIngestionError(errorType string) {
	c.IngestionErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordSourceFallback increments the failover counter for a source
func (c *Collector) RecordSourceFallback(source string) {
	c.SourceFallbacksTotal.WithLabelValues(source).Inc()
}

// RecordTrainingRun increments the training run counter for an outcome
func (c *Collector) RecordTrainingRun(outcome string) {
	c.TrainingRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordModelSwap increments the registry swap counter for an outcome
func (c *Collector) RecordModelSwap(outcome string) {
	c.ModelSwapsTotal.WithLabelValues(outcome).Inc()
}

// RecordPrediction increments the prediction counter for a source
func (c *Collector) RecordPrediction(source string) {
	c.PredictionsTotal.WithLabelValues(source).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
