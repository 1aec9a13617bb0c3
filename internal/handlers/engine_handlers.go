package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"aqi-platform/internal/features"
	"aqi-platform/internal/ingest"
	"aqi-platform/internal/models"
	"aqi-platform/internal/predict"
	"aqi-platform/internal/registry"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/training"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// EngineHandler handles forecast engine API endpoints
type EngineHandler struct {
	store      repository.Store
	ingestSvc  *ingest.Service
	trainSvc   *training.Service
	predictSvc *predict.Service
	registry   *registry.Registry
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewEngineHandler creates a new engine handler
func NewEngineHandler(
	store repository.Store,
	ingestSvc *ingest.Service,
	trainSvc *training.Service,
	predictSvc *predict.Service,
	reg *registry.Registry,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *EngineHandler {
	return &EngineHandler{
		store:      store,
		ingestSvc:  ingestSvc,
		trainSvc:   trainSvc,
		predictSvc: predictSvc,
		registry:   reg,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListLocations handles GET /api/locations
func (h *EngineHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/locations", time.Now())

	locations, err := h.store.ListLocations(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_LOCATIONS] Failed to list locations", logging.Fields{}, err)
		h.sendError(w, r, "failed to list locations", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/locations", r.Method, "200")
	h.sendJSON(w, locations, http.StatusOK)
}

// CreateLocation handles POST /api/locations
func (h *EngineHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/locations", time.Now())

	var location models.Location
	if err := json.NewDecoder(r.Body).Decode(&location); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}
	if location.City == "" {
		h.sendError(w, r, "city is required", http.StatusBadRequest)
		return
	}
	if location.Latitude < -90 || location.Latitude > 90 || location.Longitude < -180 || location.Longitude > 180 {
		h.sendError(w, r, "coordinates out of range", http.StatusBadRequest)
		return
	}

	if err := h.store.CreateLocation(ctx, &location); err != nil {
		h.logger.Error(ctx, "[API_LOCATIONS] Failed to create location", logging.Fields{
			"city": location.City,
		}, err)
		h.sendError(w, r, "failed to create location", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/locations", r.Method, "201")
	h.sendJSON(w, location, http.StatusCreated)
}

// Ingest handles POST /api/ingest/{location_id}
func (h *EngineHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/ingest", time.Now())

	locationID, ok := h.pathID(w, r, "location_id")
	if !ok {
		return
	}

	location, err := h.store.GetLocation(ctx, locationID)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, "location not found", http.StatusNotFound)
			return
		}
		h.sendError(w, r, "failed to load location", http.StatusInternalServerError)
		return
	}

	reading, err := h.ingestSvc.IngestLocation(ctx, location)
	if err != nil {
		var allFailed *ingest.AllSourcesFailedError
		if errors.As(err, &allFailed) {
			h.logger.Warn(ctx, "[API_INGEST] Every source failed", logging.Fields{
				"location_id": locationID,
			}, err)
			h.sendError(w, r, "all upstream sources failed", http.StatusBadGateway)
			return
		}
		h.logger.Error(ctx, "[API_INGEST] Ingestion failed", logging.Fields{
			"location_id": locationID,
		}, err)
		h.sendError(w, r, "ingestion failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/ingest", r.Method, "200")
	h.sendJSON(w, reading, http.StatusOK)
}

// TrainResponse acknowledges an accepted training request
type TrainResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Train handles POST /api/train. Training runs in the background; the
// request returns as soon as the run is accepted.
func (h *EngineHandler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/train", time.Now())

	go func() {
		// Detached from the request lifetime: closing the connection
		// must not abort a training run already underway.
		bgCtx := context.WithoutCancel(ctx)
		if _, err := h.trainSvc.TrainOnce(bgCtx); err != nil {
			if errors.Is(err, training.ErrTrainingInProgress) {
				return
			}
			h.logger.Error(bgCtx, "[API_TRAIN] Background training failed", logging.Fields{}, err)
		}
	}()

	h.metrics.RecordAPIRequest("/api/train", r.Method, "202")
	h.sendJSON(w, TrainResponse{
		Status:  "accepted",
		Message: "training started",
	}, http.StatusAccepted)
}

// Predictions handles GET /api/predictions/{location_id}?horizon=
func (h *EngineHandler) Predictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/predictions", time.Now())

	locationID, ok := h.pathID(w, r, "location_id")
	if !ok {
		return
	}

	horizon := 24
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > predict.MaxHorizonHours {
			h.sendError(w, r, "horizon must be an integer within [1, 48]", http.StatusBadRequest)
			return
		}
		horizon = parsed
	}

	records, err := h.predictSvc.Predict(ctx, locationID, horizon)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, "location not found", http.StatusNotFound)
			return
		}
		var insufficient *features.InsufficientHistoryError
		if errors.As(err, &insufficient) {
			h.sendError(w, r, "not enough readings to forecast yet", http.StatusConflict)
			return
		}
		h.logger.Error(ctx, "[API_PREDICTIONS] Forecast failed", logging.Fields{
			"location_id": locationID,
			"horizon":     horizon,
		}, err)
		h.sendError(w, r, "forecast failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/predictions", r.Method, "200")
	h.sendJSON(w, records, http.StatusOK)
}

// Model handles GET /api/model
func (h *EngineHandler) Model(w http.ResponseWriter, r *http.Request) {
	defer h.observe("/api/model", time.Now())

	active := h.registry.Active()
	if active == nil {
		h.sendError(w, r, "no trained model active", http.StatusNotFound)
		return
	}

	h.metrics.RecordAPIRequest("/api/model", r.Method, "200")
	h.sendJSON(w, active.Info(), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *EngineHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.store.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK] Store unhealthy", logging.Fields{}, err)
		h.sendJSON(w, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, http.StatusServiceUnavailable)
		return
	}

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if active := h.registry.Active(); active != nil {
		status["model_version"] = active.VersionID
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// observe records request duration for an endpoint
func (h *EngineHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// pathID parses a numeric path variable
func (h *EngineHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		h.sendError(w, r, name+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// sendJSON sends a JSON response
func (h *EngineHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *EngineHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all engine API routes
func (h *EngineHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/locations", h.ListLocations).Methods("GET")
	router.HandleFunc("/api/locations", h.CreateLocation).Methods("POST")
	router.HandleFunc("/api/ingest/{location_id}", h.Ingest).Methods("POST")
	router.HandleFunc("/api/train", h.Train).Methods("POST")
	router.HandleFunc("/api/predictions/{location_id}", h.Predictions).Methods("GET")
	router.HandleFunc("/api/model", h.Model).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
