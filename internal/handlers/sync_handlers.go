package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"dams-sync/internal/models"
	"dams-sync/internal/services"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

// SyncRunner starts synchronization runs and remembers the latest report
type SyncRunner interface {
	TryRun(ctx context.Context, anchor time.Time) (*services.RunReport, error)
	LastReport() *services.RunReport
}

// ObservationReader serves raw source observations and the dam registry
type ObservationReader interface {
	GetObservations(ctx context.Context, tag string, from, to time.Time) ([]models.SourceRow, error)
	GetDams() []models.Dam
	HealthCheck(ctx context.Context) error
}

// SyncHandler handles the dams synchronization API endpoints
type SyncHandler struct {
	runner       SyncRunner
	observations ObservationReader
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
	now          func() time.Time
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(
	runner SyncRunner,
	observations ObservationReader,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *SyncHandler {
	return &SyncHandler{
		runner:       runner,
		observations: observations,
		logger:       logger,
		metrics:      metricsCollector,
		now:          time.Now,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse wraps a collection with its size
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// queryTimeLayouts are accepted for time query parameters, tried in order
var queryTimeLayouts = []string{time.RFC3339, models.TabularTimeLayout, "2006-01-02 15:04", "2006-01-02"}

func parseQueryTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range queryTimeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func (h *SyncHandler) observe(endpoint string) func() {
	startTime := time.Now()
	return func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}
}

// TriggerRun handles POST /api/v1/runs. The optional time parameter sets the
// run anchor; it defaults to the current time. A client disconnect does not
// abort a run that has started.
func (h *SyncHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	defer h.observe("/api/v1/runs")()

	anchor := h.now().UTC()
	if s := r.URL.Query().Get("time"); s != "" {
		t, err := parseQueryTime(s)
		if err != nil {
			h.sendError(w, r, "invalid time, expected RFC3339 or YYYY-MM-DD HH:MM", http.StatusBadRequest)
			return
		}
		anchor = t
	}

	report, err := h.runner.TryRun(ctx, anchor)
	if errors.Is(err, services.ErrRunInProgress) {
		h.sendError(w, r, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error(ctx, "[API_RUN_ERROR] Triggered run failed", logging.Fields{
			"anchor": anchor.Format(time.RFC3339),
		}, err)
		if report == nil {
			h.sendError(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		h.metrics.RecordAPIRequest("/api/v1/runs", r.Method, strconv.Itoa(http.StatusInternalServerError))
		h.sendJSON(w, report, http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/runs", r.Method, "200")
	h.sendJSON(w, report, http.StatusOK)
}

// LatestRun handles GET /api/v1/runs/latest
func (h *SyncHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	defer h.observe("/api/v1/runs/latest")()

	report := h.runner.LastReport()
	if report == nil {
		h.sendError(w, r, "no run has finished yet", http.StatusNotFound)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/runs/latest", r.Method, "200")
	h.sendJSON(w, report, http.StatusOK)
}

// GetObservations handles GET /api/v1/observations?tag=&from=&to=
func (h *SyncHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer h.observe("/api/v1/observations")()

	query := r.URL.Query()
	tag := query.Get("tag")
	if tag == "" {
		h.sendError(w, r, "tag is required", http.StatusBadRequest)
		return
	}

	to := h.now().UTC()
	if s := query.Get("to"); s != "" {
		t, err := parseQueryTime(s)
		if err != nil {
			h.sendError(w, r, "invalid to, expected RFC3339 or YYYY-MM-DD HH:MM", http.StatusBadRequest)
			return
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if s := query.Get("from"); s != "" {
		t, err := parseQueryTime(s)
		if err != nil {
			h.sendError(w, r, "invalid from, expected RFC3339 or YYYY-MM-DD HH:MM", http.StatusBadRequest)
			return
		}
		from = t
	}

	rows, err := h.observations.GetObservations(ctx, tag, from, to)
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			h.sendError(w, r, vErr.Message, http.StatusBadRequest)
			return
		}
		h.logger.Error(ctx, "[API_GET_OBSERVATIONS_ERROR] Failed to get observations", logging.Fields{
			"tag":  tag,
			"from": from.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
		}, err)
		h.sendError(w, r, "failed to retrieve observations", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.SourceRow{}
	}

	h.metrics.RecordAPIRequest("/api/v1/observations", r.Method, "200")
	h.sendJSON(w, ListResponse{Data: rows, Total: len(rows)}, http.StatusOK)
}

// ListDams handles GET /api/v1/dams
func (h *SyncHandler) ListDams(w http.ResponseWriter, r *http.Request) {
	defer h.observe("/api/v1/dams")()

	dams := h.observations.GetDams()
	h.metrics.RecordAPIRequest("/api/v1/dams", r.Method, "200")
	h.sendJSON(w, ListResponse{Data: dams, Total: len(dams)}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *SyncHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.observations.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK] Source database unreachable", logging.Fields{
			"error": err.Error(),
		})
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if last := h.runner.LastReport(); last != nil {
		status["last_run_result"] = last.Result
		status["last_run_finished_at"] = last.FinishedAt.Format(time.RFC3339)
	}

	h.sendJSON(w, status, code)
}

// sendJSON sends a JSON response
func (h *SyncHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *SyncHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all sync API routes
func (h *SyncHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/runs", h.TriggerRun).Methods("POST")
	router.HandleFunc("/api/v1/runs/latest", h.LatestRun).Methods("GET")
	router.HandleFunc("/api/v1/observations", h.GetObservations).Methods("GET")
	router.HandleFunc("/api/v1/dams", h.ListDams).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
}
