package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

const (
	defaultRelatedDepth = 2
	defaultRelatedLimit = 100
)

// CorrelationHandler exposes sweeps, edges, duplicate groups and jobs
type CorrelationHandler struct {
	service CorrelationAPI
	graph   RelatedFinder
	logger  *logger.Logger
}

// NewCorrelationHandler creates a new correlation handler. graph may be nil.
func NewCorrelationHandler(service CorrelationAPI, graph RelatedFinder, log *logger.Logger) *CorrelationHandler {
	return &CorrelationHandler{
		service: service,
		graph:   graph,
		logger:  log.WithComponent("correlation-handler"),
	}
}

// ReviewRequest is the body of PATCH /edges/{id}
type ReviewRequest struct {
	Status string `json:"status"`
}

// EnqueueSweep handles POST /records/{id}/sweep
func (h *CorrelationHandler) EnqueueSweep(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "id")

	job, err := h.service.EnqueueCorrelationSweep(r.Context(), recordID)
	if err != nil {
		h.respondServiceError(w, "failed to enqueue sweep", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, job)
}

// ListEdges handles GET /records/{id}/edges
func (h *CorrelationHandler) ListEdges(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "id")

	minConfidence := models.ConfidenceLow
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		label, ok := models.ParseConfidenceLabel(v)
		if !ok {
			h.respondError(w, http.StatusBadRequest, "invalid min_confidence", nil)
			return
		}
		minConfidence = label
	}

	edges, err := h.service.GetEdges(r.Context(), recordID, minConfidence)
	if err != nil {
		h.respondServiceError(w, "failed to list edges", err)
		return
	}
	if edges == nil {
		edges = []*models.CorrelationEdge{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"record_id":      recordID,
		"min_confidence": minConfidence,
		"edges":          edges,
		"count":          len(edges),
	})
}

// GetDuplicateGroup handles GET /records/{id}/duplicate-group
func (h *CorrelationHandler) GetDuplicateGroup(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "id")

	group, err := h.service.GetDuplicateGroup(r.Context(), recordID)
	if err != nil {
		h.respondServiceError(w, "failed to load duplicate group", err)
		return
	}
	if group == nil {
		h.respondError(w, http.StatusNotFound, "record is not part of a duplicate group", nil)
		return
	}
	h.respondJSON(w, http.StatusOK, group)
}

// ListRelated handles GET /records/{id}/related
func (h *CorrelationHandler) ListRelated(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		h.respondError(w, http.StatusServiceUnavailable, "graph projection not enabled", nil)
		return
	}
	recordID := chi.URLParam(r, "id")
	q := r.URL.Query()

	depth := defaultRelatedDepth
	if v := q.Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			h.respondError(w, http.StatusBadRequest, "invalid depth", err)
			return
		}
		depth = d
	}
	var minScore float64
	if v := q.Get("min_score"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil || s < 0 || s > 1 {
			h.respondError(w, http.StatusBadRequest, "invalid min_score", err)
			return
		}
		minScore = s
	}

	related, err := h.graph.RelatedRecords(r.Context(), recordID, depth, minScore, defaultRelatedLimit)
	if err != nil {
		h.respondServiceError(w, "failed to walk correlation graph", err)
		return
	}
	if related == nil {
		related = []models.RelatedRecord{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"record_id": recordID,
		"related":   related,
		"count":     len(related),
	})
}

// ReviewEdge handles PATCH /edges/{id}
func (h *CorrelationHandler) ReviewEdge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid edge id", err)
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	status, ok := models.ParseEdgeStatus(req.Status)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "status must be reviewed or rejected", nil)
		return
	}

	edge, err := h.service.ReviewEdge(r.Context(), id, status)
	if err != nil {
		h.respondServiceError(w, "failed to review edge", err)
		return
	}
	h.respondJSON(w, http.StatusOK, edge)
}

// GetJob handles GET /jobs/{id}
func (h *CorrelationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid job id", err)
		return
	}

	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "failed to load job", err)
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /jobs/{id}
func (h *CorrelationHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid job id", err)
		return
	}

	if err := h.service.CancelJob(r.Context(), id); err != nil {
		h.respondServiceError(w, "failed to cancel job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats handles GET /stats
func (h *CorrelationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.GetStats())
}

// respondServiceError maps domain errors onto status codes
func (h *CorrelationHandler) respondServiceError(w http.ResponseWriter, message string, err error) {
	var invalid *models.InvalidRecordError
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConflict):
		h.respondError(w, http.StatusConflict, message, err)
	case errors.As(err, &invalid):
		h.respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, models.ErrQueueFull), errors.Is(err, models.ErrRunnerStopped):
		w.Header().Set("Retry-After", "5")
		h.respondError(w, http.StatusServiceUnavailable, message, err)
	case models.IsTransient(err):
		h.respondError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.logger.Error().Err(err).Msg(message)
		h.respondError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *CorrelationHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response
func (h *CorrelationHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]interface{}{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	h.respondJSON(w, status, body)
}
