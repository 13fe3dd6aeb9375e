package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/internal/streaming"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// CorrelationAPI is the part of the correlation service exposed over HTTP
type CorrelationAPI interface {
	EnqueueCorrelationSweep(ctx context.Context, recordID string) (*models.Job, error)
	GetEdges(ctx context.Context, recordID string, minConfidence models.ConfidenceLabel) ([]*models.CorrelationEdge, error)
	ReviewEdge(ctx context.Context, edgeID uuid.UUID, status models.EdgeStatus) (*models.CorrelationEdge, error)
	GetDuplicateGroup(ctx context.Context, recordID string) (*models.DuplicateGroup, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) error
	GetStats() services.ServiceStats
}

// RelatedFinder walks the projected correlation graph
type RelatedFinder interface {
	RelatedRecords(ctx context.Context, recordID string, depth int, minScore float64, limit int) ([]models.RelatedRecord, error)
}

// CheckFunc reports whether one dependency is reachable
type CheckFunc func(ctx context.Context) error

// Handlers holds all API handlers
type Handlers struct {
	Health      *HealthHandler
	Correlation *CorrelationHandler
	Events      *EventsHandler
}

// Dependencies holds dependencies for handlers. Graph, Hub and Bus are optional.
type Dependencies struct {
	Service CorrelationAPI
	Graph   RelatedFinder
	Hub     *streaming.WebSocketHub
	Bus     *streaming.EventBus
	Checks  map[string]CheckFunc
	Version string
	Logger  *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:      NewHealthHandler(deps.Checks, deps.Version, deps.Logger),
		Correlation: NewCorrelationHandler(deps.Service, deps.Graph, deps.Logger),
		Events:      NewEventsHandler(deps.Hub, deps.Bus, deps.Logger),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]interface{}{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	respondJSON(w, status, body)
}
