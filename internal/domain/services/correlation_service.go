package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// CorrelationService is the entry point the rest of the platform talks to.
// Every call returns without waiting for a sweep to finish.
type CorrelationService struct {
	runner    *JobRunner
	edges     EdgeStore
	groups    GroupStore
	feed      RecordChangeFeed
	publisher EventPublisher
	sinks     []EdgeSink
	logger    *logger.Logger

	statsMu        sync.RWMutex
	changesSeen    int64
	changesDropped int64
	reviews        int64
	lastChange     time.Time
}

// CorrelationServiceDeps wires a CorrelationService. Feed, Publisher and Sinks are optional.
type CorrelationServiceDeps struct {
	Runner    *JobRunner
	Edges     EdgeStore
	Groups    GroupStore
	Feed      RecordChangeFeed
	Publisher EventPublisher
	Sinks     []EdgeSink
}

// ServiceStats is a point-in-time view of the service counters
type ServiceStats struct {
	ChangesSeen    int64     `json:"changes_seen"`
	ChangesDropped int64     `json:"changes_dropped"`
	Reviews        int64     `json:"reviews"`
	QueueLength    int       `json:"queue_length"`
	LastChange     time.Time `json:"last_change,omitempty"`
}

// NewCorrelationService creates the service facade
func NewCorrelationService(deps CorrelationServiceDeps, log *logger.Logger) *CorrelationService {
	return &CorrelationService{
		runner:    deps.Runner,
		edges:     deps.Edges,
		groups:    deps.Groups,
		feed:      deps.Feed,
		publisher: deps.Publisher,
		sinks:     deps.Sinks,
		logger:    log.WithComponent("correlation-service"),
	}
}

// Start launches the runner and subscribes to record changes
func (s *CorrelationService) Start(ctx context.Context) error {
	s.runner.Start(ctx)
	if s.feed == nil {
		s.logger.Warn().Msg("no record change feed configured, only manual sweeps will run")
		return nil
	}
	if err := s.feed.OnRecordChanged(ctx, s.handleRecordChange); err != nil {
		return fmt.Errorf("failed to subscribe to record changes: %w", err)
	}
	s.logger.Info().Msg("subscribed to record changes")
	return nil
}

// Stop drains the runner
func (s *CorrelationService) Stop() {
	s.runner.Stop()
}

func (s *CorrelationService) handleRecordChange(change models.RecordChange) error {
	s.statsMu.Lock()
	s.changesSeen++
	s.lastChange = time.Now()
	s.statsMu.Unlock()

	ctx := context.Background()
	switch change.Kind {
	case models.RecordDeleted:
		n := s.runner.CancelRecord(ctx, change.RecordID, "record deleted")
		s.logger.Debug().Str("record_id", change.RecordID).Int("cancelled", n).Msg("record deleted, cancelled its sweeps")
	case models.RecordCreated, models.RecordUpdated:
		if _, err := s.runner.Enqueue(ctx, change.RecordID, models.TriggerRecordChanged); err != nil {
			s.statsMu.Lock()
			s.changesDropped++
			s.statsMu.Unlock()
			s.logger.Warn().Err(err).Str("record_id", change.RecordID).Msg("failed to enqueue sweep for changed record")
			return err
		}
	default:
		s.logger.Warn().Str("kind", string(change.Kind)).Str("record_id", change.RecordID).Msg("ignoring unknown record change")
	}
	return nil
}

// EnqueueCorrelationSweep queues a manual sweep, e.g. after a bulk import
func (s *CorrelationService) EnqueueCorrelationSweep(ctx context.Context, recordID string) (*models.Job, error) {
	return s.runner.Enqueue(ctx, recordID, models.TriggerManual)
}

// GetEdges returns the record's edges at or above minConfidence, strongest first
func (s *CorrelationService) GetEdges(ctx context.Context, recordID string, minConfidence models.ConfidenceLabel) ([]*models.CorrelationEdge, error) {
	if minConfidence == "" || minConfidence == models.ConfidenceDiscard {
		minConfidence = models.ConfidenceLow
	}
	if _, ok := models.ParseConfidenceLabel(string(minConfidence)); !ok {
		return nil, fmt.Errorf("unknown confidence label %q", minConfidence)
	}
	return s.edges.ListEdges(ctx, recordID, minConfidence)
}

// ReviewEdge is the only way to change an edge's status. Edges can never be
// moved back to proposed.
func (s *CorrelationService) ReviewEdge(ctx context.Context, edgeID uuid.UUID, newStatus models.EdgeStatus) (*models.CorrelationEdge, error) {
	switch newStatus {
	case models.EdgeStatusReviewed, models.EdgeStatusRejected:
	case models.EdgeStatusProposed:
		return nil, fmt.Errorf("edge %s cannot return to proposed: %w", edgeID, models.ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("unknown edge status %q: %w", newStatus, models.ErrInvalidTransition)
	}

	edge, err := s.edges.SetStatus(ctx, edgeID, newStatus, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.statsMu.Lock()
	s.reviews++
	s.statsMu.Unlock()

	s.logger.Info().
		Str("edge_id", edgeID.String()).
		Str("status", string(newStatus)).
		Msg("edge reviewed")

	for _, sink := range s.sinks {
		if err := sink.ProjectEdge(ctx, edge); err != nil {
			s.logger.Warn().Err(err).Str("edge_id", edgeID.String()).Msg("edge projection failed")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishEdge(ctx, EdgeActionReviewed, edge); err != nil {
			s.logger.Warn().Err(err).Str("edge_id", edgeID.String()).Msg("failed to publish edge event")
		}
	}
	return edge, nil
}

// GetDuplicateGroup returns the record's duplicate group, or nil when it has none
func (s *CorrelationService) GetDuplicateGroup(ctx context.Context, recordID string) (*models.DuplicateGroup, error) {
	g, err := s.groups.GetGroupByMember(ctx, recordID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return g, err
}

// GetJobStatus returns the current state of a job
func (s *CorrelationService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, error) {
	job, err := s.runner.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// GetJob returns the full job snapshot
func (s *CorrelationService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.runner.GetJob(ctx, jobID)
}

// CancelJob cancels a queued or running sweep
func (s *CorrelationService) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	return s.runner.CancelJob(ctx, jobID, "cancelled by request")
}

// GetStats returns service counters
func (s *CorrelationService) GetStats() ServiceStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return ServiceStats{
		ChangesSeen:    s.changesSeen,
		ChangesDropped: s.changesDropped,
		Reviews:        s.reviews,
		QueueLength:    s.runner.QueueLen(),
		LastChange:     s.lastChange,
	}
}
