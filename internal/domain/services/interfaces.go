package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

// RecordStore is the read side of the external threat record store
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*models.ThreatRecord, error)
	// FindCandidates returns ids sharing an indicator, an infrastructure
	// artifact or an active window (extended by maxWindowDays) with id.
	FindCandidates(ctx context.Context, id string, maxWindowDays int) ([]string, error)
}

// RecordChangeFeed delivers create/update/delete notifications from the record store.
// OnRecordChanged returns once the subscription is established. A non-nil
// error from cb means the change was not queued and should be redelivered.
type RecordChangeFeed interface {
	OnRecordChanged(ctx context.Context, cb func(models.RecordChange) error) error
}

// EdgeStore persists correlation edges keyed by their canonical pair
type EdgeStore interface {
	// UpsertEdge atomically creates or recomputes the edge for a pair.
	// Status is never changed by an upsert once it has left proposed.
	UpsertEdge(ctx context.Context, edge *models.CorrelationEdge) (*models.CorrelationEdge, error)
	// DeleteProposedEdge removes the pair's edge only while it is still proposed
	DeleteProposedEdge(ctx context.Context, a, b string) (bool, error)
	GetEdge(ctx context.Context, a, b string) (*models.CorrelationEdge, error)
	GetEdgeByID(ctx context.Context, id uuid.UUID) (*models.CorrelationEdge, error)
	ListEdges(ctx context.Context, recordID string, minConfidence models.ConfidenceLabel) ([]*models.CorrelationEdge, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.EdgeStatus, at time.Time) (*models.CorrelationEdge, error)
	// ListStaleRecordIDs returns records owning edges scored by an older algorithm version
	ListStaleRecordIDs(ctx context.Context, version int, limit int) ([]string, error)
	// MarkRescored raises every older edge of recordID to version without
	// touching scores or status, once a sweep at that version has judged them.
	MarkRescored(ctx context.Context, recordID string, version int) (int, error)
}

// GroupStore holds duplicate groups. SaveMerge returns models.ErrConflict when
// any referenced group moved on since it was read.
type GroupStore interface {
	GetGroupByMember(ctx context.Context, recordID string) (*models.DuplicateGroup, error)
	SaveMerge(ctx context.Context, merge *models.GroupMerge) (*models.DuplicateGroup, error)
}

// FingerprintIndex maps content fingerprints to the records carrying them
type FingerprintIndex interface {
	Register(ctx context.Context, fingerprint, recordID string) error
	Lookup(ctx context.Context, fingerprint string) ([]string, error)
}

// EventPublisher emits correlation events to the rest of the platform
type EventPublisher interface {
	PublishMerge(ctx context.Context, event *models.MergeEvent) error
	PublishJobFailed(ctx context.Context, job *models.Job) error
	PublishEdge(ctx context.Context, action string, edge *models.CorrelationEdge) error
}

// EdgeSink receives persisted edges for projection into other systems
type EdgeSink interface {
	ProjectEdge(ctx context.Context, edge *models.CorrelationEdge) error
	RemoveEdge(ctx context.Context, a, b string) error
}

// JobMirror shares job state between instances
type JobMirror interface {
	SaveJob(ctx context.Context, job *models.Job, ttl time.Duration) error
	LoadJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Locker is a distributed mutual-exclusion lock
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Edge event actions
const (
	EdgeActionUpserted = "upserted"
	EdgeActionDeleted  = "deleted"
	EdgeActionReviewed = "reviewed"
)
