package streaming

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

// EventType represents the type of correlation event
type EventType string

const (
	EventTypeEdgeUpserted  EventType = "edge.upserted"
	EventTypeEdgeDeleted   EventType = "edge.deleted"
	EventTypeEdgeReviewed  EventType = "edge.reviewed"
	EventTypeRecordsMerged EventType = "records.merged"
	EventTypeJobFailed     EventType = "job.failed"
)

// Event is the envelope published for every correlation outcome
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// RecordIDs lists every record the event concerns
	RecordIDs []string `json:"record_ids"`

	Edge  *models.CorrelationEdge `json:"edge,omitempty"`
	Merge *models.MergeEvent      `json:"merge,omitempty"`
	Job   *models.Job             `json:"job,omitempty"`
}

func newEvent(t EventType, recordIDs ...string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		RecordIDs: recordIDs,
	}
}

// Involves reports whether the event concerns recordID
func (e *Event) Involves(recordID string) bool {
	for _, id := range e.RecordIDs {
		if id == recordID {
			return true
		}
	}
	return false
}

// Subscription filters the events delivered to a live client.
// Empty fields match everything.
type Subscription struct {
	RecordIDs []string    `json:"record_ids,omitempty"`
	Types     []EventType `json:"types,omitempty"`
}

// Matches checks if an event matches the subscription
func (s *Subscription) Matches(e *Event) bool {
	if s == nil {
		return true
	}
	if len(s.Types) > 0 {
		found := false
		for _, t := range s.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.RecordIDs) > 0 {
		for _, id := range s.RecordIDs {
			if e.Involves(id) {
				return true
			}
		}
		return false
	}
	return true
}

// recordChangeMessage is the payload the record store publishes on
// threats.record.<kind>
type recordChangeMessage struct {
	RecordID  string                  `json:"record_id"`
	Kind      models.RecordChangeKind `json:"kind"`
	Timestamp time.Time               `json:"timestamp"`
}

// DecodeRecordChange parses a record-store change notification. The kind
// falls back to the last subject token when the payload omits it.
func DecodeRecordChange(subject string, data []byte) (models.RecordChange, error) {
	var msg recordChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.RecordChange{}, fmt.Errorf("failed to unmarshal record change: %w", err)
	}
	if strings.TrimSpace(msg.RecordID) == "" {
		return models.RecordChange{}, fmt.Errorf("record change on %s has no record_id", subject)
	}
	if msg.Kind == "" {
		msg.Kind = models.RecordChangeKind(subject[strings.LastIndex(subject, ".")+1:])
	}
	switch msg.Kind {
	case models.RecordCreated, models.RecordUpdated, models.RecordDeleted:
	default:
		return models.RecordChange{}, fmt.Errorf("unknown record change kind %q", msg.Kind)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return models.RecordChange{RecordID: msg.RecordID, Kind: msg.Kind, Timestamp: msg.Timestamp}, nil
}
