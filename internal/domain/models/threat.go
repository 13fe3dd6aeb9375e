package models

import (
	"strings"
	"time"
)

// ThreatRecord is a read-only snapshot of a record owned by the record store
type ThreatRecord struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Severity   float64 `json:"severity"`   // 0.0 - 10.0
	Confidence float64 `json:"confidence"` // 0.0 - 1.0
	Source     string  `json:"source,omitempty"`

	Indicators     []Indicator `json:"indicators"`
	Infrastructure []Indicator `json:"infrastructure"`
	BehaviorTags   []string    `json:"behavior_tags"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// ContentFingerprint is derived by the fingerprint generator, never trusted from the store.
	ContentFingerprint string `json:"content_fingerprint,omitempty"`
}

// Validate checks the fields the correlation pipeline depends on
func (r *ThreatRecord) Validate() error {
	if r == nil {
		return &InvalidRecordError{Reason: "record is nil"}
	}
	if strings.TrimSpace(r.ID) == "" {
		return &InvalidRecordError{Reason: "missing id"}
	}
	if strings.TrimSpace(r.Kind) == "" {
		return &InvalidRecordError{RecordID: r.ID, Reason: "missing kind"}
	}
	if r.FirstSeen.IsZero() || r.LastSeen.IsZero() {
		return &InvalidRecordError{RecordID: r.ID, Reason: "missing first_seen/last_seen"}
	}
	if r.FirstSeen.After(r.LastSeen) {
		return &InvalidRecordError{RecordID: r.ID, Reason: "first_seen is after last_seen"}
	}
	if r.Severity < 0 || r.Severity > 10 {
		return &InvalidRecordError{RecordID: r.ID, Reason: "severity out of range"}
	}

	infra := make(map[string]struct{}, len(r.Infrastructure))
	for _, key := range IndicatorKeys(r.Infrastructure) {
		infra[key] = struct{}{}
	}
	for _, key := range IndicatorKeys(r.Indicators) {
		if _, dup := infra[key]; dup {
			return &InvalidRecordError{RecordID: r.ID, Reason: "artifact " + key + " is both indicator and infrastructure"}
		}
	}
	return nil
}

// RecordChangeKind is the type of a record-store change notification
type RecordChangeKind string

const (
	RecordCreated RecordChangeKind = "created"
	RecordUpdated RecordChangeKind = "updated"
	RecordDeleted RecordChangeKind = "deleted"
)

// RecordChange is delivered by the record store's change feed
type RecordChange struct {
	RecordID  string           `json:"record_id"`
	Kind      RecordChangeKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
}
