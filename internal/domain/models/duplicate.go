package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// GroupMember is one record inside a duplicate group
type GroupMember struct {
	RecordID  string    `json:"record_id"`
	FirstSeen time.Time `json:"first_seen"`
}

// DuplicateGroup is a set of records considered the same underlying event
type DuplicateGroup struct {
	ID          uuid.UUID     `json:"id"`
	CanonicalID string        `json:"canonical_id"`
	Members     []GroupMember `json:"members"`
	Version     int           `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Contains reports whether recordID is a member
func (g *DuplicateGroup) Contains(recordID string) bool {
	for _, m := range g.Members {
		if m.RecordID == recordID {
			return true
		}
	}
	return false
}

// MemberIDs returns the sorted member ids
func (g *DuplicateGroup) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.RecordID
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy
func (g *DuplicateGroup) Clone() *DuplicateGroup {
	if g == nil {
		return nil
	}
	c := *g
	c.Members = append([]GroupMember(nil), g.Members...)
	return &c
}

// CanonicalMember picks the earliest first-seen member, ties broken by id
func CanonicalMember(members []GroupMember) string {
	if len(members) == 0 {
		return ""
	}
	best := members[0]
	for _, m := range members[1:] {
		if m.FirstSeen.Before(best.FirstSeen) || (m.FirstSeen.Equal(best.FirstSeen) && m.RecordID < best.RecordID) {
			best = m
		}
	}
	return best.RecordID
}

// GroupRef pins a group to the version it was read at
type GroupRef struct {
	ID      uuid.UUID
	Version int
}

// GroupMerge is an optimistic write: it applies only if the survivor and every
// absorbed group are still at the versions they were read at.
type GroupMerge struct {
	// Survivor is nil when the merge creates a new group.
	Survivor *GroupRef
	Absorbed []GroupRef
	Result   *DuplicateGroup

	PreviousCanonical string
}

// MergeReason records why two records were merged
type MergeReason string

const (
	MergeReasonFingerprint MergeReason = "fingerprint"
	MergeReasonSameEvent   MergeReason = "same_event_score"
)

// MergeEvent tells the record store that records now share a canonical id.
// Redirecting or deleting records is the record store's job.
type MergeEvent struct {
	ID               uuid.UUID   `json:"id"`
	GroupID          uuid.UUID   `json:"group_id"`
	CanonicalID      string      `json:"canonical_id"`
	PreviousCanon    string      `json:"previous_canonical_id,omitempty"`
	Members          []string    `json:"members"`
	MergedPair       [2]string   `json:"merged_pair"`
	Reason           MergeReason `json:"reason"`
	Score            float64     `json:"score"`
	AlgorithmVersion int         `json:"algorithm_version"`
	Timestamp        time.Time   `json:"timestamp"`
}
