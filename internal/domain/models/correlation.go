package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SignalName identifies one of the similarity analyzers
type SignalName string

const (
	SignalIndicatorOverlap      SignalName = "indicator_overlap"
	SignalInfrastructureOverlap SignalName = "infrastructure_overlap"
	SignalTemporalProximity     SignalName = "temporal_proximity"
	SignalBehavioralSimilarity  SignalName = "behavioral_similarity"
)

// Signals lists every signal in the fixed order used for scoring and evidence
var Signals = []SignalName{
	SignalIndicatorOverlap,
	SignalInfrastructureOverlap,
	SignalTemporalProximity,
	SignalBehavioralSimilarity,
}

// ConfidenceLabel classifies an overall correlation score
type ConfidenceLabel string

const (
	ConfidenceDiscard   ConfidenceLabel = "discard"
	ConfidenceLow       ConfidenceLabel = "low"
	ConfidenceMedium    ConfidenceLabel = "medium"
	ConfidenceHigh      ConfidenceLabel = "high"
	ConfidenceConfirmed ConfidenceLabel = "confirmed"
)

var labelRank = map[ConfidenceLabel]int{
	ConfidenceDiscard:   0,
	ConfidenceLow:       1,
	ConfidenceMedium:    2,
	ConfidenceHigh:      3,
	ConfidenceConfirmed: 4,
}

// ParseConfidenceLabel parses a persisted or user supplied label
func ParseConfidenceLabel(s string) (ConfidenceLabel, bool) {
	l := ConfidenceLabel(s)
	_, ok := labelRank[l]
	return l, ok
}

// AtLeast reports whether l is as strong as min
func (l ConfidenceLabel) AtLeast(min ConfidenceLabel) bool {
	return labelRank[l] >= labelRank[min]
}

// LabelsAtLeast returns every persistable label as strong as min, weakest first
func LabelsAtLeast(min ConfidenceLabel) []ConfidenceLabel {
	var out []ConfidenceLabel
	for _, l := range []ConfidenceLabel{ConfidenceLow, ConfidenceMedium, ConfidenceHigh, ConfidenceConfirmed} {
		if l.AtLeast(min) {
			out = append(out, l)
		}
	}
	return out
}

// EdgeStatus is the review state of a correlation edge
type EdgeStatus string

const (
	EdgeStatusProposed EdgeStatus = "proposed"
	EdgeStatusReviewed EdgeStatus = "reviewed"
	EdgeStatusRejected EdgeStatus = "rejected"
)

// ParseEdgeStatus parses a status string
func ParseEdgeStatus(s string) (EdgeStatus, bool) {
	switch st := EdgeStatus(s); st {
	case EdgeStatusProposed, EdgeStatusReviewed, EdgeStatusRejected:
		return st, true
	}
	return "", false
}

// CorrelationEdge is a persisted pairwise correlation between two threat records
type CorrelationEdge struct {
	ID               uuid.UUID              `json:"id"`
	ThreatIDA        string                 `json:"threat_id_a"`
	ThreatIDB        string                 `json:"threat_id_b"`
	OverallScore     float64                `json:"overall_score"`
	ConfidenceLabel  ConfidenceLabel        `json:"confidence_label"`
	SignalScores     map[SignalName]float64 `json:"signal_scores"`
	Evidence         []string               `json:"evidence"`
	Status           EdgeStatus             `json:"status"`
	AlgorithmVersion int                    `json:"algorithm_version"`
	ReviewedAt       *time.Time             `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// PairKey returns the canonical key of the edge's pair
func (e *CorrelationEdge) PairKey() string {
	return PairKey(e.ThreatIDA, e.ThreatIDB)
}

// Other returns the id on the other side of the edge from recordID
func (e *CorrelationEdge) Other(recordID string) string {
	if e.ThreatIDA == recordID {
		return e.ThreatIDB
	}
	return e.ThreatIDA
}

// Clone returns a deep copy
func (e *CorrelationEdge) Clone() *CorrelationEdge {
	if e == nil {
		return nil
	}
	c := *e
	c.SignalScores = make(map[SignalName]float64, len(e.SignalScores))
	for k, v := range e.SignalScores {
		c.SignalScores[k] = v
	}
	c.Evidence = append([]string(nil), e.Evidence...)
	if e.ReviewedAt != nil {
		t := *e.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

// CanonicalPair orders two ids so the lexicographically smaller one is first
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey is the canonical unordered-pair key of two record ids. Record ids
// are opaque, so the first id is length-prefixed: ("a|b","c") and ("a","b|c")
// never share a key.
func PairKey(a, b string) string {
	a, b = CanonicalPair(a, b)
	return strconv.Itoa(len(a)) + ":" + a + "|" + b
}

var edgeNamespace = uuid.MustParse("6f1c1c2e-3b0a-5d8e-9a57-2c1f0c7d4b11")

// EdgeID derives the stable identifier of the edge for an unordered pair
func EdgeID(a, b string) uuid.UUID {
	return uuid.NewSHA1(edgeNamespace, []byte(PairKey(a, b)))
}

// RelatedRecord is a record reachable through correlation edges
type RelatedRecord struct {
	RecordID string  `json:"record_id"`
	Depth    int     `json:"depth"`
	Strength float64 `json:"strength"`
}
