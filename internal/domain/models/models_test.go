package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeID_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, EdgeID("a", "b"), EdgeID("b", "a"))
	assert.NotEqual(t, EdgeID("a", "b"), EdgeID("a", "c"))
	assert.Equal(t, "1:a|b", PairKey("b", "a"))

	x, y := CanonicalPair("rec-9", "rec-10")
	assert.Equal(t, "rec-10", x)
	assert.Equal(t, "rec-9", y)
}

func TestPairKey_SeparatorInIDs(t *testing.T) {
	assert.NotEqual(t, PairKey("a|b", "c"), PairKey("a", "b|c"))
	assert.NotEqual(t, EdgeID("a|b", "c"), EdgeID("a", "b|c"))
	assert.NotEqual(t, PairKey("1:a", "b"), PairKey("1", "a|b"))
}

func TestConfidenceLabel(t *testing.T) {
	l, ok := ParseConfidenceLabel("high")
	require.True(t, ok)
	assert.True(t, l.AtLeast(ConfidenceMedium))
	assert.True(t, l.AtLeast(ConfidenceHigh))
	assert.False(t, l.AtLeast(ConfidenceConfirmed))

	_, ok = ParseConfidenceLabel("HIGH")
	assert.False(t, ok)

	assert.Equal(t, []ConfidenceLabel{ConfidenceHigh, ConfidenceConfirmed}, LabelsAtLeast(ConfidenceHigh))
	assert.Len(t, LabelsAtLeast(ConfidenceDiscard), 4, "discard is never persisted")
}

func TestParseEdgeStatus(t *testing.T) {
	for _, s := range []string{"proposed", "reviewed", "rejected"} {
		_, ok := ParseEdgeStatus(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseEdgeStatus("approved")
	assert.False(t, ok)
}

func TestCorrelationEdge_CloneIsDeep(t *testing.T) {
	now := time.Now()
	e := &CorrelationEdge{
		SignalScores: map[SignalName]float64{SignalIndicatorOverlap: 0.5},
		Evidence:     []string{"x"},
		ReviewedAt:   &now,
	}
	c := e.Clone()
	c.SignalScores[SignalIndicatorOverlap] = 1
	c.Evidence[0] = "y"
	*c.ReviewedAt = now.Add(time.Hour)

	assert.Equal(t, 0.5, e.SignalScores[SignalIndicatorOverlap])
	assert.Equal(t, "x", e.Evidence[0])
	assert.Equal(t, now, *e.ReviewedAt)
}

func TestThreatRecord_Validate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := func() *ThreatRecord {
		return &ThreatRecord{
			ID:             "r1",
			Kind:           "malware",
			Severity:       5,
			FirstSeen:      start,
			LastSeen:       start.Add(time.Hour),
			Indicators:     []Indicator{{Type: IndicatorTypeIP, Value: "10.0.0.1"}},
			Infrastructure: []Indicator{{Type: IndicatorTypeIP, Value: "10.0.0.2"}},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(r *ThreatRecord)
	}{
		{"missing id", func(r *ThreatRecord) { r.ID = "" }},
		{"missing kind", func(r *ThreatRecord) { r.Kind = " " }},
		{"missing first seen", func(r *ThreatRecord) { r.FirstSeen = time.Time{} }},
		{"window reversed", func(r *ThreatRecord) { r.LastSeen = start.Add(-time.Hour) }},
		{"severity too high", func(r *ThreatRecord) { r.Severity = 11 }},
		{"artifact in both buckets", func(r *ThreatRecord) {
			r.Infrastructure = append(r.Infrastructure, Indicator{Type: IndicatorTypeIP, Value: " 10.0.0.1 "})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			var invalid *InvalidRecordError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestCanonicalMember(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	members := []GroupMember{
		{RecordID: "c", FirstSeen: start.Add(time.Hour)},
		{RecordID: "b", FirstSeen: start},
		{RecordID: "a", FirstSeen: start},
	}
	assert.Equal(t, "a", CanonicalMember(members))
	assert.Empty(t, CanonicalMember(nil))

	g := &DuplicateGroup{Members: members}
	assert.Equal(t, []string{"a", "b", "c"}, g.MemberIDs())
	assert.True(t, g.Contains("c"))
	assert.False(t, g.Contains("z"))
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewTransient("read", assert.AnError)))
	assert.ErrorIs(t, NewTransient("read", assert.AnError), assert.AnError)
	assert.False(t, IsTransient(assert.AnError))
	assert.NoError(t, NewTransient("read", nil))
}
