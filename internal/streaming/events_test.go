package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

func TestDecodeRecordChange(t *testing.T) {
	change, err := DecodeRecordChange("threats.record.updated", []byte(`{"record_id":"r1","kind":"created","timestamp":"2024-03-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "r1", change.RecordID)
	assert.Equal(t, models.RecordCreated, change.Kind, "payload kind wins over the subject")
	assert.Equal(t, 2024, change.Timestamp.Year())

	change, err = DecodeRecordChange("threats.record.deleted", []byte(`{"record_id":"r2"}`))
	require.NoError(t, err)
	assert.Equal(t, models.RecordDeleted, change.Kind)
	assert.False(t, change.Timestamp.IsZero())

	tests := []struct {
		name    string
		subject string
		data    string
	}{
		{"not json", "threats.record.created", `{`},
		{"missing id", "threats.record.created", `{"kind":"created"}`},
		{"unknown kind", "threats.record.archived", `{"record_id":"r3"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecordChange(tt.subject, []byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestSubscription_Matches(t *testing.T) {
	edge := newEvent(EventTypeEdgeUpserted, "a", "b")
	merge := newEvent(EventTypeRecordsMerged, "c", "d", "e")

	var all *Subscription
	assert.True(t, all.Matches(edge))
	assert.True(t, (&Subscription{}).Matches(merge))

	byRecord := &Subscription{RecordIDs: []string{"b"}}
	assert.True(t, byRecord.Matches(edge))
	assert.False(t, byRecord.Matches(merge))

	byType := &Subscription{Types: []EventType{EventTypeRecordsMerged}}
	assert.False(t, byType.Matches(edge))
	assert.True(t, byType.Matches(merge))

	both := &Subscription{Types: []EventType{EventTypeRecordsMerged}, RecordIDs: []string{"a"}}
	assert.False(t, both.Matches(edge))
	assert.False(t, both.Matches(merge))
}

type fakeSettler struct {
	acked  int
	nakked []time.Duration
}

func (f *fakeSettler) Ack() error { f.acked++; return nil }

func (f *fakeSettler) NakWithDelay(d time.Duration) error {
	f.nakked = append(f.nakked, d)
	return nil
}

func TestSettleRecordChange(t *testing.T) {
	msg := &fakeSettler{}
	require.NoError(t, settleRecordChange(msg, nil))
	assert.Equal(t, 1, msg.acked)
	assert.Empty(t, msg.nakked)

	msg = &fakeSettler{}
	require.NoError(t, settleRecordChange(msg, models.ErrQueueFull))
	assert.Zero(t, msg.acked, "a change the runner refused must not be acked")
	assert.Equal(t, []time.Duration{changeRedeliveryDelay}, msg.nakked)
}
