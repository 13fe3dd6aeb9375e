package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

type published struct {
	subject string
	event   Event
}

type fakeTransport struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeTransport) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.msgs = append(f.msgs, published{subject: subject, event: ev})
	return nil
}

var testSubjects = config.NATSSubjectsConfig{
	RecordChanged: "threats.record.>",
	Merged:        "threats.correlation.merged",
	JobFailed:     "threats.correlation.job_failed",
	Edge:          "threats.correlation.edge",
}

func TestEventBus_PublishesToSubjects(t *testing.T) {
	tr := &fakeTransport{}
	bus := NewEventBus(tr, testSubjects, logger.Nop())
	ctx := context.Background()

	edge := &models.CorrelationEdge{ID: models.EdgeID("a", "b"), ThreatIDA: "a", ThreatIDB: "b", OverallScore: 0.7}
	require.NoError(t, bus.PublishEdge(ctx, services.EdgeActionUpserted, edge))
	require.NoError(t, bus.PublishMerge(ctx, &models.MergeEvent{ID: uuid.New(), CanonicalID: "a", Members: []string{"a", "b"}}))
	require.NoError(t, bus.PublishJobFailed(ctx, &models.Job{ID: uuid.New(), RecordID: "a", Status: models.JobStatusFailed}))

	require.Len(t, tr.msgs, 3)
	assert.Equal(t, "threats.correlation.edge.upserted", tr.msgs[0].subject)
	assert.Equal(t, EventTypeEdgeUpserted, tr.msgs[0].event.Type)
	assert.Equal(t, []string{"a", "b"}, tr.msgs[0].event.RecordIDs)
	assert.Equal(t, 0.7, tr.msgs[0].event.Edge.OverallScore)

	assert.Equal(t, "threats.correlation.merged", tr.msgs[1].subject)
	assert.Equal(t, "a", tr.msgs[1].event.Merge.CanonicalID)

	assert.Equal(t, "threats.correlation.job_failed", tr.msgs[2].subject)
	assert.Equal(t, models.JobStatusFailed, tr.msgs[2].event.Job.Status)
}

func TestEventBus_LocalSubscribersSeeEventsEvenWhenTransportFails(t *testing.T) {
	tr := &fakeTransport{err: assert.AnError}
	bus := NewEventBus(tr, testSubjects, logger.Nop())

	events, unsubscribe := bus.Subscribe(4)
	assert.Equal(t, 1, bus.SubscriberCount())

	err := bus.PublishMerge(context.Background(), &models.MergeEvent{Members: []string{"x", "y"}})
	assert.ErrorIs(t, err, assert.AnError)

	ev := <-events
	assert.Equal(t, EventTypeRecordsMerged, ev.Type)
	assert.True(t, ev.Involves("y"))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-events
	assert.False(t, open)
}

func TestEventBus_WithoutTransport(t *testing.T) {
	bus := NewEventBus(nil, testSubjects, logger.Nop())
	events, _ := bus.Subscribe(1)

	edge := &models.CorrelationEdge{ThreatIDA: "a", ThreatIDB: "b"}
	require.NoError(t, bus.PublishEdge(context.Background(), services.EdgeActionDeleted, edge))
	// full buffer drops instead of blocking
	require.NoError(t, bus.PublishEdge(context.Background(), services.EdgeActionDeleted, edge))

	assert.Equal(t, EventTypeEdgeDeleted, (<-events).Type)

	bus.Close()
	_, open := <-events
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}
