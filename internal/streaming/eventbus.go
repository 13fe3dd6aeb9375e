package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/internal/metrics"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// Transport delivers encoded events to a broker subject
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// EventBus implements services.EventPublisher. Events go to the broker when a
// transport is configured and are always broadcast to local subscribers.
type EventBus struct {
	transport Transport
	subjects  config.NATSSubjectsConfig
	logger    *logger.Logger

	mu          sync.RWMutex
	subscribers map[int]chan *Event
	nextID      int
	closed      bool
}

var _ services.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new event bus. transport may be nil.
func NewEventBus(transport Transport, subjects config.NATSSubjectsConfig, log *logger.Logger) *EventBus {
	return &EventBus{
		transport:   transport,
		subjects:    subjects,
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[int]chan *Event),
	}
}

// PublishMerge announces that records now share a canonical id
func (eb *EventBus) PublishMerge(ctx context.Context, merge *models.MergeEvent) error {
	ev := newEvent(EventTypeRecordsMerged, merge.Members...)
	ev.Merge = merge
	return eb.publish(ctx, eb.subjects.Merged, ev)
}

// PublishJobFailed announces a sweep that ended in failure
func (eb *EventBus) PublishJobFailed(ctx context.Context, job *models.Job) error {
	ev := newEvent(EventTypeJobFailed, job.RecordID)
	ev.Job = job
	return eb.publish(ctx, eb.subjects.JobFailed, ev)
}

// PublishEdge announces an edge upsert, deletion or review
func (eb *EventBus) PublishEdge(ctx context.Context, action string, edge *models.CorrelationEdge) error {
	ev := newEvent(EventType("edge."+action), edge.ThreatIDA, edge.ThreatIDB)
	ev.Edge = edge
	return eb.publish(ctx, eb.subjects.Edge+"."+action, ev)
}

func (eb *EventBus) publish(ctx context.Context, subject string, ev *Event) error {
	eb.broadcast(ev)

	if eb.transport == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.transport.Publish(ctx, subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
	return nil
}

func (eb *EventBus) broadcast(ev *Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, ch := range eb.subscribers {
		select {
		case ch <- ev:
		default:
			eb.logger.Debug().Int("subscriber", id).Msg("subscriber channel full, dropping event")
		}
	}
}

// Subscribe returns a channel receiving every later event and a function
// that ends the subscription
func (eb *EventBus) Subscribe(buffer int) (<-chan *Event, func()) {
	ch := make(chan *Event, buffer)

	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	eb.nextID++
	id := eb.nextID
	eb.subscribers[id] = ch
	eb.mu.Unlock()

	unsubscribe := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if _, ok := eb.subscribers[id]; ok {
			close(ch)
			delete(eb.subscribers, id)
		}
	}
	return ch, unsubscribe
}

// BrokerAttached reports whether events also leave the process
func (eb *EventBus) BrokerAttached() bool {
	return eb.transport != nil
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close ends every subscription
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.closed = true
	for id, ch := range eb.subscribers {
		close(ch)
		delete(eb.subscribers, id)
	}
}
