package handlers

import (
	"net/http"
	"strings"

	"github.com/harborgrid-justin/black-cross-sub000/internal/streaming"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

const maxRecordIDLen = 256

// EventsHandler exposes the live feed of edge, merge and job-failed events
type EventsHandler struct {
	hub    *streaming.WebSocketHub
	bus    *streaming.EventBus
	logger *logger.Logger
}

// EventStats describes who is listening to correlation events
type EventStats struct {
	WebSocketClients    int  `json:"websocket_clients"`
	EventBusSubscribers int  `json:"event_bus_subscribers"`
	BrokerAttached      bool `json:"broker_attached"`
}

// NewEventsHandler creates an events handler. Either dependency may be nil.
func NewEventsHandler(hub *streaming.WebSocketHub, bus *streaming.EventBus, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		bus:    bus,
		logger: log.WithComponent("events-handler"),
	}
}

// Stream upgrades to a websocket. ?record_id= narrows the feed to one record.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "event streaming not available", nil)
		return
	}
	if id := r.URL.Query().Get("record_id"); len(id) > maxRecordIDLen || (id != "" && strings.TrimSpace(id) == "") {
		respondError(w, http.StatusBadRequest, "invalid record_id", nil)
		return
	}

	h.logger.Debug().
		Str("remote_addr", r.RemoteAddr).
		Str("record_id", r.URL.Query().Get("record_id")).
		Msg("event stream requested")

	h.hub.ServeWebSocket(w, r)
}

// Stats reports stream listeners
func (h *EventsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var stats EventStats
	if h.hub != nil {
		stats.WebSocketClients = h.hub.ClientCount()
	}
	if h.bus != nil {
		stats.EventBusSubscribers = h.bus.SubscriberCount()
		stats.BrokerAttached = h.bus.BrokerAttached()
	}
	respondJSON(w, http.StatusOK, stats)
}
