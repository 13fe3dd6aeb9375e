package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/api/handlers"
	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/internal/streaming"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

type fakeService struct {
	jobs       map[uuid.UUID]*models.Job
	edges      map[uuid.UUID]*models.CorrelationEdge
	group      *models.DuplicateGroup
	minSeen    models.ConfidenceLabel
	enqueueErr error
}

func newFakeService() *fakeService {
	return &fakeService{jobs: map[uuid.UUID]*models.Job{}, edges: map[uuid.UUID]*models.CorrelationEdge{}}
}

func (f *fakeService) EnqueueCorrelationSweep(_ context.Context, recordID string) (*models.Job, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	job := &models.Job{ID: uuid.New(), RecordID: recordID, Trigger: models.TriggerManual, Status: models.JobStatusQueued}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeService) GetEdges(_ context.Context, recordID string, min models.ConfidenceLabel) ([]*models.CorrelationEdge, error) {
	f.minSeen = min
	var out []*models.CorrelationEdge
	for _, e := range f.edges {
		if (e.ThreatIDA == recordID || e.ThreatIDB == recordID) && e.ConfidenceLabel.AtLeast(min) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeService) ReviewEdge(_ context.Context, id uuid.UUID, status models.EdgeStatus) (*models.CorrelationEdge, error) {
	if status == models.EdgeStatusProposed {
		return nil, fmt.Errorf("back to proposed: %w", models.ErrInvalidTransition)
	}
	e, ok := f.edges[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	e.Status = status
	return e, nil
}

func (f *fakeService) GetDuplicateGroup(_ context.Context, recordID string) (*models.DuplicateGroup, error) {
	if f.group != nil && f.group.Contains(recordID) {
		return f.group, nil
	}
	return nil, nil
}

func (f *fakeService) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeService) CancelJob(_ context.Context, id uuid.UUID) error {
	j, ok := f.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if j.Status.Terminal() {
		return models.ErrInvalidTransition
	}
	j.Status = models.JobStatusCancelled
	return nil
}

func (f *fakeService) GetStats() services.ServiceStats {
	return services.ServiceStats{ChangesSeen: 3, QueueLength: len(f.jobs)}
}

type fakeGraph struct {
	depth    int
	minScore float64
}

func (g *fakeGraph) RelatedRecords(_ context.Context, recordID string, depth int, minScore float64, limit int) ([]models.RelatedRecord, error) {
	g.depth, g.minScore = depth, minScore
	return []models.RelatedRecord{{RecordID: "rec-b", Depth: 1, Strength: 0.8}}, nil
}

func newTestServer(t *testing.T, svc *fakeService, graph handlers.RelatedFinder, checks map[string]handlers.CheckFunc) *httptest.Server {
	t.Helper()
	log := logger.Nop()
	h := handlers.NewHandlers(handlers.Dependencies{
		Service: svc,
		Graph:   graph,
		Checks:  checks,
		Version: "test",
		Logger:  log,
	})
	var cfg config.Config
	cfg.Server.RequestTimeout = 5 * time.Second
	srv := httptest.NewServer(NewRouter(cfg, h, log).Setup())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestRouter_SweepAndJobLifecycle(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc, nil, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/correlation/records/rec-a/sweep", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "rec-a", body["record_id"])
	assert.Equal(t, "queued", body["status"])
	jobID := body["id"].(string)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, jobID, body["id"])

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/correlation/jobs/"+jobID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/correlation/jobs/"+jobID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/jobs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_SweepQueueFull(t *testing.T) {
	svc := newFakeService()
	svc.enqueueErr = models.ErrQueueFull
	srv := newTestServer(t, svc, nil, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/correlation/records/rec-a/sweep", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
	assert.Contains(t, body["details"], "queue")
}

func TestRouter_ListEdges(t *testing.T) {
	svc := newFakeService()
	high := &models.CorrelationEdge{ID: uuid.New(), ThreatIDA: "rec-a", ThreatIDB: "rec-b", OverallScore: 0.8, ConfidenceLabel: models.ConfidenceHigh}
	low := &models.CorrelationEdge{ID: uuid.New(), ThreatIDA: "rec-a", ThreatIDB: "rec-c", OverallScore: 0.3, ConfidenceLabel: models.ConfidenceLow}
	svc.edges[high.ID] = high
	svc.edges[low.ID] = low
	srv := newTestServer(t, svc, nil, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/rec-a/edges?min_confidence=high", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, models.ConfidenceHigh, svc.minSeen)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/rec-a/edges", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, models.ConfidenceLow, svc.minSeen)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/nobody/edges", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{}, body["edges"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/rec-a/edges?min_confidence=extreme", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_ReviewEdge(t *testing.T) {
	svc := newFakeService()
	e := &models.CorrelationEdge{ID: uuid.New(), ThreatIDA: "rec-a", ThreatIDB: "rec-b", Status: models.EdgeStatusProposed}
	svc.edges[e.ID] = e
	srv := newTestServer(t, svc, nil, nil)
	url := srv.URL + "/api/v1/correlation/edges/" + e.ID.String()

	tests := []struct {
		name   string
		url    string
		body   string
		status int
	}{
		{"reviewed", url, `{"status":"reviewed"}`, http.StatusOK},
		{"back to proposed", url, `{"status":"proposed"}`, http.StatusConflict},
		{"unknown status", url, `{"status":"approved"}`, http.StatusBadRequest},
		{"malformed body", url, `{`, http.StatusBadRequest},
		{"bad id", srv.URL + "/api/v1/correlation/edges/xyz", `{"status":"reviewed"}`, http.StatusBadRequest},
		{"unknown edge", srv.URL + "/api/v1/correlation/edges/" + uuid.NewString(), `{"status":"rejected"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, http.MethodPatch, tt.url, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Equal(t, models.EdgeStatusReviewed, e.Status)
}

func TestRouter_DuplicateGroup(t *testing.T) {
	svc := newFakeService()
	svc.group = &models.DuplicateGroup{
		ID:          uuid.New(),
		CanonicalID: "rec-a",
		Members:     []models.GroupMember{{RecordID: "rec-a"}, {RecordID: "rec-b"}},
		Version:     1,
	}
	srv := newTestServer(t, svc, nil, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/rec-b/duplicate-group", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rec-a", body["canonical_id"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/rec-z/duplicate-group", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Related(t *testing.T) {
	graph := &fakeGraph{}
	srv := newTestServer(t, newFakeService(), graph, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/rec-a/related?depth=3&min_score=0.5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 3, graph.depth)
	assert.Equal(t, 0.5, graph.minScore)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/records/rec-a/related?depth=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	noGraph := newTestServer(t, newFakeService(), nil, nil)
	resp, _ = do(t, http.MethodGet, noGraph.URL+"/api/v1/correlation/records/rec-a/related", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouter_HealthAndReady(t *testing.T) {
	srv := newTestServer(t, newFakeService(), nil, map[string]handlers.CheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["postgres"])
	assert.Equal(t, "unhealthy: connection refused", checks["redis"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_Stats(t *testing.T) {
	srv := newTestServer(t, newFakeService(), nil, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/correlation/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["changes_seen"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/events/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["websocket_clients"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/events/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouter_EventsWithHub(t *testing.T) {
	log := logger.Nop()
	bus := streaming.NewEventBus(nil, config.NATSSubjectsConfig{}, log)
	t.Cleanup(bus.Close)
	hub := streaming.NewWebSocketHub(bus, log)

	h := handlers.NewHandlers(handlers.Dependencies{
		Service: newFakeService(),
		Hub:     hub,
		Bus:     bus,
		Version: "test",
		Logger:  log,
	})
	srv := httptest.NewServer(NewRouter(config.Config{}, h, log).Setup())
	t.Cleanup(srv.Close)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/correlation/events/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["broker_attached"])
	assert.Equal(t, float64(0), body["websocket_clients"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/correlation/events/ws?record_id=%20%20", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid record_id", body["error"])
}
