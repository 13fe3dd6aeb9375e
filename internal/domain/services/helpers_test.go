package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/memory"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type recordOpt func(*models.ThreatRecord)

func newRecord(id string, opts ...recordOpt) *models.ThreatRecord {
	r := &models.ThreatRecord{
		ID:         id,
		Kind:       "malware",
		Severity:   7.2,
		Confidence: 0.8,
		FirstSeen:  baseTime,
		LastSeen:   baseTime.Add(48 * time.Hour),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func withIndicators(inds ...models.Indicator) recordOpt {
	return func(r *models.ThreatRecord) { r.Indicators = inds }
}

func withInfra(inds ...models.Indicator) recordOpt {
	return func(r *models.ThreatRecord) { r.Infrastructure = inds }
}

func withTags(tags ...string) recordOpt {
	return func(r *models.ThreatRecord) { r.BehaviorTags = tags }
}

func withWindow(first, last time.Time) recordOpt {
	return func(r *models.ThreatRecord) {
		r.FirstSeen = first
		r.LastSeen = last
	}
}

func withKind(kind string) recordOpt {
	return func(r *models.ThreatRecord) { r.Kind = kind }
}

func withSource(src string) recordOpt {
	return func(r *models.ThreatRecord) { r.Source = src }
}

func ind(t models.IndicatorType, v string) models.Indicator {
	return models.Indicator{Type: t, Value: v}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// campaign returns a fully populated record used as the baseline of most tests
func campaign(id string, opts ...recordOpt) *models.ThreatRecord {
	base := []recordOpt{
		withIndicators(
			ind(models.IndicatorTypeHash, "44d88612fea8a8f36de82e1278abb02f"),
			ind(models.IndicatorTypeDomain, "update-check.example.net"),
			ind(models.IndicatorTypeIP, "203.0.113.10"),
		),
		withInfra(
			ind(models.IndicatorTypeIP, "198.51.100.7"),
			ind(models.IndicatorTypeCertificate, "sha1:ab12cd34"),
		),
		withTags("T1566", "T1059"),
	}
	return newRecord(id, append(base, opts...)...)
}

func newTestScorer(t *testing.T) *CorrelationScorer {
	t.Helper()
	s, err := NewCorrelationScorer(models.DefaultScoringProfile(), logger.Nop())
	require.NoError(t, err)
	return s
}

type testEnv struct {
	records   *memory.RecordStore
	edges     *memory.EdgeStore
	groups    *memory.GroupStore
	prints    *memory.FingerprintIndex
	publisher *recordingPublisher
	scorer    *CorrelationScorer
	resolver  *DeduplicationResolver
	sweeper   *Sweeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		records:   memory.NewRecordStore(),
		edges:     memory.NewEdgeStore(4),
		groups:    memory.NewGroupStore(),
		prints:    memory.NewFingerprintIndex(),
		publisher: &recordingPublisher{},
		scorer:    newTestScorer(t),
	}
	env.resolver = NewDeduplicationResolver(env.groups, env.scorer, env.publisher, logger.Nop())
	env.sweeper = env.newSweeper(env.records)
	return env
}

func (e *testEnv) newSweeper(records RecordStore) *Sweeper {
	return NewSweeper(SweeperConfig{}, SweeperDeps{
		Records:      records,
		Edges:        e.edges,
		Scorer:       e.scorer,
		Resolver:     e.resolver,
		Fingerprints: e.prints,
		Publisher:    e.publisher,
	}, logger.Nop())
}

func (e *testEnv) put(t *testing.T, recs ...*models.ThreatRecord) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, e.records.Put(context.Background(), r))
	}
}

func fastRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:        2,
		QueueSize:      64,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JobTimeout:     5 * time.Second,
		JobRetention:   time.Hour,
	}
}

func waitForJob(t *testing.T, r *JobRunner, id uuid.UUID) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := r.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

type recordingPublisher struct {
	mu       sync.Mutex
	merges   []*models.MergeEvent
	failed   []*models.Job
	edgeActs []string
}

func (p *recordingPublisher) PublishMerge(_ context.Context, e *models.MergeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.merges = append(p.merges, e)
	return nil
}

func (p *recordingPublisher) PublishJobFailed(_ context.Context, j *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, j)
	return nil
}

func (p *recordingPublisher) PublishEdge(_ context.Context, action string, _ *models.CorrelationEdge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edgeActs = append(p.edgeActs, action)
	return nil
}

func (p *recordingPublisher) mergeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.merges)
}

func (p *recordingPublisher) failedJobs() []*models.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Job(nil), p.failed...)
}

// scriptedStore wraps a RecordStore and injects failures or blocking reads
type scriptedStore struct {
	RecordStore

	mu              sync.Mutex
	findFailures    int // transient FindCandidates failures left
	findCalls       int
	failRead        map[string]error
	blockRead       map[string]bool
	blocked         chan string
	findErrOverride error
}

func newScriptedStore(inner RecordStore) *scriptedStore {
	return &scriptedStore{
		RecordStore: inner,
		failRead:    make(map[string]error),
		blockRead:   make(map[string]bool),
		blocked:     make(chan string, 16),
	}
}

var errStoreBusy = errors.New("store busy")

func (s *scriptedStore) FindCandidates(ctx context.Context, id string, maxWindowDays int) ([]string, error) {
	s.mu.Lock()
	s.findCalls++
	if s.findErrOverride != nil {
		err := s.findErrOverride
		s.mu.Unlock()
		return nil, err
	}
	if s.findFailures > 0 {
		s.findFailures--
		s.mu.Unlock()
		return nil, &models.TransientStoreError{Op: "find candidates", Err: errStoreBusy}
	}
	s.mu.Unlock()
	return s.RecordStore.FindCandidates(ctx, id, maxWindowDays)
}

func (s *scriptedStore) GetRecord(ctx context.Context, id string) (*models.ThreatRecord, error) {
	s.mu.Lock()
	err := s.failRead[id]
	block := s.blockRead[id]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if block {
		s.blocked <- id
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.RecordStore.GetRecord(ctx, id)
}

func (s *scriptedStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}
