package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/metrics"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// RunnerConfig sizes the worker pool and the per-job budgets
type RunnerConfig struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JobTimeout     time.Duration
	JobRetention   time.Duration
}

// DefaultRunnerConfig returns conservative defaults so sweeps do not saturate the record store
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:        4,
		QueueSize:      1024,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JobTimeout:     2 * time.Minute,
		JobRetention:   24 * time.Hour,
	}
}

// SweepFunc runs one attempt of a sweep
type SweepFunc func(ctx context.Context, recordID string, onCandidates func([]string)) (models.SweepStats, error)

type jobEntry struct {
	job    *models.Job
	cancel context.CancelCauseFunc
}

// JobRunner is a bounded worker pool executing correlation sweeps.
// Job state moves queued -> running -> completed | failed | cancelled.
type JobRunner struct {
	cfg       RunnerConfig
	sweep     SweepFunc
	publisher EventPublisher
	mirror    JobMirror
	logger    *logger.Logger
	tracer    trace.Tracer
	version   int

	queue chan uuid.UUID

	mu             sync.RWMutex
	jobs           map[uuid.UUID]*jobEntry
	queuedByRecord map[string]uuid.UUID
	running        bool
	stopped        bool

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewJobRunner creates a runner. publisher and mirror may be nil.
func NewJobRunner(cfg RunnerConfig, sweep SweepFunc, algorithmVersion int, publisher EventPublisher, mirror JobMirror, log *logger.Logger) *JobRunner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = def.JobRetention
	}

	return &JobRunner{
		cfg:            cfg,
		sweep:          sweep,
		publisher:      publisher,
		mirror:         mirror,
		logger:         log.WithComponent("correlation-runner"),
		tracer:         otel.Tracer("github.com/harborgrid-justin/black-cross-sub000/correlation"),
		version:        algorithmVersion,
		queue:          make(chan uuid.UUID, cfg.QueueSize),
		jobs:           make(map[uuid.UUID]*jobEntry),
		queuedByRecord: make(map[string]uuid.UUID),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the workers. Cancelling ctx stops them like Stop does.
func (r *JobRunner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running || r.stopped {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.runCtx, r.stop = context.WithCancel(ctx)
	r.mu.Unlock()

	r.logger.Info().
		Int("workers", r.cfg.Workers).
		Int("queue_size", r.cfg.QueueSize).
		Dur("job_timeout", r.cfg.JobTimeout).
		Msg("starting correlation runner")

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop cancels running jobs, waits for the workers and cancels whatever is still queued
func (r *JobRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	stop := r.stop
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	r.wg.Wait()

	r.mu.Lock()
	now := r.now()
	var drained []*models.Job
	for _, e := range r.jobs {
		if e.job.Status == models.JobStatusQueued {
			r.finishLocked(e, models.JobStatusCancelled, "runner stopped", now)
			drained = append(drained, e.job.Clone())
		}
	}
	r.queuedByRecord = make(map[string]uuid.UUID)
	r.mu.Unlock()

	for _, j := range drained {
		r.mirrorJob(context.Background(), j)
	}
	metrics.QueueDepth.Set(0)
	r.logger.Info().Int("cancelled_queued", len(drained)).Msg("correlation runner stopped")
}

// Enqueue adds a sweep for recordID. While a queued job exists for the record
// it is returned instead of adding another one. Enqueue never blocks.
func (r *JobRunner) Enqueue(ctx context.Context, recordID string, trigger models.JobTrigger) (*models.Job, error) {
	if recordID == "" {
		return nil, &models.InvalidRecordError{Reason: "missing id"}
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, models.ErrRunnerStopped
	}
	if id, ok := r.queuedByRecord[recordID]; ok {
		existing := r.jobs[id].job.Clone()
		r.mu.Unlock()
		return existing, nil
	}

	job := &models.Job{
		ID:               uuid.New(),
		RecordID:         recordID,
		Trigger:          trigger,
		Status:           models.JobStatusQueued,
		AlgorithmVersion: r.version,
		CreatedAt:        r.now(),
	}
	select {
	case r.queue <- job.ID:
	default:
		r.mu.Unlock()
		r.logger.Warn().Str("record_id", recordID).Msg("correlation queue full, dropping sweep request")
		return nil, models.ErrQueueFull
	}
	r.jobs[job.ID] = &jobEntry{job: job}
	r.queuedByRecord[recordID] = job.ID
	out := job.Clone()
	r.mu.Unlock()

	metrics.QueueDepth.Inc()
	r.mirrorJob(ctx, out)

	r.logger.Debug().
		Str("job_id", job.ID.String()).
		Str("record_id", recordID).
		Str("trigger", string(trigger)).
		Msg("correlation sweep queued")
	return out, nil
}

// GetJob returns a snapshot of a job, consulting the mirror for jobs owned by other instances
func (r *JobRunner) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	var job *models.Job
	if ok {
		job = e.job.Clone()
	}
	r.mu.RUnlock()
	if ok {
		return job, nil
	}

	if r.mirror != nil {
		job, err := r.mirror.LoadJob(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	return nil, models.ErrNotFound
}

// CancelJob cancels a queued or running job. A running job stops at its next
// candidate boundary.
func (r *JobRunner) CancelJob(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return models.ErrNotFound
	}
	if e.job.Status.Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("job %s is already %s: %w", id, e.job.Status, models.ErrInvalidTransition)
	}
	snapshot := r.cancelLocked(e, reason)
	r.mu.Unlock()

	if snapshot != nil {
		r.mirrorJob(ctx, snapshot)
	}
	return nil
}

// CancelRecord cancels every queued or running job for a record and returns how many were hit
func (r *JobRunner) CancelRecord(ctx context.Context, recordID, reason string) int {
	r.mu.Lock()
	var snapshots []*models.Job
	n := 0
	for _, e := range r.jobs {
		if e.job.RecordID != recordID || e.job.Status.Terminal() {
			continue
		}
		n++
		if s := r.cancelLocked(e, reason); s != nil {
			snapshots = append(snapshots, s)
		}
	}
	r.mu.Unlock()

	for _, s := range snapshots {
		r.mirrorJob(ctx, s)
	}
	return n
}

// cancelLocked returns a snapshot when the job reached a terminal state immediately
func (r *JobRunner) cancelLocked(e *jobEntry, reason string) *models.Job {
	switch e.job.Status {
	case models.JobStatusQueued:
		if r.queuedByRecord[e.job.RecordID] == e.job.ID {
			delete(r.queuedByRecord, e.job.RecordID)
		}
		r.finishLocked(e, models.JobStatusCancelled, reason, r.now())
		metrics.QueueDepth.Dec()
		metrics.JobsTotal.WithLabelValues(string(models.JobStatusCancelled)).Inc()
		return e.job.Clone()
	case models.JobStatusRunning:
		if e.cancel != nil {
			e.cancel(&models.JobCancelledError{JobID: e.job.ID, Reason: reason})
		}
	}
	return nil
}

// Prune drops finished jobs older than the retention window
func (r *JobRunner) Prune() int {
	cutoff := r.now().Add(-r.cfg.JobRetention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.jobs {
		if e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

// QueueLen is the number of job ids waiting in the queue
func (r *JobRunner) QueueLen() int {
	return len(r.queue)
}

func (r *JobRunner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.runCtx.Done():
			return
		case id := <-r.queue:
			r.execute(id)
		}
	}
}

func (r *JobRunner) execute(id uuid.UUID) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status != models.JobStatusQueued {
		// cancelled while waiting
		r.mu.Unlock()
		return
	}
	if r.queuedByRecord[e.job.RecordID] == id {
		delete(r.queuedByRecord, e.job.RecordID)
	}
	started := r.now()
	e.job.Status = models.JobStatusRunning
	e.job.StartedAt = &started

	base, cancel := context.WithCancelCause(r.runCtx)
	jobCtx, cancelTimeout := context.WithTimeoutCause(base, r.cfg.JobTimeout,
		&models.JobTimeoutError{JobID: id, Budget: r.cfg.JobTimeout})
	e.cancel = cancel
	recordID := e.job.RecordID
	snapshot := e.job.Clone()
	r.mu.Unlock()

	defer cancel(nil)
	defer cancelTimeout()

	metrics.QueueDepth.Dec()
	r.mirrorJob(jobCtx, snapshot)

	log := r.logger.WithJobID(id.String()).WithRecordID(recordID)
	jobCtx, span := r.tracer.Start(jobCtx, "correlation.sweep", trace.WithAttributes(
		attribute.String("job.id", id.String()),
		attribute.String("record.id", recordID),
		attribute.Int("algorithm.version", r.version),
	))
	defer span.End()

	var (
		stats   models.SweepStats
		runErr  error
		attempt int
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				runErr = fmt.Errorf("sweep panicked: %v", p)
				log.Error().Str("stack", string(debug.Stack())).Interface("panic", p).Msg("sweep panicked")
			}
		}()

		op := func() error {
			attempt++
			r.setAttempts(id, attempt)
			var err error
			stats, err = r.sweep(jobCtx, recordID, func(c []string) { r.setCandidates(id, c) })
			if err == nil {
				return nil
			}
			if jobCtx.Err() != nil || !models.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		notify := func(err error, wait time.Duration) {
			metrics.StoreRetries.WithLabelValues("sweep").Inc()
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("sweep attempt failed, retrying")
		}
		runErr = backoff.RetryNotify(op, backoff.WithContext(r.newBackOff(), jobCtx), notify)
	}()

	status, reason := r.classify(jobCtx, runErr)
	span.SetAttributes(attribute.String("job.status", string(status)), attribute.Int("job.attempts", attempt))
	if status != models.JobStatusCompleted {
		span.SetStatus(codes.Error, reason)
		if runErr != nil {
			span.RecordError(runErr)
		}
	}

	r.mu.Lock()
	e.job.Stats = stats
	r.finishLocked(e, status, reason, r.now())
	e.cancel = nil
	final := e.job.Clone()
	r.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.JobDuration.Observe(final.FinishedAt.Sub(started).Seconds())
	r.mirrorJob(context.Background(), final)

	event := log.Info()
	if status == models.JobStatusFailed {
		event = log.Error()
	}
	event.
		Str("status", string(status)).
		Str("reason", reason).
		Int("attempts", attempt).
		Int("candidates", stats.Candidates).
		Int("compared", stats.Compared).
		Int("persisted", stats.Persisted).
		Int("skipped", stats.Skipped).
		Int("merged", stats.Merged).
		Dur("duration", final.FinishedAt.Sub(started)).
		Msg("correlation sweep finished")

	if status == models.JobStatusFailed && r.publisher != nil {
		if err := r.publisher.PublishJobFailed(context.Background(), final); err != nil {
			log.Warn().Err(err).Msg("failed to publish job failure")
		}
	}
}

// classify maps the outcome of the retry loop and the job context onto a terminal state
func (r *JobRunner) classify(jobCtx context.Context, runErr error) (models.JobStatus, string) {
	if runErr == nil {
		return models.JobStatusCompleted, ""
	}

	var (
		cancelled *models.JobCancelledError
		timeout   *models.JobTimeoutError
	)
	cause := context.Cause(jobCtx)
	switch {
	case errors.As(cause, &cancelled):
		return models.JobStatusCancelled, cancelled.Reason
	case errors.As(cause, &timeout):
		return models.JobStatusFailed, timeout.Error()
	case r.runCtx.Err() != nil:
		return models.JobStatusCancelled, "runner stopped"
	case models.IsTransient(runErr):
		return models.JobStatusFailed, "retries exhausted: " + runErr.Error()
	default:
		return models.JobStatusFailed, runErr.Error()
	}
}

func (r *JobRunner) finishLocked(e *jobEntry, status models.JobStatus, reason string, at time.Time) {
	e.job.Status = status
	e.job.Reason = reason
	e.job.FinishedAt = &at
}

func (r *JobRunner) setAttempts(id uuid.UUID, n int) {
	r.mu.Lock()
	if e, ok := r.jobs[id]; ok {
		e.job.Attempts = n
	}
	r.mu.Unlock()
}

func (r *JobRunner) setCandidates(id uuid.UUID, candidates []string) {
	r.mu.Lock()
	if e, ok := r.jobs[id]; ok {
		e.job.Candidates = append([]string(nil), candidates...)
	}
	r.mu.Unlock()
}

func (r *JobRunner) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries))
}

func (r *JobRunner) mirrorJob(ctx context.Context, job *models.Job) {
	if r.mirror == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := r.mirror.SaveJob(ctx, job, r.cfg.JobRetention); err != nil {
		r.logger.Debug().Err(err).Str("job_id", job.ID.String()).Msg("failed to mirror job state")
	}
}
