package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

const rescoreLockKey = "rescore"

// RescorerConfig holds the cron schedules of the maintenance passes
type RescorerConfig struct {
	Schedule      string // stale edge pass, e.g. "@every 15m"
	PruneSchedule string // finished job pruning
	BatchSize     int
	LockTTL       time.Duration
}

// Rescorer re-sweeps records whose edges were scored by an older algorithm
// version, and prunes old job state.
type Rescorer struct {
	cfg     RescorerConfig
	edges   EdgeStore
	runner  *JobRunner
	locker  Locker
	version int
	cron    *cron.Cron
	logger  *logger.Logger
}

// NewRescorer creates a Rescorer. locker may be nil for single instance deployments.
func NewRescorer(cfg RescorerConfig, edges EdgeStore, runner *JobRunner, locker Locker, version int, log *logger.Logger) *Rescorer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Rescorer{
		cfg:     cfg,
		edges:   edges,
		runner:  runner,
		locker:  locker,
		version: version,
		cron:    cron.New(),
		logger:  log.WithComponent("rescorer"),
	}
}

// Start registers the passes and starts the cron scheduler
func (r *Rescorer) Start() error {
	if r.cfg.Schedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.Schedule, func() {
			if _, err := r.RunOnce(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("rescore pass failed")
			}
		}); err != nil {
			return fmt.Errorf("invalid rescore schedule %q: %w", r.cfg.Schedule, err)
		}
	}
	if r.cfg.PruneSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.PruneSchedule, func() {
			if n := r.runner.Prune(); n > 0 {
				r.logger.Debug().Int("pruned", n).Msg("pruned finished jobs")
			}
		}); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", r.cfg.PruneSchedule, err)
		}
	}

	r.cron.Start()
	r.logger.Info().
		Str("schedule", r.cfg.Schedule).
		Str("prune_schedule", r.cfg.PruneSchedule).
		Int("algorithm_version", r.version).
		Msg("rescorer started")
	return nil
}

// Stop waits for a running pass to finish or ctx to expire
func (r *Rescorer) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce enqueues sweeps for one batch of records with stale edges and
// returns how many were queued.
func (r *Rescorer) RunOnce(ctx context.Context) (int, error) {
	if r.locker != nil {
		ok, err := r.locker.AcquireLock(ctx, rescoreLockKey, r.cfg.LockTTL)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire rescore lock: %w", err)
		}
		if !ok {
			r.logger.Debug().Msg("rescore pass already running elsewhere")
			return 0, nil
		}
		defer func() {
			if err := r.locker.ReleaseLock(context.Background(), rescoreLockKey); err != nil {
				r.logger.Warn().Err(err).Msg("failed to release rescore lock")
			}
		}()
	}

	ids, err := r.edges.ListStaleRecordIDs(ctx, r.version, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale records: %w", err)
	}

	queued := 0
	for _, id := range ids {
		if _, err := r.runner.Enqueue(ctx, id, models.TriggerRescore); err != nil {
			if errors.Is(err, models.ErrQueueFull) || errors.Is(err, models.ErrRunnerStopped) {
				r.logger.Warn().Err(err).Int("queued", queued).Msg("stopping rescore pass early")
				break
			}
			r.logger.Warn().Err(err).Str("record_id", id).Msg("failed to queue rescore sweep")
			continue
		}
		queued++
	}

	if queued > 0 {
		r.logger.Info().Int("queued", queued).Int("stale", len(ids)).Msg("queued rescore sweeps")
	}
	return queued, nil
}
