package services

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// GuardConfig configures read protection for the record store
type GuardConfig struct {
	ReadsPerSecond float64
	Burst          int
	MaxFailures    uint32
	OpenTimeout    time.Duration
}

// GuardedRecordStore rate limits reads against the record store and stops
// calling it for a while after repeated failures.
type GuardedRecordStore struct {
	inner   RecordStore
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewGuardedRecordStore wraps inner. A zero ReadsPerSecond disables limiting.
func NewGuardedRecordStore(inner RecordStore, cfg GuardConfig, log *logger.Logger) *GuardedRecordStore {
	log = log.WithComponent("record-store-guard")

	limit := rate.Inf
	if cfg.ReadsPerSecond > 0 {
		limit = rate.Limit(cfg.ReadsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "record-store",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// a missing or malformed record says nothing about store health
			var invalid *models.InvalidRecordError
			return err == nil || errors.Is(err, models.ErrNotFound) || errors.As(err, &invalid) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &GuardedRecordStore{
		inner:   inner,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: breaker,
		logger:  log,
	}
}

// GetRecord implements RecordStore
func (g *GuardedRecordStore) GetRecord(ctx context.Context, id string) (*models.ThreatRecord, error) {
	out, err := g.call(ctx, "get record", func() (interface{}, error) {
		return g.inner.GetRecord(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.ThreatRecord), nil
}

// FindCandidates implements RecordStore
func (g *GuardedRecordStore) FindCandidates(ctx context.Context, id string, maxWindowDays int) ([]string, error) {
	out, err := g.call(ctx, "find candidates", func() (interface{}, error) {
		return g.inner.FindCandidates(ctx, id, maxWindowDays)
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// State exposes the breaker state for readiness checks
func (g *GuardedRecordStore) State() gobreaker.State {
	return g.breaker.State()
}

func (g *GuardedRecordStore) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.TransientStoreError{Op: op, Err: err}
	}

	out, err := g.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &models.TransientStoreError{Op: op, Err: err}
		}
		return nil, err
	}
	return out, nil
}
