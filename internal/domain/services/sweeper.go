package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/metrics"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// SweeperConfig bounds the candidate set of a sweep
type SweeperConfig struct {
	CandidateWindowDays int
	MaxCandidates       int
}

// Sweeper compares one source record against its candidates and persists the
// resulting edges and merges. It holds no per-sweep state, so many sweeps can
// run at once on one Sweeper.
type Sweeper struct {
	cfg          SweeperConfig
	records      RecordStore
	edges        EdgeStore
	scorer       *CorrelationScorer
	resolver     *DeduplicationResolver
	fingerprints FingerprintIndex
	publisher    EventPublisher
	sinks        []EdgeSink
	logger       *logger.Logger
	now          func() time.Time
}

// SweeperDeps are the collaborators of a Sweeper. Fingerprints, Publisher and
// Sinks are optional.
type SweeperDeps struct {
	Records      RecordStore
	Edges        EdgeStore
	Scorer       *CorrelationScorer
	Resolver     *DeduplicationResolver
	Fingerprints FingerprintIndex
	Publisher    EventPublisher
	Sinks        []EdgeSink
}

// NewSweeper creates a Sweeper
func NewSweeper(cfg SweeperConfig, deps SweeperDeps, log *logger.Logger) *Sweeper {
	if cfg.CandidateWindowDays <= 0 {
		cfg.CandidateWindowDays = int(deps.Scorer.MaxTemporalGap() / (24 * time.Hour))
	}
	return &Sweeper{
		cfg:          cfg,
		records:      deps.Records,
		edges:        deps.Edges,
		scorer:       deps.Scorer,
		resolver:     deps.Resolver,
		fingerprints: deps.Fingerprints,
		publisher:    deps.Publisher,
		sinks:        deps.Sinks,
		logger:       log.WithComponent("sweeper"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one full comparison of recordID against its candidate set.
// Cancellation is polled between candidates, so every persisted edge reflects
// a completed comparison. onCandidates, when set, receives the candidate list
// before comparisons start.
func (s *Sweeper) Sweep(ctx context.Context, recordID string, onCandidates func([]string)) (models.SweepStats, error) {
	var stats models.SweepStats
	log := s.logger.WithRecordID(recordID)

	src, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// a deleted record's edges can never be recomputed from its side
			if markErr := s.markRescored(ctx, recordID); markErr != nil {
				log.Warn().Err(markErr).Msg("failed to retire edges of missing record")
			}
		}
		return stats, fmt.Errorf("failed to read source record: %w", err)
	}
	if err := src.Validate(); err != nil {
		return stats, err
	}
	src = WithFingerprint(src)

	if s.fingerprints != nil {
		if err := s.fingerprints.Register(ctx, src.ContentFingerprint, src.ID); err != nil {
			log.Warn().Err(err).Msg("failed to register fingerprint")
		}
	}

	candidates, err := s.candidates(ctx, src)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(candidates)
	if onCandidates != nil {
		onCandidates(candidates)
	}

	for _, cid := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.compare(ctx, src, cid, &stats, log); err != nil {
			return stats, err
		}
	}

	// Pairs this sweep did not refresh (sticky below the floor, or no longer
	// candidates) were still judged at this version and keep their scores.
	if err := s.markRescored(ctx, src.ID); err != nil {
		return stats, err
	}

	log.Debug().
		Int("candidates", stats.Candidates).
		Int("compared", stats.Compared).
		Int("persisted", stats.Persisted).
		Int("discarded", stats.Discarded).
		Int("skipped", stats.Skipped).
		Int("merged", stats.Merged).
		Msg("sweep finished")
	return stats, nil
}

func (s *Sweeper) candidates(ctx context.Context, src *models.ThreatRecord) ([]string, error) {
	ids, err := s.records.FindCandidates(ctx, src.ID, s.cfg.CandidateWindowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidates: %w", err)
	}

	if s.fingerprints != nil {
		same, err := s.fingerprints.Lookup(ctx, src.ContentFingerprint)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", src.ID).Msg("fingerprint lookup failed, continuing with indexed candidates")
		} else {
			ids = append(ids, same...)
		}
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == src.ID || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)

	if s.cfg.MaxCandidates > 0 && len(out) > s.cfg.MaxCandidates {
		s.logger.Warn().
			Str("record_id", src.ID).
			Int("found", len(out)).
			Int("limit", s.cfg.MaxCandidates).
			Msg("candidate set truncated")
		out = out[:s.cfg.MaxCandidates]
	}
	return out, nil
}

// compare handles one candidate. Read and validation problems are logged and
// skipped; only persistence failures and cancellation are returned.
func (s *Sweeper) compare(ctx context.Context, src *models.ThreatRecord, candidateID string, stats *models.SweepStats, log *logger.Logger) error {
	cand, err := s.records.GetRecord(ctx, candidateID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		stats.Skipped++
		metrics.CandidateErrors.WithLabelValues(skipReason(err)).Inc()
		log.Warn().Err(err).Str("candidate_id", candidateID).Msg("skipping candidate, read failed")
		return nil
	}
	if err := cand.Validate(); err != nil {
		stats.Skipped++
		metrics.CandidateErrors.WithLabelValues("invalid_record").Inc()
		log.Warn().Err(err).Str("candidate_id", candidateID).Msg("skipping invalid candidate")
		return nil
	}
	cand = WithFingerprint(cand)

	res := s.scorer.Score(src, cand)
	stats.Compared++
	metrics.CandidatesCompared.Inc()

	if res.Related() {
		if err := s.persist(ctx, src.ID, cand.ID, res); err != nil {
			return err
		}
		stats.Persisted++
	} else {
		stats.Discarded++
		metrics.EdgesDiscarded.Inc()
		removed, err := s.removeBelowFloor(ctx, src.ID, cand.ID)
		if err != nil {
			return err
		}
		if removed {
			stats.Removed++
		}
	}

	if s.resolver != nil {
		outcome, err := s.resolver.Resolve(ctx, src, cand, res)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			metrics.CandidateErrors.WithLabelValues("merge").Inc()
			log.Warn().Err(err).Str("candidate_id", cand.ID).Msg("duplicate resolution failed")
		} else if outcome.Merged {
			stats.Merged++
		}
	}
	return nil
}

func (s *Sweeper) persist(ctx context.Context, a, b string, res *ScoreResult) error {
	idA, idB := models.CanonicalPair(a, b)
	now := s.now()
	edge := &models.CorrelationEdge{
		ID:               models.EdgeID(idA, idB),
		ThreatIDA:        idA,
		ThreatIDB:        idB,
		OverallScore:     res.Overall,
		ConfidenceLabel:  res.Label,
		SignalScores:     res.Signals,
		Evidence:         res.Evidence,
		Status:           models.EdgeStatusProposed,
		AlgorithmVersion: res.AlgorithmVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	stored, err := s.edges.UpsertEdge(ctx, edge)
	if err != nil {
		return fmt.Errorf("failed to upsert edge %s: %w", edge.PairKey(), err)
	}
	metrics.EdgesPersisted.WithLabelValues(string(stored.ConfidenceLabel)).Inc()

	for _, sink := range s.sinks {
		if err := sink.ProjectEdge(ctx, stored); err != nil {
			s.logger.Warn().Err(err).Str("edge_id", stored.ID.String()).Msg("edge projection failed")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishEdge(ctx, EdgeActionUpserted, stored); err != nil {
			s.logger.Warn().Err(err).Str("edge_id", stored.ID.String()).Msg("failed to publish edge event")
		}
	}
	return nil
}

func (s *Sweeper) removeBelowFloor(ctx context.Context, a, b string) (bool, error) {
	removed, err := s.edges.DeleteProposedEdge(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("failed to remove edge %s: %w", models.PairKey(a, b), err)
	}
	if !removed {
		return false, nil
	}
	metrics.EdgesRemoved.Inc()

	for _, sink := range s.sinks {
		if err := sink.RemoveEdge(ctx, a, b); err != nil {
			s.logger.Warn().Err(err).Str("pair", models.PairKey(a, b)).Msg("edge projection removal failed")
		}
	}
	if s.publisher != nil {
		idA, idB := models.CanonicalPair(a, b)
		gone := &models.CorrelationEdge{ID: models.EdgeID(idA, idB), ThreatIDA: idA, ThreatIDB: idB}
		if err := s.publisher.PublishEdge(ctx, EdgeActionDeleted, gone); err != nil {
			s.logger.Warn().Err(err).Str("pair", gone.PairKey()).Msg("failed to publish edge event")
		}
	}
	return true, nil
}

func (s *Sweeper) markRescored(ctx context.Context, recordID string) error {
	if _, err := s.edges.MarkRescored(ctx, recordID, s.scorer.Profile().Version); err != nil {
		return fmt.Errorf("failed to mark edges of %s rescored: %w", recordID, err)
	}
	return nil
}

func skipReason(err error) string {
	var invalid *models.InvalidRecordError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.As(err, &invalid):
		return "invalid_record"
	case models.IsTransient(err):
		return "transient"
	default:
		return "read_error"
	}
}
