package services

import (
	"math"
	"strings"
	"time"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// scorePrecision keeps combined scores stable across summation order
const scorePrecision = 1e6

// ScoreResult is the combined verdict on a pair of records
type ScoreResult struct {
	Overall          float64                       `json:"overall"`
	Label            models.ConfidenceLabel        `json:"label"`
	Signals          map[models.SignalName]float64 `json:"signals"`
	Evidence         []string                      `json:"evidence"`
	AlgorithmVersion int                           `json:"algorithm_version"`
}

// Related reports whether the pair clears the discard floor
func (r *ScoreResult) Related() bool {
	return r.Label != models.ConfidenceDiscard
}

// CorrelationScorer combines the signal analyzers with the weights of a scoring profile
type CorrelationScorer struct {
	profile   models.ScoringProfile
	analyzers []SignalAnalyzer
	logger    *logger.Logger
}

// NewCorrelationScorer validates the profile and builds a scorer over the default analyzers
func NewCorrelationScorer(profile models.ScoringProfile, log *logger.Logger) (*CorrelationScorer, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &CorrelationScorer{
		profile:   profile,
		analyzers: DefaultAnalyzers(profile.MaxTemporalGap),
		logger:    log.WithComponent("correlation-scorer"),
	}, nil
}

// Profile returns the scoring profile in use
func (s *CorrelationScorer) Profile() models.ScoringProfile {
	return s.profile
}

// Score runs every analyzer on the pair and combines the results.
// The result is identical for (a, b) and (b, a).
func (s *CorrelationScorer) Score(a, b *models.ThreatRecord) *ScoreResult {
	res := &ScoreResult{
		Signals:          make(map[models.SignalName]float64, len(s.analyzers)),
		AlgorithmVersion: s.profile.Version,
	}

	overall := 0.0
	for _, an := range s.analyzers {
		sig := an.Analyze(a, b)
		res.Signals[sig.Name] = sig.Score
		overall += sig.Score * s.profile.Weights.For(sig.Name)
		if sig.Score > 0 {
			res.Evidence = append(res.Evidence, sig.Evidence...)
		}
	}

	res.Overall = clamp(math.Round(overall*scorePrecision) / scorePrecision)
	res.Label = s.profile.Label(res.Overall)
	return res
}

// IsSameEvent reports whether a score is strong enough to treat the pair as one event
func (s *CorrelationScorer) IsSameEvent(res *ScoreResult) bool {
	return res.Overall >= s.profile.SameEventThreshold
}

// FingerprintConfirmed checks that a fingerprint match is backed by the
// underlying fields: same kind, identical indicator and infrastructure sets
// and active windows close enough to be the same event.
func (s *CorrelationScorer) FingerprintConfirmed(a, b *models.ThreatRecord, res *ScoreResult) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Kind), strings.TrimSpace(b.Kind)) {
		return false
	}
	return res.Signals[models.SignalIndicatorOverlap] == 1 &&
		res.Signals[models.SignalInfrastructureOverlap] == 1 &&
		res.Signals[models.SignalTemporalProximity] > 0
}

// MaxTemporalGap is the window the candidate lookup should search within
func (s *CorrelationScorer) MaxTemporalGap() time.Duration {
	return s.profile.MaxTemporalGap
}
