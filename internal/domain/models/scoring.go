package models

import (
	"fmt"
	"math"
	"time"
)

// SignalWeights holds the per-signal weights of the combined score
type SignalWeights struct {
	IndicatorOverlap      float64 `mapstructure:"indicator_overlap" json:"indicator_overlap"`
	InfrastructureOverlap float64 `mapstructure:"infrastructure_overlap" json:"infrastructure_overlap"`
	TemporalProximity     float64 `mapstructure:"temporal_proximity" json:"temporal_proximity"`
	BehavioralSimilarity  float64 `mapstructure:"behavioral_similarity" json:"behavioral_similarity"`
}

// For returns the weight of a signal
func (w SignalWeights) For(name SignalName) float64 {
	switch name {
	case SignalIndicatorOverlap:
		return w.IndicatorOverlap
	case SignalInfrastructureOverlap:
		return w.InfrastructureOverlap
	case SignalTemporalProximity:
		return w.TemporalProximity
	case SignalBehavioralSimilarity:
		return w.BehavioralSimilarity
	}
	return 0
}

// LabelThresholds are the lower bounds of each confidence label
type LabelThresholds struct {
	Low       float64 `mapstructure:"low" json:"low"` // discard floor
	Medium    float64 `mapstructure:"medium" json:"medium"`
	High      float64 `mapstructure:"high" json:"high"`
	Confirmed float64 `mapstructure:"confirmed" json:"confirmed"`
}

// ScoringProfile is the versioned configuration handed to the scorer.
// Any change to weights or analyzer logic must bump Version.
type ScoringProfile struct {
	Version            int             `json:"version"`
	Weights            SignalWeights   `json:"weights"`
	Thresholds         LabelThresholds `json:"thresholds"`
	SameEventThreshold float64         `json:"same_event_threshold"`
	MaxTemporalGap     time.Duration   `json:"max_temporal_gap"`
}

// DefaultScoringProfile returns the version 1 weights and thresholds
func DefaultScoringProfile() ScoringProfile {
	return ScoringProfile{
		Version: 1,
		Weights: SignalWeights{
			IndicatorOverlap:      0.25,
			InfrastructureOverlap: 0.35,
			TemporalProximity:     0.15,
			BehavioralSimilarity:  0.25,
		},
		Thresholds: LabelThresholds{
			Low:       0.3,
			Medium:    0.6,
			High:      0.8,
			Confirmed: 0.95,
		},
		SameEventThreshold: 0.97,
		MaxTemporalGap:     30 * 24 * time.Hour,
	}
}

const weightSumTolerance = 1e-6

// Validate returns a *ThresholdConfigError describing the first problem found
func (p ScoringProfile) Validate() error {
	if p.Version < 1 {
		return &ThresholdConfigError{Field: "algorithm_version", Reason: "must be >= 1"}
	}

	sum := 0.0
	for _, name := range Signals {
		w := p.Weights.For(name)
		if w < 0 || math.IsNaN(w) {
			return &ThresholdConfigError{Field: "weights." + string(name), Reason: "must be non-negative"}
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return &ThresholdConfigError{Field: "weights", Reason: fmt.Sprintf("sum to %.6f, expected 1.0", sum)}
	}

	t := p.Thresholds
	bounds := []struct {
		name string
		v    float64
	}{
		{"thresholds.low", t.Low},
		{"thresholds.medium", t.Medium},
		{"thresholds.high", t.High},
		{"thresholds.confirmed", t.Confirmed},
	}
	prev := 0.0
	for i, b := range bounds {
		if b.v <= 0 || b.v > 1 {
			return &ThresholdConfigError{Field: b.name, Reason: "must be in (0, 1]"}
		}
		if i > 0 && b.v <= prev {
			return &ThresholdConfigError{Field: b.name, Reason: fmt.Sprintf("must be greater than %s", bounds[i-1].name)}
		}
		prev = b.v
	}

	if p.SameEventThreshold < t.Confirmed || p.SameEventThreshold > 1 {
		return &ThresholdConfigError{Field: "same_event_threshold", Reason: "must be in [thresholds.confirmed, 1]"}
	}
	if p.MaxTemporalGap <= 0 {
		return &ThresholdConfigError{Field: "max_temporal_gap_days", Reason: "must be positive"}
	}
	return nil
}

// Label maps an overall score to its confidence label
func (p ScoringProfile) Label(score float64) ConfidenceLabel {
	t := p.Thresholds
	switch {
	case score >= t.Confirmed:
		return ConfidenceConfirmed
	case score >= t.High:
		return ConfidenceHigh
	case score >= t.Medium:
		return ConfidenceMedium
	case score >= t.Low:
		return ConfidenceLow
	default:
		return ConfidenceDiscard
	}
}
