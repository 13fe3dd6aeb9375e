package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

// maxEvidenceValues caps how many shared values are quoted in one evidence line
const maxEvidenceValues = 10

// SignalResult is one analyzer's verdict on a pair of records
type SignalResult struct {
	Name     models.SignalName
	Score    float64
	Evidence []string
}

// SignalAnalyzer compares two records along one dimension. Implementations
// must be pure, deterministic and symmetric in their arguments.
type SignalAnalyzer interface {
	Name() models.SignalName
	Analyze(a, b *models.ThreatRecord) SignalResult
}

// DefaultAnalyzers returns the four analyzers in scoring order
func DefaultAnalyzers(maxGap time.Duration) []SignalAnalyzer {
	return []SignalAnalyzer{
		IndicatorOverlapAnalyzer{},
		InfrastructureOverlapAnalyzer{},
		TemporalProximityAnalyzer{MaxGap: maxGap},
		BehavioralSimilarityAnalyzer{},
	}
}

// IndicatorOverlapAnalyzer averages per-type Jaccard similarity over every
// indicator type present in either record.
type IndicatorOverlapAnalyzer struct{}

func (IndicatorOverlapAnalyzer) Name() models.SignalName { return models.SignalIndicatorOverlap }

func (an IndicatorOverlapAnalyzer) Analyze(a, b *models.ThreatRecord) SignalResult {
	res := SignalResult{Name: an.Name()}

	byTypeA := models.GroupByType(a.Indicators)
	byTypeB := models.GroupByType(b.Indicators)

	types := make(map[models.IndicatorType]struct{}, len(byTypeA)+len(byTypeB))
	for t := range byTypeA {
		types[t] = struct{}{}
	}
	for t := range byTypeB {
		types[t] = struct{}{}
	}
	if len(types) == 0 {
		res.Evidence = []string{"no indicators on either record"}
		return res
	}

	ordered := make([]string, 0, len(types))
	for t := range types {
		ordered = append(ordered, string(t))
	}
	sort.Strings(ordered)

	total := 0.0
	for _, t := range ordered {
		it := models.IndicatorType(t)
		score, shared := jaccard(byTypeA[it], byTypeB[it])
		total += score
		if len(shared) > 0 {
			res.Evidence = append(res.Evidence, fmt.Sprintf("shared %s indicators (jaccard %.2f): %s", t, score, quoteValues(shared)))
		}
	}
	res.Score = clamp(total / float64(len(ordered)))
	if len(res.Evidence) == 0 {
		res.Evidence = []string{"no shared indicators"}
	}
	return res
}

// InfrastructureOverlapAnalyzer is Jaccard similarity over infrastructure artifacts
type InfrastructureOverlapAnalyzer struct{}

func (InfrastructureOverlapAnalyzer) Name() models.SignalName {
	return models.SignalInfrastructureOverlap
}

func (an InfrastructureOverlapAnalyzer) Analyze(a, b *models.ThreatRecord) SignalResult {
	res := SignalResult{Name: an.Name()}
	score, shared := jaccard(toSet(models.IndicatorKeys(a.Infrastructure)), toSet(models.IndicatorKeys(b.Infrastructure)))
	res.Score = clamp(score)
	if len(shared) == 0 {
		res.Evidence = []string{"no shared infrastructure"}
		return res
	}
	res.Evidence = []string{fmt.Sprintf("shared infrastructure (jaccard %.2f): %s", score, quoteValues(shared))}
	return res
}

// TemporalProximityAnalyzer scores the gap between the two active windows.
// Overlapping windows score 1; the score falls linearly to 0 at MaxGap.
type TemporalProximityAnalyzer struct {
	MaxGap time.Duration
}

func (TemporalProximityAnalyzer) Name() models.SignalName { return models.SignalTemporalProximity }

func (an TemporalProximityAnalyzer) Analyze(a, b *models.ThreatRecord) SignalResult {
	res := SignalResult{Name: an.Name()}
	gap := windowGap(a.FirstSeen, a.LastSeen, b.FirstSeen, b.LastSeen)

	switch {
	case gap <= 0:
		res.Score = 1
		res.Evidence = []string{"active windows overlap"}
	case an.MaxGap <= 0 || gap >= an.MaxGap:
		res.Score = 0
		res.Evidence = []string{fmt.Sprintf("active windows %s apart, beyond the %s maximum", formatGap(gap), formatGap(an.MaxGap))}
	default:
		res.Score = clamp(1 - float64(gap)/float64(an.MaxGap))
		res.Evidence = []string{fmt.Sprintf("active windows %s apart (proximity %.2f)", formatGap(gap), res.Score)}
	}
	return res
}

// windowGap is the distance between [aStart,aEnd] and [bStart,bEnd], zero when they overlap
func windowGap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	if aStart.After(bStart) {
		aStart, aEnd, bStart, bEnd = bStart, bEnd, aStart, aEnd
	}
	if !bStart.After(aEnd) {
		return 0
	}
	return bStart.Sub(aEnd)
}

func formatGap(d time.Duration) string {
	if d >= 24*time.Hour {
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
	return d.Round(time.Second).String()
}

// BehavioralSimilarityAnalyzer is Jaccard similarity over behavior tags.
// A record without tags never looks similar to anything.
type BehavioralSimilarityAnalyzer struct{}

func (BehavioralSimilarityAnalyzer) Name() models.SignalName {
	return models.SignalBehavioralSimilarity
}

func (an BehavioralSimilarityAnalyzer) Analyze(a, b *models.ThreatRecord) SignalResult {
	res := SignalResult{Name: an.Name()}
	tagsA := normalizeTags(a.BehaviorTags)
	tagsB := normalizeTags(b.BehaviorTags)
	if len(tagsA) == 0 || len(tagsB) == 0 {
		res.Evidence = []string{"behavior tags missing on at least one record"}
		return res
	}

	score, shared := jaccard(tagsA, tagsB)
	res.Score = clamp(score)
	if len(shared) == 0 {
		res.Evidence = []string{"no shared behavior tags"}
		return res
	}
	res.Evidence = []string{fmt.Sprintf("shared behaviors (jaccard %.2f): %s", score, quoteValues(shared))}
	return res
}

func normalizeTags(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

// jaccard returns |A∩B| / |A∪B| and the sorted intersection. Two empty sets score 0.
func jaccard(a, b map[string]struct{}) (float64, []string) {
	if len(a) == 0 && len(b) == 0 {
		return 0, nil
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var shared []string
	for v := range small {
		if _, ok := large[v]; ok {
			shared = append(shared, v)
		}
	}
	sort.Strings(shared)
	union := len(a) + len(b) - len(shared)
	return float64(len(shared)) / float64(union), shared
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func quoteValues(values []string) string {
	if len(values) <= maxEvidenceValues {
		return strings.Join(values, ", ")
	}
	return strings.Join(values[:maxEvidenceValues], ", ") + fmt.Sprintf(" (+%d more)", len(values)-maxEvidenceValues)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
