package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/metrics"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// defaultMergeAttempts bounds optimistic retries of a single merge
const defaultMergeAttempts = 8

// MergeOutcome describes what the resolver did with a pair
type MergeOutcome struct {
	Merged        bool
	AlreadyMerged bool
	Reason        models.MergeReason
	Group         *models.DuplicateGroup
}

// DeduplicationResolver decides whether two records are the same event and
// folds them into one duplicate group.
type DeduplicationResolver struct {
	groups    GroupStore
	scorer    *CorrelationScorer
	publisher EventPublisher
	logger    *logger.Logger

	maxAttempts int
	now         func() time.Time
}

// NewDeduplicationResolver creates a resolver. publisher may be nil.
func NewDeduplicationResolver(groups GroupStore, scorer *CorrelationScorer, publisher EventPublisher, log *logger.Logger) *DeduplicationResolver {
	return &DeduplicationResolver{
		groups:      groups,
		scorer:      scorer,
		publisher:   publisher,
		logger:      log.WithComponent("dedup-resolver"),
		maxAttempts: defaultMergeAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Decide returns the merge reason for a scored pair, or "" when the pair stays separate
func (d *DeduplicationResolver) Decide(a, b *models.ThreatRecord, score *ScoreResult) models.MergeReason {
	if fingerprintOf(a) == fingerprintOf(b) && d.scorer.FingerprintConfirmed(a, b, score) {
		return models.MergeReasonFingerprint
	}
	if d.scorer.IsSameEvent(score) {
		return models.MergeReasonSameEvent
	}
	return ""
}

// Resolve merges a and b when Decide says so. Running it again on a merged
// pair is a no-op.
func (d *DeduplicationResolver) Resolve(ctx context.Context, a, b *models.ThreatRecord, score *ScoreResult) (*MergeOutcome, error) {
	if a.ID == b.ID {
		return &MergeOutcome{}, nil
	}
	reason := d.Decide(a, b, score)
	if reason == "" {
		return &MergeOutcome{}, nil
	}
	return d.Merge(ctx, a, b, reason, score.Overall)
}

// Merge puts a and b in the same duplicate group. Concurrent merges touching
// the same groups lose with models.ErrConflict in the store and are replayed
// against freshly read state.
func (d *DeduplicationResolver) Merge(ctx context.Context, a, b *models.ThreatRecord, reason models.MergeReason, score float64) (*MergeOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ga, err := d.groups.GetGroupByMember(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read group of %s: %w", a.ID, err)
		}
		gb, err := d.groups.GetGroupByMember(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read group of %s: %w", b.ID, err)
		}

		if ga != nil && gb != nil && ga.ID == gb.ID {
			return &MergeOutcome{AlreadyMerged: true, Reason: reason, Group: ga}, nil
		}

		plan := planMerge(ga, gb, a, b, d.now())
		group, err := d.groups.SaveMerge(ctx, plan)
		if errors.Is(err, models.ErrConflict) {
			lastErr = err
			metrics.StoreRetries.WithLabelValues("group_merge").Inc()
			d.logger.Debug().
				Str("record_a", a.ID).
				Str("record_b", b.ID).
				Int("attempt", attempt).
				Msg("duplicate group changed underneath merge, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save merge of %s and %s: %w", a.ID, b.ID, err)
		}

		metrics.Merges.WithLabelValues(string(reason)).Inc()
		d.logger.Info().
			Str("group_id", group.ID.String()).
			Str("canonical_id", group.CanonicalID).
			Str("record_a", a.ID).
			Str("record_b", b.ID).
			Str("reason", string(reason)).
			Int("members", len(group.Members)).
			Msg("merged duplicate records")

		d.publish(ctx, plan, group, a.ID, b.ID, reason, score)
		return &MergeOutcome{Merged: true, Reason: reason, Group: group}, nil
	}
	return nil, &models.TransientStoreError{Op: "merge duplicate group", Err: lastErr}
}

func (d *DeduplicationResolver) publish(ctx context.Context, plan *models.GroupMerge, group *models.DuplicateGroup, a, b string, reason models.MergeReason, score float64) {
	if d.publisher == nil {
		return
	}
	x, y := models.CanonicalPair(a, b)
	event := &models.MergeEvent{
		ID:               uuid.New(),
		GroupID:          group.ID,
		CanonicalID:      group.CanonicalID,
		Members:          group.MemberIDs(),
		MergedPair:       [2]string{x, y},
		Reason:           reason,
		Score:            score,
		AlgorithmVersion: d.scorer.Profile().Version,
		Timestamp:        group.UpdatedAt,
	}
	if plan.PreviousCanonical != group.CanonicalID {
		event.PreviousCanon = plan.PreviousCanonical
	}
	if err := d.publisher.PublishMerge(ctx, event); err != nil {
		d.logger.Warn().Err(err).Str("group_id", group.ID.String()).Msg("failed to publish merge event")
	}
}

// planMerge computes the group that results from joining a's and b's groups.
// The older group survives so group ids stay stable.
func planMerge(ga, gb *models.DuplicateGroup, a, b *models.ThreatRecord, now time.Time) *models.GroupMerge {
	survivor, absorbed := ga, gb
	if survivor == nil || (absorbed != nil && olderGroup(absorbed, survivor)) {
		survivor, absorbed = absorbed, survivor
	}

	members := make(map[string]models.GroupMember)
	add := func(m models.GroupMember) {
		if cur, ok := members[m.RecordID]; ok && !m.FirstSeen.Before(cur.FirstSeen) {
			return
		}
		members[m.RecordID] = m
	}
	for _, g := range []*models.DuplicateGroup{survivor, absorbed} {
		if g == nil {
			continue
		}
		for _, m := range g.Members {
			add(m)
		}
	}
	add(models.GroupMember{RecordID: a.ID, FirstSeen: a.FirstSeen.UTC()})
	add(models.GroupMember{RecordID: b.ID, FirstSeen: b.FirstSeen.UTC()})

	list := make([]models.GroupMember, 0, len(members))
	for _, m := range members {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RecordID < list[j].RecordID })

	result := &models.DuplicateGroup{
		ID:          uuid.New(),
		CanonicalID: models.CanonicalMember(list),
		Members:     list,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	plan := &models.GroupMerge{Result: result}
	if survivor != nil {
		result.ID = survivor.ID
		result.Version = survivor.Version + 1
		result.CreatedAt = survivor.CreatedAt
		plan.Survivor = &models.GroupRef{ID: survivor.ID, Version: survivor.Version}
		plan.PreviousCanonical = survivor.CanonicalID
	}
	if absorbed != nil {
		plan.Absorbed = []models.GroupRef{{ID: absorbed.ID, Version: absorbed.Version}}
	}
	return plan
}

func olderGroup(x, y *models.DuplicateGroup) bool {
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.ID.String() < y.ID.String()
}

func fingerprintOf(r *models.ThreatRecord) string {
	if r.ContentFingerprint != "" {
		return r.ContentFingerprint
	}
	return Fingerprint(r)
}
