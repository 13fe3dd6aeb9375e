package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/database"
)

// RecordRepository reads threat records from the shared threat_records table.
// The indicator_keys and infrastructure_keys columns hold normalized keys and
// back the GIN candidate lookups.
type RecordRepository struct {
	pool database.Pool
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(pool database.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// GetRecord retrieves a record by ID
func (r *RecordRepository) GetRecord(ctx context.Context, id string) (*models.ThreatRecord, error) {
	query := `
		SELECT id, kind, severity, confidence, source, indicators, infrastructure,
			   behavior_tags, first_seen, last_seen
		FROM threat_records
		WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError("get record", err)
	}
	return rec, nil
}

// FindCandidates returns ids sharing an indicator or infrastructure key with
// id, or whose active window lies within maxWindowDays of id's window.
func (r *RecordRepository) FindCandidates(ctx context.Context, id string, maxWindowDays int) ([]string, error) {
	var (
		indKeys, infraKeys []string
		first, last        time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT indicator_keys, infrastructure_keys, first_seen, last_seen
		FROM threat_records WHERE id = $1`, id).Scan(&indKeys, &infraKeys, &first, &last)
	if err != nil {
		return nil, storeError("find candidates", err)
	}

	window := time.Duration(maxWindowDays) * 24 * time.Hour
	query := `
		SELECT id FROM threat_records
		WHERE id <> $1
		  AND (indicator_keys && $2
		       OR infrastructure_keys && $3
		       OR (first_seen <= $4 AND last_seen >= $5))
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, id, indKeys, infraKeys, last.Add(window), first.Add(-window))
	if err != nil {
		return nil, storeError("find candidates", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, storeError("find candidates", err)
	}
	return ids, nil
}

// Put inserts or replaces a record, recomputing its lookup keys
func (r *RecordRepository) Put(ctx context.Context, rec *models.ThreatRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	inds, err := json.Marshal(nonNilIndicators(rec.Indicators))
	if err != nil {
		return fmt.Errorf("failed to encode indicators: %w", err)
	}
	infra, err := json.Marshal(nonNilIndicators(rec.Infrastructure))
	if err != nil {
		return fmt.Errorf("failed to encode infrastructure: %w", err)
	}
	tags := rec.BehaviorTags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO threat_records (
			id, kind, severity, confidence, source, indicators, infrastructure,
			behavior_tags, indicator_keys, infrastructure_keys, first_seen, last_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			indicators = EXCLUDED.indicators,
			infrastructure = EXCLUDED.infrastructure,
			behavior_tags = EXCLUDED.behavior_tags,
			indicator_keys = EXCLUDED.indicator_keys,
			infrastructure_keys = EXCLUDED.infrastructure_keys,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen`

	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.Kind, rec.Severity, rec.Confidence, rec.Source, inds, infra,
		tags, nonNilStrings(models.IndicatorKeys(rec.Indicators)),
		nonNilStrings(models.IndicatorKeys(rec.Infrastructure)),
		rec.FirstSeen, rec.LastSeen,
	)
	return storeError("put record", err)
}

func scanRecord(row pgx.Row) (*models.ThreatRecord, error) {
	var (
		rec         models.ThreatRecord
		inds, infra []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Kind, &rec.Severity, &rec.Confidence, &rec.Source, &inds, &infra,
		&rec.BehaviorTags, &rec.FirstSeen, &rec.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	if len(inds) > 0 {
		if err := json.Unmarshal(inds, &rec.Indicators); err != nil {
			return nil, fmt.Errorf("failed to decode indicators: %w", err)
		}
	}
	if len(infra) > 0 {
		if err := json.Unmarshal(infra, &rec.Infrastructure); err != nil {
			return nil, fmt.Errorf("failed to decode infrastructure: %w", err)
		}
	}
	return &rec, nil
}

func nonNilIndicators(in []models.Indicator) []models.Indicator {
	if in == nil {
		return []models.Indicator{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
