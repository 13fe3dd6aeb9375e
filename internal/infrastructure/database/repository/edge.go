package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/infrastructure/database"
)

const edgeColumns = `id, threat_id_a, threat_id_b, overall_score, confidence_label, signal_scores,
		evidence, status, algorithm_version, reviewed_at, created_at, updated_at`

// EdgeRepository persists correlation edges in PostgreSQL
type EdgeRepository struct {
	pool database.Pool
}

// NewEdgeRepository creates a new edge repository
func NewEdgeRepository(pool database.Pool) *EdgeRepository {
	return &EdgeRepository{pool: pool}
}

// UpsertEdge inserts a proposed edge or rescores the existing one. The
// conflict branch never touches status or reviewed_at.
func (r *EdgeRepository) UpsertEdge(ctx context.Context, edge *models.CorrelationEdge) (*models.CorrelationEdge, error) {
	a, b := models.CanonicalPair(edge.ThreatIDA, edge.ThreatIDB)
	id := edge.ID
	if id == uuid.Nil {
		id = models.EdgeID(a, b)
	}
	created := edge.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := edge.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	scores, err := json.Marshal(edge.SignalScores)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal scores: %w", err)
	}
	evidence := edge.Evidence
	if evidence == nil {
		evidence = []string{}
	}

	query := `
		INSERT INTO correlation_edges (
			id, threat_id_a, threat_id_b, overall_score, confidence_label, signal_scores,
			evidence, status, algorithm_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'proposed', $8, $9, $10)
		ON CONFLICT (threat_id_a, threat_id_b) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			confidence_label = EXCLUDED.confidence_label,
			signal_scores = EXCLUDED.signal_scores,
			evidence = EXCLUDED.evidence,
			algorithm_version = EXCLUDED.algorithm_version,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + edgeColumns

	row := r.pool.QueryRow(ctx, query,
		id, a, b, edge.OverallScore, string(edge.ConfidenceLabel), scores,
		evidence, edge.AlgorithmVersion, created, updated,
	)
	out, err := scanEdge(row)
	if err != nil {
		return nil, storeError("upsert edge", err)
	}
	return out, nil
}

// DeleteProposedEdge removes the pair's edge while it is still proposed
func (r *EdgeRepository) DeleteProposedEdge(ctx context.Context, a, b string) (bool, error) {
	a, b = models.CanonicalPair(a, b)
	query := `
		DELETE FROM correlation_edges
		WHERE threat_id_a = $1 AND threat_id_b = $2 AND status = 'proposed'`

	tag, err := r.pool.Exec(ctx, query, a, b)
	if err != nil {
		return false, storeError("delete edge", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetEdge retrieves the edge for an unordered pair
func (r *EdgeRepository) GetEdge(ctx context.Context, a, b string) (*models.CorrelationEdge, error) {
	a, b = models.CanonicalPair(a, b)
	query := `SELECT ` + edgeColumns + ` FROM correlation_edges WHERE threat_id_a = $1 AND threat_id_b = $2`

	edge, err := scanEdge(r.pool.QueryRow(ctx, query, a, b))
	if err != nil {
		return nil, storeError("get edge", err)
	}
	return edge, nil
}

// GetEdgeByID retrieves an edge by ID
func (r *EdgeRepository) GetEdgeByID(ctx context.Context, id uuid.UUID) (*models.CorrelationEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM correlation_edges WHERE id = $1`

	edge, err := scanEdge(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError("get edge", err)
	}
	return edge, nil
}

// ListEdges returns the record's edges at or above minConfidence, strongest first
func (r *EdgeRepository) ListEdges(ctx context.Context, recordID string, minConfidence models.ConfidenceLabel) ([]*models.CorrelationEdge, error) {
	query := `
		SELECT ` + edgeColumns + `
		FROM correlation_edges
		WHERE (threat_id_a = $1 OR threat_id_b = $1)
		  AND confidence_label = ANY($2)
		ORDER BY overall_score DESC, threat_id_a, threat_id_b`

	rows, err := r.pool.Query(ctx, query, recordID, labelsToStrings(models.LabelsAtLeast(minConfidence)))
	if err != nil {
		return nil, storeError("list edges", err)
	}
	defer rows.Close()

	edges := []*models.CorrelationEdge{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, storeError("scan edge", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list edges", err)
	}
	return edges, nil
}

// SetStatus records a review decision
func (r *EdgeRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.EdgeStatus, at time.Time) (*models.CorrelationEdge, error) {
	query := `
		UPDATE correlation_edges SET status = $2, reviewed_at = $3
		WHERE id = $1
		RETURNING ` + edgeColumns

	edge, err := scanEdge(r.pool.QueryRow(ctx, query, id, string(status), at))
	if err != nil {
		return nil, storeError("set edge status", err)
	}
	return edge, nil
}

// ListStaleRecordIDs returns records owning edges scored by an older algorithm version
func (r *EdgeRepository) ListStaleRecordIDs(ctx context.Context, version int, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id FROM (
			SELECT threat_id_a AS id FROM correlation_edges WHERE algorithm_version < $1
			UNION
			SELECT threat_id_b AS id FROM correlation_edges WHERE algorithm_version < $1
		) stale
		ORDER BY id
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, version, limit)
	if err != nil {
		return nil, storeError("list stale records", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, storeError("list stale records", err)
	}
	return ids, nil
}

// MarkRescored stamps version on the record's older edges, leaving scores and status alone
func (r *EdgeRepository) MarkRescored(ctx context.Context, recordID string, version int) (int, error) {
	query := `
		UPDATE correlation_edges SET algorithm_version = $2
		WHERE (threat_id_a = $1 OR threat_id_b = $1) AND algorithm_version < $2`

	tag, err := r.pool.Exec(ctx, query, recordID, version)
	if err != nil {
		return 0, storeError("mark rescored", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanEdge(row pgx.Row) (*models.CorrelationEdge, error) {
	var (
		e      models.CorrelationEdge
		label  string
		status string
		scores []byte
	)
	err := row.Scan(
		&e.ID, &e.ThreatIDA, &e.ThreatIDB, &e.OverallScore, &label, &scores,
		&e.Evidence, &status, &e.AlgorithmVersion, &e.ReviewedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ConfidenceLabel = models.ConfidenceLabel(label)
	e.Status = models.EdgeStatus(status)
	e.SignalScores = make(map[models.SignalName]float64, len(models.Signals))
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &e.SignalScores); err != nil {
			return nil, fmt.Errorf("failed to decode signal scores: %w", err)
		}
	}
	return &e, nil
}
