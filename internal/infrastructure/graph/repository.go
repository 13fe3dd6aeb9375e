package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// MaxTraversalDepth bounds related-record traversals
const MaxTraversalDepth = 4

// Executor runs Cypher statements. *Neo4jClient implements it.
type Executor interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

const (
	cypherProjectEdge = `
		MERGE (a:ThreatRecord {id: $a})
		MERGE (b:ThreatRecord {id: $b})
		MERGE (a)-[r:CORRELATES_WITH]->(b)
		SET r.edge_id = $edge_id,
			r.score = $score,
			r.confidence = $confidence,
			r.status = $status,
			r.algorithm_version = $algorithm_version,
			r.evidence = $evidence,
			r.updated_at = $updated_at`

	cypherRemoveEdge = `
		MATCH (:ThreatRecord {id: $a})-[r:CORRELATES_WITH]->(:ThreatRecord {id: $b})
		DELETE r`

	// %d is the traversal depth; variable-length bounds cannot be parameters
	cypherRelated = `
		MATCH path = (s:ThreatRecord {id: $id})-[rels:CORRELATES_WITH*1..%d]-(o:ThreatRecord)
		WHERE o.id <> $id
		  AND all(r IN rels WHERE r.score >= $min_score AND r.status <> 'rejected')
		WITH o, min(length(path)) AS depth,
		     max(reduce(acc = 1.0, r IN rels | acc * r.score)) AS strength
		RETURN o.id AS id, depth, strength
		ORDER BY depth, strength DESC, id
		LIMIT $limit`
)

// GraphRepository projects correlation edges into Neo4j and answers
// multi-hop queries over them
type GraphRepository struct {
	exec   Executor
	logger *logger.Logger
}

var _ services.EdgeSink = (*GraphRepository)(nil)

// NewGraphRepository creates a new graph repository
func NewGraphRepository(exec Executor, log *logger.Logger) *GraphRepository {
	return &GraphRepository{
		exec:   exec,
		logger: log.WithComponent("graph-repo"),
	}
}

// ProjectEdge creates or updates the relationship for a persisted edge
func (r *GraphRepository) ProjectEdge(ctx context.Context, edge *models.CorrelationEdge) error {
	a, b := models.CanonicalPair(edge.ThreatIDA, edge.ThreatIDB)
	evidence := edge.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	params := map[string]any{
		"a":                 a,
		"b":                 b,
		"edge_id":           edge.ID.String(),
		"score":             edge.OverallScore,
		"confidence":        string(edge.ConfidenceLabel),
		"status":            string(edge.Status),
		"algorithm_version": int64(edge.AlgorithmVersion),
		"evidence":          evidence,
		"updated_at":        edge.UpdatedAt.Unix(),
	}
	if err := r.exec.Write(ctx, cypherProjectEdge, params); err != nil {
		return fmt.Errorf("failed to project edge %s: %w", edge.PairKey(), err)
	}
	return nil
}

// RemoveEdge deletes the relationship for a pair, if any
func (r *GraphRepository) RemoveEdge(ctx context.Context, a, b string) error {
	a, b = models.CanonicalPair(a, b)
	if err := r.exec.Write(ctx, cypherRemoveEdge, map[string]any{"a": a, "b": b}); err != nil {
		return fmt.Errorf("failed to remove edge %s: %w", models.PairKey(a, b), err)
	}
	return nil
}

// RelatedRecords walks up to depth hops of non-rejected edges scoring at
// least minScore. Strength is the product of scores along the strongest path.
func (r *GraphRepository) RelatedRecords(ctx context.Context, recordID string, depth int, minScore float64, limit int) ([]models.RelatedRecord, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > MaxTraversalDepth {
		depth = MaxTraversalDepth
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.exec.Read(ctx, fmt.Sprintf(cypherRelated, depth), map[string]any{
		"id":        recordID,
		"min_score": minScore,
		"limit":     int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to traverse related records: %w", err)
	}

	related := make([]models.RelatedRecord, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		d, _ := row["depth"].(int64)
		s, _ := row["strength"].(float64)
		related = append(related, models.RelatedRecord{RecordID: id, Depth: int(d), Strength: s})
	}
	sort.SliceStable(related, func(i, j int) bool {
		if related[i].Depth != related[j].Depth {
			return related[i].Depth < related[j].Depth
		}
		return related[i].Strength > related[j].Strength
	})
	return related, nil
}
