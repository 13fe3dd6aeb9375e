package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

type call struct {
	cypher string
	params map[string]any
}

type fakeExecutor struct {
	writes []call
	reads  []call
	rows   []map[string]any
	err    error
}

func (f *fakeExecutor) Write(_ context.Context, cypher string, params map[string]any) error {
	f.writes = append(f.writes, call{cypher, params})
	return f.err
}

func (f *fakeExecutor) Read(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.reads = append(f.reads, call{cypher, params})
	return f.rows, f.err
}

func TestGraphRepository_ProjectEdge(t *testing.T) {
	exec := &fakeExecutor{}
	repo := NewGraphRepository(exec, logger.Nop())
	updated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	err := repo.ProjectEdge(context.Background(), &models.CorrelationEdge{
		ID:               models.EdgeID("a", "b"),
		ThreatIDA:        "b",
		ThreatIDB:        "a",
		OverallScore:     0.82,
		ConfidenceLabel:  models.ConfidenceConfirmed,
		Status:           models.EdgeStatusProposed,
		AlgorithmVersion: 3,
		UpdatedAt:        updated,
	})
	require.NoError(t, err)
	require.Len(t, exec.writes, 1)

	p := exec.writes[0].params
	assert.Equal(t, "a", p["a"])
	assert.Equal(t, "b", p["b"])
	assert.Equal(t, 0.82, p["score"])
	assert.Equal(t, "confirmed", p["confidence"])
	assert.Equal(t, int64(3), p["algorithm_version"])
	assert.Equal(t, []string{}, p["evidence"])
	assert.Equal(t, updated.Unix(), p["updated_at"])
	assert.Contains(t, exec.writes[0].cypher, "MERGE (a)-[r:CORRELATES_WITH]->(b)")
}

func TestGraphRepository_RemoveEdge(t *testing.T) {
	exec := &fakeExecutor{}
	repo := NewGraphRepository(exec, logger.Nop())

	require.NoError(t, repo.RemoveEdge(context.Background(), "z", "m"))
	assert.Equal(t, map[string]any{"a": "m", "b": "z"}, exec.writes[0].params)

	exec.err = assert.AnError
	err := repo.RemoveEdge(context.Background(), "z", "m")
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "m|z")
}

func TestGraphRepository_RelatedRecords(t *testing.T) {
	exec := &fakeExecutor{rows: []map[string]any{
		{"id": "c", "depth": int64(2), "strength": 0.5},
		{"id": "b", "depth": int64(1), "strength": 0.7},
		{"id": "d", "depth": int64(1), "strength": 0.9},
		{"depth": int64(1)},
	}}
	repo := NewGraphRepository(exec, logger.Nop())

	related, err := repo.RelatedRecords(context.Background(), "a", 9, 0.3, 0)
	require.NoError(t, err)
	assert.Equal(t, []models.RelatedRecord{
		{RecordID: "d", Depth: 1, Strength: 0.9},
		{RecordID: "b", Depth: 1, Strength: 0.7},
		{RecordID: "c", Depth: 2, Strength: 0.5},
	}, related)

	q := exec.reads[0]
	assert.True(t, strings.Contains(q.cypher, "CORRELATES_WITH*1..4"), "depth is clamped")
	assert.Equal(t, int64(100), q.params["limit"])
	assert.Equal(t, 0.3, q.params["min_score"])
}
