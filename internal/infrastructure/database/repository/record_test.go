package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

func TestRecordRepository_GetRecord(t *testing.T) {
	mock := newMock(t)
	repo := NewRecordRepository(mock)

	cols := []string{"id", "kind", "severity", "confidence", "source", "indicators", "infrastructure",
		"behavior_tags", "first_seen", "last_seen"}
	mock.ExpectQuery(sql("FROM threat_records")).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"r1", "malware", 7.5, 0.9, "feed-a",
			[]byte(`[{"type":"ip","value":"10.0.0.1"}]`),
			[]byte(`[{"type":"domain","value":"c2.example"}]`),
			[]string{"T1027"}, t0, t0.Add(time.Hour),
		))
	mock.ExpectQuery(sql("FROM threat_records")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(cols))

	rec, err := repo.GetRecord(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []models.Indicator{{Type: models.IndicatorTypeIP, Value: "10.0.0.1"}}, rec.Indicators)
	assert.Equal(t, "c2.example", rec.Infrastructure[0].Value)
	assert.Equal(t, []string{"T1027"}, rec.BehaviorTags)
	require.NoError(t, rec.Validate())

	_, err = repo.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecordRepository_FindCandidates(t *testing.T) {
	mock := newMock(t)
	repo := NewRecordRepository(mock)
	day := 24 * time.Hour

	mock.ExpectQuery(sql("SELECT indicator_keys, infrastructure_keys, first_seen, last_seen")).
		WithArgs("src").
		WillReturnRows(pgxmock.NewRows([]string{"indicator_keys", "infrastructure_keys", "first_seen", "last_seen"}).
			AddRow([]string{"ip:10.0.0.1"}, []string{}, t0, t0.Add(day)))
	mock.ExpectQuery(sql("indicator_keys && $2")).
		WithArgs("src", []string{"ip:10.0.0.1"}, []string{}, t0.Add(31*day), t0.Add(-30*day)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("b").AddRow("c"))
	mock.ExpectQuery(sql("SELECT indicator_keys, infrastructure_keys, first_seen, last_seen")).
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows([]string{"indicator_keys", "infrastructure_keys", "first_seen", "last_seen"}))

	ids, err := repo.FindCandidates(context.Background(), "src", 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)

	_, err = repo.FindCandidates(context.Background(), "gone", 30)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecordRepository_Put(t *testing.T) {
	mock := newMock(t)
	repo := NewRecordRepository(mock)

	rec := &models.ThreatRecord{
		ID:             "r1",
		Kind:           "malware",
		Severity:       5,
		FirstSeen:      t0,
		LastSeen:       t0,
		Indicators:     []models.Indicator{{Type: "IP", Value: " 10.0.0.1"}},
		Infrastructure: []models.Indicator{{Type: models.IndicatorTypeIP, Value: "198.51.100.7"}},
	}
	mock.ExpectExec(sql("INSERT INTO threat_records")).
		WithArgs("r1", "malware", 5.0, 0.0, "", pgxmock.AnyArg(), pgxmock.AnyArg(), []string{},
			models.IndicatorKeys(rec.Indicators), models.IndicatorKeys(rec.Infrastructure), t0, t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Put(context.Background(), rec))

	bad := *rec
	bad.Kind = ""
	var invalid *models.InvalidRecordError
	assert.ErrorAs(t, repo.Put(context.Background(), &bad), &invalid)
}
