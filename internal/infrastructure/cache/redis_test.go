package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

func newMockCache(t *testing.T) (*RedisCache, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	c := NewRedisWithClient(db, "correlator:", logger.Nop())
	c.owner = "instance-1"
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return c, mock
}

func TestFingerprintIndex(t *testing.T) {
	c, mock := newMockCache(t)
	ctx := context.Background()

	mock.ExpectSAdd("correlator:fingerprint:abc", "rec-2").SetVal(1)
	mock.ExpectSMembers("correlator:fingerprint:abc").SetVal([]string{"rec-2", "rec-1"})
	mock.ExpectSAdd("correlator:fingerprint:abc", "rec-3").SetErr(errors.New("connection reset"))

	require.NoError(t, c.Register(ctx, "abc", "rec-2"))

	ids, err := c.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1", "rec-2"}, ids)

	err = c.Register(ctx, "abc", "rec-3")
	assert.True(t, models.IsTransient(err))
}

func TestJobMirror(t *testing.T) {
	c, mock := newMockCache(t)
	ctx := context.Background()

	job := &models.Job{
		ID:       uuid.New(),
		RecordID: "rec-1",
		Status:   models.JobStatusCompleted,
		Stats:    models.SweepStats{Candidates: 2, Compared: 2, Persisted: 1},
	}
	data, err := json.Marshal(job)
	require.NoError(t, err)
	key := "correlator:job:" + job.ID.String()

	mock.ExpectSet(key, data, time.Hour).SetVal("OK")
	mock.ExpectGet(key).SetVal(string(data))
	missing := uuid.New()
	mock.ExpectGet("correlator:job:" + missing.String()).RedisNil()

	require.NoError(t, c.SaveJob(ctx, job, time.Hour))

	got, err := c.LoadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.RecordID, got.RecordID)
	assert.Equal(t, job.Stats, got.Stats)

	_, err = c.LoadJob(ctx, missing)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLock(t *testing.T) {
	c, mock := newMockCache(t)
	ctx := context.Background()

	mock.ExpectSetNX("correlator:lock:rescore", "instance-1", time.Minute).SetVal(true)
	mock.ExpectSetNX("correlator:lock:rescore", "instance-1", time.Minute).SetVal(false)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"correlator:lock:rescore"}, "instance-1").SetVal(int64(1))

	ok, err := c.AcquireLock(ctx, "rescore", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "rescore", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock already held")

	require.NoError(t, c.ReleaseLock(ctx, "rescore"))
}
