package repository

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func sql(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		target    error
	}{
		{"serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, true, nil},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, true, nil},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, true, nil},
		{"admin shutdown", &pgconn.PgError{Code: codeAdminShutdown}, true, nil},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, true, nil},
		{"check violation", &pgconn.PgError{Code: "23514"}, false, nil},
		{"cancelled", context.Canceled, false, context.Canceled},
		{"plain", assert.AnError, false, assert.AnError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("read", tt.err)
			assert.Equal(t, tt.transient, models.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
	assert.NoError(t, storeError("read", nil))
}

func TestIsConflict(t *testing.T) {
	assert.True(t, isConflict(&pgconn.PgError{Code: codeUniqueViolation}))
	assert.True(t, isConflict(&pgconn.PgError{Code: codeSerializationFailure}))
	assert.False(t, isConflict(&pgconn.PgError{Code: "23514"}))
	assert.False(t, isConflict(assert.AnError))
}
