package database

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	const name = "migrations/001_correlation.sql"
	exists := regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM schema_migrations")

	// first run applies the schema
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(exists).WithArgs(name).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS correlation_edges")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).WithArgs(name).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// second run is a no-op
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(exists).WithArgs(name).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	applied, err := Migrate(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, applied)

	applied, err = Migrate(context.Background(), mock)
	require.NoError(t, err)
	assert.Empty(t, applied)

	assert.NoError(t, mock.ExpectationsWereMet())
}
