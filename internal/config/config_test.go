package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: correlator-test\n"))
	require.NoError(t, err)

	assert.Equal(t, "correlator-test", cfg.App.Name)
	assert.Equal(t, "postgres", cfg.App.Storage)
	assert.Equal(t, models.DefaultScoringProfile(), cfg.Correlation.Profile())
	assert.Equal(t, 4, cfg.Runner.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Runner.JobTimeout)
	assert.Equal(t, "threats.record.>", cfg.NATS.Subjects.RecordChanged)
	assert.Equal(t, "@every 15m", cfg.Rescore.Rescorer().Schedule)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
correlation:
  algorithm_version: 2
  weights:
    indicator_overlap: 0.4
    infrastructure_overlap: 0.3
    temporal_proximity: 0.1
    behavioral_similarity: 0.2
runner:
  workers: 8
  job_timeout: 45s
rescore:
  enabled: false
`)
	t.Setenv("CORRELATOR_RUNNER_QUEUE_SIZE", "16")
	t.Setenv("CORRELATOR_APP_STORAGE", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Correlation.Profile()
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, 0.4, p.Weights.IndicatorOverlap)
	assert.Equal(t, 8, cfg.Runner.Workers)
	assert.Equal(t, 16, cfg.Runner.QueueSize)
	assert.Equal(t, 45*time.Second, cfg.Runner.Runner().JobTimeout)
	assert.Equal(t, "memory", cfg.App.Storage)
	assert.Empty(t, cfg.Rescore.Rescorer().Schedule, "disabled rescoring has no schedule")
	assert.Equal(t, "@every 1h", cfg.Rescore.Rescorer().PruneSchedule)
}

func TestLoad_RejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"weights", "correlation:\n  weights:\n    indicator_overlap: 0.9\n", "weights"},
		{"ordering", "correlation:\n  thresholds:\n    medium: 0.2\n", "thresholds.medium"},
		{"same event", "correlation:\n  same_event_threshold: 0.5\n", "same_event_threshold"},
		{"gap", "correlation:\n  max_temporal_gap_days: 0\n", "max_temporal_gap_days"},
		{"workers", "runner:\n  workers: 0\n", "runner.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			var cfgErr *models.ThresholdConfigError
			require.True(t, errors.As(err, &cfgErr), err.Error())
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_UnknownStorage(t *testing.T) {
	_, err := Load(writeConfig(t, "app:\n  storage: cassandra\n"))
	assert.ErrorContains(t, err, "cassandra")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
