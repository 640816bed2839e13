package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(48662), cfg.InatTaxonID)
	assert.Equal(t, int64(62068), cfg.InatPlaceID)
	assert.Equal(t, "research", cfg.InatQualityGrade)
	assert.Equal(t, 200, cfg.InatPerPage)
	assert.Equal(t, 7, cfg.InatBackfillDays)
	assert.Equal(t, 24, cfg.InatOverlapHours)
	assert.InDelta(t, 0.5, cfg.InatSleepSeconds, 1e-9)
	assert.Equal(t, 0, cfg.InatMaxPagesPerRun)
	assert.Equal(t, 5, cfg.InatMaxRetries)
	assert.Equal(t, "v1", cfg.PromptVersion)
	assert.Equal(t, 2000, cfg.ClassifyNotesMaxChars)
	assert.Equal(t, 2, cfg.ClassifyMaxWorkers)
	assert.Equal(t, 5, cfg.ClassifyMaxAttempts)
	assert.False(t, cfg.ClassifyEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INAT_TAXON_ID", "1234")
	t.Setenv("INAT_PER_PAGE", "50")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_MODEL", "test/vision")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1234), cfg.InatTaxonID)
	assert.Equal(t, 50, cfg.InatPerPage)
	assert.True(t, cfg.ClassifyEnabled())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"per_page_zero", "INAT_PER_PAGE", "0"},
		{"per_page_over_cap", "INAT_PER_PAGE", "500"},
		{"backfill_negative", "INAT_BACKFILL_DAYS", "-1"},
		{"workers_zero", "CLASSIFY_MAX_WORKERS", "0"},
		{"attempts_zero", "CLASSIFY_MAX_ATTEMPTS", "0"},
		{"log_level_bogus", "LOG_LEVEL", "loud"},
		{"taxon_not_a_number", "INAT_TAXON_ID", "monarch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestIntervalFloors(t *testing.T) {
	t.Parallel()
	cfg := Config{RunIngestEverySeconds: 10, RunClassifyEverySeconds: 0}
	assert.Equal(t, 60*time.Second, cfg.IngestInterval())
	assert.Equal(t, time.Second, cfg.ClassifyInterval())

	cfg = Config{RunIngestEverySeconds: 3600, RunClassifyEverySeconds: 15}
	assert.Equal(t, time.Hour, cfg.IngestInterval())
	assert.Equal(t, 15*time.Second, cfg.ClassifyInterval())
}
