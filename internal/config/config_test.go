package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.StrategySizeBounded, cfg.JobGen.Strategy)
	assert.InDelta(t, 10.0, cfg.JobGen.ErrorFactorPrevResult, 0)
	assert.InDelta(t, 20.0, cfg.JobGen.ErrorFactorBestGuess, 0)
	assert.Equal(t, int64(38000), cfg.JobGen.ExpectedAverageBytesPerObject)
	assert.Equal(t, int64(5000), cfg.JobGen.MaxDomainSizeGuess)
	assert.True(t, cfg.JobGen.PostponeUnregisteredChannel)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.JobGenerationPeriod)
	assert.Equal(t, 168*time.Hour, cfg.Scheduler.JobTimeoutTime)
}

func TestLoad_FileOverridesDefaultsAndKeepsExplicitFalse(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	path := writeConfig(t, `
jobgen:
  strategy: fixed_count
  fixed_config_count_focused: 3
  postpone_unregistered_channel: false
  size_difference_rule: or
scheduler:
  job_generation_period: 5s
  max_resubmits: 2
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.StrategyFixedCount, cfg.JobGen.Strategy)
	assert.Equal(t, 3, cfg.JobGen.FixedConfigCountFocused)
	assert.False(t, cfg.JobGen.PostponeUnregisteredChannel)
	assert.Equal(t, config.RuleOr, cfg.JobGen.SizeDifferenceRule)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.JobGenerationPeriod)
	assert.Equal(t, 2, cfg.Scheduler.MaxResubmits)
	// Untouched values keep their defaults.
	assert.Equal(t, 10000, cfg.JobGen.DomainConfigSubsetSize)
}

func TestLoad_EnvWins(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("JOBGEN_MAX_TOTAL_JOB_SIZE", "12345")
	t.Setenv("SCHEDULER_JOB_TIMEOUT_TIME", "2h")
	t.Setenv("JOBGEN_SPLIT_BY_OBJECT_LIMIT", "yes")

	path := writeConfig(t, "jobgen:\n  max_total_job_size: 999\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(12345), cfg.JobGen.MaxTotalJobSize)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.JobTimeoutTime)
	assert.True(t, cfg.JobGen.SplitByObjectLimit)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	path := writeConfig(t, `
jobgen:
  strategy: round_robin
  domain_config_subset_size: 0
`)

	_, err := config.Load(path)
	require.Error(t, err)

	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "jobgen.strategy")
	assert.Contains(t, err.Error(), "jobgen.domain_config_subset_size")
}

func TestSchedulerConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.SchedulerConfig)
		wantErr bool
	}{
		{"defaults", func(*config.SchedulerConfig) {}, false},
		{"zero period", func(c *config.SchedulerConfig) { c.JobGenerationPeriod = 0 }, true},
		{"negative resubmits", func(c *config.SchedulerConfig) { c.MaxResubmits = -1 }, true},
		{"no dispatch attempts", func(c *config.SchedulerConfig) { c.DispatchRetryAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default().Scheduler
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Validate_Redis(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	cfg.Redis.WorkerTTL = 0
	cfg.Redis.Address = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.worker_ttl")
	assert.Contains(t, err.Error(), "redis.address")
}
