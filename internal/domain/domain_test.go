package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

func TestDomainConfiguration_LastHarvest(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := domain.DomainConfiguration{
		History: []domain.HarvestSummary{
			{Bytes: 10, CompletedAt: base},
			{Bytes: 30, CompletedAt: base.Add(48 * time.Hour)},
			{Bytes: 20, CompletedAt: base.Add(24 * time.Hour)},
		},
	}

	last, ok := cfg.LastHarvest()
	assert.True(t, ok)
	assert.Equal(t, int64(30), last.Bytes)

	_, ok = (&domain.DomainConfiguration{}).LastHarvest()
	assert.False(t, ok)
}

func TestDomainConfiguration_ZeroBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		maxBytes   int64
		maxObjects int64
		want       bool
	}{
		{"both zero", 0, 0, true},
		{"bytes unbounded", domain.Unbounded, 0, false},
		{"objects set", 0, 10, false},
		{"both unbounded", domain.Unbounded, domain.Unbounded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := domain.DomainConfiguration{MaxBytes: tt.maxBytes, MaxObjects: tt.maxObjects}
			assert.Equal(t, tt.want, cfg.ZeroBudget())
		})
	}
}

func TestJob_AddAndClone(t *testing.T) {
	t.Parallel()

	job := &domain.Job{ID: 1}
	job.Add(domain.ConfigKey{Domain: "a.dk", Config: "default"}, domain.Size{Bytes: 100, Objects: 2})
	job.Add(domain.ConfigKey{Domain: "b.dk", Config: "default"}, domain.Size{Bytes: 50, Objects: 1})

	assert.Equal(t, int64(150), job.ExpectedBytes)
	assert.Equal(t, int64(3), job.ExpectedObjects)
	assert.True(t, job.ContainsDomain("a.dk"))
	assert.False(t, job.ContainsDomain("c.dk"))

	clone := job.Clone()
	clone.Configs[0].Domain = "changed"
	assert.Equal(t, "a.dk", job.Configs[0].Domain)
	assert.Equal(t, job.MemberEstimates(), clone.MemberEstimates())
}

func TestConfigKey_Less(t *testing.T) {
	t.Parallel()

	a := domain.ConfigKey{Domain: "a.dk", Config: "x"}
	b := domain.ConfigKey{Domain: "a.dk", Config: "y"}
	c := domain.ConfigKey{Domain: "b.dk", Config: "a"}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.Equal(t, "a.dk/x", a.String())
}
