package jobgen_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/jobgen"
)

type sliceBatches struct {
	cfgs []domain.DomainConfiguration
	size int
	pos  int
}

func (s *sliceBatches) Next(context.Context) ([]domain.DomainConfiguration, bool, error) {
	if s.pos >= len(s.cfgs) {
		return nil, false, nil
	}
	end := min(s.pos+s.size, len(s.cfgs))
	batch := append([]domain.DomainConfiguration(nil), s.cfgs[s.pos:end]...)
	s.pos = end
	return batch, true, nil
}

type seqIDs struct{ next int64 }

func (s *seqIDs) NextJobID(context.Context) (int64, error) {
	s.next++
	return s.next, nil
}

var historyTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func harvested(dom string, bytes int64) domain.DomainConfiguration {
	return domain.DomainConfiguration{
		Key:        domain.ConfigKey{Domain: dom, Config: "default"},
		Template:   "default_orderxml",
		MaxBytes:   domain.Unbounded,
		MaxObjects: domain.Unbounded,
		History:    []domain.HarvestSummary{{Bytes: bytes, Objects: bytes / 1000, CompletedAt: historyTime}},
	}
}

func neverHarvested(dom string) domain.DomainConfiguration {
	cfg := harvested(dom, 0)
	cfg.History = nil
	return cfg
}

// identityEstimator returns the last harvest unchanged.
func identityEstimator() *estimate.Estimator {
	return estimate.New(estimate.Settings{
		ErrorFactorPrevResult:         1,
		ErrorFactorBestGuess:          1,
		ExpectedAverageBytesPerObject: 1000,
		MaxDomainSizeGuess:            100,
	})
}

func runAll(
	t *testing.T, strategy jobgen.Strategy, est *estimate.Estimator, target jobgen.Target,
	cfgs []domain.DomainConfiguration, batchSize int,
) ([]*domain.Job, jobgen.Stats) {
	t.Helper()

	acc := jobgen.NewAccumulator(strategy, est, estimate.MetricBytes, &seqIDs{})
	var jobs []*domain.Job
	stats, err := acc.Run(context.Background(), target, &sliceBatches{cfgs: cfgs, size: batchSize},
		func(_ context.Context, job *domain.Job) error {
			jobs = append(jobs, job)
			return nil
		})
	require.NoError(t, err)
	return jobs, stats
}

func domainsOf(job *domain.Job) []string {
	out := make([]string, 0, len(job.Configs))
	for _, k := range job.Configs {
		out = append(out, k.Domain)
	}
	return out
}

func TestAccumulator_ScenarioA_SimilarSizesShareAJob(t *testing.T) {
	t.Parallel()

	cfgs := []domain.DomainConfiguration{harvested("a", 1000), harvested("b", 1050), harvested("c", 50)}
	jobs, stats := runAll(t, sizeBounded(5000, 0.1, 500), identityEstimator(),
		jobgen.Target{Kind: domain.KindFocused}, cfgs, 10)

	require.Len(t, jobs, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, domainsOf(jobs[0]))
	assert.Equal(t, []string{"c"}, domainsOf(jobs[1]))
	assert.Equal(t, 3, stats.Configs)
	assert.Equal(t, 2, stats.Jobs)
	assert.Zero(t, stats.Oversized)
}

func TestAccumulator_ScenarioB_OversizedSingletonGetsOwnJob(t *testing.T) {
	t.Parallel()

	cfgs := []domain.DomainConfiguration{harvested("huge", 10_000_000)}
	jobs, stats := runAll(t, sizeBounded(1_000_000, 0.99, 2000), identityEstimator(),
		jobgen.Target{Kind: domain.KindSnapshot}, cfgs, 10)

	require.Len(t, jobs, 1)
	assert.Equal(t, 1, stats.Oversized)
	assert.Equal(t, []string{"huge"}, domainsOf(jobs[0]))
	assert.Equal(t, int64(10_000_000), jobs[0].ExpectedBytes)
	assert.Equal(t, domain.StatusReady, jobs[0].Status)
}

func TestAccumulator_ScenarioC_FixedCountSplits(t *testing.T) {
	t.Parallel()

	cfgs := make([]domain.DomainConfiguration, 0, 10)
	for i := range 10 {
		cfgs = append(cfgs, neverHarvested(fmt.Sprintf("d%02d", i)))
	}
	strategy := jobgen.NewFixedCount(jobgen.FixedCountOptions{SnapshotCap: 4})

	jobs, stats := runAll(t, strategy, identityEstimator(), jobgen.Target{Kind: domain.KindSnapshot}, cfgs, 3)
	assert.Zero(t, stats.Oversized, "fixed count has no size budget")

	sizes := make([]int, 0, len(jobs))
	for _, j := range jobs {
		sizes = append(sizes, len(j.Configs))
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
}

// pool builds a deterministic mixed pool with shared domains and templates.
func pool(n int) []domain.DomainConfiguration {
	cfgs := make([]domain.DomainConfiguration, 0, n)
	for i := range n {
		dom := fmt.Sprintf("site%03d.dk", i%(n/2+1))
		cfg := harvested(dom, int64((i*7919)%50_000+1))
		cfg.Key.Config = fmt.Sprintf("cfg%d", i)
		switch {
		case i%11 == 0:
			cfg.History = nil
		case i%13 == 0:
			cfg.Template = "deep_orderxml"
		case i%17 == 0:
			cfg.MaxBytes = 0
			cfg.MaxObjects = 0
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}

func keySequence(jobs []*domain.Job) [][]domain.ConfigKey {
	out := make([][]domain.ConfigKey, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Configs)
	}
	return out
}

func TestAccumulator_BatchInvariance(t *testing.T) {
	t.Parallel()

	est := identityEstimator()
	cfgs := pool(120)
	jobgen.SortConfigs(cfgs, est, estimate.MetricBytes)

	strategies := map[string]jobgen.Strategy{
		"size_bounded": sizeBounded(200_000, 0.5, 5000),
		"fixed_count":  jobgen.NewFixedCount(jobgen.FixedCountOptions{SnapshotCap: 7, ExcludeZeroBudget: true}),
	}

	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			target := jobgen.Target{Kind: domain.KindSnapshot}

			one, _ := runAll(t, strategy, est, target, cfgs, 1)
			all, _ := runAll(t, strategy, est, target, cfgs, len(cfgs))
			some, _ := runAll(t, strategy, est, target, cfgs, 13)

			assert.Equal(t, keySequence(all), keySequence(one))
			assert.Equal(t, keySequence(all), keySequence(some))
		})
	}
}

func TestAccumulator_CompletenessAndBudget(t *testing.T) {
	t.Parallel()

	const maxTotal = 150_000
	est := identityEstimator()
	cfgs := pool(90)

	jobs, stats := runAll(t, sizeBounded(maxTotal, 0.8, 3000), est, jobgen.Target{Kind: domain.KindFocused}, cfgs, 8)

	want := make([]domain.ConfigKey, 0, len(cfgs))
	for _, c := range cfgs {
		want = append(want, c.Key)
	}
	var got []domain.ConfigKey
	for _, j := range jobs {
		got = append(got, j.Configs...)
		if len(j.Configs) >= 2 {
			assert.LessOrEqual(t, j.ExpectedBytes, int64(maxTotal), "job %d over budget", j.ID)
		}
	}
	assert.ElementsMatch(t, want, got)
	assert.Equal(t, len(cfgs), stats.Configs)
	assert.Zero(t, stats.Skipped)
}

func TestAccumulator_CompletenessExcludesOnlyZeroBudget(t *testing.T) {
	t.Parallel()

	cfgs := pool(60)
	strategy := jobgen.NewFixedCount(jobgen.FixedCountOptions{SnapshotCap: 5, ExcludeZeroBudget: true})
	jobs, stats := runAll(t, strategy, identityEstimator(), jobgen.Target{Kind: domain.KindSnapshot}, cfgs, 9)

	var want []domain.ConfigKey
	for _, c := range cfgs {
		if !c.ZeroBudget() {
			want = append(want, c.Key)
		}
	}
	var got []domain.ConfigKey
	for _, j := range jobs {
		got = append(got, j.Configs...)
	}
	assert.ElementsMatch(t, want, got)
	assert.Equal(t, len(cfgs)-len(want), stats.Skipped)
}

func TestAccumulator_CopiesTargetOntoJobs(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	acc := jobgen.NewAccumulator(sizeBounded(1<<40, 0.99, 2000), identityEstimator(), estimate.MetricBytes,
		&seqIDs{next: 41}, jobgen.WithClock(func() time.Time { return now }))
	target := jobgen.Target{
		HarvestID:      7,
		Kind:           domain.KindFocused,
		Channel:        "FOCUSED",
		MaxBytes:       1_000_000,
		MaxObjects:     domain.Unbounded,
		MaxRunningTime: time.Hour,
	}

	var jobs []*domain.Job
	_, err := acc.Run(context.Background(), target,
		&sliceBatches{cfgs: []domain.DomainConfiguration{harvested("a", 10)}, size: 5},
		func(_ context.Context, job *domain.Job) error {
			jobs = append(jobs, job)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, int64(42), job.ID)
	assert.Equal(t, int64(7), job.HarvestID)
	assert.Equal(t, "FOCUSED", job.Channel)
	assert.Equal(t, "default_orderxml", job.Template)
	assert.Equal(t, int64(1_000_000), job.MaxBytes)
	assert.Equal(t, time.Hour, job.MaxRunningTime)
	assert.Equal(t, now, job.CreatedAt)
	assert.Len(t, job.MemberEstimates(), 1)
}

func TestAccumulator_EmitErrorStopsRun(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	acc := jobgen.NewAccumulator(jobgen.NewFixedCount(jobgen.FixedCountOptions{SnapshotCap: 1}),
		identityEstimator(), estimate.MetricBytes, &seqIDs{})

	calls := 0
	_, err := acc.Run(context.Background(), jobgen.Target{Kind: domain.KindSnapshot},
		&sliceBatches{cfgs: pool(10), size: 4},
		func(context.Context, *domain.Job) error {
			calls++
			return errBoom
		})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}
