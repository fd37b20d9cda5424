package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/catalog"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
)

type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func key(d string) domain.ConfigKey {
	return domain.ConfigKey{Domain: d, Config: "default"}
}

func cfg(d string) domain.DomainConfiguration {
	return domain.DomainConfiguration{Key: key(d), Template: "t", MaxBytes: domain.Unbounded, MaxObjects: domain.Unbounded}
}

type fixture struct {
	tracker *lifecycle.Tracker
	store   *lifecycle.MemoryStore
	catalog *catalog.Memory
	clock   *clock
}

func newFixture(t *testing.T, settings lifecycle.Settings) *fixture {
	t.Helper()

	store := lifecycle.NewMemoryStore()
	cat := catalog.NewMemory()
	cat.PutConfig(cfg("a.dk"))
	cat.PutConfig(cfg("b.dk"))
	clk := newClock()

	return &fixture{
		tracker: lifecycle.NewTracker(store, cat, settings, lifecycle.WithClock(clk.Now)),
		store:   store,
		catalog: cat,
		clock:   clk,
	}
}

func (f *fixture) readyJob(t *testing.T, id int64) *domain.Job {
	t.Helper()

	job := &domain.Job{ID: id, Status: domain.StatusReady, Channel: "SNAPSHOT"}
	job.Add(key("a.dk"), domain.Size{Bytes: 300, Objects: 3})
	job.Add(key("b.dk"), domain.Size{Bytes: 100, Objects: 1})
	require.NoError(t, f.tracker.Register(context.Background(), job))
	return job
}

func (f *fixture) startedJob(t *testing.T, id int64) *domain.Job {
	t.Helper()

	ctx := context.Background()
	job := f.readyJob(t, id)
	require.NoError(t, f.tracker.MarkSubmitted(ctx, job))
	started, err := f.tracker.OnStarted(ctx, id, "worker-1")
	require.NoError(t, err)
	return started
}

func TestTracker_Register_RequiresReady(t *testing.T) {
	t.Parallel()

	f := newFixture(t, lifecycle.Settings{})
	err := f.tracker.Register(context.Background(), &domain.Job{ID: 1, Status: domain.StatusCreated})
	require.Error(t, err)
}

func TestTracker_HappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{JobTimeout: time.Hour})

	job := f.readyJob(t, 1)
	require.NoError(t, f.tracker.MarkSubmitted(ctx, job))
	assert.Equal(t, domain.StatusSubmitted, job.Status)
	require.NotNil(t, job.SubmittedAt)

	f.clock.Advance(time.Minute)
	started, err := f.tracker.OnStarted(ctx, 1, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, started.Status)
	assert.Equal(t, f.clock.Now(), *started.StartedAt)

	f.clock.Advance(time.Minute)
	done, err := f.tracker.OnCompleted(ctx, 1, domain.CompletionReport{Bytes: 4000, Objects: 40})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, int64(4000), done.ActualBytes)

	a, _ := f.catalog.Config(key("a.dk"))
	last, ok := a.LastHarvest()
	require.True(t, ok)
	assert.Equal(t, int64(3000), last.Bytes)
	assert.Equal(t, int64(30), last.Objects)
	assert.Equal(t, f.clock.Now(), last.CompletedAt)

	b, _ := f.catalog.Config(key("b.dk"))
	last, ok = b.LastHarvest()
	require.True(t, ok)
	assert.Equal(t, int64(1000), last.Bytes)
}

func TestTracker_SignalsInWrongStateAreInconsistencies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{})

	job := f.readyJob(t, 1)
	require.NoError(t, f.tracker.MarkSubmitted(ctx, job))

	// Completion while still SUBMITTED.
	_, err := f.tracker.OnCompleted(ctx, 1, domain.CompletionReport{Bytes: 10})
	require.ErrorIs(t, err, lifecycle.ErrStateInconsistency)

	var inconsistency *lifecycle.StateInconsistencyError
	require.True(t, errors.As(err, &inconsistency))
	assert.Equal(t, lifecycle.SignalCompleted, inconsistency.Signal)
	assert.Equal(t, domain.StatusSubmitted, inconsistency.Status)
	assert.Equal(t, []domain.JobStatus{domain.StatusStarted}, inconsistency.Expected)

	_, err = f.tracker.OnFailed(ctx, 1, "crash")
	require.ErrorIs(t, err, lifecycle.ErrStateInconsistency)

	// Job untouched, no history written.
	stored, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
	a, _ := f.catalog.Config(key("a.dk"))
	assert.Empty(t, a.History)

	// Duplicate start.
	_, err = f.tracker.OnStarted(ctx, 1, "w")
	require.NoError(t, err)
	_, err = f.tracker.OnStarted(ctx, 1, "w")
	require.ErrorIs(t, err, lifecycle.ErrStateInconsistency)
}

func TestTracker_UnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, lifecycle.Settings{})
	_, err := f.tracker.OnStarted(context.Background(), 42, "w")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestTracker_MarkSubmitted_RejectsNonDispatchable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{})
	job := f.startedJob(t, 1)

	require.Error(t, f.tracker.MarkSubmitted(ctx, job))
	assert.Equal(t, domain.StatusStarted, job.Status)
}

func TestTracker_MarkSubmitted_ConflictLeavesJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{})
	job := f.readyJob(t, 1)
	stale := job.Clone()

	require.NoError(t, f.tracker.MarkSubmitted(ctx, job))
	err := f.tracker.MarkSubmitted(ctx, stale)
	require.ErrorIs(t, err, domain.ErrStatusConflict)
	assert.Equal(t, domain.StatusReady, stale.Status)
}

func TestTracker_FailureWithoutResubmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{})
	f.startedJob(t, 1)

	failed, err := f.tracker.OnFailed(ctx, 1, "crawler crashed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "crawler crashed", failed.FailureReason)
	assert.Equal(t, 0, failed.Resubmits)
}

func TestTracker_ResubmissionIsBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{MaxResubmits: 1})
	f.startedJob(t, 1)

	job, err := f.tracker.OnFailed(ctx, 1, "first")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResubmitted, job.Status)
	assert.Equal(t, 1, job.Resubmits)

	// RESUBMITTED→SUBMITTED keeps membership and budgets.
	require.NoError(t, f.tracker.MarkSubmitted(ctx, job))
	assert.Equal(t, []domain.ConfigKey{key("a.dk"), key("b.dk")}, job.Configs)
	_, err = f.tracker.OnStarted(ctx, 1, "w")
	require.NoError(t, err)

	job, err = f.tracker.OnFailed(ctx, 1, "second")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Resubmits)
}

func TestTracker_Sweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{JobTimeout: time.Hour})

	f.startedJob(t, 1)
	f.clock.Advance(30 * time.Minute)
	f.startedJob(t, 2)
	f.clock.Advance(45 * time.Minute)

	failed, err := f.tracker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	one, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, one.Status)
	assert.Equal(t, lifecycle.TimeoutReason, one.FailureReason)

	two, err := f.store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, two.Status)

	// A completion arriving after the timeout is an inconsistency.
	_, err = f.tracker.OnCompleted(ctx, 1, domain.CompletionReport{})
	require.ErrorIs(t, err, lifecycle.ErrStateInconsistency)
}

func TestTracker_Sweep_DisabledWithoutTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, lifecycle.Settings{})
	f.startedJob(t, 1)
	f.clock.Advance(1000 * time.Hour)

	failed, err := f.tracker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestTracker_Sweep_Resubmits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{JobTimeout: time.Minute, MaxResubmits: 2})
	f.startedJob(t, 1)
	f.clock.Advance(time.Hour)

	failed, err := f.tracker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	job, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResubmitted, job.Status)
	assert.Equal(t, 1, job.Resubmits)
}

type failingHistory struct{ calls int }

func (h *failingHistory) RecordHarvest(context.Context, int64, domain.ConfigKey, domain.HarvestSummary) error {
	h.calls++
	return errors.New("catalog down")
}

func TestTracker_HistoryFailureDoesNotUndoCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := lifecycle.NewMemoryStore()
	history := &failingHistory{}
	tracker := lifecycle.NewTracker(store, history, lifecycle.Settings{})

	job := &domain.Job{ID: 1, Status: domain.StatusReady}
	job.Add(key("a.dk"), domain.Size{Bytes: 1})
	require.NoError(t, tracker.Register(ctx, job))
	require.NoError(t, tracker.MarkSubmitted(ctx, job))
	_, err := tracker.OnStarted(ctx, 1, "w")
	require.NoError(t, err)

	done, err := tracker.OnCompleted(ctx, 1, domain.CompletionReport{Bytes: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 1, history.calls)
}

func TestTracker_ReleaseSubmitted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{})
	job := f.readyJob(t, 1)
	prev := job.Clone()
	require.NoError(t, f.tracker.MarkSubmitted(ctx, job))

	require.NoError(t, f.tracker.ReleaseSubmitted(ctx, job, prev))
	assert.Equal(t, domain.StatusReady, job.Status)
	assert.Nil(t, job.SubmittedAt)

	stored, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, stored.Status)
}

func TestTracker_ReleaseSubmitted_LeavesStartedJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, lifecycle.Settings{})
	job := f.readyJob(t, 1)
	prev := job.Clone()
	require.NoError(t, f.tracker.MarkSubmitted(ctx, job))
	_, err := f.tracker.OnStarted(ctx, 1, "worker-1")
	require.NoError(t, err)

	err = f.tracker.ReleaseSubmitted(ctx, job, prev)
	require.ErrorIs(t, err, domain.ErrStatusConflict)

	stored, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, stored.Status)
}
