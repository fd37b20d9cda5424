package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/catalog"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
)

// TimeoutReason is the failure reason set by the sweep.
const TimeoutReason = "timeout"

// maxCASAttempts bounds re-reads when a concurrent writer wins the
// compare-and-set on a job's status.
const maxCASAttempts = 3

// Settings configures the tracker.
type Settings struct {
	// JobTimeout is how long a job may stay STARTED. Zero disables the sweep.
	JobTimeout time.Duration
	// MaxResubmits bounds FAILED→RESUBMITTED per job. Zero disables resubmission.
	MaxResubmits int
}

// Tracker owns every job status change after READY except READY→SUBMITTED's
// channel decision, which belongs to the dispatcher.
type Tracker struct {
	store    JobStore
	history  catalog.HistoryRecorder
	settings Settings
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// TrackerOption customises a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) TrackerOption {
	return func(t *Tracker) {
		t.log = log
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. history may be nil, in which case completed
// jobs do not feed later estimates.
func NewTracker(store JobStore, history catalog.HistoryRecorder, settings Settings, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:    store,
		history:  history,
		settings: settings,
		log:      logger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.Component("lifecycle"))
	return t
}

// Store returns the backing job store.
func (t *Tracker) Store() JobStore {
	return t.store
}

// Register persists a READY job emitted by the accumulator.
func (t *Tracker) Register(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.StatusReady {
		return fmt.Errorf("register job %d: status %s, want %s", job.ID, job.Status, domain.StatusReady)
	}
	if err := t.store.Create(ctx, job); err != nil {
		return fmt.Errorf("register job %d: %w", job.ID, err)
	}
	t.metrics.RecordTransition(string(domain.StatusCreated), string(domain.StatusReady))
	return nil
}

// MarkSubmitted records that the dispatcher handed job to its channel.
// job is updated in place.
func (t *Tracker) MarkSubmitted(ctx context.Context, job *domain.Job) error {
	from := job.Status
	if !IsDispatchable(from) {
		return fmt.Errorf("submit job %d: %w", job.ID, ValidateStateTransition(from, domain.StatusSubmitted))
	}

	next := job.Clone()
	now := t.now().UTC()
	next.Status = domain.StatusSubmitted
	next.SubmittedAt = &now
	if err := t.store.UpdateStatus(ctx, next, from); err != nil {
		return fmt.Errorf("submit job %d: %w", job.ID, err)
	}
	*job = *next
	t.metrics.RecordTransition(string(from), string(domain.StatusSubmitted))
	return nil
}

// ReleaseSubmitted undoes MarkSubmitted for a job whose queue entry was never
// written, restoring prev. No worker can have seen the job, so this is not a
// lifecycle transition. A job a worker already moved past SUBMITTED is left
// alone and domain.ErrStatusConflict is returned.
func (t *Tracker) ReleaseSubmitted(ctx context.Context, job, prev *domain.Job) error {
	if job.Status != domain.StatusSubmitted || !IsDispatchable(prev.Status) {
		return fmt.Errorf("release job %d: status %s, previous %s", job.ID, job.Status, prev.Status)
	}
	if err := t.store.UpdateStatus(ctx, prev, domain.StatusSubmitted); err != nil {
		return fmt.Errorf("release job %d: %w", job.ID, err)
	}
	*job = *prev.Clone()
	return nil
}

// OnStarted applies a worker's acceptance: SUBMITTED→STARTED.
func (t *Tracker) OnStarted(ctx context.Context, id int64, worker string) (*domain.Job, error) {
	return t.apply(ctx, id, SignalStarted, domain.StatusSubmitted, func(job *domain.Job, now time.Time) {
		job.Status = domain.StatusStarted
		job.StartedAt = &now
		t.log.Info("Job started",
			logger.Int64("job_id", id),
			logger.String("worker", worker),
		)
	})
}

// OnCompleted applies a completion signal: STARTED→COMPLETED. The reported
// sizes become the newest harvest summary of every member configuration.
func (t *Tracker) OnCompleted(ctx context.Context, id int64, report domain.CompletionReport) (*domain.Job, error) {
	job, err := t.apply(ctx, id, SignalCompleted, domain.StatusStarted, func(job *domain.Job, now time.Time) {
		job.Status = domain.StatusCompleted
		job.FinishedAt = &now
		job.ActualBytes = report.Bytes
		job.ActualObjects = report.Objects
	})
	if err != nil {
		return nil, err
	}

	t.log.Info("Job completed",
		logger.Int64("job_id", id),
		logger.Int64("bytes", report.Bytes),
		logger.Int64("objects", report.Objects),
	)
	t.recordHistory(ctx, job, report)
	return job, nil
}

// OnFailed applies a failure signal: STARTED→FAILED, followed by
// resubmission when the policy allows it.
func (t *Tracker) OnFailed(ctx context.Context, id int64, reason string) (*domain.Job, error) {
	job, err := t.apply(ctx, id, SignalFailed, domain.StatusStarted, failWith(reason))
	if err != nil {
		return nil, err
	}

	t.log.Warn("Job failed",
		logger.Int64("job_id", id),
		logger.String("reason", reason),
	)
	return t.maybeResubmit(ctx, job)
}

// Sweep fails every job that has been STARTED for longer than the job
// timeout. It returns the number of jobs it failed.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	if t.settings.JobTimeout <= 0 {
		return 0, nil
	}

	cutoff := t.now().Add(-t.settings.JobTimeout)
	stale, err := t.store.ListStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	failed := 0
	for _, job := range stale {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}

		from := job.Status
		failWith(TimeoutReason)(job, t.now().UTC())
		if err = t.store.UpdateStatus(ctx, job, from); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				// A signal landed between listing and updating.
				t.log.Debug("Timed out job changed concurrently", logger.Int64("job_id", job.ID))
				continue
			}
			return failed, fmt.Errorf("time out job %d: %w", job.ID, err)
		}

		failed++
		t.metrics.RecordTransition(string(from), string(domain.StatusFailed))
		t.metrics.RecordTimeout()
		t.log.Warn("Job timed out",
			logger.Int64("job_id", job.ID),
			logger.Duration("timeout", t.settings.JobTimeout),
		)

		if _, err = t.maybeResubmit(ctx, job); err != nil {
			t.log.Error("Resubmission failed", logger.Int64("job_id", job.ID), logger.Error(err))
		}
	}
	return failed, nil
}

// apply reads the job, checks its status against from and writes the result
// of mutate with a compare-and-set, re-reading on a lost race.
func (t *Tracker) apply(
	ctx context.Context,
	id int64,
	signal Signal,
	from domain.JobStatus,
	mutate func(job *domain.Job, now time.Time),
) (*domain.Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status != from {
			return nil, t.inconsistent(job, signal, from)
		}

		mutate(job, t.now().UTC())
		if transitionErr := ValidateStateTransition(from, job.Status); transitionErr != nil {
			return nil, transitionErr
		}

		err = t.store.UpdateStatus(ctx, job, from)
		if err == nil {
			t.metrics.RecordTransition(string(from), string(job.Status))
			return job, nil
		}
		if !errors.Is(err, domain.ErrStatusConflict) || attempt == maxCASAttempts {
			return nil, fmt.Errorf("apply %s to job %d: %w", signal, id, err)
		}
	}
}

func (t *Tracker) inconsistent(job *domain.Job, signal Signal, expected ...domain.JobStatus) error {
	err := &StateInconsistencyError{
		JobID:    job.ID,
		Signal:   signal,
		Status:   job.Status,
		Expected: slices.Clone(expected),
	}
	t.metrics.RecordInconsistency(string(signal))
	t.log.Warn("Ignoring signal for job in unexpected state",
		logger.Int64("job_id", job.ID),
		logger.String("signal", string(signal)),
		logger.String("status", string(job.Status)),
	)
	return err
}

func (t *Tracker) maybeResubmit(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if t.settings.MaxResubmits <= 0 || job.Resubmits >= t.settings.MaxResubmits {
		return job, nil
	}

	next := job.Clone()
	next.Status = domain.StatusResubmitted
	next.Resubmits++
	if err := t.store.UpdateStatus(ctx, next, domain.StatusFailed); err != nil {
		return job, fmt.Errorf("resubmit job %d: %w", job.ID, err)
	}

	t.metrics.RecordTransition(string(domain.StatusFailed), string(domain.StatusResubmitted))
	t.log.Info("Job resubmitted",
		logger.Int64("job_id", job.ID),
		logger.Int("resubmits", next.Resubmits),
	)
	return next, nil
}

func (t *Tracker) recordHistory(ctx context.Context, job *domain.Job, report domain.CompletionReport) {
	if t.history == nil {
		return
	}

	completedAt := t.now().UTC()
	if job.FinishedAt != nil {
		completedAt = *job.FinishedAt
	}

	parts := apportion(job, report)
	for i, key := range job.Configs {
		summary := domain.HarvestSummary{
			Bytes:       parts[i].Bytes,
			Objects:     parts[i].Objects,
			CompletedAt: completedAt,
		}
		if err := t.history.RecordHarvest(ctx, job.ID, key, summary); err != nil {
			t.metrics.RecordHistory(false)
			t.log.Error("Failed to record harvest history",
				logger.Int64("job_id", job.ID),
				logger.String("config", key.String()),
				logger.Error(err),
			)
			continue
		}
		t.metrics.RecordHistory(true)
	}
}

func failWith(reason string) func(job *domain.Job, now time.Time) {
	return func(job *domain.Job, now time.Time) {
		job.Status = domain.StatusFailed
		job.FinishedAt = &now
		job.FailureReason = reason
	}
}
