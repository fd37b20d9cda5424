// Package dispatch hands READY jobs to their harvest channel.
package dispatch

//go:generate mockgen -source=dispatcher.go -destination=../testutils/mocks/mock_dispatch.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/retry"
)

// ErrTransientDispatch marks a submission that failed for a reason expected
// to clear up. The job stays dispatchable and is retried next pass.
var ErrTransientDispatch = errors.New("transient dispatch failure")

// Queue is the abstract job queue.
type Queue interface {
	Submit(ctx context.Context, job *domain.Job) (string, error)
}

// WorkerRegistry answers how many workers currently serve a channel.
type WorkerRegistry interface {
	WorkersRegistered(ctx context.Context, channel string) (int, error)
}

// Outcome is the result of dispatching one job.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomePostponed Outcome = "postponed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// DispatchError wraps the cause of a failed submission together with
// ErrTransientDispatch.
type DispatchError struct {
	JobID   int64
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch job %d to %s: %v", e.JobID, e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrTransientDispatch, e.Err}
}

// Report tallies one dispatch round.
type Report struct {
	Submitted int
	Postponed int
	Failed    int
	Skipped   int
	Errors    []error
}

func (r *Report) add(o Outcome, err error) {
	switch o {
	case OutcomeSubmitted:
		r.Submitted++
	case OutcomePostponed:
		r.Postponed++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// Settings configures the dispatcher.
type Settings struct {
	// Postpone keeps jobs READY while their channel has no workers. When
	// false they are submitted regardless.
	Postpone bool
	Retry    retry.Policy
}

// SettingsFromConfig derives dispatcher settings from configuration.
func SettingsFromConfig(jobgen config.JobGenConfig, sched config.SchedulerConfig) Settings {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = sched.DispatchRetryAttempts
	policy.InitialDelay = sched.DispatchRetryDelay
	return Settings{
		Postpone: jobgen.PostponeUnregisteredChannel,
		Retry:    policy,
	}
}

// Dispatcher submits dispatchable jobs and records the hand-off with the
// lifecycle tracker.
type Dispatcher struct {
	queue    Queue
	registry WorkerRegistry
	tracker  *lifecycle.Tracker
	settings Settings
	log      logger.Logger
	metrics  *metrics.Metrics
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher.
func New(queue Queue, registry WorkerRegistry, tracker *lifecycle.Tracker, settings Settings, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		registry: registry,
		tracker:  tracker,
		settings: settings,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.Component("dispatch"))
	return d
}

// DispatchPending dispatches every READY or RESUBMITTED job in the store.
func (d *Dispatcher) DispatchPending(ctx context.Context) (Report, error) {
	jobs, err := d.tracker.Store().List(ctx, domain.JobFilter{
		Statuses: []domain.JobStatus{domain.StatusReady, domain.StatusResubmitted},
	})
	if err != nil {
		return Report{}, fmt.Errorf("list pending jobs: %w", err)
	}
	return d.Dispatch(ctx, jobs)
}

// Dispatch tries to submit each job in order. Per-job failures land in the
// report; the returned error is only set when ctx ends.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []*domain.Job) (Report, error) {
	var report Report
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := d.dispatchOne(ctx, job)
		report.add(outcome, err)
		d.metrics.RecordDispatch(job.Channel, string(outcome))
	}

	if report.Submitted+report.Postponed+report.Failed > 0 {
		d.log.Info("Dispatch round finished",
			logger.Int("submitted", report.Submitted),
			logger.Int("postponed", report.Postponed),
			logger.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, job *domain.Job) (Outcome, error) {
	if !lifecycle.IsDispatchable(job.Status) {
		return OutcomeSkipped, nil
	}

	workers, err := d.registry.WorkersRegistered(ctx, job.Channel)
	if err != nil {
		return OutcomeFailed, &DispatchError{JobID: job.ID, Channel: job.Channel, Err: err}
	}
	if workers == 0 {
		if d.settings.Postpone {
			d.log.Debug("Channel has no workers, postponing job",
				logger.Int64("job_id", job.ID),
				logger.String("channel", job.Channel),
			)
			return OutcomePostponed, nil
		}
		d.log.Warn("Submitting to channel without workers",
			logger.Int64("job_id", job.ID),
			logger.String("channel", job.Channel),
		)
	}

	policy := d.settings.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		d.log.Warn("Submit failed, retrying",
			logger.Int64("job_id", job.ID),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
	}

	// The job is SUBMITTED before a worker can read it, so a started signal
	// racing the stream write always finds the status it expects.
	prev := job.Clone()
	if err = d.tracker.MarkSubmitted(ctx, job); err != nil {
		d.log.Error("Failed to mark job submitted",
			logger.Int64("job_id", job.ID),
			logger.Error(err),
		)
		return OutcomeFailed, fmt.Errorf("mark job %d submitted: %w", job.ID, err)
	}

	var messageID string
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		id, submitErr := d.queue.Submit(ctx, job)
		messageID = id
		return submitErr
	})
	if err != nil {
		dispatchErr := &DispatchError{JobID: job.ID, Channel: job.Channel, Err: err}
		d.log.Error("Failed to dispatch job", logger.Error(dispatchErr))
		if releaseErr := d.tracker.ReleaseSubmitted(context.WithoutCancel(ctx), job, prev); releaseErr != nil {
			d.log.Error("Failed to release unsubmitted job",
				logger.Int64("job_id", job.ID),
				logger.Error(releaseErr),
			)
		}
		return OutcomeFailed, dispatchErr
	}

	d.log.Debug("Job submitted",
		logger.Int64("job_id", job.ID),
		logger.String("channel", job.Channel),
		logger.String("stream_id", messageID),
		logger.Int("workers", workers),
	)
	return OutcomeSubmitted, nil
}
