// Package scheduler drives periodic job generation: on every firing it packs
// the pools of due harvest definitions into jobs, advances the definitions
// and dispatches pending jobs. A second periodic task runs the timeout sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/catalog"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/dispatch"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
)

const (
	defaultPeriod        = time.Minute
	defaultSweepInterval = time.Minute
	finishTimeout        = 10 * time.Second
)

// ErrAlreadyStarted is returned by Start on a running loop.
var ErrAlreadyStarted = errors.New("scheduler already started")

// PassResult summarises one scheduling pass.
type PassResult struct {
	Definitions int
	Failed      int
	Jobs        int
	Dispatch    dispatch.Report
}

// Loop is the periodic driver.
type Loop struct {
	definitions catalog.Definitions
	generator   *Generator
	tracker     *lifecycle.Tracker
	dispatcher  *dispatch.Dispatcher

	period        time.Duration
	sweepInterval time.Duration
	runOnStart    bool
	now           func() time.Time
	log           logger.Logger
	metrics       *metrics.Metrics

	mu      sync.Mutex
	passMu  sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// Option customises a Loop.
type Option func(*Loop)

// WithPeriod sets the generation period.
func WithPeriod(d time.Duration) Option {
	return func(l *Loop) {
		l.period = d
	}
}

// WithSweepInterval sets how often the timeout sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.sweepInterval = d
	}
}

// WithRunOnStart triggers a pass as soon as the loop starts.
func WithRunOnStart(enabled bool) Option {
	return func(l *Loop) {
		l.runOnStart = enabled
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// NewLoop creates a loop.
func NewLoop(
	definitions catalog.Definitions,
	generator *Generator,
	tracker *lifecycle.Tracker,
	dispatcher *dispatch.Dispatcher,
	opts ...Option,
) *Loop {
	l := &Loop{
		definitions:   definitions,
		generator:     generator,
		tracker:       tracker,
		dispatcher:    dispatcher,
		period:        defaultPeriod,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		log:           logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(logger.Component("scheduler"))
	return l
}

// Start registers the periodic tasks and starts firing them. Overlapping
// firings of the same task are skipped, so no two passes run at once.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cron != nil {
		return ErrAlreadyStarted
	}

	cronLog := logger.NewCronLogger(l.log)
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	l.ctx, l.cancel = context.WithCancel(ctx)
	runCtx := l.ctx

	if _, err := c.AddFunc(every(l.period), func() { l.firePass(runCtx) }); err != nil {
		l.cancel()
		return fmt.Errorf("schedule generation: %w", err)
	}
	if _, err := c.AddFunc(every(l.sweepInterval), func() { l.fireSweep(runCtx) }); err != nil {
		l.cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}

	l.cron = c
	c.Start()

	l.log.Info("Scheduler started",
		logger.Duration("period", l.period),
		logger.Duration("sweep_interval", l.sweepInterval),
	)

	if l.runOnStart {
		l.running.Add(1)
		go func() {
			defer l.running.Done()
			l.firePass(runCtx)
		}()
	}
	return nil
}

// Stop cancels in-flight work and waits for running tasks, or for ctx.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	c := l.cron
	cancel := l.cancel
	l.cron = nil
	l.mu.Unlock()

	if c == nil {
		return nil
	}

	l.log.Info("Stopping scheduler")
	cancel()
	stopped := c.Stop()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		l.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (l *Loop) firePass(ctx context.Context) {
	if _, err := l.RunPass(ctx); err != nil && ctx.Err() == nil {
		l.log.Error("Scheduling pass failed", logger.Error(err))
	}
}

func (l *Loop) fireSweep(ctx context.Context) {
	failed, err := l.tracker.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Error("Timeout sweep failed", logger.Error(err))
		}
		return
	}
	if failed > 0 {
		l.log.Info("Timeout sweep failed jobs", logger.Int("count", failed))
	}
}

// RunPass runs one scheduling pass: generate jobs for every due definition,
// advance the definitions, then dispatch pending jobs. Passes are serialised.
func (l *Loop) RunPass(ctx context.Context) (PassResult, error) {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	start := time.Now()
	result, err := l.runPass(ctx)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	l.metrics.RecordPass(outcome, time.Since(start).Seconds())
	return result, err
}

func (l *Loop) runPass(ctx context.Context) (PassResult, error) {
	var result PassResult

	now := l.now()
	defs, err := l.definitions.ReadyDefinitions(ctx, now)
	if err != nil {
		return result, fmt.Errorf("read ready definitions: %w", err)
	}

	for i := range defs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		def := &defs[i]
		result.Definitions++

		stats, genErr := l.generator.Generate(ctx, def, l.tracker.Register)
		result.Jobs += stats.Jobs
		if genErr != nil {
			result.Failed++
			l.metrics.RecordDefinition(string(def.Kind), "failed")
			l.log.Error("Job generation failed, deactivating harvest definition",
				logger.Int64("harvest_id", def.ID),
				logger.String("harvest", def.Name),
				logger.Int("jobs_registered", stats.Jobs),
				logger.Error(genErr),
			)
			// Regenerating a half-packed pool would duplicate the jobs
			// already registered, so the definition is switched off.
			l.finish(ctx, def.ID, nil, false)
			continue
		}

		next, active, schedErr := advance(def, now)
		if schedErr != nil {
			l.log.Error("Invalid schedule, deactivating harvest definition",
				logger.Int64("harvest_id", def.ID),
				logger.String("schedule", def.Schedule),
				logger.Error(schedErr),
			)
		}
		l.metrics.RecordDefinition(string(def.Kind), "ok")
		l.finish(ctx, def.ID, next, active)
	}

	report, err := l.dispatcher.DispatchPending(ctx)
	result.Dispatch = report
	if err != nil {
		return result, fmt.Errorf("dispatch pending jobs: %w", err)
	}

	if result.Definitions > 0 || report.Submitted > 0 {
		l.log.Info("Scheduling pass finished",
			logger.Int("definitions", result.Definitions),
			logger.Int("failed", result.Failed),
			logger.Int("jobs", result.Jobs),
			logger.Int("submitted", report.Submitted),
			logger.Int("postponed", report.Postponed),
		)
	}
	return result, nil
}

// finish records a definition's new state. It runs even when ctx is already
// cancelled so a definition is never left due after its jobs were registered.
func (l *Loop) finish(ctx context.Context, id int64, next *time.Time, active bool) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := l.definitions.FinishGeneration(writeCtx, id, next, active); err != nil {
		l.log.Error("Failed to update harvest definition",
			logger.Int64("harvest_id", id),
			logger.Error(err),
		)
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
