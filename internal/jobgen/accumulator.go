package jobgen

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

// BatchIterator yields the pending pool in bounded batches. ok is false once
// the pool is exhausted.
type BatchIterator interface {
	Next(ctx context.Context) (batch []domain.DomainConfiguration, ok bool, err error)
}

// IDSequence hands out job ids.
type IDSequence interface {
	NextJobID(ctx context.Context) (int64, error)
}

// EmitFunc receives each job as it becomes READY.
type EmitFunc func(ctx context.Context, job *domain.Job) error

// Target describes the jobs a run produces: which harvest they belong to,
// where they go and the budgets frozen onto them.
type Target struct {
	HarvestID      int64
	Kind           domain.HarvestKind
	Channel        string
	MaxBytes       int64
	MaxObjects     int64
	MaxRunningTime time.Duration
}

// Stats summarises one run.
type Stats struct {
	Configs int
	Skipped int
	Jobs    int
	// Oversized counts single-member jobs whose expected size exceeds the
	// strategy's budget.
	Oversized int
}

// Accumulator is the stateful packing engine. It keeps one open job across
// batch boundaries so the result does not depend on the batch size.
type Accumulator struct {
	strategy  Strategy
	estimator *estimate.Estimator
	metric    estimate.Metric
	ids       IDSequence
	now       func() time.Time
	log       logger.Logger
}

// AccumulatorOption customises an Accumulator.
type AccumulatorOption func(*Accumulator)

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) AccumulatorOption {
	return func(a *Accumulator) {
		a.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) AccumulatorOption {
	return func(a *Accumulator) {
		a.log = log
	}
}

// NewAccumulator builds an accumulator.
func NewAccumulator(
	strategy Strategy,
	estimator *estimate.Estimator,
	metric estimate.Metric,
	ids IDSequence,
	opts ...AccumulatorOption,
) *Accumulator {
	a := &Accumulator{
		strategy:  strategy,
		estimator: estimator,
		metric:    metric,
		ids:       ids,
		now:       time.Now,
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run drains batches and emits READY jobs in sort-then-pack order. The open
// job is flushed when the pool is exhausted. A failing emit stops the run.
func (a *Accumulator) Run(ctx context.Context, target Target, batches BatchIterator, emit EmitFunc) (Stats, error) {
	var (
		stats Stats
		open  *domain.Job
	)

	closeOpen := func() error {
		if open == nil {
			return nil
		}
		job := open
		open = nil
		job.Status = domain.StatusReady
		stats.Jobs++
		if a.oversized(job) {
			stats.Oversized++
			a.log.Info("Oversized configuration gets a dedicated job",
				logger.Int64("job_id", job.ID),
				logger.String("config", job.Configs[0].String()),
				logger.Int64("expected_size", a.size(job)),
			)
		}
		a.log.Debug("Job closed",
			logger.Int64("job_id", job.ID),
			logger.Int("configs", len(job.Configs)),
			logger.Int64("expected_bytes", job.ExpectedBytes),
			logger.Int64("expected_objects", job.ExpectedObjects),
		)
		if err := emit(ctx, job); err != nil {
			return fmt.Errorf("emit job %d: %w", job.ID, err)
		}
		return nil
	}

	for {
		batch, ok, err := batches.Next(ctx)
		if err != nil {
			return stats, fmt.Errorf("read batch: %w", err)
		}
		if !ok {
			break
		}

		cands := make([]Candidate, 0, len(batch))
		for i := range batch {
			c := Candidate{Config: &batch[i], Estimate: a.estimator.Estimate(&batch[i])}
			if a.strategy.Skip(c) {
				stats.Skipped++
				continue
			}
			cands = append(cands, c)
		}
		Order(cands, a.metric)

		for _, c := range cands {
			if open != nil && a.strategy.Offer(c, open) == CloseAndStartNew {
				if err = closeOpen(); err != nil {
					return stats, err
				}
			}
			if open == nil {
				if open, err = a.newJob(ctx, target, c); err != nil {
					return stats, err
				}
			}
			open.Add(c.Config.Key, c.Estimate.AsSize())
			stats.Configs++
		}
	}

	if err := closeOpen(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (a *Accumulator) oversized(job *domain.Job) bool {
	budgeted, ok := a.strategy.(Budgeted)
	return ok && len(job.Configs) == 1 && a.size(job) > budgeted.Budget()
}

func (a *Accumulator) size(job *domain.Job) int64 {
	if a.metric == estimate.MetricObjects {
		return job.ExpectedObjects
	}
	return job.ExpectedBytes
}

func (a *Accumulator) newJob(ctx context.Context, target Target, seed Candidate) (*domain.Job, error) {
	id, err := a.ids.NextJobID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate job id: %w", err)
	}
	return &domain.Job{
		ID:             id,
		HarvestID:      target.HarvestID,
		Kind:           target.Kind,
		Channel:        target.Channel,
		Template:       seed.Config.Template,
		MaxBytes:       target.MaxBytes,
		MaxObjects:     target.MaxObjects,
		MaxRunningTime: target.MaxRunningTime,
		Status:         domain.StatusCreated,
		CreatedAt:      a.now().UTC(),
	}, nil
}
