package bootstrap

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/catalog"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/dispatch"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/jobgen"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/scheduler"
)

// Packing bundles what job generation needs, independent of storage.
type Packing struct {
	Estimator *estimate.Estimator
	Metric    estimate.Metric
	Strategy  jobgen.Strategy
}

// NewPacking builds the estimator and strategy described by cfg.
func NewPacking(cfg config.JobGenConfig) (*Packing, error) {
	strategy, err := jobgen.NewStrategy(cfg)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	return &Packing{
		Estimator: estimate.New(estimate.SettingsFromConfig(cfg)),
		Metric:    estimate.MetricFor(cfg.SplitByObjectLimit),
		Strategy:  strategy,
	}, nil
}

// Order sorts a pool into canonical packing order. In-memory catalogs use it
// so their pages match what the Postgres catalog serves.
func (p *Packing) Order(cfgs []domain.DomainConfiguration) {
	jobgen.SortConfigs(cfgs, p.Estimator, p.Metric)
}

// NewGenerator wires a generator over source, taking job ids from ids.
func (p *Packing) NewGenerator(
	cfg config.JobGenConfig,
	source catalog.Source,
	ids jobgen.IDSequence,
	log logger.Logger,
	m *metrics.Metrics,
) *scheduler.Generator {
	accumulator := jobgen.NewAccumulator(p.Strategy, p.Estimator, p.Metric, ids, jobgen.WithLogger(log))
	return scheduler.NewGenerator(scheduler.GeneratorConfig{
		Accumulator:       accumulator,
		Strategy:          p.Strategy.Name(),
		Source:            source,
		Channels:          dispatch.ChannelMapFromConfig(cfg),
		BatchSize:         cfg.DomainConfigSubsetSize,
		MaxTimeToComplete: cfg.MaxTimeToComplete,
		Logger:            log,
		Metrics:           m,
	})
}
