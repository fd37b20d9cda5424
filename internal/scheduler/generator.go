package scheduler

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/catalog"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/dispatch"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/jobgen"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
)

// Generator packs the pending pool of one harvest definition into jobs.
type Generator struct {
	accumulator *jobgen.Accumulator
	strategy    string
	source      catalog.Source
	channels    dispatch.ChannelMap
	batchSize   int
	// maxTimeToComplete applies when a definition sets no running time.
	maxTimeToComplete time.Duration
	log               logger.Logger
	metrics           *metrics.Metrics
}

// GeneratorConfig collects a Generator's dependencies.
type GeneratorConfig struct {
	Accumulator       *jobgen.Accumulator
	Strategy          string
	Source            catalog.Source
	Channels          dispatch.ChannelMap
	BatchSize         int
	MaxTimeToComplete time.Duration
	Logger            logger.Logger
	Metrics           *metrics.Metrics
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Generator{
		accumulator:       cfg.Accumulator,
		strategy:          cfg.Strategy,
		source:            cfg.Source,
		channels:          cfg.Channels,
		batchSize:         cfg.BatchSize,
		maxTimeToComplete: cfg.MaxTimeToComplete,
		log:               log.With(logger.Component("generator")),
		metrics:           cfg.Metrics,
	}
}

// Target returns the job template for def.
func (g *Generator) Target(def *domain.HarvestDefinition) jobgen.Target {
	running := def.MaxJobRunningTime
	if running <= 0 {
		running = g.maxTimeToComplete
	}
	return jobgen.Target{
		HarvestID:      def.ID,
		Kind:           def.Kind,
		Channel:        g.channels.ChannelFor(def),
		MaxBytes:       def.MaxBytes,
		MaxObjects:     def.MaxObjects,
		MaxRunningTime: running,
	}
}

// Generate packs def's pool and hands every READY job to emit.
func (g *Generator) Generate(ctx context.Context, def *domain.HarvestDefinition, emit jobgen.EmitFunc) (jobgen.Stats, error) {
	target := g.Target(def)
	batches := catalog.NewBatches(g.source, def.ID, g.batchSize)

	start := time.Now()
	stats, err := g.accumulator.Run(ctx, target, batches, emit)
	g.metrics.RecordGeneration(string(def.Kind), g.strategy, stats.Jobs, stats.Configs, stats.Skipped)
	g.metrics.RecordOversized(string(def.Kind), stats.Oversized)
	if err != nil {
		return stats, err
	}

	g.log.Info("Jobs generated",
		logger.Int64("harvest_id", def.ID),
		logger.String("harvest", def.Name),
		logger.String("channel", target.Channel),
		logger.Int("jobs", stats.Jobs),
		logger.Int("configs", stats.Configs),
		logger.Int("skipped", stats.Skipped),
		logger.Int("oversized", stats.Oversized),
		logger.Duration("took", time.Since(start)),
	)
	return stats, nil
}
