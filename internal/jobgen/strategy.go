// Package jobgen packs domain configurations into jobs.
package jobgen

import (
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
)

// ErrUnknownStrategy is returned for an unrecognised strategy name.
var ErrUnknownStrategy = errors.New("unknown job generation strategy")

// Decision is a strategy's verdict on a candidate configuration.
type Decision int

const (
	// AddToOpenJob places the candidate in the open job.
	AddToOpenJob Decision = iota
	// CloseAndStartNew closes the open job and starts a new one with the candidate.
	CloseAndStartNew
)

func (d Decision) String() string {
	if d == CloseAndStartNew {
		return "close_and_start_new"
	}
	return "add_to_open_job"
}

// Candidate is a configuration together with its size estimate.
type Candidate struct {
	Config   *domain.DomainConfiguration
	Estimate estimate.SizeEstimate
}

// Strategy decides job boundaries. Implementations must not mutate the open job.
type Strategy interface {
	Name() string
	// Skip reports whether the candidate is left out of every job.
	Skip(c Candidate) bool
	// Offer decides where the candidate goes. open is nil when no job is open.
	Offer(c Candidate, open *domain.Job) Decision
}

// Budgeted is implemented by strategies that bound the expected size of a job
// in the active metric.
type Budgeted interface {
	Budget() int64
}

// NewStrategy builds the strategy named in cfg.
func NewStrategy(cfg config.JobGenConfig) (Strategy, error) {
	metric := estimate.MetricFor(cfg.SplitByObjectLimit)

	switch cfg.Strategy {
	case config.StrategySizeBounded:
		return NewSizeBounded(SizeBoundedOptions{
			Metric:                    metric,
			MaxTotalJobSize:           cfg.MaxTotalJobSize,
			MaxRelativeSizeDifference: cfg.MaxRelativeSizeDifference,
			MinAbsoluteSizeDifference: cfg.MinAbsoluteSizeDifference,
			RequireBoth:               cfg.SizeDifferenceRule != config.RuleOr,
			SnapshotConfigCap:         cfg.FixedConfigCountSnapshot,
		}), nil
	case config.StrategyFixedCount:
		return NewFixedCount(FixedCountOptions{
			SnapshotCap:       cfg.FixedConfigCountSnapshot,
			FocusedCap:        cfg.FixedConfigCountFocused,
			ExcludeZeroBudget: cfg.ExcludeZeroBudgetDomains,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
}

func isEmpty(open *domain.Job) bool {
	return open == nil || len(open.Configs) == 0
}

// admits applies the rules every strategy shares: one configuration per
// domain in a job, and one template per job.
func admits(c Candidate, open *domain.Job) bool {
	if open.ContainsDomain(c.Config.Key.Domain) {
		return false
	}
	return open.Template == c.Config.Template
}
