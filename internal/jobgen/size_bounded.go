package jobgen

import (
	"math"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
)

// SizeBoundedOptions configures SizeBounded.
type SizeBoundedOptions struct {
	Metric                    estimate.Metric
	MaxTotalJobSize           int64
	MaxRelativeSizeDifference float64
	MinAbsoluteSizeDifference int64
	// RequireBoth splits only when both the relative and the absolute
	// difference exceed their thresholds. When false either one suffices.
	RequireBoth bool
	// SnapshotConfigCap bounds the member count of snapshot jobs. Zero or less disables it.
	SnapshotConfigCap int
}

// SizeBounded packs configurations of similar size into jobs whose accumulated
// expected size stays under a budget.
type SizeBounded struct {
	opts SizeBoundedOptions
}

// NewSizeBounded returns a size-bounded strategy.
func NewSizeBounded(opts SizeBoundedOptions) *SizeBounded {
	return &SizeBounded{opts: opts}
}

// Name implements Strategy.
func (s *SizeBounded) Name() string { return "size_bounded" }

// Budget implements Budgeted.
func (s *SizeBounded) Budget() int64 { return s.opts.MaxTotalJobSize }

// Skip implements Strategy. Every configuration is packed.
func (s *SizeBounded) Skip(Candidate) bool { return false }

// Offer implements Strategy.
func (s *SizeBounded) Offer(c Candidate, open *domain.Job) Decision {
	// An empty job always takes the candidate, however large.
	if isEmpty(open) {
		return AddToOpenJob
	}
	if !admits(c, open) {
		return CloseAndStartNew
	}
	members := len(open.Configs)
	if open.Kind == domain.KindSnapshot && s.opts.SnapshotConfigCap > 0 && members >= s.opts.SnapshotConfigCap {
		return CloseAndStartNew
	}

	size := c.Estimate.Size(s.opts.Metric)
	accumulated := s.accumulated(open)
	if addSaturating(accumulated, size) > s.opts.MaxTotalJobSize {
		return CloseAndStartNew
	}

	average := float64(accumulated) / float64(members)
	absolute := math.Abs(float64(size) - average)
	relative := absolute / math.Max(math.Max(float64(size), average), 1)

	tooRelative := relative > s.opts.MaxRelativeSizeDifference
	tooAbsolute := absolute > float64(s.opts.MinAbsoluteSizeDifference)

	var dissimilar bool
	if s.opts.RequireBoth {
		dissimilar = tooRelative && tooAbsolute
	} else {
		dissimilar = tooRelative || tooAbsolute
	}
	if dissimilar {
		return CloseAndStartNew
	}
	return AddToOpenJob
}

func (s *SizeBounded) accumulated(job *domain.Job) int64 {
	if s.opts.Metric == estimate.MetricObjects {
		return job.ExpectedObjects
	}
	return job.ExpectedBytes
}

func addSaturating(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
