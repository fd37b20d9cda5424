package jobgen

import "github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"

// FixedCountOptions configures FixedCount. A cap of zero or less means unlimited.
type FixedCountOptions struct {
	SnapshotCap       int
	FocusedCap        int
	ExcludeZeroBudget bool
}

// FixedCount groups a fixed number of configurations per job and ignores size.
type FixedCount struct {
	opts FixedCountOptions
}

// NewFixedCount returns a fixed-cardinality strategy.
func NewFixedCount(opts FixedCountOptions) *FixedCount {
	return &FixedCount{opts: opts}
}

// Name implements Strategy.
func (f *FixedCount) Name() string { return "fixed_count" }

// Skip leaves out suspended (zero-budget) configurations when configured to.
func (f *FixedCount) Skip(c Candidate) bool {
	return f.opts.ExcludeZeroBudget && c.Config.ZeroBudget()
}

// Offer implements Strategy.
func (f *FixedCount) Offer(c Candidate, open *domain.Job) Decision {
	if isEmpty(open) {
		return AddToOpenJob
	}
	if !admits(c, open) {
		return CloseAndStartNew
	}
	if limit := f.capFor(open.Kind); limit > 0 && len(open.Configs) >= limit {
		return CloseAndStartNew
	}
	return AddToOpenJob
}

func (f *FixedCount) capFor(kind domain.HarvestKind) int {
	if kind == domain.KindSnapshot {
		return f.opts.SnapshotCap
	}
	return f.opts.FocusedCap
}
