package jobgen

import (
	"cmp"
	"slices"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
)

// Order sorts candidates by descending size in the active metric, ties broken
// by configuration key. The sort is stable.
func Order(cands []Candidate, metric estimate.Metric) {
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(b.Estimate.Size(metric), a.Estimate.Size(metric)); c != 0 {
			return c
		}
		return a.Config.Key.Compare(b.Config.Key)
	})
}

// SortConfigs puts a whole pool into the canonical packing order. Sources that
// serve batches in this order give batch-size independent results.
func SortConfigs(cfgs []domain.DomainConfiguration, est *estimate.Estimator, metric estimate.Metric) {
	sizes := make(map[domain.ConfigKey]int64, len(cfgs))
	for i := range cfgs {
		sizes[cfgs[i].Key] = est.Estimate(&cfgs[i]).Size(metric)
	}
	slices.SortStableFunc(cfgs, func(a, b domain.DomainConfiguration) int {
		if c := cmp.Compare(sizes[b.Key], sizes[a.Key]); c != 0 {
			return c
		}
		return a.Key.Compare(b.Key)
	})
}
