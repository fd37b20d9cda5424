// Package estimate predicts how much a domain configuration will download on its next harvest.
package estimate

import (
	"math"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// Provenance records how an estimate was derived.
type Provenance string

const (
	FromHistory Provenance = "FROM_HISTORY"
	BestGuess   Provenance = "BEST_GUESS"
)

// Metric selects which dimension of an estimate drives packing.
type Metric int

const (
	MetricBytes Metric = iota
	MetricObjects
)

func (m Metric) String() string {
	if m == MetricObjects {
		return "objects"
	}
	return "bytes"
}

// MetricFor returns the active metric for the split-by-object-limit setting.
func MetricFor(splitByObjectLimit bool) Metric {
	if splitByObjectLimit {
		return MetricObjects
	}
	return MetricBytes
}

// SizeEstimate is an expected download size. Both counts are always >= 0.
type SizeEstimate struct {
	Bytes      int64
	Objects    int64
	Provenance Provenance
}

// Size returns the estimate in the given metric.
func (e SizeEstimate) Size(m Metric) int64 {
	if m == MetricObjects {
		return e.Objects
	}
	return e.Bytes
}

// AsSize drops the provenance.
func (e SizeEstimate) AsSize() domain.Size {
	return domain.Size{Bytes: e.Bytes, Objects: e.Objects}
}

// Settings are the calibration constants of the estimator.
type Settings struct {
	ErrorFactorPrevResult         float64
	ErrorFactorBestGuess          float64
	ExpectedAverageBytesPerObject int64
	MaxDomainSizeGuess            int64
}

// SettingsFromConfig extracts estimator settings from the job generation config.
func SettingsFromConfig(cfg config.JobGenConfig) Settings {
	return Settings{
		ErrorFactorPrevResult:         cfg.ErrorFactorPrevResult,
		ErrorFactorBestGuess:          cfg.ErrorFactorBestGuess,
		ExpectedAverageBytesPerObject: cfg.ExpectedAverageBytesPerObject,
		MaxDomainSizeGuess:            cfg.MaxDomainSizeGuess,
	}
}

// Estimator is a pure function of a configuration and its history.
type Estimator struct {
	settings Settings
}

// New returns an estimator using s.
func New(s Settings) *Estimator {
	return &Estimator{settings: s}
}

// Estimate never fails. A configuration without history falls back to the best guess.
func (e *Estimator) Estimate(cfg *domain.DomainConfiguration) SizeEstimate {
	var est SizeEstimate

	if last, ok := cfg.LastHarvest(); ok {
		est = SizeEstimate{
			Bytes:      scale(float64(last.Bytes), e.settings.ErrorFactorPrevResult),
			Objects:    scale(float64(last.Objects), e.settings.ErrorFactorPrevResult),
			Provenance: FromHistory,
		}
	} else {
		guess := float64(e.settings.MaxDomainSizeGuess)
		est = SizeEstimate{
			Bytes:      scale(float64(e.settings.ExpectedAverageBytesPerObject)*guess, e.settings.ErrorFactorBestGuess),
			Objects:    scale(guess, e.settings.ErrorFactorBestGuess),
			Provenance: BestGuess,
		}
	}

	// A configured ceiling cannot be exceeded in practice, so it is not budgeted for.
	if cfg.MaxBytes >= 0 && cfg.MaxBytes < est.Bytes {
		est.Bytes = cfg.MaxBytes
	}
	if cfg.MaxObjects >= 0 && cfg.MaxObjects < est.Objects {
		est.Objects = cfg.MaxObjects
	}
	return est
}

// scale multiplies, truncates toward zero and clamps into [0, MaxInt64].
func scale(v, factor float64) int64 {
	p := v * factor
	switch {
	case math.IsNaN(p) || p <= 0:
		return 0
	case p >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(p)
	}
}
