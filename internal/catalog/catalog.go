// Package catalog reads harvest definitions and their pending domain
// configurations from the backing catalog, and records completed harvests.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// ErrDefinitionNotFound is returned when a harvest definition does not exist.
var ErrDefinitionNotFound = errors.New("harvest definition not found")

// Cursor is a position in a definition's pending pool. The zero value is the
// start. AsOf pins the history used for ordering to the first page's read
// time, so summaries recorded mid-pass do not reshuffle later pages.
type Cursor struct {
	Offset int
	AsOf   time.Time
}

// Batch is one page of the pending pool.
type Batch struct {
	Configs []domain.DomainConfiguration
	Next    Cursor
	Done    bool
}

// Source serves the pending pool of a harvest definition in pages. Pages must
// follow the canonical packing order: descending expected size in the active
// metric, ties by configuration key.
type Source interface {
	NextBatch(ctx context.Context, harvestID int64, cursor Cursor, size int) (Batch, error)
}

// Definitions reads and advances harvest definitions.
type Definitions interface {
	// ReadyDefinitions returns active definitions due at or before now.
	ReadyDefinitions(ctx context.Context, now time.Time) ([]domain.HarvestDefinition, error)
	// FinishGeneration records the outcome of a pass for a definition.
	FinishGeneration(ctx context.Context, id int64, nextRun *time.Time, active bool) error
}

// HistoryRecorder stores completed-harvest summaries, which feed later estimates.
type HistoryRecorder interface {
	RecordHarvest(ctx context.Context, jobID int64, key domain.ConfigKey, summary domain.HarvestSummary) error
}

// Batches is a restartable pull iterator over a Source.
type Batches struct {
	src       Source
	harvestID int64
	size      int
	cursor    Cursor
	done      bool
}

// NewBatches iterates the pool of harvestID in pages of size.
func NewBatches(src Source, harvestID int64, size int) *Batches {
	if size <= 0 {
		size = 1
	}
	return &Batches{src: src, harvestID: harvestID, size: size}
}

// Next returns the next non-empty page. ok is false once the pool is exhausted.
func (b *Batches) Next(ctx context.Context) ([]domain.DomainConfiguration, bool, error) {
	for !b.done {
		batch, err := b.src.NextBatch(ctx, b.harvestID, b.cursor, b.size)
		if err != nil {
			return nil, false, err
		}
		b.cursor = batch.Next
		b.done = batch.Done
		if len(batch.Configs) > 0 {
			return batch.Configs, true, nil
		}
	}
	return nil, false, nil
}

// Reset rewinds the iterator to the start of the pool.
func (b *Batches) Reset() {
	b.cursor = Cursor{}
	b.done = false
}
