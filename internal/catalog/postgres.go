package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
)

// Postgres is the catalog backed by the harvest database.
type Postgres struct {
	db        *sqlx.DB
	metric    estimate.Metric
	settings  estimate.Settings
	bestGuess estimate.SizeEstimate
	now       func() time.Time
}

// NewPostgres returns a catalog that orders pools the way est would, in metric.
func NewPostgres(db *sqlx.DB, settings estimate.Settings, metric estimate.Metric) *Postgres {
	unknown := domain.DomainConfiguration{MaxBytes: domain.Unbounded, MaxObjects: domain.Unbounded}
	return &Postgres{
		db:        db,
		metric:    metric,
		settings:  settings,
		bestGuess: estimate.New(settings).Estimate(&unknown),
		now:       time.Now,
	}
}

// The ORDER BY expression mirrors estimate.Estimator so pages come out in
// canonical packing order: the last harvest times the error factor, else the
// best guess, capped by the configured limit. The estimator clamps at
// MaxInt64 where float8 does not, which only matters for sizes past that.
//
// Summaries sharing a completed_at are broken by insertion order (h.id), the
// same summary DomainConfiguration.LastHarvest picks from an append-ordered
// history.
const expectedSizeExpr = `
	CASE WHEN %[1]s >= 0 THEN LEAST(%[1]s::float8, %[2]s) ELSE %[2]s END`

const lastOrGuessExpr = `
	CASE WHEN %[1]s IS NULL THEN $4::float8
	     ELSE GREATEST(FLOOR(%[1]s::float8 * $3::float8), 0) END`

const nextBatchQuery = `
	WITH pool AS (
		SELECT dc.domain_name, dc.config_name, dc.seed_list, dc.template,
		       COALESCE(dc.max_bytes, -1)   AS max_bytes,
		       COALESCE(dc.max_objects, -1) AS max_objects,
		       last.bytes        AS last_bytes,
		       last.objects      AS last_objects,
		       last.completed_at AS last_completed_at
		FROM harvest_definition_configs hdc
		JOIN domain_configurations dc
		  ON dc.domain_name = hdc.domain_name AND dc.config_name = hdc.config_name
		LEFT JOIN LATERAL (
			SELECT h.bytes, h.objects, h.completed_at
			FROM harvest_history h
			WHERE h.domain_name = dc.domain_name
			  AND h.config_name = dc.config_name
			  AND h.recorded_at <= $2
			ORDER BY h.completed_at DESC, h.id
			LIMIT 1
		) last ON TRUE
		WHERE hdc.harvest_id = $1
	)
	SELECT domain_name, config_name, seed_list, template, max_bytes, max_objects,
	       last_bytes, last_objects, last_completed_at
	FROM pool
	ORDER BY %s DESC, domain_name COLLATE "C", config_name COLLATE "C"
	LIMIT $5 OFFSET $6`

type configRow struct {
	Domain          string        `db:"domain_name"`
	Config          string        `db:"config_name"`
	SeedList        string        `db:"seed_list"`
	Template        string        `db:"template"`
	MaxBytes        int64         `db:"max_bytes"`
	MaxObjects      int64         `db:"max_objects"`
	LastBytes       sql.NullInt64 `db:"last_bytes"`
	LastObjects     sql.NullInt64 `db:"last_objects"`
	LastCompletedAt sql.NullTime  `db:"last_completed_at"`
}

func (r configRow) toDomain() domain.DomainConfiguration {
	cfg := domain.DomainConfiguration{
		Key:        domain.ConfigKey{Domain: r.Domain, Config: r.Config},
		SeedList:   r.SeedList,
		Template:   r.Template,
		MaxBytes:   r.MaxBytes,
		MaxObjects: r.MaxObjects,
	}
	if r.LastCompletedAt.Valid {
		cfg.History = []domain.HarvestSummary{{
			Bytes:       r.LastBytes.Int64,
			Objects:     r.LastObjects.Int64,
			CompletedAt: r.LastCompletedAt.Time,
		}}
	}
	return cfg
}

func (p *Postgres) orderExpr() string {
	limit, last := "max_bytes", "last_bytes"
	if p.metric == estimate.MetricObjects {
		limit, last = "max_objects", "last_objects"
	}
	return fmt.Sprintf(expectedSizeExpr, limit, fmt.Sprintf(lastOrGuessExpr, last))
}

// NextBatch implements Source. Only the most recent summary of each
// configuration is loaded, which is all the estimator reads.
func (p *Postgres) NextBatch(ctx context.Context, harvestID int64, cursor Cursor, size int) (Batch, error) {
	if cursor.AsOf.IsZero() {
		cursor.AsOf = p.now().UTC()
	}

	factor := p.settings.ErrorFactorPrevResult
	guess := p.bestGuess.Size(p.metric)

	var rows []configRow
	query := fmt.Sprintf(nextBatchQuery, p.orderExpr())
	if err := p.db.SelectContext(ctx, &rows, query,
		harvestID, cursor.AsOf, factor, guess, size, cursor.Offset,
	); err != nil {
		return Batch{}, fmt.Errorf("select pending configurations for harvest %d: %w", harvestID, err)
	}

	configs := make([]domain.DomainConfiguration, 0, len(rows))
	for _, r := range rows {
		configs = append(configs, r.toDomain())
	}
	return Batch{
		Configs: configs,
		Next:    Cursor{Offset: cursor.Offset + len(rows), AsOf: cursor.AsOf},
		Done:    len(rows) < size,
	}, nil
}

type definitionRow struct {
	ID                   int64      `db:"id"`
	Name                 string     `db:"name"`
	Kind                 string     `db:"kind"`
	Channel              string     `db:"channel"`
	Schedule             string     `db:"schedule"`
	Active               bool       `db:"active"`
	NextRunAt            *time.Time `db:"next_run_at"`
	MaxBytes             int64      `db:"max_bytes"`
	MaxObjects           int64      `db:"max_objects"`
	MaxJobRunningSeconds int64      `db:"max_job_running_seconds"`
}

func (r definitionRow) toDomain() domain.HarvestDefinition {
	return domain.HarvestDefinition{
		ID:                r.ID,
		Name:              r.Name,
		Kind:              domain.HarvestKind(r.Kind),
		Channel:           r.Channel,
		Schedule:          r.Schedule,
		Active:            r.Active,
		NextRunAt:         r.NextRunAt,
		MaxBytes:          r.MaxBytes,
		MaxObjects:        r.MaxObjects,
		MaxJobRunningTime: time.Duration(r.MaxJobRunningSeconds) * time.Second,
	}
}

// ReadyDefinitions implements Definitions.
func (p *Postgres) ReadyDefinitions(ctx context.Context, now time.Time) ([]domain.HarvestDefinition, error) {
	query := `
		SELECT id, name, kind, COALESCE(channel, '') AS channel, COALESCE(schedule, '') AS schedule,
		       active, next_run_at,
		       COALESCE(max_bytes, -1) AS max_bytes, COALESCE(max_objects, -1) AS max_objects,
		       max_job_running_seconds
		FROM harvest_definitions
		WHERE active AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY id
	`

	var rows []definitionRow
	if err := p.db.SelectContext(ctx, &rows, query, now); err != nil {
		return nil, fmt.Errorf("select ready harvest definitions: %w", err)
	}

	defs := make([]domain.HarvestDefinition, 0, len(rows))
	for _, r := range rows {
		defs = append(defs, r.toDomain())
	}
	return defs, nil
}

// FinishGeneration implements Definitions.
func (p *Postgres) FinishGeneration(ctx context.Context, id int64, nextRun *time.Time, active bool) error {
	query := `
		UPDATE harvest_definitions
		SET next_run_at = $1, active = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := p.db.ExecContext(ctx, query, nextRun, active, id)
	if err != nil {
		return fmt.Errorf("update harvest definition %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrDefinitionNotFound, id)
	}
	return nil
}

// RecordHarvest implements HistoryRecorder.
func (p *Postgres) RecordHarvest(ctx context.Context, jobID int64, key domain.ConfigKey, summary domain.HarvestSummary) error {
	query := `
		INSERT INTO harvest_history (domain_name, config_name, job_id, bytes, objects, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := p.db.ExecContext(ctx, query,
		key.Domain, key.Config, jobID, summary.Bytes, summary.Objects, summary.CompletedAt,
	); err != nil {
		return fmt.Errorf("record harvest of %s: %w", key, err)
	}
	return nil
}
