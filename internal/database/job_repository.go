package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// JobRepository persists jobs and their membership.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, harvest_id, kind, channel, template, status,
	expected_bytes, expected_objects, max_bytes, max_objects, max_running_seconds,
	created_at, submitted_at, started_at, finished_at,
	resubmits, failure_reason, actual_bytes, actual_objects`

type jobRow struct {
	ID                int64      `db:"id"`
	HarvestID         int64      `db:"harvest_id"`
	Kind              string     `db:"kind"`
	Channel           string     `db:"channel"`
	Template          string     `db:"template"`
	Status            string     `db:"status"`
	ExpectedBytes     int64      `db:"expected_bytes"`
	ExpectedObjects   int64      `db:"expected_objects"`
	MaxBytes          int64      `db:"max_bytes"`
	MaxObjects        int64      `db:"max_objects"`
	MaxRunningSeconds int64      `db:"max_running_seconds"`
	CreatedAt         time.Time  `db:"created_at"`
	SubmittedAt       *time.Time `db:"submitted_at"`
	StartedAt         *time.Time `db:"started_at"`
	FinishedAt        *time.Time `db:"finished_at"`
	Resubmits         int        `db:"resubmits"`
	FailureReason     string     `db:"failure_reason"`
	ActualBytes       int64      `db:"actual_bytes"`
	ActualObjects     int64      `db:"actual_objects"`
}

func (r jobRow) toDomain() *domain.Job {
	return &domain.Job{
		ID:              r.ID,
		HarvestID:       r.HarvestID,
		Kind:            domain.HarvestKind(r.Kind),
		Channel:         r.Channel,
		Template:        r.Template,
		Status:          domain.JobStatus(r.Status),
		ExpectedBytes:   r.ExpectedBytes,
		ExpectedObjects: r.ExpectedObjects,
		MaxBytes:        r.MaxBytes,
		MaxObjects:      r.MaxObjects,
		MaxRunningTime:  time.Duration(r.MaxRunningSeconds) * time.Second,
		CreatedAt:       r.CreatedAt,
		SubmittedAt:     r.SubmittedAt,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		Resubmits:       r.Resubmits,
		FailureReason:   r.FailureReason,
		ActualBytes:     r.ActualBytes,
		ActualObjects:   r.ActualObjects,
	}
}

type memberRow struct {
	JobID           int64  `db:"job_id"`
	Domain          string `db:"domain_name"`
	Config          string `db:"config_name"`
	ExpectedBytes   int64  `db:"expected_bytes"`
	ExpectedObjects int64  `db:"expected_objects"`
}

// NextJobID draws the next id from the job sequence.
func (r *JobRepository) NextJobID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.GetContext(ctx, &id, `SELECT nextval('jobs_id_seq')`); err != nil {
		return 0, fmt.Errorf("next job id: %w", err)
	}
	return id, nil
}

// Create inserts a job and its ordered membership in one transaction.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertJob := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	if _, err = tx.ExecContext(ctx, insertJob,
		job.ID, job.HarvestID, string(job.Kind), job.Channel, job.Template, string(job.Status),
		job.ExpectedBytes, job.ExpectedObjects, job.MaxBytes, job.MaxObjects, int64(job.MaxRunningTime/time.Second),
		job.CreatedAt, job.SubmittedAt, job.StartedAt, job.FinishedAt,
		job.Resubmits, job.FailureReason, job.ActualBytes, job.ActualObjects,
	); err != nil {
		return fmt.Errorf("insert job %d: %w", job.ID, err)
	}

	insertMember := `
		INSERT INTO job_configs (job_id, position, domain_name, config_name, expected_bytes, expected_objects)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	estimates := job.MemberEstimates()
	for i, key := range job.Configs {
		var size domain.Size
		if i < len(estimates) {
			size = estimates[i]
		}
		if _, err = tx.ExecContext(ctx, insertMember,
			job.ID, i, key.Domain, key.Config, size.Bytes, size.Objects,
		); err != nil {
			return fmt.Errorf("insert member %s of job %d: %w", key, job.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit job %d: %w", job.ID, err)
	}
	return nil
}

// Get loads a job with its membership.
func (r *JobRepository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}

	jobs := []*domain.Job{row.toDomain()}
	if err := r.attachMembers(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// List returns jobs matching filter, oldest id first.
func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" WHERE status = ANY($%d)", len(args))
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.selectJobs(ctx, query, args...)
}

// ListStartedBefore returns STARTED jobs whose start time is before cutoff.
func (r *JobRepository) ListStartedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 AND started_at < $2 ORDER BY id`
	return r.selectJobs(ctx, query, string(domain.StatusStarted), cutoff)
}

// UpdateStatus writes the mutable fields of job only if its stored status is
// still from. It returns domain.ErrStatusConflict otherwise.
func (r *JobRepository) UpdateStatus(ctx context.Context, job *domain.Job, from domain.JobStatus) error {
	query := `
		UPDATE jobs
		SET status = $1, submitted_at = $2, started_at = $3, finished_at = $4,
		    resubmits = $5, failure_reason = $6, actual_bytes = $7, actual_objects = $8,
		    updated_at = NOW()
		WHERE id = $9 AND status = $10
	`

	result, err := r.db.ExecContext(ctx, query,
		string(job.Status), job.SubmittedAt, job.StartedAt, job.FinishedAt,
		job.Resubmits, job.FailureReason, job.ActualBytes, job.ActualObjects,
		job.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}
	conflict := fmt.Errorf("%w: job %d is no longer %s", domain.ErrStatusConflict, job.ID, from)
	return execRequireRows(result, nil, conflict)
}

func (r *JobRepository) selectJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	if err := r.attachMembers(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepository) attachMembers(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(jobs))
	byID := make(map[int64]*domain.Job, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
		byID[j.ID] = j
	}

	var members []memberRow
	query := `
		SELECT job_id, domain_name, config_name, expected_bytes, expected_objects
		FROM job_configs
		WHERE job_id = ANY($1)
		ORDER BY job_id, position
	`
	if err := r.db.SelectContext(ctx, &members, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("load job members: %w", err)
	}

	sizes := make(map[int64][]domain.Size, len(jobs))
	for _, m := range members {
		job, ok := byID[m.JobID]
		if !ok {
			continue
		}
		job.Configs = append(job.Configs, domain.ConfigKey{Domain: m.Domain, Config: m.Config})
		sizes[m.JobID] = append(sizes[m.JobID], domain.Size{Bytes: m.ExpectedBytes, Objects: m.ExpectedObjects})
	}
	for id, s := range sizes {
		byID[id].SetMemberEstimates(s)
	}
	return nil
}
