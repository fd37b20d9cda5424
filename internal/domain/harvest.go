package domain

import "time"

// HarvestKind distinguishes broad snapshot harvests from scheduled focused ones.
type HarvestKind string

const (
	KindSnapshot HarvestKind = "snapshot"
	KindFocused  HarvestKind = "focused"
)

// HarvestDefinition groups the configurations that are packed together in one pass.
type HarvestDefinition struct {
	ID   int64       `db:"id"   json:"id"   yaml:"id"`
	Name string      `db:"name" json:"name" yaml:"name"`
	Kind HarvestKind `db:"kind" json:"kind" yaml:"kind"`
	// Channel overrides the default channel for the kind when set.
	Channel string `db:"channel" json:"channel,omitempty" yaml:"channel"`
	// Schedule is a cron expression. Only focused definitions have one.
	Schedule  string     `db:"schedule"    json:"schedule,omitempty"    yaml:"schedule"`
	Active    bool       `db:"active"      json:"active"                yaml:"active"`
	NextRunAt *time.Time `db:"next_run_at" json:"next_run_at,omitempty" yaml:"next_run_at"`
	// MaxBytes and MaxObjects are per-job budgets; Unbounded when absent.
	MaxBytes          int64         `db:"max_bytes"   json:"max_bytes"            yaml:"max_bytes"`
	MaxObjects        int64         `db:"max_objects" json:"max_objects"          yaml:"max_objects"`
	MaxJobRunningTime time.Duration `db:"-"           json:"max_job_running_time" yaml:"max_job_running_time"`
}

// IsSnapshot reports whether d is a snapshot harvest.
func (d *HarvestDefinition) IsSnapshot() bool {
	return d.Kind == KindSnapshot
}
