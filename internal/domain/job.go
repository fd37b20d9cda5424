package domain

import (
	"time"
)

// JobStatus is a job's position in the lifecycle state machine.
type JobStatus string

const (
	StatusCreated     JobStatus = "CREATED"
	StatusReady       JobStatus = "READY"
	StatusSubmitted   JobStatus = "SUBMITTED"
	StatusStarted     JobStatus = "STARTED"
	StatusCompleted   JobStatus = "COMPLETED"
	StatusFailed      JobStatus = "FAILED"
	StatusResubmitted JobStatus = "RESUBMITTED"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []JobStatus {
	return []JobStatus{
		StatusCreated, StatusReady, StatusSubmitted, StatusStarted,
		StatusCompleted, StatusFailed, StatusResubmitted,
	}
}

// Job is a budget-bounded group of configurations dispatched as one unit of crawl work.
// Membership and budgets are frozen once the status leaves CREATED.
type Job struct {
	ID        int64       `json:"id"`
	HarvestID int64       `json:"harvest_id"`
	Kind      HarvestKind `json:"kind"`
	Channel   string      `json:"channel"`
	Template  string      `json:"template"`
	// Configs keeps insertion order.
	Configs []ConfigKey `json:"configs"`

	ExpectedBytes   int64 `json:"expected_bytes"`
	ExpectedObjects int64 `json:"expected_objects"`
	// expected holds per-member estimates while the job is open, in Configs order.
	expected []Size

	MaxBytes       int64         `json:"max_bytes"`
	MaxObjects     int64         `json:"max_objects"`
	MaxRunningTime time.Duration `json:"max_running_time"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	Resubmits     int    `json:"resubmits"`
	FailureReason string `json:"failure_reason,omitempty"`
	ActualBytes   int64  `json:"actual_bytes"`
	ActualObjects int64  `json:"actual_objects"`
}

// Size is a byte and object pair.
type Size struct {
	Bytes   int64
	Objects int64
}

// Add appends a configuration and its expected size to an open job.
func (j *Job) Add(key ConfigKey, expected Size) {
	j.Configs = append(j.Configs, key)
	j.expected = append(j.expected, expected)
	j.ExpectedBytes += expected.Bytes
	j.ExpectedObjects += expected.Objects
}

// ContainsDomain reports whether the job already holds a configuration of domain.
func (j *Job) ContainsDomain(domain string) bool {
	for _, k := range j.Configs {
		if k.Domain == domain {
			return true
		}
	}
	return false
}

// MemberEstimates returns the per-member expected sizes recorded while the job was built.
// It is empty for jobs loaded from storage.
func (j *Job) MemberEstimates() []Size {
	return j.expected
}

// SetMemberEstimates restores per-member estimates, for stores that persist them.
func (j *Job) SetMemberEstimates(sizes []Size) {
	j.expected = sizes
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.Configs = append([]ConfigKey(nil), j.Configs...)
	c.expected = append([]Size(nil), j.expected...)
	c.SubmittedAt = cloneTime(j.SubmittedAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CompletionReport is what the crawl engine reports when a job finishes.
type CompletionReport struct {
	Bytes   int64 `json:"bytes"`
	Objects int64 `json:"objects"`
	// PerConfig optionally carries exact per-configuration counts.
	PerConfig map[ConfigKey]Size `json:"-"`
}
