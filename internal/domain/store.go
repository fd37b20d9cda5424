package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrStatusConflict is returned when a compare-and-set status update finds
	// the job in a different status than expected.
	ErrStatusConflict = errors.New("job status changed concurrently")
)

// JobFilter selects jobs for listing. Empty Statuses matches every status.
// A Limit of zero means no limit.
type JobFilter struct {
	Statuses []JobStatus
	Limit    int
	Offset   int
}

// Matches reports whether status passes the filter.
func (f JobFilter) Matches(status JobStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}
