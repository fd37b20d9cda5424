// Package lifecycle tracks jobs through their state machine: dispatch,
// crawl engine signals, the timeout sweep and resubmission.
package lifecycle

import (
	"fmt"
	"slices"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

var validTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.StatusCreated: {
		domain.StatusReady, // accumulator closed or flushed the job
	},
	domain.StatusReady: {
		domain.StatusSubmitted, // dispatcher handed it to a channel
	},
	domain.StatusSubmitted: {
		domain.StatusStarted, // worker accepted
	},
	domain.StatusStarted: {
		domain.StatusCompleted, // completion signal
		domain.StatusFailed,    // failure signal or timeout sweep
	},
	domain.StatusFailed: {
		domain.StatusResubmitted, // resubmission policy
	},
	domain.StatusResubmitted: {
		domain.StatusSubmitted, // dispatcher handed it to a channel again
	},
	domain.StatusCompleted: {},
}

// ValidateStateTransition returns an error unless from→to is a legal edge.
func ValidateStateTransition(from, to domain.JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if slices.Contains(allowed, to) {
		return nil
	}
	return fmt.Errorf("invalid state transition from %s to %s", from, to)
}

// IsTerminal reports whether no further transition leaves status under a
// policy without resubmission.
func IsTerminal(status domain.JobStatus) bool {
	return status == domain.StatusCompleted || status == domain.StatusFailed
}

// IsDispatchable reports whether the dispatcher may submit a job in status.
func IsDispatchable(status domain.JobStatus) bool {
	return status == domain.StatusReady || status == domain.StatusResubmitted
}
