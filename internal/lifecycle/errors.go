package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// ErrStateInconsistency is wrapped by every StateInconsistencyError.
var ErrStateInconsistency = errors.New("state inconsistency")

// Signal names an external event applied to a job.
type Signal string

const (
	SignalStarted   Signal = "started"
	SignalCompleted Signal = "completed"
	SignalFailed    Signal = "failed"
)

// StateInconsistencyError reports a signal that arrived for a job whose status
// is not the signal's expected source state. The job is left as it was.
type StateInconsistencyError struct {
	JobID    int64
	Signal   Signal
	Status   domain.JobStatus
	Expected []domain.JobStatus
}

func (e *StateInconsistencyError) Error() string {
	expected := make([]string, 0, len(e.Expected))
	for _, s := range e.Expected {
		expected = append(expected, string(s))
	}
	return fmt.Sprintf("%s signal for job %d in status %s (expected %s)",
		e.Signal, e.JobID, e.Status, strings.Join(expected, " or "))
}

func (e *StateInconsistencyError) Unwrap() error {
	return ErrStateInconsistency
}
