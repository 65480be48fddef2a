package scans

import (
	"fmt"
	"time"
)

// IsTerminal reports whether no further transition can leave s.
func IsTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

// ReasonLeaseExpired is recorded on a job failed because its owner stopped
// renewing it.
const ReasonLeaseExpired = "job lease expired before the job finished"

// LeaseExpired reports whether the owner of a non-terminal job stopped
// renewing it before now. A job without a lease counts as expired.
func LeaseExpired(job *ScanJob, now time.Time) bool {
	return !IsTerminal(job.State) && !job.LeaseExpiresAt.After(now)
}

// Reclaimable reports whether the version lock held by job may be taken over
// at now.
func Reclaimable(job *ScanJob, now time.Time) bool {
	return IsTerminal(job.State) || LeaseExpired(job, now)
}

// Transition validates a job state change. The caller supplies the state it
// observed so lost races surface as errors instead of silent overwrites.
func Transition(job *ScanJob, from, to State) error {
	if job.State != from {
		return fmt.Errorf("invalid transition for job %s: expected %s, got %s", job.ID, from, job.State)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for job %s: %s -> %s", job.ID, from, to)
	}
	job.State = to
	return nil
}

// CanTransition reports whether from -> to is an edge of the job lifecycle.
func CanTransition(from, to State) bool { return isAllowedTransition(from, to) }

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateFailed
	case StateRunning:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}
