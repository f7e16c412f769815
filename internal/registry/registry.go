// Package registry defines the remote job registry the orchestrator submits
// export requests to and polls. The registry is shared with other processes,
// so every query is scoped to a single batch.
package registry

import (
	"context"
	"errors"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

var (
	// ErrNotFound is returned when a job is not (or no longer) in the registry
	ErrNotFound = errors.New("job not found")
	// ErrRejected is returned when the remote side refuses a submission
	ErrRejected = errors.New("submission rejected")
	// ErrTerminal is returned when a transition out of a terminal state is attempted
	ErrTerminal = errors.New("job already in terminal state")
)

// Registry is the remote job-tracking API
type Registry interface {
	// Submit creates one export job under the batch
	Submit(ctx context.Context, batch domain.BatchID, item domain.WorkItem) (domain.JobRecord, error)
	// Query returns the batch's jobs, restricted to the given statuses when any are passed
	Query(ctx context.Context, batch domain.BatchID, statuses ...domain.JobStatus) ([]domain.JobRecord, error)
	// Remove deletes a job record. Removing an already removed job returns ErrNotFound or nil.
	Remove(ctx context.Context, rec domain.JobRecord) error
}

// MatchesStatus reports whether s is in the filter; an empty filter matches everything
func MatchesStatus(s domain.JobStatus, filter []domain.JobStatus) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if s == f {
			return true
		}
	}
	return false
}
