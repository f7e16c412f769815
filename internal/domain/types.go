package domain

import "fmt"

// JobStatus represents the lifecycle state of a remote export job
type JobStatus string

const (
	StatusPending    JobStatus = "Pending"
	StatusInProgress JobStatus = "InProgress"
	StatusCompleted  JobStatus = "Completed"
	StatusFailed     JobStatus = "Failed"
)

// InFlightStatuses are the non-terminal statuses counted against the ceiling
var InFlightStatuses = []JobStatus{StatusPending, StatusInProgress}

// IsTerminal returns true for Completed and Failed
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is one of the known statuses
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s JobStatus) String() string { return string(s) }

// MapRemoteStatus converts a mailbox export request status as reported by
// Exchange into a JobStatus. Suspended requests count as in progress: they
// hold a slot until an operator resumes or removes them.
func MapRemoteStatus(remote string) (JobStatus, error) {
	switch remote {
	case "None", "Queued", "Pending":
		return StatusPending, nil
	case "InProgress", "CompletionInProgress", "Suspended", "AutoSuspended", "Synced":
		return StatusInProgress, nil
	case "Completed", "CompletedWithWarning":
		return StatusCompleted, nil
	case "Failed":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown remote status %q", remote)
}
