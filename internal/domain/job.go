package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BatchID identifies one orchestration run in the shared remote registry
type BatchID string

// NewBatchID builds a collision-resistant batch name from a prefix, the start
// time and a random suffix
func NewBatchID(prefix string, now time.Time) BatchID {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mbx-export"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return BatchID(fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102-150405"), suffix))
}

func (b BatchID) String() string { return string(b) }

// WorkItem is one mailbox to export and where its PST goes
type WorkItem struct {
	Mailbox     string
	Destination string
}

// JobRecord is the orchestrator's view of one submitted export request.
// Status caches the registry's last answer; it is never set locally.
type JobRecord struct {
	ID          string
	BatchID     BatchID
	Item        WorkItem
	SubmittedAt time.Time
	Status      JobStatus
	Detail      string
}

// ItemError attributes a failure to the work item it happened on
type ItemError struct {
	Item WorkItem
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Item.Mailbox, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }
