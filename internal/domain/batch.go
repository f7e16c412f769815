package domain

import (
	"sync"
	"time"
)

// StatusChange describes a cached status that moved after a poll
type StatusChange struct {
	Record JobRecord
	From   JobStatus
}

// Batch holds every job submitted under one BatchID during a run.
// It grows while submitting and shrinks only when cleanup removes records.
type Batch struct {
	ID BatchID

	mu      sync.RWMutex
	records []*JobRecord
	byID    map[string]*JobRecord
}

// NewBatch creates an empty batch
func NewBatch(id BatchID) *Batch {
	return &Batch{
		ID:   id,
		byID: make(map[string]*JobRecord),
	}
}

// Add appends a submitted record
func (b *Batch) Add(rec JobRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := rec
	b.records = append(b.records, &r)
	b.byID[r.ID] = &r
}

// Has reports whether the job id belongs to this batch
func (b *Batch) Has(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byID[id]
	return ok
}

// Apply refreshes cached statuses and details from registry records. Records
// that are not members are ignored, and a terminal record is never replaced.
func (b *Batch) Apply(observed []JobRecord) []StatusChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	var changes []StatusChange
	for _, o := range observed {
		r, ok := b.byID[o.ID]
		if !ok || r.Status.IsTerminal() {
			continue
		}
		if r.Status == o.Status && r.Detail == o.Detail {
			continue
		}
		from := r.Status
		r.Status = o.Status
		r.Detail = o.Detail
		changes = append(changes, StatusChange{Record: *r, From: from})
	}
	return changes
}

// CountMembers returns how many of the given records are batch members
func (b *Batch) CountMembers(observed []JobRecord) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, o := range observed {
		if _, ok := b.byID[o.ID]; ok {
			n++
		}
	}
	return n
}

// InFlight returns the number of members whose cached status is not terminal
func (b *Batch) InFlight() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, r := range b.records {
		if !r.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Remove drops a record, returning false if it was not a member
func (b *Batch) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[id]; !ok {
		return false
	}
	delete(b.byID, id)
	for i, r := range b.records {
		if r.ID == id {
			b.records = append(b.records[:i], b.records[i+1:]...)
			break
		}
	}
	return true
}

// Records returns a snapshot in submission order
func (b *Batch) Records() []JobRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]JobRecord, len(b.records))
	for i, r := range b.records {
		out[i] = *r
	}
	return out
}

// Len returns the number of members
func (b *Batch) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Report is the outcome of one run, handed to report sinks
type Report struct {
	BatchID       BatchID
	StartedAt     time.Time
	FinishedAt    time.Time
	Records       []JobRecord
	ItemErrors    []ItemError
	CleanupErrors []ItemError
	PollErrors    int
	Aborted       bool
}

// Counts tallies records by outcome; pending covers both non-terminal statuses
func (r *Report) Counts() (completed, failed, pending int) {
	for _, rec := range r.Records {
		switch rec.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		default:
			pending++
		}
	}
	return completed, failed, pending
}

// Duration returns how long the run took
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
