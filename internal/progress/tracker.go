// Package progress folds orchestrator events into a snapshot that the
// status server, the terminal UI and the CLI can render.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/orchestrator"
)

// Phase is the coarse stage of a run
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseDraining   Phase = "draining"
	PhaseCleaning   Phase = "cleaning"
	PhaseFinished   Phase = "finished"
)

// Job is the last known state of one submitted export
type Job struct {
	ID        string           `json:"id"`
	Mailbox   string           `json:"mailbox"`
	Status    domain.JobStatus `json:"status"`
	Detail    string           `json:"detail,omitempty"`
	Removed   bool             `json:"removed"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Snapshot is a point-in-time copy of the tracker state
type Snapshot struct {
	BatchID    domain.BatchID `json:"batch_id"`
	Phase      Phase          `json:"phase"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Submitted  int            `json:"submitted"`
	Rejected   int            `json:"rejected"`
	InFlight   int            `json:"in_flight"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Removed    int            `json:"removed"`
	PollErrors int            `json:"poll_errors"`
	Aborted    bool           `json:"aborted"`
	Error      string         `json:"error,omitempty"`
	Jobs       []Job          `json:"jobs"`
}

// Done reports whether the run has finished
func (s Snapshot) Done() bool {
	return s.Phase == PhaseFinished
}

// Tracker accumulates events from one run. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	jobs     map[string]*Job
	order    []string
	rejected []Job
}

// NewTracker creates a tracker expecting total work items; total may be 0
// when the source length is unknown
func NewTracker(total int) *Tracker {
	return &Tracker{
		snap: Snapshot{Phase: PhaseIdle, Total: total},
		jobs: make(map[string]*Job),
	}
}

// Observe is an orchestrator.Observer
func (t *Tracker) Observe(e orchestrator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case orchestrator.EventStarted:
		t.snap.BatchID = e.BatchID
		t.snap.StartedAt = e.Time
		t.snap.Phase = PhaseSubmitting

	case orchestrator.EventSubmitted:
		t.snap.Submitted++
		t.jobs[e.JobID] = &Job{ID: e.JobID, Mailbox: e.Mailbox, Status: e.Status, UpdatedAt: e.Time}
		t.order = append(t.order, e.JobID)

	case orchestrator.EventRejected:
		t.snap.Rejected++
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		t.rejected = append(t.rejected, Job{Mailbox: e.Mailbox, Error: msg, UpdatedAt: e.Time})

	case orchestrator.EventGateCheck:
		t.snap.InFlight = e.InFlight

	case orchestrator.EventDrainCheck:
		t.snap.Phase = PhaseDraining
		t.snap.InFlight = e.InFlight

	case orchestrator.EventStatusChanged:
		if j, ok := t.jobs[e.JobID]; ok {
			j.Status = e.Status
			j.Detail = e.Detail
			j.UpdatedAt = e.Time
		}

	case orchestrator.EventPollError:
		t.snap.PollErrors++

	case orchestrator.EventRemoved:
		t.snap.Phase = PhaseCleaning
		if j, ok := t.jobs[e.JobID]; ok {
			j.Removed = true
			j.UpdatedAt = e.Time
		}

	case orchestrator.EventCleanupFailed:
		t.snap.Phase = PhaseCleaning
		if j, ok := t.jobs[e.JobID]; ok && e.Err != nil {
			j.Error = e.Err.Error()
		}

	case orchestrator.EventFinished:
		t.snap.Phase = PhaseFinished
		t.snap.FinishedAt = e.Time
		if e.Err != nil {
			t.snap.Error = e.Err.Error()
		}
		if e.Report != nil {
			t.snap.Aborted = e.Report.Aborted
			t.snap.PollErrors = e.Report.PollErrors
			for _, rec := range e.Report.Records {
				if j, ok := t.jobs[rec.ID]; ok {
					j.Status = rec.Status
				}
			}
		}
	}
}

// Snapshot returns a copy of the current state with counts recomputed from
// the job list
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.snap
	s.Completed, s.Failed, s.Removed = 0, 0, 0
	s.Jobs = make([]Job, 0, len(t.order)+len(t.rejected))
	for _, id := range t.order {
		j := *t.jobs[id]
		switch j.Status {
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusFailed:
			s.Failed++
		}
		if j.Removed {
			s.Removed++
		}
		s.Jobs = append(s.Jobs, j)
	}
	s.Jobs = append(s.Jobs, t.rejected...)
	return s
}

// Recent returns up to n jobs, most recently updated first
func (s Snapshot) Recent(n int) []Job {
	jobs := make([]Job, len(s.Jobs))
	copy(jobs, s.Jobs)
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	if n > 0 && len(jobs) > n {
		jobs = jobs[:n]
	}
	return jobs
}

// Percent is the share of submitted jobs that reached a terminal status
func (s Snapshot) Percent() float64 {
	if s.Submitted == 0 {
		return 0
	}
	return float64(s.Completed+s.Failed) / float64(s.Submitted)
}
