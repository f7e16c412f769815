package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

// Progression decides the next status of a non-terminal job each time the
// registry is queried. polls counts the queries that have observed the job.
type Progression func(rec domain.JobRecord, polls int) domain.JobStatus

// CompleteAfter moves a job to InProgress on its first poll and to Completed
// once it has been observed n times
func CompleteAfter(n int) Progression {
	return func(rec domain.JobRecord, polls int) domain.JobStatus {
		if polls >= n {
			return domain.StatusCompleted
		}
		return domain.StatusInProgress
	}
}

// FailMailboxes behaves like next but fails the listed mailboxes instead of completing them
func FailMailboxes(next Progression, mailboxes ...string) Progression {
	fail := make(map[string]bool, len(mailboxes))
	for _, m := range mailboxes {
		fail[m] = true
	}
	return func(rec domain.JobRecord, polls int) domain.JobStatus {
		s := next(rec, polls)
		if s == domain.StatusCompleted && fail[rec.Item.Mailbox] {
			return domain.StatusFailed
		}
		return s
	}
}

// Never keeps every job in progress forever
func Never() Progression {
	return func(domain.JobRecord, int) domain.JobStatus { return domain.StatusInProgress }
}

type memoryJob struct {
	rec   domain.JobRecord
	polls int
}

// Memory is an in-process Registry. It backs tests and simulated runs.
type Memory struct {
	mu          sync.Mutex
	jobs        map[string]*memoryJob
	order       []string
	progression Progression
	reject      func(domain.WorkItem) error
	queryFails  int
	now         func() time.Time
}

// MemoryOption configures a Memory registry
type MemoryOption func(*Memory)

// WithProgression sets how jobs advance on each query
func WithProgression(p Progression) MemoryOption {
	return func(m *Memory) { m.progression = p }
}

// WithRejector lets the registry refuse individual submissions
func WithRejector(fn func(domain.WorkItem) error) MemoryOption {
	return func(m *Memory) { m.reject = fn }
}

// WithTransientQueryFailures makes the first n queries fail
func WithTransientQueryFailures(n int) MemoryOption {
	return func(m *Memory) { m.queryFails = n }
}

// NewMemory creates an empty in-memory registry. Without a progression, jobs
// only change through SetStatus.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		jobs: make(map[string]*memoryJob),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit implements Registry
func (m *Memory) Submit(ctx context.Context, batch domain.BatchID, item domain.WorkItem) (domain.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.JobRecord{}, err
	}
	if item.Mailbox == "" {
		return domain.JobRecord{}, fmt.Errorf("%w: empty mailbox", ErrRejected)
	}
	if m.reject != nil {
		if err := m.reject(item); err != nil {
			return domain.JobRecord{}, fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := domain.JobRecord{
		ID:          uuid.NewString(),
		BatchID:     batch,
		Item:        item,
		SubmittedAt: m.now(),
		Status:      domain.StatusPending,
	}
	m.jobs[rec.ID] = &memoryJob{rec: rec}
	m.order = append(m.order, rec.ID)
	return rec, nil
}

// Query implements Registry. Progression runs before the snapshot is taken.
func (m *Memory) Query(ctx context.Context, batch domain.BatchID, statuses ...domain.JobStatus) ([]domain.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queryFails > 0 {
		m.queryFails--
		return nil, errors.New("registry temporarily unavailable")
	}

	var out []domain.JobRecord
	for _, id := range m.order {
		j, ok := m.jobs[id]
		if !ok || j.rec.BatchID != batch {
			continue
		}
		if m.progression != nil && !j.rec.Status.IsTerminal() {
			j.polls++
			j.rec.Status = m.progression(j.rec, j.polls)
		}
		if MatchesStatus(j.rec.Status, statuses) {
			out = append(out, j.rec)
		}
	}
	return out, nil
}

// Remove implements Registry; removing a missing job is not an error
func (m *Memory) Remove(ctx context.Context, rec domain.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[rec.ID]; !ok {
		return nil
	}
	delete(m.jobs, rec.ID)
	for i, id := range m.order {
		if id == rec.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetStatus moves a job to a new status, refusing to leave a terminal state
func (m *Memory) SetStatus(id string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.rec.Status.IsTerminal() && j.rec.Status != status {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, j.rec.Status)
	}
	j.rec.Status = status
	return nil
}

// Count returns the number of batch jobs in the given statuses without
// advancing any job
func (m *Memory) Count(batch domain.BatchID, statuses ...domain.JobStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.jobs {
		if j.rec.BatchID == batch && MatchesStatus(j.rec.Status, statuses) {
			n++
		}
	}
	return n
}
