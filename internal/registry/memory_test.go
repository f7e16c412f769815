package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

func TestMemory_SubmitAndQuery(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	a, err := reg.Submit(ctx, "batch-1", domain.WorkItem{Mailbox: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Submit(ctx, "batch-2", domain.WorkItem{Mailbox: "bob"}); err != nil {
		t.Fatal(err)
	}

	if a.Status != domain.StatusPending {
		t.Errorf("submitted status = %s, want Pending", a.Status)
	}

	recs, err := reg.Query(ctx, "batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Item.Mailbox != "alice" {
		t.Errorf("Query(batch-1) = %+v, want only alice", recs)
	}

	if err := reg.SetStatus(a.ID, domain.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	inFlight, _ := reg.Query(ctx, "batch-1", domain.InFlightStatuses...)
	if len(inFlight) != 0 {
		t.Errorf("in-flight = %d, want 0", len(inFlight))
	}
}

func TestMemory_RemoveTwice(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	rec, _ := reg.Submit(ctx, "b", domain.WorkItem{Mailbox: "alice"})

	if err := reg.Remove(ctx, rec); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := reg.Remove(ctx, rec); err != nil {
		t.Errorf("second Remove should be a no-op, got %v", err)
	}
	if reg.Count("b") != 0 {
		t.Errorf("Count = %d, want 0", reg.Count("b"))
	}
}

func TestMemory_NoTransitionOutOfTerminal(t *testing.T) {
	reg := NewMemory()
	rec, _ := reg.Submit(context.Background(), "b", domain.WorkItem{Mailbox: "alice"})

	if err := reg.SetStatus(rec.ID, domain.StatusFailed); err != nil {
		t.Fatal(err)
	}
	err := reg.SetStatus(rec.ID, domain.StatusPending)
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("SetStatus from Failed = %v, want ErrTerminal", err)
	}
}

func TestMemory_Rejector(t *testing.T) {
	reg := NewMemory(WithRejector(func(item domain.WorkItem) error {
		if item.Mailbox == "bad" {
			return errors.New("no such mailbox")
		}
		return nil
	}))

	_, err := reg.Submit(context.Background(), "b", domain.WorkItem{Mailbox: "bad"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Submit(bad) = %v, want ErrRejected", err)
	}
	if reg.Count("b") != 0 {
		t.Error("rejected submission should not create a job")
	}
}

func TestMemory_Progression(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory(WithProgression(FailMailboxes(CompleteAfter(2), "bob")))

	reg.Submit(ctx, "b", domain.WorkItem{Mailbox: "alice"})
	reg.Submit(ctx, "b", domain.WorkItem{Mailbox: "bob"})

	first, _ := reg.Query(ctx, "b")
	for _, r := range first {
		if r.Status != domain.StatusInProgress {
			t.Errorf("%s after 1 poll = %s, want InProgress", r.Item.Mailbox, r.Status)
		}
	}

	second, _ := reg.Query(ctx, "b")
	want := map[string]domain.JobStatus{"alice": domain.StatusCompleted, "bob": domain.StatusFailed}
	for _, r := range second {
		if r.Status != want[r.Item.Mailbox] {
			t.Errorf("%s after 2 polls = %s, want %s", r.Item.Mailbox, r.Status, want[r.Item.Mailbox])
		}
	}
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(WithTransientQueryFailures(2))
	mem.Submit(ctx, "b", domain.WorkItem{Mailbox: "alice"})

	reg := NewRetrying(mem, RetryConfig{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	recs, err := reg.Query(ctx, "b")
	if err != nil {
		t.Fatalf("Query should succeed on third attempt: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("records = %d, want 1", len(recs))
	}
}

func TestRetrying_GivesUp(t *testing.T) {
	mem := NewMemory(WithTransientQueryFailures(5))
	reg := NewRetrying(mem, RetryConfig{Attempts: 2, InitialBackoff: time.Millisecond})

	if _, err := reg.Query(context.Background(), "b"); err == nil {
		t.Error("Query should fail once attempts are exhausted")
	}
}

func TestRetrying_Backoff(t *testing.T) {
	reg := NewRetrying(NewMemory(), RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := reg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on cancelled ctx = %v, want context.Canceled", err)
	}
}
