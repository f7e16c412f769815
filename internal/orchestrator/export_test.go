package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
)

func testOptions(ceiling int) Options {
	return Options{
		BatchID:            "test-batch",
		Ceiling:            ceiling,
		SubmitPollInterval: time.Millisecond,
		DrainPollInterval:  time.Millisecond,
		Retry:              registry.RetryConfig{Attempts: 1, InitialBackoff: time.Millisecond},
	}
}

func items(mailboxes ...string) func(func(domain.WorkItem) bool) {
	return func(yield func(domain.WorkItem) bool) {
		for _, m := range mailboxes {
			if !yield(domain.WorkItem{Mailbox: m, Destination: `\\fs\pst\` + m + ".pst"}) {
				return
			}
		}
	}
}

// recorder collects events; safe for use from the control loop
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestRunExport_CeilingTwo(t *testing.T) {
	reg := registry.NewMemory(registry.WithProgression(
		registry.FailMailboxes(registry.CompleteAfter(2), "D"),
	))

	opts := testOptions(2)
	rec := &recorder{}
	var violations []string
	opts.Observer = func(e Event) {
		rec.observe(e)
		if e.Type != EventSubmitted {
			return
		}
		// counts the job just submitted, so at most one of the earlier
		// jobs may still be running once the gate has opened
		if n := reg.Count(opts.BatchID, domain.InFlightStatuses...); n > opts.Ceiling {
			violations = append(violations, fmt.Sprintf("%s submitted with %d in flight", e.Mailbox, n))
		}
	}

	report, err := RunExport(context.Background(), reg, items("A", "B", "C", "D"), opts)
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range violations {
		t.Error(v)
	}

	var order []string
	for _, e := range rec.ofType(EventSubmitted) {
		order = append(order, e.Mailbox)
	}
	if !slices.Equal(order, []string{"A", "B", "C", "D"}) {
		t.Errorf("submission order = %v, want [A B C D]", order)
	}

	if len(report.Records) != 4 {
		t.Fatalf("report records = %d, want 4", len(report.Records))
	}
	for _, r := range report.Records {
		want := domain.StatusCompleted
		if r.Item.Mailbox == "D" {
			want = domain.StatusFailed
		}
		if r.Status != want {
			t.Errorf("%s status = %s, want %s", r.Item.Mailbox, r.Status, want)
		}
	}

	if n := reg.Count(opts.BatchID); n != 0 {
		t.Errorf("registry still holds %d jobs for the batch", n)
	}
	if len(report.CleanupErrors) != 0 {
		t.Errorf("cleanup errors = %v", report.CleanupErrors)
	}
}

func TestRunExport_GateBound(t *testing.T) {
	for ceiling := 1; ceiling <= 4; ceiling++ {
		for n := 0; n <= 7; n++ {
			t.Run(fmt.Sprintf("C%d_N%d", ceiling, n), func(t *testing.T) {
				reg := registry.NewMemory(registry.WithProgression(registry.CompleteAfter(3)))
				rec := &recorder{}
				opts := testOptions(ceiling)
				opts.Observer = rec.observe

				mailboxes := make([]string, n)
				for i := range mailboxes {
					mailboxes[i] = fmt.Sprintf("user%02d", i)
				}

				report, err := RunExport(context.Background(), reg, items(mailboxes...), opts)
				if err != nil {
					t.Fatal(err)
				}

				if got := len(rec.ofType(EventSubmitted)); got != n {
					t.Errorf("submitted = %d, want %d", got, n)
				}
				for _, e := range rec.ofType(EventGateCheck) {
					if e.InFlight > ceiling+1 {
						t.Errorf("gate saw %d in flight, bound is %d", e.InFlight, ceiling+1)
					}
				}
				if len(report.Records) != n {
					t.Errorf("records = %d, want %d", len(report.Records), n)
				}
				for _, r := range report.Records {
					if !r.Status.IsTerminal() {
						t.Errorf("%s not terminal: %s", r.Item.Mailbox, r.Status)
					}
				}
			})
		}
	}
}

func TestRunExport_ReverseCompletionOrder(t *testing.T) {
	mailboxes := []string{"m1", "m2", "m3", "m4", "m5"}
	index := map[string]int{}
	for i, m := range mailboxes {
		index[m] = i
	}

	// completes exactly one job per query, always the most recently
	// submitted one, and only once all five have been seen
	seen := map[string]bool{}
	done := map[string]bool{}
	var completionOrder []string
	progression := func(rec domain.JobRecord, polls int) domain.JobStatus {
		seen[rec.Item.Mailbox] = true
		if len(seen) < len(mailboxes) {
			return domain.StatusInProgress
		}
		last := -1
		for _, m := range mailboxes {
			if !done[m] && index[m] > last {
				last = index[m]
			}
		}
		if index[rec.Item.Mailbox] == last {
			done[rec.Item.Mailbox] = true
			completionOrder = append(completionOrder, rec.Item.Mailbox)
			return domain.StatusCompleted
		}
		return domain.StatusInProgress
	}

	reg := registry.NewMemory(registry.WithProgression(progression))
	report, err := RunExport(context.Background(), reg, items(mailboxes...), testOptions(5))
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(completionOrder, []string{"m5", "m4", "m3", "m2", "m1"}) {
		t.Errorf("completion order = %v, want reverse submission order", completionOrder)
	}

	got := map[string]int{}
	for _, r := range report.Records {
		got[r.Item.Mailbox]++
		if r.Status != domain.StatusCompleted {
			t.Errorf("%s status = %s, want Completed", r.Item.Mailbox, r.Status)
		}
	}
	for _, m := range mailboxes {
		if got[m] != 1 {
			t.Errorf("%s appears %d times in report, want 1", m, got[m])
		}
	}
}

func TestRunExport_RejectedItemDoesNotAbort(t *testing.T) {
	reg := registry.NewMemory(
		registry.WithProgression(registry.CompleteAfter(1)),
		registry.WithRejector(func(item domain.WorkItem) error {
			if item.Mailbox == "B" {
				return errors.New("mailbox B does not exist")
			}
			return nil
		}),
	)

	report, err := RunExport(context.Background(), reg, items("A", "B", "C", "D"), testOptions(2))
	if err != nil {
		t.Fatal(err)
	}

	if len(report.ItemErrors) != 1 || report.ItemErrors[0].Item.Mailbox != "B" {
		t.Fatalf("item errors = %v, want one for B", report.ItemErrors)
	}
	if !errors.Is(report.ItemErrors[0].Err, registry.ErrRejected) {
		t.Errorf("B error = %v, want ErrRejected", report.ItemErrors[0].Err)
	}

	var got []string
	for _, r := range report.Records {
		got = append(got, r.Item.Mailbox)
		if r.Status != domain.StatusCompleted {
			t.Errorf("%s status = %s, want Completed", r.Item.Mailbox, r.Status)
		}
	}
	if !slices.Equal(got, []string{"A", "C", "D"}) {
		t.Errorf("records = %v, want [A C D]", got)
	}
}

func TestRunExport_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero ceiling", func(o *Options) { o.Ceiling = 0 }},
		{"zero submit poll", func(o *Options) { o.SubmitPollInterval = 0 }},
		{"negative drain poll", func(o *Options) { o.DrainPollInterval = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.NewMemory()
			opts := testOptions(2)
			tt.modify(&opts)

			_, err := RunExport(context.Background(), reg, items("A"), opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("RunExport error = %v, want ErrInvalidOptions", err)
			}
			if reg.Count(opts.BatchID) != 0 {
				t.Error("nothing should be submitted when options are invalid")
			}
		})
	}
}

func TestRunExport_NeverTerminatingJobNeedsCancellation(t *testing.T) {
	reg := registry.NewMemory(registry.WithProgression(registry.Never()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions(5)
	checks := 0
	opts.Observer = func(e Event) {
		if e.Type == EventDrainCheck {
			checks++
			if checks == 20 {
				cancel()
			}
		}
	}

	report, err := RunExport(ctx, reg, items("A", "B"), opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunExport error = %v, want context.Canceled", err)
	}
	if checks < 20 {
		t.Errorf("drain checks = %d, drainer stopped before cancellation", checks)
	}
	if !report.Aborted {
		t.Error("report should be marked aborted")
	}
	_, _, pending := report.Counts()
	if pending != 2 {
		t.Errorf("pending = %d, want 2", pending)
	}
	// in-flight jobs are left alone
	if n := reg.Count(opts.BatchID); n != 2 {
		t.Errorf("registry jobs = %d, want 2", n)
	}
}

func TestRunExport_CancelStopsSubmission(t *testing.T) {
	reg := registry.NewMemory(registry.WithProgression(registry.CompleteAfter(1)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	opts := testOptions(10)
	opts.Observer = func(e Event) {
		rec.observe(e)
		if e.Type == EventSubmitted && e.Mailbox == "B" {
			cancel()
		}
	}

	report, err := RunExport(ctx, reg, items("A", "B", "C", "D", "E"), opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunExport error = %v, want context.Canceled", err)
	}
	if got := len(rec.ofType(EventSubmitted)); got != 2 {
		t.Errorf("submitted = %d, want 2", got)
	}
	if len(report.Records) != 2 {
		t.Errorf("records = %d, want 2", len(report.Records))
	}
	// the post-abort refresh sees both finished and cleanup removes them
	if n := reg.Count(opts.BatchID); n != 0 {
		t.Errorf("registry jobs = %d, want 0", n)
	}
}

func TestRunExport_TransientPollErrors(t *testing.T) {
	reg := registry.NewMemory(
		registry.WithProgression(registry.CompleteAfter(1)),
		registry.WithTransientQueryFailures(3),
	)

	report, err := RunExport(context.Background(), reg, items("A", "B"), testOptions(1))
	if err != nil {
		t.Fatal(err)
	}
	if report.PollErrors != 3 {
		t.Errorf("PollErrors = %d, want 3", report.PollErrors)
	}
	completed, _, _ := report.Counts()
	if completed != 2 {
		t.Errorf("completed = %d, want 2", completed)
	}
}

type failingSink struct{ calls int }

func (s *failingSink) WriteReport(ctx context.Context, r *domain.Report) error {
	s.calls++
	return errors.New("disk full")
}

func TestRunExport_SinkFailureSkipsCleanup(t *testing.T) {
	reg := registry.NewMemory(registry.WithProgression(registry.CompleteAfter(1)))
	sink := &failingSink{}
	opts := testOptions(2)
	opts.Sink = sink

	report, err := RunExport(context.Background(), reg, items("A", "B"), opts)
	if err == nil {
		t.Fatal("expected sink error")
	}
	if sink.calls != 1 {
		t.Errorf("sink calls = %d, want 1", sink.calls)
	}
	if report == nil || len(report.Records) != 2 {
		t.Fatalf("report should still carry the records")
	}
	if n := reg.Count(opts.BatchID); n != 2 {
		t.Errorf("registry jobs = %d, want 2 (no cleanup)", n)
	}
}

func TestRunExport_GeneratesBatchID(t *testing.T) {
	reg := registry.NewMemory(registry.WithProgression(registry.CompleteAfter(1)))
	opts := testOptions(1)
	opts.BatchID = ""
	opts.BatchPrefix = "nightly"

	report, err := RunExport(context.Background(), reg, items("A"), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.BatchID) <= len("nightly-") || report.BatchID[:8] != "nightly-" {
		t.Errorf("BatchID = %q, want nightly- prefix", report.BatchID)
	}
	for _, r := range report.Records {
		if r.BatchID != report.BatchID {
			t.Errorf("record batch = %q, want %q", r.BatchID, report.BatchID)
		}
	}
}
