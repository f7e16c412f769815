package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"log"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
)

// RunExport submits every item under a fresh batch, waits for the batch to
// drain, hands the report to the sink and removes the finished jobs.
//
// Per-item submission errors are collected in the report. Invalid options
// abort before anything is submitted. When ctx is cancelled, submission
// stops, the drain is cut short and the partial report, listing jobs that
// are still pending, is returned together with the context error.
func RunExport(ctx context.Context, reg registry.Registry, items iter.Seq[domain.WorkItem], opts Options) (*domain.Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	batchID := opts.BatchID
	if batchID == "" {
		batchID = domain.NewBatchID(opts.BatchPrefix, time.Now())
	}
	grace := opts.AbortGrace
	if grace <= 0 {
		grace = DefaultAbortGrace
	}

	polled := registry.NewRetrying(reg, opts.Retry)
	batch := domain.NewBatch(batchID)
	report := &domain.Report{BatchID: batchID, StartedAt: time.Now()}
	obs := opts.Observer

	log.Printf("[export] batch %s started (ceiling=%d)", batchID, opts.Ceiling)
	obs.emit(Event{Type: EventStarted, BatchID: batchID})

	throttler := NewThrottler(polled, batch, opts.Ceiling, opts.SubmitPollInterval, obs)
	_, itemErrs, runErr := throttler.Run(ctx, items)
	report.ItemErrors = itemErrs

	drainer := NewDrainer(polled, opts.DrainPollInterval, obs)
	records, drainErr := drainer.Drain(ctx, batch)
	if runErr == nil {
		runErr = drainErr
	}

	// after an abort, one last look at the registry so finished jobs are
	// reported with their outcome and can still be cleaned up
	finishCtx := ctx
	if runErr != nil {
		report.Aborted = true
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		if err := drainer.poll.refresh(finishCtx, batch); err == nil {
			records = batch.Records()
		}
	}

	report.Records = records
	report.PollErrors = throttler.PollErrors() + drainer.PollErrors()
	report.FinishedAt = time.Now()

	if opts.Sink != nil {
		if err := opts.Sink.WriteReport(finishCtx, report); err != nil {
			obs.emit(Event{Type: EventFinished, BatchID: batchID, Report: report, Err: err})
			return report, fmt.Errorf("writing report for %s: %w", batchID, err)
		}
	}

	cleaner := NewCleaner(reg, obs)
	report.CleanupErrors = cleaner.Remove(finishCtx, batch, records)

	completed, failed, pending := report.Counts()
	log.Printf("[export] batch %s finished: %d completed, %d failed, %d pending, %d rejected",
		batchID, completed, failed, pending, len(report.ItemErrors))
	obs.emit(Event{Type: EventFinished, BatchID: batchID, Report: report, Err: runErr})

	return report, runErr
}
