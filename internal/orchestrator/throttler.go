package orchestrator

import (
	"context"
	"iter"
	"log"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
)

// Throttler submits work items one at a time and holds back the next item
// while the batch has ceiling or more jobs in flight.
//
// The gate runs after each submit, so the registry can briefly hold
// ceiling+1 non-terminal jobs: the one just submitted plus a full gate.
// Callers must treat ceiling+1 as the real bound.
type Throttler struct {
	reg      registry.Registry
	poll     *poller
	batch    *domain.Batch
	ceiling  int
	interval time.Duration
	observer Observer
}

// NewThrottler creates a throttler that fills batch
func NewThrottler(reg registry.Registry, batch *domain.Batch, ceiling int, interval time.Duration, observer Observer) *Throttler {
	return &Throttler{
		reg:      reg,
		poll:     &poller{reg: reg, observer: observer},
		batch:    batch,
		ceiling:  ceiling,
		interval: interval,
		observer: observer,
	}
}

// Run consumes source in order. A rejected item is recorded and skipped;
// it never stops the batch. On cancellation Run stops submitting and
// returns the batch built so far together with the context error.
func (t *Throttler) Run(ctx context.Context, source iter.Seq[domain.WorkItem]) (*domain.Batch, []domain.ItemError, error) {
	var itemErrs []domain.ItemError

	for item := range source {
		if err := ctx.Err(); err != nil {
			return t.batch, itemErrs, err
		}

		rec, err := t.reg.Submit(ctx, t.batch.ID, item)
		if err != nil {
			if ctx.Err() != nil {
				return t.batch, itemErrs, ctx.Err()
			}
			log.Printf("[throttler] %s rejected: %v", item.Mailbox, err)
			itemErrs = append(itemErrs, domain.ItemError{Item: item, Err: err})
			t.observer.emit(Event{Type: EventRejected, BatchID: t.batch.ID, Mailbox: item.Mailbox, Err: err})
			continue
		}

		t.batch.Add(rec)
		log.Printf("[throttler] submitted %s as %s", item.Mailbox, rec.ID)
		t.observer.emit(Event{
			Type:    EventSubmitted,
			BatchID: t.batch.ID,
			Mailbox: item.Mailbox,
			JobID:   rec.ID,
			Status:  rec.Status,
		})

		if err := t.gate(ctx); err != nil {
			return t.batch, itemErrs, err
		}
	}

	return t.batch, itemErrs, nil
}

// gate blocks until fewer than ceiling batch jobs are in flight. A failed
// poll is not a job failure: the gate stays closed and polls again.
func (t *Throttler) gate(ctx context.Context) error {
	for {
		n, err := t.poll.inFlight(ctx, t.batch)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			t.observer.emit(Event{Type: EventGateCheck, BatchID: t.batch.ID, InFlight: n})
			if n < t.ceiling {
				return nil
			}
		}

		if err := registry.Sleep(ctx, t.interval); err != nil {
			return err
		}
	}
}

// PollErrors returns how many gate polls failed after retries
func (t *Throttler) PollErrors() int {
	return t.poll.errors
}
