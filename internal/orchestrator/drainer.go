package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
)

// Drainer waits for every job of a batch to reach a terminal state.
//
// The wait is unbounded: a remote job that never terminates keeps Drain
// polling until ctx is cancelled.
type Drainer struct {
	poll     *poller
	interval time.Duration
	observer Observer
}

// NewDrainer creates a drainer polling every interval
func NewDrainer(reg registry.Registry, interval time.Duration, observer Observer) *Drainer {
	return &Drainer{
		poll:     &poller{reg: reg, observer: observer},
		interval: interval,
		observer: observer,
	}
}

// Drain returns every batch member once none is in flight. On cancellation
// it returns the members with their last observed status and the context error.
func (d *Drainer) Drain(ctx context.Context, batch *domain.Batch) ([]domain.JobRecord, error) {
	for {
		n, err := d.poll.inFlight(ctx, batch)
		if err != nil && ctx.Err() != nil {
			return batch.Records(), ctx.Err()
		}
		if err == nil {
			d.observer.emit(Event{Type: EventDrainCheck, BatchID: batch.ID, InFlight: n})
			if n == 0 {
				break
			}
		}

		if err := registry.Sleep(ctx, d.interval); err != nil {
			return batch.Records(), err
		}
	}

	// terminal outcomes never show up in the in-flight query
	for {
		err := d.poll.refresh(ctx, batch)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return batch.Records(), ctx.Err()
		}
		if err := registry.Sleep(ctx, d.interval); err != nil {
			return batch.Records(), err
		}
	}

	log.Printf("[drainer] %s drained, %d jobs", batch.ID, batch.Len())
	return batch.Records(), nil
}

// PollErrors returns how many drain polls failed after retries
func (d *Drainer) PollErrors() int {
	return d.poll.errors
}

// Cleaner removes finished jobs from the registry
type Cleaner struct {
	reg      registry.Registry
	observer Observer
}

// NewCleaner creates a cleaner
func NewCleaner(reg registry.Registry, observer Observer) *Cleaner {
	return &Cleaner{reg: reg, observer: observer}
}

// Remove deletes the terminal records from the registry and the batch.
// Records already gone from the registry count as removed; non-terminal
// records are left alone because removing them cancels the export.
func (c *Cleaner) Remove(ctx context.Context, batch *domain.Batch, records []domain.JobRecord) []domain.ItemError {
	var errs []domain.ItemError
	for _, rec := range records {
		if !rec.Status.IsTerminal() {
			continue
		}

		err := c.reg.Remove(ctx, rec)
		if errors.Is(err, registry.ErrNotFound) {
			err = nil
		}
		if err != nil {
			log.Printf("[cleanup] removing %s (%s): %v", rec.ID, rec.Item.Mailbox, err)
			errs = append(errs, domain.ItemError{Item: rec.Item, Err: err})
			c.observer.emit(Event{Type: EventCleanupFailed, BatchID: batch.ID, Mailbox: rec.Item.Mailbox, JobID: rec.ID, Err: err})
			continue
		}

		batch.Remove(rec.ID)
		c.observer.emit(Event{Type: EventRemoved, BatchID: batch.ID, Mailbox: rec.Item.Mailbox, JobID: rec.ID, Status: rec.Status})
	}
	return errs
}
