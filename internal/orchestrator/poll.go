package orchestrator

import (
	"context"
	"log"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
)

// poller is the polling primitive shared by the throttler and the drainer
type poller struct {
	reg      registry.Registry
	observer Observer
	errors   int
}

// inFlight asks the registry for the batch's Pending and InProgress jobs and
// returns how many of them are batch members
func (p *poller) inFlight(ctx context.Context, batch *domain.Batch) (int, error) {
	recs, err := p.reg.Query(ctx, batch.ID, domain.InFlightStatuses...)
	if err != nil {
		if ctx.Err() == nil {
			p.errors++
			log.Printf("[poll] %s: %v", batch.ID, err)
			p.observer.emit(Event{Type: EventPollError, BatchID: batch.ID, Err: err})
		}
		return 0, err
	}
	p.apply(batch, recs)
	return batch.CountMembers(recs), nil
}

// refresh pulls every job of the batch so terminal outcomes land in the cache
func (p *poller) refresh(ctx context.Context, batch *domain.Batch) error {
	recs, err := p.reg.Query(ctx, batch.ID)
	if err != nil {
		if ctx.Err() == nil {
			p.errors++
			log.Printf("[poll] refresh %s: %v", batch.ID, err)
			p.observer.emit(Event{Type: EventPollError, BatchID: batch.ID, Err: err})
		}
		return err
	}
	p.apply(batch, recs)
	return nil
}

func (p *poller) apply(batch *domain.Batch, recs []domain.JobRecord) {
	for _, c := range batch.Apply(recs) {
		p.observer.emit(Event{
			Type:    EventStatusChanged,
			BatchID: batch.ID,
			Mailbox: c.Record.Item.Mailbox,
			JobID:   c.Record.ID,
			Status:  c.Record.Status,
			Detail:  c.Record.Detail,
		})
	}
}
