package orchestrator

import (
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

// EventType identifies what happened during a run
type EventType string

const (
	EventStarted       EventType = "started"
	EventSubmitted     EventType = "submitted"
	EventRejected      EventType = "rejected"
	EventGateCheck     EventType = "gate_check"
	EventStatusChanged EventType = "status_changed"
	EventPollError     EventType = "poll_error"
	EventDrainCheck    EventType = "drain_check"
	EventRemoved       EventType = "removed"
	EventCleanupFailed EventType = "cleanup_failed"
	EventFinished      EventType = "finished"
)

// Event is emitted to an Observer as the run progresses
type Event struct {
	Type     EventType
	BatchID  domain.BatchID
	Mailbox  string
	JobID    string
	Status   domain.JobStatus
	Detail   string
	InFlight int
	Err      error
	Report   *domain.Report
	Time     time.Time
}

// Observer receives run events. It is called synchronously from the control
// loop and must not block.
type Observer func(Event)

func (o Observer) emit(e Event) {
	if o == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o(e)
}

// Fanout combines observers; nil entries are skipped
func Fanout(observers ...Observer) Observer {
	return func(e Event) {
		for _, o := range observers {
			o.emit(e)
		}
	}
}
