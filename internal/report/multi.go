package report

import (
	"context"
	"errors"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

// Sink is anything that accepts a finished report
type Sink interface {
	WriteReport(ctx context.Context, r *domain.Report) error
}

// Multi writes to every sink in order and joins their errors
type Multi struct {
	sinks []Sink
}

// NewMulti creates a Multi, skipping nil sinks
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// WriteReport hands the report to each sink. A failing sink does not stop
// the others.
func (m *Multi) WriteReport(ctx context.Context, r *domain.Report) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.WriteReport(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to a Sink
type Func func(ctx context.Context, r *domain.Report) error

// WriteReport calls f
func (f Func) WriteReport(ctx context.Context, r *domain.Report) error {
	return f(ctx, r)
}
