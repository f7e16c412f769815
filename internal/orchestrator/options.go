package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
)

// ErrInvalidOptions marks configuration errors detected before any submission
var ErrInvalidOptions = errors.New("invalid options")

// DefaultAbortGrace bounds the best-effort refresh and cleanup after cancellation
const DefaultAbortGrace = 30 * time.Second

// ReportSink persists a finished report. Cleanup only runs after the sink
// accepted the report.
type ReportSink interface {
	WriteReport(ctx context.Context, r *domain.Report) error
}

// Options configures one export run
type Options struct {
	// BatchID is used as is when set; otherwise one is generated from BatchPrefix
	BatchID     domain.BatchID
	BatchPrefix string

	Ceiling            int
	SubmitPollInterval time.Duration
	DrainPollInterval  time.Duration
	Retry              registry.RetryConfig
	AbortGrace         time.Duration

	Sink     ReportSink
	Observer Observer
}

// Validate checks the options without touching the registry
func (o Options) Validate() error {
	if o.Ceiling < 1 {
		return fmt.Errorf("%w: ceiling must be at least 1, got %d", ErrInvalidOptions, o.Ceiling)
	}
	if o.SubmitPollInterval <= 0 {
		return fmt.Errorf("%w: submit poll interval must be positive, got %v", ErrInvalidOptions, o.SubmitPollInterval)
	}
	if o.DrainPollInterval <= 0 {
		return fmt.Errorf("%w: drain poll interval must be positive, got %v", ErrInvalidOptions, o.DrainPollInterval)
	}
	return nil
}
