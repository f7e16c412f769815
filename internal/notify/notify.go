// Package notify announces finished export runs on the desktop and in Slack.
package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title      string
	Message    string
	Type       NotificationType
	BatchID    domain.BatchID // Optional batch reference
	ReportPath string         // Optional path of the CSV report
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// FromReport summarizes a finished run. Failed jobs or rejected items make
// it a warning; an aborted run or a run error makes it an error.
func FromReport(r *domain.Report, runErr error, reportPath string) Notification {
	completed, failed, pending := r.Counts()
	rejected := len(r.ItemErrors)

	n := Notification{
		Title:      fmt.Sprintf("Mailbox export %s finished", r.BatchID),
		Type:       NotifySuccess,
		BatchID:    r.BatchID,
		ReportPath: reportPath,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d completed, %d failed", completed, failed)
	if pending > 0 {
		fmt.Fprintf(&b, ", %d still pending", pending)
	}
	if rejected > 0 {
		fmt.Fprintf(&b, ", %d rejected", rejected)
	}
	if len(r.CleanupErrors) > 0 {
		fmt.Fprintf(&b, ", %d not cleaned up", len(r.CleanupErrors))
	}

	switch {
	case r.Aborted || runErr != nil:
		n.Title = fmt.Sprintf("Mailbox export %s aborted", r.BatchID)
		n.Type = NotifyError
		if runErr != nil {
			fmt.Fprintf(&b, " (%v)", runErr)
		}
	case failed > 0 || rejected > 0:
		n.Type = NotifyWarning
	}

	n.Message = b.String()
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
