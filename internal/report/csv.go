// Package report writes finished run reports to their destinations.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
)

// Header is the first row of every CSV report
var Header = []string{"mailbox", "destination", "job_id", "status", "submitted_at", "error"}

// CSV writes one file per batch into Dir
type CSV struct {
	Dir string
}

// NewCSV returns a sink writing to dir
func NewCSV(dir string) *CSV {
	return &CSV{Dir: dir}
}

// Path returns where the report for batch is written
func (c *CSV) Path(batch domain.BatchID) string {
	return filepath.Join(c.Dir, string(batch)+".csv")
}

// WriteReport writes jobs first, then rejected items with an empty job id
func (c *CSV) WriteReport(ctx context.Context, r *domain.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	path := c.Path(r.BatchID)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := writeRows(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeRows(f *os.File, r *domain.Report) error {
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return err
	}
	for _, rec := range r.Records {
		submitted := ""
		if !rec.SubmittedAt.IsZero() {
			submitted = rec.SubmittedAt.UTC().Format(time.RFC3339)
		}
		row := []string{rec.Item.Mailbox, rec.Item.Destination, rec.ID, string(rec.Status), submitted, rec.Detail}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	for _, ie := range r.ItemErrors {
		row := []string{ie.Item.Mailbox, ie.Item.Destination, "", "Rejected", "", ie.Err.Error()}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
