// Package ledger keeps an audit history of finished export runs. It is
// written once per run after the drain and is never read to resume work.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared across calls
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RunSummary is one row of the run history
type RunSummary struct {
	BatchID    domain.BatchID
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  int
	Failed     int
	Pending    int
	Rejected   int
	PollErrors int
	Aborted    bool
}

// WriteReport records a finished run, replacing any earlier entry for the batch
func (s *Store) WriteReport(ctx context.Context, r *domain.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	completed, failed, pending := r.Counts()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (batch_id, started_at, finished_at, completed, failed, pending, rejected, poll_errors, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			completed = excluded.completed,
			failed = excluded.failed,
			pending = excluded.pending,
			rejected = excluded.rejected,
			poll_errors = excluded.poll_errors,
			aborted = excluded.aborted
	`,
		string(r.BatchID),
		r.StartedAt,
		r.FinishedAt,
		completed,
		failed,
		pending,
		len(r.ItemErrors),
		r.PollErrors,
		r.Aborted,
	)
	if err != nil {
		return fmt.Errorf("writing run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE batch_id = ?`, string(r.BatchID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_errors WHERE batch_id = ?`, string(r.BatchID)); err != nil {
		return err
	}

	for _, rec := range r.Records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, batch_id, mailbox, destination, status, detail, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, string(r.BatchID), rec.Item.Mailbox, rec.Item.Destination, string(rec.Status), rec.Detail, rec.SubmittedAt)
		if err != nil {
			return fmt.Errorf("writing job %s: %w", rec.ID, err)
		}
	}

	for _, ie := range r.ItemErrors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO item_errors (batch_id, mailbox, destination, message) VALUES (?, ?, ?, ?)
		`, string(r.BatchID), ie.Item.Mailbox, ie.Item.Destination, ie.Err.Error())
		if err != nil {
			return fmt.Errorf("writing error for %s: %w", ie.Item.Mailbox, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT batch_id, started_at, finished_at, completed, failed, pending, rejected, poll_errors, aborted
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun loads a stored report
func (s *Store) GetRun(batchID domain.BatchID) (*domain.Report, error) {
	row := s.db.QueryRow(`
		SELECT batch_id, started_at, finished_at, completed, failed, pending, rejected, poll_errors, aborted
		FROM runs WHERE batch_id = ?
	`, string(batchID))
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no run %s in ledger", batchID)
		}
		return nil, err
	}

	report := &domain.Report{
		BatchID:    run.BatchID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		PollErrors: run.PollErrors,
		Aborted:    run.Aborted,
	}

	report.Records, err = s.jobs(`WHERE batch_id = ? ORDER BY submitted_at, id`, string(batchID))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT mailbox, destination, message FROM item_errors WHERE batch_id = ? ORDER BY id`, string(batchID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ie domain.ItemError
		var dest sql.NullString
		var msg string
		if err := rows.Scan(&ie.Item.Mailbox, &dest, &msg); err != nil {
			return nil, err
		}
		ie.Item.Destination = dest.String
		ie.Err = errors.New(msg)
		report.ItemErrors = append(report.ItemErrors, ie)
	}
	return report, rows.Err()
}

// MailboxHistory returns every recorded export of a mailbox, newest first
func (s *Store) MailboxHistory(mailbox string) ([]domain.JobRecord, error) {
	return s.jobs(`WHERE mailbox = ? ORDER BY submitted_at DESC`, mailbox)
}

func (s *Store) jobs(where string, args ...interface{}) ([]domain.JobRecord, error) {
	rows, err := s.db.Query(`SELECT id, batch_id, mailbox, destination, status, detail, submitted_at FROM jobs `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.JobRecord
	for rows.Next() {
		var rec domain.JobRecord
		var batchID, status string
		var dest, detail sql.NullString
		var submitted sql.NullTime
		if err := rows.Scan(&rec.ID, &batchID, &rec.Item.Mailbox, &dest, &status, &detail, &submitted); err != nil {
			return nil, err
		}
		rec.BatchID = domain.BatchID(batchID)
		rec.Status = domain.JobStatus(status)
		rec.Item.Destination = dest.String
		rec.Detail = detail.String
		rec.SubmittedAt = submitted.Time
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*RunSummary, error) {
	var run RunSummary
	var batchID string
	var finished sql.NullTime
	err := row.Scan(&batchID, &run.StartedAt, &finished, &run.Completed, &run.Failed, &run.Pending, &run.Rejected, &run.PollErrors, &run.Aborted)
	if err != nil {
		return nil, err
	}
	run.BatchID = domain.BatchID(batchID)
	run.FinishedAt = finished.Time
	return &run, nil
}
