package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/config"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/ledger"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/notify"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/progress"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/report"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/source"
	"github.com/hochfrequenz/mailbox-export-orchestrator/tui"
	"github.com/hochfrequenz/mailbox-export-orchestrator/web/api"
	"golang.org/x/sync/errgroup"
)

// exportJob is one batch to export
type exportJob struct {
	Mailboxes   []string
	Destination string
	Ceiling     int
	BatchPrefix string
	TUI         bool
}

// session holds everything shared by the exports of one command
type session struct {
	cfg      *config.Config
	reg      registry.Registry
	store    *ledger.Store
	csv      *report.CSV
	notifier notify.Notifier
	live     *liveTracker
	server   *api.Server
}

func newSession(cfg *config.Config, reportDir, addr string) (*session, error) {
	store, err := ledger.New(cfg.Ledger.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}

	if reportDir == "" {
		reportDir = cfg.Report.Dir
	}

	s := &session{
		cfg:   cfg,
		reg:   newRegistry(cfg),
		store: store,
		csv:   report.NewCSV(config.ExpandPath(reportDir)),
		notifier: notify.NewMultiNotifier(
			notify.NewDesktopNotifier(cfg.Notifications.Desktop),
			notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
		),
		live: &liveTracker{},
	}
	if addr != "" {
		s.server = api.NewServer(s.live, store, addr)
	}
	return s, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// serveIn starts the status server in g if one is configured
func (s *session) serveIn(ctx context.Context, g *errgroup.Group) {
	if s.server == nil {
		return
	}
	g.Go(func() error { return s.server.Start(ctx) })
}

func (s *session) validate(job exportJob) error {
	if len(job.Mailboxes) == 0 {
		return fmt.Errorf("no mailboxes to export")
	}
	if job.Destination == "" {
		return fmt.Errorf("no destination: pass --destination or set export.destination")
	}
	if job.Ceiling < 0 {
		return fmt.Errorf("ceiling must be at least 1, got %d", job.Ceiling)
	}
	if simulate || !s.cfg.Export.RequireUNC {
		return nil
	}
	return source.UNCValidator{}.Validate(job.Destination)
}

// export runs one batch to completion, writes the report and sends the
// finish notification
func (s *session) export(ctx context.Context, job exportJob) (*domain.Report, error) {
	if err := s.validate(job); err != nil {
		return nil, err
	}

	ceiling := job.Ceiling
	if ceiling <= 0 {
		ceiling = s.cfg.Export.MaxConcurrent
	}
	prefix := job.BatchPrefix
	if prefix == "" {
		prefix = s.cfg.Export.BatchPrefix
	}

	tracker := progress.NewTracker(len(job.Mailboxes))
	s.live.Set(tracker)

	observer := orchestrator.Observer(tracker.Observe)
	if s.server != nil {
		observer = orchestrator.Fanout(tracker.Observe, s.server.Observe)
	}

	opts := orchestrator.Options{
		BatchPrefix:        prefix,
		Ceiling:            ceiling,
		SubmitPollInterval: s.cfg.Export.SubmitPollInterval.Duration,
		DrainPollInterval:  s.cfg.Export.DrainPollInterval.Duration,
		Retry: registry.RetryConfig{
			Attempts:       s.cfg.Retry.PollAttempts,
			InitialBackoff: s.cfg.Retry.InitialBackoff.Duration,
			MaxBackoff:     s.cfg.Retry.MaxBackoff.Duration,
		},
		Sink:     report.NewMulti(s.csv, s.store),
		Observer: observer,
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	items := source.Items(job.Mailboxes, job.Destination)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		rep    *domain.Report
		runErr error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		rep, runErr = orchestrator.RunExport(runCtx, s.reg, items, opts)
		return nil
	})
	if job.TUI {
		g.Go(func() error {
			defer cancelRun()
			return s.runTUI(tracker, ceiling, cancelRun)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("[export] dashboard: %v", err)
	}

	if rep == nil {
		return nil, runErr
	}

	path := s.csv.Path(rep.BatchID)
	if err := s.notifier.Send(notify.FromReport(rep, runErr, path)); err != nil {
		log.Printf("[export] notification failed: %v", err)
	}
	printSummary(rep, path)

	return rep, runErr
}

func (s *session) runTUI(tracker *progress.Tracker, ceiling int, abort func()) error {
	if err := os.MkdirAll(s.csv.Dir, 0755); err != nil {
		return err
	}
	// keep log lines off the dashboard
	f, err := tea.LogToFile(filepath.Join(s.csv.Dir, "mbx-export.log"), "")
	if err != nil {
		return err
	}
	defer f.Close()

	model := tui.NewModel(tui.ModelConfig{
		Tracker:      tracker,
		Ceiling:      ceiling,
		Abort:        abort,
		ExitOnFinish: true,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

func printSummary(r *domain.Report, reportPath string) {
	completed, failed, pending := r.Counts()
	fmt.Printf("Batch %s: %d completed | %d failed | %d pending | %d rejected | took %s\n",
		r.BatchID, completed, failed, pending, len(r.ItemErrors), r.Duration().Round(time.Second))
	for _, ie := range r.ItemErrors {
		fmt.Printf("  rejected %s\n", ie.Error())
	}
	for _, ce := range r.CleanupErrors {
		fmt.Printf("  not removed %s\n", ce.Error())
	}
	if r.Aborted {
		fmt.Printf("Run was aborted; finish cleanup later with: mbx-export cleanup %s\n", r.BatchID)
	}
	fmt.Printf("Report: %s\n", reportPath)
}

// liveTracker points the status server at the tracker of the current run
type liveTracker struct {
	mu      sync.RWMutex
	tracker *progress.Tracker
}

func (l *liveTracker) Set(t *progress.Tracker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracker = t
}

func (l *liveTracker) Snapshot() progress.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.tracker == nil {
		return progress.NewTracker(0).Snapshot()
	}
	return l.tracker.Snapshot()
}
