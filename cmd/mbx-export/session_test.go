package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/config"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/spf13/cobra"
)

func simulatedConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Ledger.DatabasePath = filepath.Join(dir, "history.db")
	cfg.Report.Dir = filepath.Join(dir, "reports")
	cfg.Export.SubmitPollInterval = config.Duration{Duration: time.Millisecond}
	cfg.Export.DrainPollInterval = config.Duration{Duration: time.Millisecond}
	cfg.Retry.PollAttempts = 1

	simulate = true
	t.Cleanup(func() { simulate = false })
	return cfg
}

func TestSession_ExportSimulated(t *testing.T) {
	cfg := simulatedConfig(t)

	sess, err := newSession(cfg, "", "")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	rep, err := sess.export(context.Background(), exportJob{
		Mailboxes:   []string{"alice", "bob", "carol"},
		Destination: `\\fs01\pst`,
		Ceiling:     2,
		BatchPrefix: "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	completed, failed, pending := rep.Counts()
	if completed != 3 || failed != 0 || pending != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/0/0", completed, failed, pending)
	}

	if _, err := os.Stat(sess.csv.Path(rep.BatchID)); err != nil {
		t.Errorf("CSV report missing: %v", err)
	}

	stored, err := sess.store.GetRun(rep.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Records) != 3 {
		t.Errorf("ledger records = %d, want 3", len(stored.Records))
	}

	if snap := sess.live.Snapshot(); !snap.Done() || snap.BatchID != rep.BatchID {
		t.Errorf("live snapshot = %s %s, want finished %s", snap.Phase, snap.BatchID, rep.BatchID)
	}
}

func TestSession_Validate(t *testing.T) {
	cfg := simulatedConfig(t)
	sess, err := newSession(cfg, "", "")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if _, err := sess.export(context.Background(), exportJob{Destination: `\\fs\pst`}); err == nil {
		t.Error("empty mailbox list should be rejected")
	}
	if _, err := sess.export(context.Background(), exportJob{Mailboxes: []string{"a"}}); err == nil {
		t.Error("missing destination should be rejected")
	}

	if err := sess.validate(exportJob{Mailboxes: []string{"a"}, Destination: `\\fs\pst`, Ceiling: -3}); err == nil {
		t.Error("negative ceiling should be rejected")
	}

	simulate = false
	if err := sess.validate(exportJob{Mailboxes: []string{"a"}, Destination: "/tmp/pst"}); err == nil {
		t.Error("local destination should be rejected when UNC is required")
	}
}

func TestApplyRunFlags(t *testing.T) {
	defer func() { runCeiling, runSubmitPoll = 0, 0 }()

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().IntVar(&runCeiling, "ceiling", 0, "")
		cmd.Flags().DurationVar(&runSubmitPoll, "submit-poll", 0, "")
		return cmd
	}

	cmd := newCmd()
	cmd.Flags().Set("ceiling", "-3")
	if err := applyRunFlags(cmd, config.Default()); err == nil {
		t.Error("--ceiling -3 should fail validation")
	}

	cmd = newCmd()
	cmd.Flags().Set("ceiling", "0")
	if err := applyRunFlags(cmd, config.Default()); err == nil {
		t.Error("--ceiling 0 should fail validation")
	}

	cmd = newCmd()
	cmd.Flags().Set("ceiling", "7")
	cfg := config.Default()
	if err := applyRunFlags(cmd, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Export.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7", cfg.Export.MaxConcurrent)
	}

	cfg = config.Default()
	if err := applyRunFlags(newCmd(), cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Export.MaxConcurrent != 5 {
		t.Errorf("unset flag changed MaxConcurrent to %d", cfg.Export.MaxConcurrent)
	}
}

func TestJobFromFile(t *testing.T) {
	cfg := config.Default()
	cfg.Export.Destination = `\\default\pst`

	dir := t.TempDir()
	txt := filepath.Join(dir, "leavers.txt")
	os.WriteFile(txt, []byte("# leavers\nalice\n\nbob\n"), 0644)
	yml := filepath.Join(dir, "archive.yaml")
	os.WriteFile(yml, []byte("destination: '\\\\archive\\pst'\nmailboxes:\n  - carol\n"), 0644)

	job, err := jobFromFile(cfg, txt)
	if err != nil {
		t.Fatal(err)
	}
	if len(job.Mailboxes) != 2 || job.Destination != `\\default\pst` {
		t.Errorf("txt job = %+v", job)
	}

	job, err = jobFromFile(cfg, yml)
	if err != nil {
		t.Fatal(err)
	}
	if len(job.Mailboxes) != 1 || job.Destination != `\\archive\pst` {
		t.Errorf("yaml job = %+v", job)
	}
}

func TestLiveTracker_Empty(t *testing.T) {
	var l liveTracker
	if s := l.Snapshot(); s.BatchID != domain.BatchID("") || s.Done() {
		t.Errorf("empty live tracker = %+v", s)
	}
}
