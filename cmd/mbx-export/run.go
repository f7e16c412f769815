package main

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/config"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/source"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	job := exportJob{
		Mailboxes:   args,
		Destination: cfg.Export.Destination,
		Ceiling:     cfg.Export.MaxConcurrent,
		BatchPrefix: runBatchPrefix,
		TUI:         runTUI,
	}
	if runMailboxes != "" {
		list, err := source.LoadMailboxes(runMailboxes)
		if err != nil {
			return fmt.Errorf("reading %s: %w", runMailboxes, err)
		}
		job.Mailboxes = append(job.Mailboxes, list.Mailboxes...)
		if list.Destination != "" {
			job.Destination = list.Destination
		}
	}
	if runDestination != "" {
		job.Destination = runDestination
	}

	sess, err := newSession(cfg, runReportDir, serveAddr(cfg))
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signalContext(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	sess.serveIn(serverCtx, g)

	var runErr error
	g.Go(func() error {
		defer stopServer()
		_, runErr = sess.export(gctx, job)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

// applyRunFlags lets explicitly set flags override the config, then validates
// the result so a bad flag fails before anything is submitted
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("ceiling") {
		cfg.Export.MaxConcurrent = runCeiling
	}
	if flags.Changed("submit-poll") {
		cfg.Export.SubmitPollInterval.Duration = runSubmitPoll
	}
	if flags.Changed("drain-poll") {
		cfg.Export.DrainPollInterval.Duration = runDrainPoll
	}
	return cfg.Validate()
}
