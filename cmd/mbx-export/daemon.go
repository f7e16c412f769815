package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/batch"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/config"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/inbox"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/source"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func defaultScheduleFile() string {
	return filepath.Join(filepath.Dir(config.DefaultConfigPath()), "schedule.toml")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := scheduleFile
	if path == "" {
		path = defaultScheduleFile()
	}
	scfg, err := batch.LoadScheduleConfig(config.ExpandPath(path))
	if err != nil {
		return err
	}
	if len(scfg.Entries) == 0 {
		return fmt.Errorf("no [[schedule]] entries in %s", path)
	}

	sched, err := batch.NewScheduler(scfg.Entries)
	if err != nil {
		return err
	}

	if scheduleList {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCRON\tMAILBOXES\tNEXT RUN")
		for _, name := range sched.Names() {
			e, _ := sched.Get(name)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Cron, e.MailboxFile, sched.NextRun(name).Format(time.RFC1123))
		}
		return w.Flush()
	}

	sess, err := newSession(cfg, "", serveAddr(cfg))
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signalContext(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	sess.serveIn(gctx, g)
	g.Go(func() error {
		return sched.Start(gctx, func(ctx context.Context, e batch.Entry) error {
			job, err := jobFromFile(cfg, e.MailboxFile)
			if err != nil {
				return err
			}
			if e.Destination != "" {
				job.Destination = e.Destination
			}
			job.Ceiling = e.MaxConcurrent
			job.BatchPrefix = e.Name
			_, err = sess.export(ctx, job)
			return err
		})
	})
	return g.Wait()
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sess, err := newSession(cfg, "", serveAddr(cfg))
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signalContext(context.Background())
	defer stop()

	w := inbox.NewWatcher(args[0])

	g, gctx := errgroup.WithContext(ctx)
	sess.serveIn(gctx, g)
	g.Go(func() error {
		return w.Run(gctx, func(ctx context.Context, path string) error {
			job, err := jobFromFile(cfg, path)
			if err != nil {
				return err
			}
			_, err = sess.export(ctx, job)
			return err
		})
	})
	return g.Wait()
}

// jobFromFile reads a mailbox list; a destination in the file wins over
// the configured one
func jobFromFile(cfg *config.Config, path string) (exportJob, error) {
	list, err := source.LoadMailboxes(path)
	if err != nil {
		return exportJob{}, fmt.Errorf("reading %s: %w", path, err)
	}
	job := exportJob{
		Mailboxes:   list.Mailboxes,
		Destination: cfg.Export.Destination,
	}
	if list.Destination != "" {
		job.Destination = list.Destination
	}
	return job, nil
}
