package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/ledger"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/orchestrator"
	"github.com/spf13/cobra"
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	batch := domain.BatchID(args[0])
	recs, err := newRegistry(cfg).Query(ctx, batch)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Printf("No export requests for batch %s\n", batch)
		return nil
	}

	printJobs(recs)

	counts := make(map[domain.JobStatus]int)
	for _, r := range recs {
		counts[r.Status]++
	}
	fmt.Printf("\n%d requests | %d pending | %d in progress | %d completed | %d failed\n",
		len(recs), counts[domain.StatusPending], counts[domain.StatusInProgress],
		counts[domain.StatusCompleted], counts[domain.StatusFailed])
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	reg := newRegistry(cfg)
	batch := domain.NewBatch(domain.BatchID(args[0]))
	recs, err := reg.Query(ctx, batch.ID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		batch.Add(r)
	}

	removed := 0
	observer := func(e orchestrator.Event) {
		if e.Type == orchestrator.EventRemoved {
			removed++
		}
	}
	errs := orchestrator.NewCleaner(reg, observer).Remove(ctx, batch, recs)

	fmt.Printf("Removed %d of %d requests, %d still running\n", removed, len(recs), batch.InFlight())
	for _, e := range errs {
		fmt.Printf("  failed %s\n", e.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d requests could not be removed", len(errs))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := ledger.New(cfg.Ledger.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyMailbox != "" {
		recs, err := store.MailboxHistory(historyMailbox)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Printf("No exports recorded for %s\n", historyMailbox)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BATCH\tSTATUS\tSUBMITTED\tDESTINATION")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.BatchID, r.Status, humanize.Time(r.SubmittedAt), r.Item.Destination)
		}
		return w.Flush()
	}

	if len(args) == 1 {
		rep, err := store.GetRun(domain.BatchID(args[0]))
		if err != nil {
			return err
		}
		printJobs(rep.Records)
		for _, ie := range rep.ItemErrors {
			fmt.Printf("  rejected %s\n", ie.Error())
		}
		completed, failed, pending := rep.Counts()
		fmt.Printf("\n%s: %d completed | %d failed | %d pending | %d rejected | %d poll errors | took %s\n",
			rep.BatchID, completed, failed, pending, len(rep.ItemErrors), rep.PollErrors, rep.Duration().Round(time.Second))
		return nil
	}

	runs, err := store.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tSTARTED\tDURATION\tCOMPLETED\tFAILED\tPENDING\tREJECTED\tNOTE")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		note := ""
		if r.Aborted {
			note = "aborted"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.BatchID, humanize.Time(r.StartedAt), duration, r.Completed, r.Failed, r.Pending, r.Rejected, note)
	}
	return w.Flush()
}

func printJobs(recs []domain.JobRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAILBOX\tSTATUS\tJOB\tDETAIL")
	for _, r := range recs {
		detail := r.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Item.Mailbox, r.Status, r.ID, detail)
	}
	w.Flush()
}
