package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/config"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/exchange"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/registry"
	"github.com/spf13/cobra"
)

var (
	runMailboxes   string
	runDestination string
	runCeiling     int
	runSubmitPoll  time.Duration
	runDrainPoll   time.Duration
	runBatchPrefix string
	runReportDir   string
	runTUI         bool
	serve          bool
	servePort      int
	simulate       bool
	historyLimit   int
	historyMailbox string
	scheduleFile   string
	scheduleList   bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run [MAILBOX...]",
		Short: "Export the given mailboxes as one batch",
		Long: `Export mailboxes given as arguments or listed in --mailboxes.
Ctrl-C stops submitting, stops waiting and reports the jobs still pending.`,
		RunE: runRun,
	}
	runCmd.Flags().StringVar(&runMailboxes, "mailboxes", "", "mailbox list file (.txt one per line, or .yaml)")
	runCmd.Flags().StringVar(&runDestination, "destination", "", `UNC output folder, e.g. \\fs01\pst`)
	runCmd.Flags().IntVar(&runCeiling, "ceiling", 0, "maximum exports in flight (default from config)")
	runCmd.Flags().DurationVar(&runSubmitPoll, "submit-poll", 0, "poll interval while waiting to submit")
	runCmd.Flags().DurationVar(&runDrainPoll, "drain-poll", 0, "poll interval while waiting for the batch")
	runCmd.Flags().StringVar(&runBatchPrefix, "batch-prefix", "", "prefix of the generated batch id")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "", "directory for the CSV report")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show a live dashboard")
	addServeFlags(runCmd)
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status BATCH",
		Short: "Show the remote status of a batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	statusCmd.Flags().BoolVar(&simulate, "simulate", false, "use the in-memory registry")
	rootCmd.AddCommand(statusCmd)

	// cleanup command
	cleanupCmd := &cobra.Command{
		Use:   "cleanup BATCH",
		Short: "Remove finished export requests of a batch",
		Long:  "Remove Completed and Failed requests of a batch. Requests still running are left alone; running it twice is harmless.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCleanup,
	}
	cleanupCmd.Flags().BoolVar(&simulate, "simulate", false, "use the in-memory registry")
	rootCmd.AddCommand(cleanupCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history [BATCH]",
		Short: "List past runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	historyCmd.Flags().StringVar(&historyMailbox, "mailbox", "", "show every recorded export of one mailbox")
	rootCmd.AddCommand(historyCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run exports on the cron schedules in the schedule file",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleFile, "file", "", "schedule file (default ~/.config/mbx-export/schedule.toml)")
	scheduleCmd.Flags().BoolVar(&scheduleList, "list", false, "print the next run of each entry and exit")
	addServeFlags(scheduleCmd)
	rootCmd.AddCommand(scheduleCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Export every mailbox list dropped into DIR",
		Long: `Watch DIR for mailbox lists (.txt or .yaml). Each list is exported
as its own batch, one at a time, and then moved to DIR/processed or DIR/failed.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
	addServeFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&serve, "serve", false, "serve live status and history over HTTP")
	cmd.Flags().IntVar(&servePort, "port", 0, "port for --serve (default from config)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "use an in-memory registry instead of Exchange")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRegistry(cfg *config.Config) registry.Registry {
	if simulate {
		return registry.NewMemory(registry.WithProgression(registry.CompleteAfter(3)))
	}
	return exchange.NewClient(exchange.Config{
		Shell:          cfg.Remote.Shell,
		SessionScript:  cfg.Remote.SessionScript,
		CommandTimeout: cfg.Remote.CommandTimeout.Duration,
	}, nil)
}

func serveAddr(cfg *config.Config) string {
	if !serve {
		return ""
	}
	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	return fmt.Sprintf("%s:%d", cfg.Web.Host, port)
}

// signalContext is cancelled on Ctrl-C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
