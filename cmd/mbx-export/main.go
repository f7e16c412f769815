package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "mbx-export",
		Short: "Mailbox Export Orchestrator - throttled PST exports from Exchange",
		Long: `Mailbox Export Orchestrator submits one mailbox export request per
mailbox, keeps at most --ceiling of them in flight on the server, waits for
the whole batch to finish and then removes the finished requests.

Every run writes a CSV report and an entry in the local run history.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
