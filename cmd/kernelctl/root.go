// Command kernelctl is an operator console over the kernel's own store,
// cursor, and dead-letter APIs: it rebuilds a projection's cursor, replays
// an aggregate's event stream, and inspects a projection's dead-letter log.
// It opens no HTTP listener and dispatches no domain commands — every
// subcommand is a thin wrapper around a kernel package method.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:   "kernelctl",
	Short: "Administrative CLI for the forgeerp event-sourcing kernel",
	Long: `kernelctl operates directly on a kernel event store: rebuilding a
projection's cursor, replaying an aggregate's event stream, and listing a
projection's dead-lettered envelopes. It is an operations console, not a
domain client.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "kernelctl.db", "SQLite DSN for the event store (use :memory: for a scratch run)")
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dlqCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
