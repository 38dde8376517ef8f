package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	kernelsqlite "github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store/sqlite"
)

var dlqTenant string

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect a projection's dead-letter log",
}

var dlqListCmd = &cobra.Command{
	Use:   "list <projection>",
	Short: "List dead-lettered envelopes for a projection",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectionName := args[0]

		tenant, err := ids.ParseTenantID(dlqTenant)
		if err != nil {
			exitWithError(fmt.Errorf("invalid --tenant: %w", err))
		}

		ctx := context.Background()
		s, err := openStore(ctx)
		if err != nil {
			exitWithError(err)
		}
		defer s.Close()

		dead := kernelsqlite.NewDeadLetterStore(s)
		defer dead.Close()

		entries, err := dead.List(ctx, tenant, projectionName)
		if err != nil {
			exitWithError(err)
		}

		if len(entries) == 0 {
			fmt.Println("no dead letters")
			return
		}

		for _, dl := range entries {
			fmt.Printf("seq=%-6d aggregate=%s event=%-20s reason=%s\n", dl.SequenceNumber, dl.AggregateID, dl.EventType, dl.Reason)
		}
	},
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&dlqTenant, "tenant", "", "tenant id to scope the query to (required)")
	_ = dlqCmd.MarkPersistentFlagRequired("tenant")
	dlqCmd.AddCommand(dlqListCmd)
}
