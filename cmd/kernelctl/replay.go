package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
)

var replayCmd = &cobra.Command{
	Use:   "replay <tenant> <aggregate>",
	Short: "Print an aggregate's full event stream in sequence order",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		tenant, err := ids.ParseTenantID(args[0])
		if err != nil {
			exitWithError(fmt.Errorf("invalid tenant id: %w", err))
		}
		aggregate, err := ids.ParseAggregateID(args[1])
		if err != nil {
			exitWithError(fmt.Errorf("invalid aggregate id: %w", err))
		}

		ctx := context.Background()
		s, err := openStore(ctx)
		if err != nil {
			exitWithError(err)
		}
		defer s.Close()

		events, err := s.LoadStream(ctx, tenant, aggregate)
		if err != nil {
			exitWithError(err)
		}

		if len(events) == 0 {
			fmt.Println("no events for this stream")
			return
		}

		for _, e := range events {
			fmt.Printf("%4d  %-30s  %s  %s\n", e.SequenceNumber, e.EventType, e.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), e.EventID)
		}
	},
}
