package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	kernelsqlite "github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store/sqlite"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <tenant> <projection>",
	Short: "Clear a projection's cursor for a tenant, forcing a full replay on next run",
	Long: `rebuild deletes every cursor this projection owns for the given
tenant. It does not touch any read-model rows owned by the projection
itself — the kernel has no visibility into a projection's storage, only
into how far it has read. A projection process that shares this database
will see no cursor for a stream on its next ApplyEnvelope call for that
stream and, via the runner's own gap-backfill, reprocess that stream from
its first event.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		tenant, err := ids.ParseTenantID(args[0])
		if err != nil {
			exitWithError(fmt.Errorf("invalid tenant id: %w", err))
		}
		projectionName := args[1]

		ctx := context.Background()
		s, err := openStore(ctx)
		if err != nil {
			exitWithError(err)
		}
		defer s.Close()

		cursors := kernelsqlite.NewCursorStore(s)
		defer cursors.Close()

		if err := cursors.DeleteForTenant(ctx, tenant, projectionName); err != nil {
			exitWithError(err)
		}

		fmt.Printf("cleared cursors for projection %q, tenant %s\n", projectionName, tenant)
	},
}
