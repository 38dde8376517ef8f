package main

import (
	"context"

	kernelsqlite "github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store/sqlite"
)

func openStore(ctx context.Context) (*kernelsqlite.Store, error) {
	return kernelsqlite.New(ctx, kernelsqlite.WithDSN(dsn))
}
