package aggregate

import (
	"context"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// ResultSource reads the result ledger in sequence order.
type ResultSource interface {
	// ResultsSince returns up to limit results with seq > after, ascending.
	ResultsSince(ctx context.Context, after int64, limit int) ([]scans.ResultRecord, error)
	CountResults(ctx context.Context) (int64, error)
}

// Repository persists snapshot sets.
type Repository interface {
	// ReplaceSnapshots swaps every stored snapshot for snaps in one step.
	ReplaceSnapshots(ctx context.Context, snaps []Snapshot) error
	LoadSnapshots(ctx context.Context) ([]Snapshot, error)
}
