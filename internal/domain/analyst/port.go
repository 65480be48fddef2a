package analyst

import (
	"context"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Repository port for persisting and querying analyses
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	// LatestByJob returns NotFound when the job has no analysis yet.
	LatestByJob(ctx context.Context, jobID scans.JobID) (*Analysis, error)
}
