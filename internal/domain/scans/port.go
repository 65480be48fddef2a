package scans

import (
	"context"
	"time"
)

// Repository port for jobs, results and contract versions. Implementations
// must give AdmitJob, CompleteJob and FailJob all-or-nothing semantics.
type Repository interface {
	// AdmitJob takes the persisted (contract, version) lock, upserts the
	// contract version and inserts the pending job. A lock whose holder is
	// terminal or whose lease expired before job.SubmittedAt is taken over and
	// a stale holder is failed. Any other held lock yields ScanInProgress; a
	// different artifact hash for a known version yields InvalidRequest.
	AdmitJob(ctx context.Context, job *ScanJob, cv ContractVersion) error
	GetJob(ctx context.Context, id JobID) (*ScanJob, error)
	// MarkRunning moves a pending job to running.
	MarkRunning(ctx context.Context, id JobID, at time.Time) error
	// RenewLease extends the lease of a non-terminal job held by owner. It
	// returns NotFound when the job is terminal or owned by someone else.
	RenewLease(ctx context.Context, id JobID, owner string, until time.Time) error
	// CompleteJob writes the result, completes the job, points the contract
	// version at the result and releases the lock.
	CompleteJob(ctx context.Context, res *ScanResult, at time.Time) error
	// FailJob fails a non-terminal job and releases its lock.
	FailJob(ctx context.Context, id JobID, kind, reason string, at time.Time) error
	GetResult(ctx context.Context, id JobID) (*ScanResult, error)
	GetContractVersion(ctx context.Context, contractID, version string) (*ContractVersion, error)
	History(ctx context.Context, contractID string, page, pageSize int) (HistoryPage, error)
	// ListVersions pages through registered contract versions, most recently
	// updated first.
	ListVersions(ctx context.Context, filter VersionFilter, page, pageSize int) (VersionPage, error)
	// FailOrphanedJobs fails the non-terminal jobs owned by owner or whose
	// lease expired before at, and releases their locks. An empty owner only
	// matches expired leases. Live jobs of other instances are left alone.
	FailOrphanedJobs(ctx context.Context, owner, reason string, at time.Time) (int, error)
}

// ArtifactStore port for raw artifact bytes.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ArtifactKey is the object key of a contract version's artifact.
func ArtifactKey(contractID, version string) string {
	return "artifacts/" + contractID + "/" + version + ".wasm"
}
