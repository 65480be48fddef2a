package scans

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Macnelson9/Soroban-Registry/internal/application"
	"github.com/Macnelson9/Soroban-Registry/internal/application/locks"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	domain "github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Checklist is the part of the registry the pipeline reads.
type Checklist interface {
	Current() (int, []checklist.Rule)
	Get(version int) ([]checklist.Rule, error)
}

type Detector interface {
	Evaluate(ctx context.Context, artifact []byte, rules []checklist.Rule) ([]domain.Finding, error)
}

type Benchmark interface {
	Measure(ctx context.Context, artifact []byte, budget benchmark.Budget) (benchmark.Report, error)
}

type Scorer interface {
	Score(findings []domain.Finding, metrics []domain.Metric, rules []checklist.Rule) domain.Score
}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo      domain.Repository
	Artifacts domain.ArtifactStore
	Checklist Checklist
	Detector  Detector
	Benchmark Benchmark
	Scorer    Scorer
	Clock     application.Clock
	Logger    *slog.Logger
	Observer  Observer
}

// Options tune the pipeline.
type Options struct {
	// JobDeadline bounds a job from admission to its terminal state.
	JobDeadline time.Duration
	Budget      benchmark.Budget
	// MaxArtifactBytes rejects larger submissions. Zero means 4 MiB.
	MaxArtifactBytes int
	// PersistTimeout bounds each write of a job's outcome.
	PersistTimeout time.Duration
	// InstanceID names this process as the owner of its jobs. It must be
	// unique per replica. Empty means a random id.
	InstanceID string
	// LeaseTTL is how long a job stays owned without a heartbeat. Zero means
	// 30s; heartbeats run every third of it.
	LeaseTTL time.Duration
	// RetryBackoff is the first pause before retrying a failed outcome
	// write. It doubles up to maxRetryBackoff. Zero means 200ms.
	RetryBackoff time.Duration
}

const maxRetryBackoff = 10 * time.Second

var (
	errJobCancelled = errors.New("job cancelled")
	errJobDeadline  = errors.New("job deadline exceeded")
	errShutdown     = errors.New("service shutting down")
	errLeaseLost    = errors.New("job lease lost")
)

// Service implements the scan use-cases. It is safe for concurrent use; every
// admitted job runs its pipeline in its own goroutine.
type Service struct {
	repo      domain.Repository
	artifacts domain.ArtifactStore
	checklist Checklist
	detector  Detector
	bench     Benchmark
	scorer    Scorer
	clock     application.Clock
	log       *slog.Logger
	observer  Observer
	opts      Options

	locks *locks.Arena

	base context.Context
	stop context.CancelCauseFunc
	// halt ends outcome retries and heartbeats once Close gives up waiting.
	halt     chan struct{}
	haltOnce sync.Once

	mu       sync.Mutex
	closed   bool
	inflight map[domain.JobID]*run
	wg       sync.WaitGroup
}

func NewService(d Deps, opts Options) *Service {
	if d.Clock == nil {
		d.Clock = application.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if opts.MaxArtifactBytes <= 0 {
		opts.MaxArtifactBytes = 4 << 20
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Service{
		repo:      d.Repo,
		artifacts: d.Artifacts,
		checklist: d.Checklist,
		detector:  d.Detector,
		bench:     d.Benchmark,
		scorer:    d.Scorer,
		clock:     d.Clock,
		log:       d.Logger.With("component", "scans"),
		observer:  d.Observer,
		opts:      opts,
		locks:     locks.NewArena(),
		base:      base,
		stop:      stop,
		halt:      make(chan struct{}),
		inflight:  make(map[domain.JobID]*run),
	}
}

//
// ==== USE CASES ====
//

// SubmitCommand asks for a scan of one contract version.
type SubmitCommand struct {
	ContractID  string
	Version     string
	PublisherID string
	Artifact    []byte
}

func (c SubmitCommand) validate(max int) error {
	switch {
	case strings.TrimSpace(c.ContractID) == "":
		return scanerrors.New(scanerrors.KindInvalidRequest, "contract id is required")
	case strings.TrimSpace(c.Version) == "":
		return scanerrors.New(scanerrors.KindInvalidRequest, "version is required")
	case strings.TrimSpace(c.PublisherID) == "":
		return scanerrors.New(scanerrors.KindInvalidRequest, "publisher id is required")
	case len(c.Artifact) == 0:
		return scanerrors.New(scanerrors.KindInvalidRequest, "artifact is empty")
	case len(c.Artifact) > max:
		return scanerrors.New(scanerrors.KindInvalidRequest, "artifact exceeds %d bytes", max)
	}
	return nil
}

// JobView is a job together with its result once it has one.
type JobView struct {
	Job    *domain.ScanJob    `json:"job"`
	Result *domain.ScanResult `json:"result,omitempty"`
}

// Submit admits a scan. At most one non-terminal job exists per contract
// version; a second submission gets ScanInProgress and creates nothing.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*domain.ScanJob, error) {
	job, err := s.admit(ctx, cmd)
	if err != nil {
		s.observer.JobRejected(scanerrors.KindOf(err))
		return nil, err
	}
	s.observer.JobAdmitted()
	return job, nil
}

func (s *Service) admit(ctx context.Context, cmd SubmitCommand) (*domain.ScanJob, error) {
	if err := cmd.validate(s.opts.MaxArtifactBytes); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, scanerrors.Wrap(scanerrors.KindInfrastructure, errShutdown, "cannot admit job")
	}

	key := locks.Key{ContractID: cmd.ContractID, Version: cmd.Version}
	guard, ok := s.locks.TryAcquire(key)
	if !ok {
		return nil, scanerrors.New(scanerrors.KindScanInProgress, "a scan of %s@%s is already in progress", cmd.ContractID, cmd.Version)
	}
	admitted := false
	defer func() {
		if !admitted {
			guard.Release()
		}
	}()

	sum := sha256.Sum256(cmd.Artifact)
	hash := hex.EncodeToString(sum[:])
	objectKey := domain.ArtifactKey(cmd.ContractID, cmd.Version)

	existing, err := s.repo.GetContractVersion(ctx, cmd.ContractID, cmd.Version)
	switch {
	case err == nil:
		if existing.PublisherID != cmd.PublisherID {
			return nil, scanerrors.New(scanerrors.KindInvalidRequest, "%s@%s belongs to another publisher", cmd.ContractID, cmd.Version)
		}
		if existing.ArtifactHash != hash {
			return nil, scanerrors.New(scanerrors.KindInvalidRequest, "%s@%s was published with a different artifact", cmd.ContractID, cmd.Version)
		}
	case errors.Is(err, scanerrors.ErrNotFound):
		if err := s.artifacts.Put(ctx, objectKey, cmd.Artifact); err != nil {
			return nil, scanerrors.Wrap(scanerrors.KindInfrastructure, err, "store artifact")
		}
	default:
		return nil, err
	}

	now := s.clock.Now()
	job := &domain.ScanJob{
		ID:             domain.JobID(uuid.New().String()),
		ContractID:     cmd.ContractID,
		Version:        cmd.Version,
		PublisherID:    cmd.PublisherID,
		State:          domain.StatePending,
		SubmittedAt:    now,
		Owner:          s.opts.InstanceID,
		LeaseExpiresAt: now.Add(s.opts.LeaseTTL),
	}
	cv := domain.ContractVersion{
		ContractID:   cmd.ContractID,
		Version:      cmd.Version,
		PublisherID:  cmd.PublisherID,
		ArtifactHash: hash,
		ArtifactKey:  objectKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.AdmitJob(ctx, job, cv); err != nil {
		return nil, err
	}
	admitted = true

	s.start(*job, hash, guard)
	out := *job
	return &out, nil
}

// RescanCommand re-admits a version from its stored artifact.
type RescanCommand struct {
	ContractID  string
	Version     string
	PublisherID string
}

// Rescan scans a known version again, typically after a checklist update.
func (s *Service) Rescan(ctx context.Context, cmd RescanCommand) (*domain.ScanJob, error) {
	cv, err := s.repo.GetContractVersion(ctx, cmd.ContractID, cmd.Version)
	if err != nil {
		return nil, err
	}
	if cmd.PublisherID != "" && cmd.PublisherID != cv.PublisherID {
		return nil, scanerrors.New(scanerrors.KindInvalidRequest, "%s@%s belongs to another publisher", cmd.ContractID, cmd.Version)
	}
	artifact, err := s.artifacts.Get(ctx, cv.ArtifactKey)
	if err != nil {
		return nil, scanerrors.Wrap(scanerrors.KindInfrastructure, err, "load artifact")
	}
	return s.Submit(ctx, SubmitCommand{
		ContractID:  cv.ContractID,
		Version:     cv.Version,
		PublisherID: cv.PublisherID,
		Artifact:    artifact,
	})
}

// Get returns a job and, once completed, its result.
func (s *Service) Get(ctx context.Context, id domain.JobID) (JobView, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	view := JobView{Job: job}
	if job.State == domain.StateCompleted {
		res, err := s.repo.GetResult(ctx, id)
		if err != nil {
			return JobView{}, err
		}
		view.Result = res
	}
	return view, nil
}

// Await blocks until the job is terminal or ctx is done. Jobs owned by
// another process are returned as they currently stand.
func (s *Service) Await(ctx context.Context, id domain.JobID) (JobView, error) {
	if r := s.lookup(id); r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return JobView{}, ctx.Err()
		}
	}
	return s.Get(ctx, id)
}

// Cancel stops a job that has not started scoring and waits for it to
// settle as Failed with kind Cancelled.
func (s *Service) Cancel(ctx context.Context, id domain.JobID) error {
	r := s.lookup(id)
	if r == nil {
		job, err := s.repo.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if domain.IsTerminal(job.State) {
			return scanerrors.New(scanerrors.KindCancelNotAllowed, "job %s is already %s", id, job.State)
		}
		return scanerrors.New(scanerrors.KindCancelNotAllowed, "job %s is not running in this process", id)
	}
	if err := r.requestCancel(); err != nil {
		return err
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RescoreResult compares a stored score with a fresh computation.
type RescoreResult struct {
	JobID            domain.JobID `json:"job_id"`
	ChecklistVersion int          `json:"checklist_version"`
	Stored           domain.Score `json:"stored"`
	Recomputed       domain.Score `json:"recomputed"`
	Matches          bool         `json:"matches"`
}

// Rescore recomputes a result's score from the checklist version it pinned.
// Nothing is written; a mismatch means the scoring policy changed.
func (s *Service) Rescore(ctx context.Context, id domain.JobID) (RescoreResult, error) {
	res, err := s.repo.GetResult(ctx, id)
	if err != nil {
		return RescoreResult{}, err
	}
	rules, err := s.checklist.Get(res.ChecklistVersion)
	if err != nil {
		return RescoreResult{}, err
	}
	score := s.scorer.Score(res.Findings, res.Metrics, rules)
	return RescoreResult{
		JobID:            id,
		ChecklistVersion: res.ChecklistVersion,
		Stored:           res.Score,
		Recomputed:       score,
		Matches: score.Value == res.Score.Value && score.Grade == res.Score.Grade &&
			maps.Equal(score.Breakdown, res.Score.Breakdown),
	}, nil
}

// RecoverOrphans fails the jobs an earlier run of this instance left behind
// and any job whose lease expired. Call it before admitting any job; live
// jobs of other replicas keep running.
func (s *Service) RecoverOrphans(ctx context.Context) (int, error) {
	n, err := s.repo.FailOrphanedJobs(ctx, s.opts.InstanceID, "service restarted before the job finished", s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("failed orphaned jobs", "count", n, "instance", s.opts.InstanceID)
	}
	return n, nil
}

// ReapExpired fails jobs whose owner stopped renewing their lease and frees
// their versions.
func (s *Service) ReapExpired(ctx context.Context) (int, error) {
	n, err := s.repo.FailOrphanedJobs(ctx, "", domain.ReasonLeaseExpired, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("failed jobs with expired leases", "count", n)
	}
	return n, nil
}

// RunReaper calls ReapExpired every interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.opts.LeaseTTL
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.ReapExpired(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("reap expired jobs", "error", err)
			}
		}
	}
}

// Close stops admitting jobs, cancels running pipelines and waits for them
// until ctx is done. Pipelines still retrying their final write when ctx ends
// give up; their leases expire and another instance reclaims the versions.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop(errShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.haltOnce.Do(func() { close(s.halt) })
		return ctx.Err()
	}
}

// InFlight is the number of pipelines currently running.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) lookup(id domain.JobID) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}
