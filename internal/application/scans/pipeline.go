package scans

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Macnelson9/Soroban-Registry/internal/application/locks"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	domain "github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

// run is the in-process handle of one pipeline.
type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu      sync.Mutex
	scoring bool
}

func (r *run) requestCancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scoring {
		return scanerrors.New(scanerrors.KindCancelNotAllowed, "job has already started scoring")
	}
	r.cancel(errJobCancelled)
	return nil
}

// enterScoring closes the cancellation window. It fails if the job was
// cancelled or timed out first.
func (r *run) enterScoring(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.scoring = true
	return true
}

// start launches the pipeline of an admitted job. The guard is released
// exactly once, after the job's outcome is stored.
func (s *Service) start(job domain.ScanJob, hash string, guard *locks.Guard) {
	ctx, cancel := context.WithCancelCause(s.base)
	r := &run{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel(errShutdown)
		s.settle(ctx, job, nil, errShutdown, time.Now())
		guard.Release()
		return
	}
	s.inflight[job.ID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer guard.Release()
		defer s.forget(job.ID)
		defer cancel(nil)

		// the lease outlives the job context so retried writes stay owned
		hctx, stopHeartbeat := context.WithCancel(context.Background())
		defer stopHeartbeat()
		go s.heartbeat(hctx, r, job.ID)

		jctx := ctx
		if s.opts.JobDeadline > 0 {
			var stop context.CancelFunc
			jctx, stop = context.WithTimeoutCause(ctx, s.opts.JobDeadline, errJobDeadline)
			defer stop()
		}
		began := time.Now()
		res, err := s.execute(jctx, r, job, hash)
		s.settle(jctx, job, res, err, began)
	}()
}

// heartbeat renews the job's lease until ctx ends. Losing the lease means
// another instance took the version over, so the job is cancelled.
func (s *Service) heartbeat(ctx context.Context, r *run, id domain.JobID) {
	t := time.NewTicker(max(s.opts.LeaseTTL/3, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.halt:
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, s.opts.PersistTimeout)
		err := s.repo.RenewLease(pctx, id, s.opts.InstanceID, s.clock.Now().Add(s.opts.LeaseTTL))
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, scanerrors.ErrNotFound):
			r.cancel(errLeaseLost)
			return
		case ctx.Err() == nil:
			s.log.Warn("renew job lease", "job_id", id, "error", err)
		}
	}
}

func (s *Service) forget(id domain.JobID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// execute runs the stages of one job and returns its result.
func (s *Service) execute(ctx context.Context, r *run, job domain.ScanJob, hash string) (*domain.ScanResult, error) {
	artifact, err := s.artifacts.Get(ctx, domain.ArtifactKey(job.ContractID, job.Version))
	if err != nil {
		return nil, scanerrors.Wrap(scanerrors.KindInfrastructure, err, "load artifact")
	}
	sum := sha256.Sum256(artifact)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, scanerrors.New(scanerrors.KindInfrastructure, "stored artifact does not match its recorded hash")
	}
	// Undecodable artifacts fail straight from Pending.
	if _, err := wasm.Decode(artifact); err != nil {
		return nil, scanerrors.Wrap(scanerrors.KindArtifactInvalid, err, "decode artifact")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.repo.MarkRunning(ctx, job.ID, s.clock.Now()); err != nil {
		return nil, err
	}
	s.observer.JobStarted()

	version, rules := s.checklist.Current()
	var (
		findings []domain.Finding
		report   benchmark.Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		findings, err = s.detector.Evaluate(gctx, artifact, rules)
		return err
	})
	g.Go(func() error {
		var err error
		report, err = s.bench.Measure(gctx, artifact, s.opts.Budget)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if m, ok := report.Metric(benchmark.MetricBudgetExceeded); ok && m.Value > 0 {
		s.log.Info("benchmark budget exceeded", "job_id", job.ID, "limit", report.ExceededLimit)
	}

	if !r.enterScoring(ctx) {
		return nil, context.Cause(ctx)
	}
	score := s.scorer.Score(findings, report.Metrics, rules)
	if errors.Is(context.Cause(ctx), errJobDeadline) {
		return nil, errJobDeadline
	}
	if findings == nil {
		findings = []domain.Finding{}
	}
	return &domain.ScanResult{
		JobID:            job.ID,
		ContractID:       job.ContractID,
		Version:          job.Version,
		PublisherID:      job.PublisherID,
		Findings:         findings,
		Metrics:          report.Metrics,
		Score:            score,
		ChecklistVersion: version,
		CreatedAt:        s.clock.Now(),
	}, nil
}

// settle persists the outcome of a job. Writes use a fresh context so a
// cancelled job still records why it failed. A failure that cannot be stored
// is retried until it is, so the version lock is never left behind.
func (s *Service) settle(ctx context.Context, job domain.ScanJob, res *domain.ScanResult, err error, began time.Time) {
	log := s.log.With("job_id", job.ID, "contract_id", job.ContractID, "version", job.Version)

	if err == nil {
		pctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
		err = s.repo.CompleteJob(pctx, res, s.clock.Now())
		cancel()
		if err == nil {
			log.Info("scan completed",
				"score", res.Score.Value,
				"grade", res.Score.Grade,
				"findings", len(res.Findings),
				"checklist_version", res.ChecklistVersion,
				"duration", time.Since(began))
			s.observer.JobFinished(domain.StateCompleted, "", time.Since(began))
			return
		}
		log.Error("persist result", "error", err)
	}

	kind, reason := classify(ctx, err)
	state, stored := s.recordFailure(log, job.ID, kind, reason)
	switch {
	case !stored:
		log.Error("job outcome not stored", "kind", kind, "reason", reason)
	case state == domain.StateFailed:
		log.Log(context.Background(), levelFor(kind), "scan failed", "kind", kind, "reason", reason)
	}
	if state == domain.StateCompleted {
		s.observer.JobFinished(domain.StateCompleted, "", time.Since(began))
		return
	}
	s.observer.JobFinished(domain.StateFailed, kind, time.Since(began))
}

// recordFailure fails the job, retrying with backoff until the write lands or
// the job is found terminal, e.g. because a result write that reported an
// error did commit. It returns the job's final state and false only when
// Close gave up first.
func (s *Service) recordFailure(log *slog.Logger, id domain.JobID, kind scanerrors.Kind, reason string) (domain.State, bool) {
	wait := s.opts.RetryBackoff
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
		err := s.repo.FailJob(pctx, id, string(kind), reason, s.clock.Now())
		state := domain.StateFailed
		if err != nil {
			if job, gerr := s.repo.GetJob(pctx, id); gerr == nil && domain.IsTerminal(job.State) {
				state, err = job.State, nil
			}
		}
		cancel()
		if err == nil {
			return state, true
		}
		log.Error("persist failure", "error", err, "attempt", attempt, "retry_in", wait)
		select {
		case <-time.After(wait):
		case <-s.halt:
			return domain.StateRunning, false
		}
		wait = min(wait*2, maxRetryBackoff)
	}
}

// classify prefers the reason the job context ended over the error a stage
// returned because of it.
func classify(ctx context.Context, err error) (scanerrors.Kind, string) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(err, errJobCancelled) || errors.Is(cause, errJobCancelled):
		return scanerrors.KindCancelled, "cancelled by request"
	case errors.Is(err, errJobDeadline) || errors.Is(cause, errJobDeadline):
		return scanerrors.KindDeadlineExceeded, "job exceeded its deadline"
	case errors.Is(err, errShutdown) || errors.Is(cause, errShutdown):
		return scanerrors.KindCancelled, "service shut down before the job finished"
	case errors.Is(err, errLeaseLost) || errors.Is(cause, errLeaseLost):
		return scanerrors.KindInfrastructure, "job lease was taken over by another instance"
	}
	if err == nil {
		return scanerrors.KindInfrastructure, "unknown failure"
	}
	return scanerrors.KindOf(err), err.Error()
}

func levelFor(kind scanerrors.Kind) slog.Level {
	switch kind {
	case scanerrors.KindInfrastructure:
		return slog.LevelError
	case scanerrors.KindArtifactInvalid, scanerrors.KindCancelled:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
