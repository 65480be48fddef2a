// Package memory is an in-process implementation of every repository port.
// It backs tests and single-node runs without a database.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/aggregate"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/analyst"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

type versionKey struct {
	contract string
	version  string
}

type ledgerRow struct {
	seq   int64
	jobID scans.JobID
	at    time.Time
}

type Store struct {
	mu sync.RWMutex

	jobs     map[scans.JobID]*scans.ScanJob
	results  map[scans.JobID]*scans.ScanResult
	versions map[versionKey]*scans.ContractVersion
	locks    map[versionKey]scans.JobID
	ledger   []ledgerRow
	seq      int64

	checklists []checklist.Version
	snapshots  []aggregate.Snapshot
	analyses   []*analyst.Analysis
}

func New() *Store {
	return &Store{
		jobs:     make(map[scans.JobID]*scans.ScanJob),
		results:  make(map[scans.JobID]*scans.ScanResult),
		versions: make(map[versionKey]*scans.ContractVersion),
		locks:    make(map[versionKey]scans.JobID),
	}
}

func (s *Store) AdmitJob(_ context.Context, job *scans.ScanJob, cv scans.ContractVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := versionKey{job.ContractID, job.Version}
	var stale *scans.ScanJob
	if holder, ok := s.locks[k]; ok {
		prev := s.jobs[holder]
		if prev != nil && !scans.Reclaimable(prev, job.SubmittedAt) {
			return scanerrors.New(scanerrors.KindScanInProgress, "job %s holds %s@%s", holder, k.contract, k.version)
		}
		if prev != nil && !scans.IsTerminal(prev.State) {
			stale = prev
		}
	}
	if existing, ok := s.versions[k]; ok {
		if existing.ArtifactHash != cv.ArtifactHash {
			return scanerrors.New(scanerrors.KindInvalidRequest, "%s@%s was published with a different artifact", k.contract, k.version)
		}
	} else {
		stored := cv
		s.versions[k] = &stored
	}
	if stale != nil {
		failLocked(stale, string(scanerrors.KindInfrastructure), scans.ReasonLeaseExpired, job.SubmittedAt)
	}
	stored := *job
	s.jobs[job.ID] = &stored
	s.locks[k] = job.ID
	return nil
}

func failLocked(job *scans.ScanJob, kind, reason string, at time.Time) {
	job.State = scans.StateFailed
	job.FinishedAt = &at
	job.FailureKind = kind
	job.FailureReason = reason
}

func (s *Store) GetJob(_ context.Context, id scans.JobID) (*scans.ScanJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, scanerrors.New(scanerrors.KindNotFound, "job %s not found", id)
	}
	out := *job
	return &out, nil
}

func (s *Store) MarkRunning(_ context.Context, id scans.JobID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scanerrors.New(scanerrors.KindNotFound, "job %s not found", id)
	}
	if err := scans.Transition(job, scans.StatePending, scans.StateRunning); err != nil {
		return err
	}
	job.StartedAt = &at
	return nil
}

func (s *Store) RenewLease(_ context.Context, id scans.JobID, owner string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || scans.IsTerminal(job.State) || job.Owner != owner {
		return scanerrors.New(scanerrors.KindNotFound, "job %s is not leased by %s", id, owner)
	}
	job.LeaseExpiresAt = until
	return nil
}

func (s *Store) CompleteJob(_ context.Context, res *scans.ScanResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[res.JobID]
	if !ok {
		return scanerrors.New(scanerrors.KindNotFound, "job %s not found", res.JobID)
	}
	if _, dup := s.results[res.JobID]; dup {
		return fmt.Errorf("result for job %s already exists", res.JobID)
	}
	if err := scans.Transition(job, scans.StateRunning, scans.StateCompleted); err != nil {
		return err
	}
	job.FinishedAt = &at
	job.ResultRef = res.JobID

	s.results[res.JobID] = cloneResult(res)
	k := versionKey{job.ContractID, job.Version}
	if cv, ok := s.versions[k]; ok {
		cv.LatestResultRef = res.JobID
		cv.UpdatedAt = at
	}
	s.seq++
	s.ledger = append(s.ledger, ledgerRow{seq: s.seq, jobID: res.JobID, at: at})
	delete(s.locks, k)
	return nil
}

func (s *Store) FailJob(_ context.Context, id scans.JobID, kind, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return scanerrors.New(scanerrors.KindNotFound, "job %s not found", id)
	}
	if err := scans.Transition(job, job.State, scans.StateFailed); err != nil {
		return err
	}
	failLocked(job, kind, reason, at)
	k := versionKey{job.ContractID, job.Version}
	if s.locks[k] == id {
		delete(s.locks, k)
	}
	return nil
}

func (s *Store) GetResult(_ context.Context, id scans.JobID) (*scans.ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[id]
	if !ok {
		return nil, scanerrors.New(scanerrors.KindNotFound, "result of job %s not found", id)
	}
	return cloneResult(res), nil
}

func (s *Store) GetContractVersion(_ context.Context, contractID, version string) (*scans.ContractVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cv, ok := s.versions[versionKey{contractID, version}]
	if !ok {
		return nil, scanerrors.New(scanerrors.KindNotFound, "contract version %s@%s not found", contractID, version)
	}
	out := *cv
	return &out, nil
}

func (s *Store) History(_ context.Context, contractID string, page, pageSize int) (scans.HistoryPage, error) {
	page, pageSize = scans.NormalizePage(page, pageSize)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []scans.HistoryEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		row := s.ledger[i]
		res := s.results[row.jobID]
		if res.ContractID != contractID {
			continue
		}
		entries = append(entries, scans.HistoryEntry{
			Seq:              row.seq,
			ContractID:       res.ContractID,
			Version:          res.Version,
			JobID:            res.JobID,
			ScoreValue:       res.Score.Value,
			Grade:            res.Score.Grade,
			ChecklistVersion: res.ChecklistVersion,
			RecordedAt:       row.at,
		})
	}
	total := int64(len(entries))
	from := (page - 1) * pageSize
	if from > len(entries) {
		from = len(entries)
	}
	to := min(from+pageSize, len(entries))
	return scans.NewHistoryPage(entries[from:to], page, pageSize, total), nil
}

func (s *Store) FailOrphanedJobs(_ context.Context, owner, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if scans.IsTerminal(job.State) {
			continue
		}
		mine := owner != "" && job.Owner == owner
		if !mine && !scans.LeaseExpired(job, at) {
			continue
		}
		failLocked(job, string(scanerrors.KindInfrastructure), reason, at)
		k := versionKey{job.ContractID, job.Version}
		if s.locks[k] == job.ID {
			delete(s.locks, k)
		}
		n++
	}
	return n, nil
}

func (s *Store) ListVersions(_ context.Context, filter scans.VersionFilter, page, pageSize int) (scans.VersionPage, error) {
	page, pageSize = scans.NormalizePage(page, pageSize)
	s.mu.RLock()
	var all []scans.ContractVersion
	for _, cv := range s.versions {
		if filter.ContractID != "" && cv.ContractID != filter.ContractID {
			continue
		}
		if filter.PublisherID != "" && cv.PublisherID != filter.PublisherID {
			continue
		}
		all = append(all, *cv)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if a.ContractID != b.ContractID {
			return a.ContractID < b.ContractID
		}
		return a.Version < b.Version
	})
	from := min((page-1)*pageSize, len(all))
	to := min(from+pageSize, len(all))
	return scans.NewPage(all[from:to], page, pageSize, int64(len(all))), nil
}

// ResultsSince implements aggregate.ResultSource.
func (s *Store) ResultsSince(_ context.Context, after int64, limit int) ([]scans.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.ledger), func(i int) bool { return s.ledger[i].seq > after })
	var out []scans.ResultRecord
	for ; i < len(s.ledger) && (limit <= 0 || len(out) < limit); i++ {
		row := s.ledger[i]
		res := s.results[row.jobID]
		out = append(out, scans.ResultRecord{
			Seq:         row.seq,
			JobID:       res.JobID,
			ContractID:  res.ContractID,
			PublisherID: res.PublisherID,
			Version:     res.Version,
			Score:       res.Score.Value,
			FinishedAt:  row.at,
		})
	}
	return out, nil
}

func (s *Store) CountResults(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.ledger)), nil
}

// SaveVersion implements checklist.Repository.
func (s *Store) SaveVersion(_ context.Context, v checklist.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := len(s.checklists) + 1; v.Number != want {
		return fmt.Errorf("checklist version %d out of sequence, expected %d", v.Number, want)
	}
	v.Rules = slices.Clone(v.Rules)
	s.checklists = append(s.checklists, v)
	return nil
}

func (s *Store) LoadVersions(_ context.Context) ([]checklist.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.checklists), nil
}

// ReplaceSnapshots implements aggregate.Repository.
func (s *Store) ReplaceSnapshots(_ context.Context, snaps []aggregate.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = slices.Clone(snaps)
	return nil
}

func (s *Store) LoadSnapshots(_ context.Context) ([]aggregate.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshots), nil
}

// Save implements analyst.Repository.
func (s *Store) Save(_ context.Context, a *analyst.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *a
	s.analyses = append(s.analyses, &stored)
	return nil
}

func (s *Store) LatestByJob(_ context.Context, jobID scans.JobID) (*analyst.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.analyses) - 1; i >= 0; i-- {
		if a := s.analyses[i]; a.JobID == jobID {
			out := *a
			return &out, nil
		}
	}
	return nil, scanerrors.New(scanerrors.KindNotFound, "no analysis for job %s", jobID)
}

// LockHeld reports whether the persisted lock of a version is taken.
func (s *Store) LockHeld(contractID, version string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.locks[versionKey{contractID, version}]
	return ok
}

func cloneResult(r *scans.ScanResult) *scans.ScanResult {
	out := *r
	out.Findings = slices.Clone(r.Findings)
	out.Metrics = slices.Clone(r.Metrics)
	out.Score.Breakdown = maps.Clone(r.Score.Breakdown)
	return &out
}
