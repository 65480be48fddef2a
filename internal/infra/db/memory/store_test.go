package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func admit(t *testing.T, s *Store, id, contract, version string, at, lease time.Time) error {
	t.Helper()
	job := &scans.ScanJob{
		ID: scans.JobID(id), ContractID: contract, Version: version, PublisherID: "pub",
		State: scans.StatePending, SubmittedAt: at, Owner: "node-1", LeaseExpiresAt: lease,
	}
	cv := scans.ContractVersion{ContractID: contract, Version: version, PublisherID: "pub", ArtifactHash: "h", CreatedAt: at, UpdatedAt: at}
	return s.AdmitJob(context.Background(), job, cv)
}

func TestAdmitRespectsLiveLease(t *testing.T) {
	t.Parallel()

	s := New()
	if err := admit(t, s, "a", "c", "1", t0, t0.Add(time.Minute)); err != nil {
		t.Fatalf("AdmitJob: %v", err)
	}
	err := admit(t, s, "b", "c", "1", t0.Add(time.Second), t0.Add(time.Minute))
	if scanerrors.KindOf(err) != scanerrors.KindScanInProgress {
		t.Fatalf("expected ScanInProgress, got %v", err)
	}
}

func TestAdmitReclaimsExpiredLease(t *testing.T) {
	t.Parallel()

	s := New()
	if err := admit(t, s, "a", "c", "1", t0, t0.Add(time.Minute)); err != nil {
		t.Fatalf("AdmitJob: %v", err)
	}
	later := t0.Add(2 * time.Minute)
	if err := admit(t, s, "b", "c", "1", later, later.Add(time.Minute)); err != nil {
		t.Fatalf("expired holder should be taken over: %v", err)
	}
	stale, _ := s.GetJob(context.Background(), "a")
	if stale.State != scans.StateFailed || stale.FailureReason != scans.ReasonLeaseExpired {
		t.Fatalf("stale holder should be failed, got %+v", stale)
	}
	if err := s.FailJob(context.Background(), "a", "Cancelled", "late", later); err == nil {
		t.Fatalf("a late write of the stale holder must not succeed")
	}
	if !s.LockHeld("c", "1") {
		t.Fatalf("new job should hold the lock")
	}
}

func TestAdmitReclaimsLockOfTerminalHolder(t *testing.T) {
	t.Parallel()

	s := New()
	if err := admit(t, s, "a", "c", "1", t0, t0.Add(time.Hour)); err != nil {
		t.Fatalf("AdmitJob: %v", err)
	}
	// a failure stored without releasing the lock
	s.mu.Lock()
	failLocked(s.jobs["a"], "Infrastructure", "boom", t0)
	s.mu.Unlock()

	if err := admit(t, s, "b", "c", "1", t0.Add(time.Second), t0.Add(time.Hour)); err != nil {
		t.Fatalf("lock of a terminal job should be taken over: %v", err)
	}
}

func TestAdmitTakeoverIsAllOrNothing(t *testing.T) {
	t.Parallel()

	s := New()
	if err := admit(t, s, "a", "c", "1", t0, t0.Add(time.Minute)); err != nil {
		t.Fatalf("AdmitJob: %v", err)
	}
	later := t0.Add(time.Hour)
	job := &scans.ScanJob{ID: "b", ContractID: "c", Version: "1", State: scans.StatePending, SubmittedAt: later}
	err := s.AdmitJob(context.Background(), job, scans.ContractVersion{ContractID: "c", Version: "1", ArtifactHash: "other"})
	if scanerrors.KindOf(err) != scanerrors.KindInvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
	stale, _ := s.GetJob(context.Background(), "a")
	if stale.State != scans.StatePending {
		t.Fatalf("rejected admission must not touch the holder, got %s", stale.State)
	}
}

func TestRenewLease(t *testing.T) {
	t.Parallel()

	s := New()
	if err := admit(t, s, "a", "c", "1", t0, t0.Add(time.Minute)); err != nil {
		t.Fatalf("AdmitJob: %v", err)
	}
	if err := s.RenewLease(context.Background(), "a", "node-1", t0.Add(time.Hour)); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	if err := s.RenewLease(context.Background(), "a", "node-2", t0.Add(time.Hour)); scanerrors.KindOf(err) != scanerrors.KindNotFound {
		t.Fatalf("foreign owner should get NotFound, got %v", err)
	}
	if err := s.FailJob(context.Background(), "a", "Cancelled", "stop", t0); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.RenewLease(context.Background(), "a", "node-1", t0.Add(time.Hour)); scanerrors.KindOf(err) != scanerrors.KindNotFound {
		t.Fatalf("terminal job should get NotFound, got %v", err)
	}
}

func TestListVersions(t *testing.T) {
	t.Parallel()

	s := New()
	for i, k := range []struct{ contract, version, publisher string }{
		{"token", "1", "acme"},
		{"token", "2", "acme"},
		{"dex", "1", "other"},
	} {
		at := t0.Add(time.Duration(i) * time.Minute)
		job := &scans.ScanJob{ID: scans.JobID(k.contract + k.version), ContractID: k.contract, Version: k.version, State: scans.StatePending, SubmittedAt: at}
		cv := scans.ContractVersion{ContractID: k.contract, Version: k.version, PublisherID: k.publisher, ArtifactHash: "h", CreatedAt: at, UpdatedAt: at}
		if err := s.AdmitJob(context.Background(), job, cv); err != nil {
			t.Fatalf("AdmitJob: %v", err)
		}
	}

	all, _ := s.ListVersions(context.Background(), scans.VersionFilter{}, 1, 2)
	if all.Total != 3 || all.TotalPages != 2 || len(all.Data) != 2 || all.Data[0].ContractID != "dex" {
		t.Fatalf("unexpected page %+v", all)
	}
	token, _ := s.ListVersions(context.Background(), scans.VersionFilter{ContractID: "token"}, 1, 10)
	if token.Total != 2 || token.Data[0].Version != "2" {
		t.Fatalf("unexpected contract page %+v", token)
	}
	acme, _ := s.ListVersions(context.Background(), scans.VersionFilter{PublisherID: "acme"}, 2, 10)
	if acme.Total != 2 || len(acme.Data) != 0 {
		t.Fatalf("page past the end should be empty, got %+v", acme)
	}
}

func TestFailOrphanedJobsByOwnerOrLease(t *testing.T) {
	t.Parallel()

	s := New()
	if err := admit(t, s, "mine", "a", "1", t0, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := admit(t, s, "expired", "b", "1", t0, t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	live := &scans.ScanJob{ID: "live", ContractID: "c", Version: "1", State: scans.StateRunning, SubmittedAt: t0, Owner: "node-2", LeaseExpiresAt: t0.Add(time.Hour)}
	if err := s.AdmitJob(context.Background(), live, scans.ContractVersion{ContractID: "c", Version: "1", ArtifactHash: "h"}); err != nil {
		t.Fatal(err)
	}

	now := t0.Add(time.Minute)
	if n, _ := s.FailOrphanedJobs(context.Background(), "", "reap", now); n != 1 {
		t.Fatalf("only the expired lease should be reaped, got %d", n)
	}
	if n, _ := s.FailOrphanedJobs(context.Background(), "node-1", "restart", now); n != 1 {
		t.Fatalf("only node-1's remaining job should be failed, got %d", n)
	}
	if !s.LockHeld("c", "1") || s.LockHeld("a", "1") || s.LockHeld("b", "1") {
		t.Fatalf("locks after recovery are wrong")
	}
}
