package ai_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/application"
	appai "github.com/Macnelson9/Soroban-Registry/internal/application/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/ai/prompt"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/db/memory"
)

type countingClient struct {
	ai.Client
	calls int
	err   error
}

func (c *countingClient) Advise(ctx context.Context, res *scans.ScanResult) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.Client.Advise(ctx, res)
}

func completed(t *testing.T, store *memory.Store) scans.JobID {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	job := &scans.ScanJob{ID: "j1", ContractID: "token", Version: "1", PublisherID: "p", State: scans.StatePending}
	if err := store.AdmitJob(ctx, job, scans.ContractVersion{ContractID: "token", Version: "1", ArtifactHash: "h"}); err != nil {
		t.Fatalf("AdmitJob: %v", err)
	}
	if err := store.MarkRunning(ctx, job.ID, now); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	res := &scans.ScanResult{JobID: job.ID, ContractID: "token", Version: "1", Score: scans.Score{Value: 100, Grade: "A"}}
	if err := store.CompleteJob(ctx, res, now); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	return job.ID
}

func newService(client ai.Client, store *memory.Store) *appai.Service {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return appai.NewService(client, store, store, application.ClockFunc(func() time.Time { return at }), nil)
}

func TestAdviseCachesPerJob(t *testing.T) {
	t.Parallel()

	store := memory.New()
	id := completed(t, store)
	client := &countingClient{Client: prompt.Offline{}}
	svc := newService(client, store)

	first, err := svc.Advise(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	again, err := svc.Advise(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if client.calls != 1 || again.ID != first.ID {
		t.Fatalf("second call should hit the stored analysis, calls=%d", client.calls)
	}
	if first.Model != "offline" || first.ContractID != "token" {
		t.Fatalf("unexpected analysis %+v", first)
	}

	fresh, err := svc.Advise(context.Background(), id, true)
	if err != nil {
		t.Fatalf("Advise refresh: %v", err)
	}
	if client.calls != 2 || fresh.ID == first.ID {
		t.Fatalf("refresh should generate new advice")
	}
}

func TestAdviseErrors(t *testing.T) {
	t.Parallel()

	store := memory.New()
	id := completed(t, store)

	svc := newService(&countingClient{Client: prompt.Offline{}}, store)
	if _, err := svc.Advise(context.Background(), "unknown", false); !errors.Is(err, scanerrors.ErrNotFound) {
		t.Fatalf("expected NotFound for a job without result, got %v", err)
	}

	quota := &countingClient{Client: prompt.Offline{}, err: fmt.Errorf("%w: 429", ai.ErrQuotaExceeded)}
	if _, err := newService(quota, store).Advise(context.Background(), id, false); !errors.Is(err, ai.ErrQuotaExceeded) {
		t.Fatalf("expected quota error to pass through, got %v", err)
	}

	broken := &countingClient{Client: prompt.Offline{}, err: errors.New("boom")}
	_, err := newService(broken, store).Advise(context.Background(), id, false)
	if scanerrors.KindOf(err) != scanerrors.KindInfrastructure {
		t.Fatalf("expected Infrastructure, got %v", err)
	}
}
