// Package aggregation keeps the registry-wide score snapshots up to date.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/application"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/aggregate"
)

const defaultBatch = 500

type Deps struct {
	Source aggregate.ResultSource
	Repo   aggregate.Repository
	Clock  application.Clock
	Logger *slog.Logger
}

// Task folds new results into per-contract latest scores and republishes
// the snapshot set. RunOnce calls are serialized; readers use Snapshots.
type Task struct {
	source aggregate.ResultSource
	repo   aggregate.Repository
	clock  application.Clock
	log    *slog.Logger
	batch  int

	mu        sync.Mutex
	latest    map[string]aggregate.ContractScore
	watermark int64
	folded    int64
	primed    bool

	current atomic.Pointer[aggregate.SnapshotSet]
}

func NewTask(d Deps, batch int) *Task {
	if d.Clock == nil {
		d.Clock = application.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Task{
		source: d.Source,
		repo:   d.Repo,
		clock:  d.Clock,
		log:    d.Logger,
		batch:  batch,
		latest: map[string]aggregate.ContractScore{},
	}
}

// Load publishes the last persisted snapshots so readers have data before
// the first rebuild finishes.
func (t *Task) Load(ctx context.Context) error {
	snaps, err := t.repo.LoadSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) > 0 {
		t.current.Store(aggregate.FromScopes(snaps))
	}
	return nil
}

// Snapshots returns the latest published set. It never waits for a rebuild.
func (t *Task) Snapshots() *aggregate.SnapshotSet {
	if set := t.current.Load(); set != nil {
		return set
	}
	return &aggregate.SnapshotSet{Publishers: map[string]aggregate.Snapshot{}}
}

// RunOnce folds results newer than the watermark, rebuilds every snapshot
// and swaps the published set. The first run, and any run that finds the
// ledger holding more results than were folded, starts from scratch.
func (t *Task) RunOnce(ctx context.Context) (*aggregate.SnapshotSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	total, err := t.source.CountResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}
	if !t.primed {
		t.reset()
	}
	if err := t.foldSince(ctx); err != nil {
		return nil, err
	}
	if t.folded < total {
		t.log.Warn("result ledger has gaps behind the watermark, rebuilding", "folded", t.folded, "stored", total)
		t.reset()
		if err := t.foldSince(ctx); err != nil {
			return nil, err
		}
	}
	t.primed = true

	set := aggregate.Build(t.latest, t.clock.Now())
	if err := t.repo.ReplaceSnapshots(ctx, set.Scopes()); err != nil {
		return nil, fmt.Errorf("replace snapshots: %w", err)
	}
	t.current.Store(set)
	return set, nil
}

func (t *Task) reset() {
	t.latest = map[string]aggregate.ContractScore{}
	t.watermark = 0
	t.folded = 0
}

func (t *Task) foldSince(ctx context.Context) error {
	for {
		batch, err := t.source.ResultsSince(ctx, t.watermark, t.batch)
		if err != nil {
			return fmt.Errorf("read results after %d: %w", t.watermark, err)
		}
		if len(batch) == 0 {
			return nil
		}
		aggregate.Fold(t.latest, batch)
		t.watermark = batch[len(batch)-1].Seq
		t.folded += int64(len(batch))
		if len(batch) < t.batch {
			return nil
		}
	}
}

// Run rebuilds immediately and then on every tick until ctx is done.
// Failures are logged and retried on the next tick.
func (t *Task) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if set, err := t.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Error("aggregation failed", "error", err)
		} else {
			t.log.Debug("aggregates rebuilt", "contracts", set.Global.ContractCount, "publishers", len(set.Publishers))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
