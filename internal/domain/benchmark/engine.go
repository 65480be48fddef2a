package benchmark

import (
	"context"
	"sort"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
)

// Engine runs measurements. The zero value is ready to use.
type Engine struct{}

// Measure is the package-level Measure.
func (Engine) Measure(ctx context.Context, artifact []byte, budget Budget) (Report, error) {
	return Measure(ctx, artifact, budget)
}

type entrypoint struct {
	name  string
	index uint32
}

// Measure decodes artifact and calls each entrypoint with zero arguments in a
// fresh instance. Entrypoints run in name order and share one budget. The
// first exhausted limit stops the run and the report carries partial metrics.
// An error is returned only for an undecodable artifact or a cancelled ctx.
func Measure(ctx context.Context, artifact []byte, budget Budget) (Report, error) {
	m, err := wasm.Decode(artifact)
	if err != nil {
		return Report{}, scanerrors.Wrap(scanerrors.KindArtifactInvalid, err, "decode artifact")
	}
	budget = budget.withDefaults()
	vm := newMachine(ctx, m, budget)

	entries, missing := entrypoints(m, budget.Entrypoints)
	for _, name := range missing {
		vm.traps = append(vm.traps, Trap{Entrypoint: name, Reason: "not an exported function"})
	}

	var exceeded string
	for _, e := range entries {
		limit, err := vm.run(e)
		if err != nil {
			return Report{}, err
		}
		if limit != "" {
			exceeded = limit
			break
		}
	}
	return vm.report(exceeded, time.Since(vm.started)), nil
}

func entrypoints(m *wasm.Module, names []string) (found []entrypoint, missing []string) {
	exported := make(map[string]uint32)
	for _, e := range m.Exports {
		if e.Kind == wasm.ExternFunc {
			exported[e.Name] = e.Index
		}
	}
	if len(names) == 0 {
		for name := range exported {
			names = append(names, name)
		}
	} else {
		names = append([]string(nil), names...)
	}
	sort.Strings(names)
	for _, name := range names {
		idx, ok := exported[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		found = append(found, entrypoint{name: name, index: idx})
	}
	return found, missing
}

// report assembles metrics. A wall-clock stop leaves counters at an arbitrary
// point, so they lose their deterministic flag; the exceeded flag keeps it.
func (vm *machine) report(exceeded string, elapsed time.Duration) Report {
	det := exceeded != LimitWallTime
	var flag float64
	if exceeded != "" {
		flag = 1
	}
	return Report{
		Metrics: []scans.Metric{
			{Name: MetricInstructionCount, Value: float64(vm.steps), Unit: "instructions", Deterministic: det},
			{Name: MetricPeakMemory, Value: float64(vm.peakMem), Unit: "bytes", Deterministic: det},
			{Name: MetricMaxCallDepth, Value: float64(vm.maxDepth), Unit: "frames", Deterministic: det},
			{Name: MetricHostCalls, Value: float64(vm.hostCalls), Unit: "calls", Deterministic: det},
			{Name: MetricTraps, Value: float64(len(vm.traps)), Unit: "traps", Deterministic: det},
			{Name: MetricEntrypoints, Value: float64(vm.entrypoints), Unit: "entrypoints", Deterministic: det},
			{Name: MetricBudgetExceeded, Value: flag, Unit: "flag", Deterministic: true},
			{Name: MetricWallTime, Value: float64(elapsed.Microseconds()) / 1000, Unit: "ms", Deterministic: false},
		},
		BudgetExceeded: exceeded != "",
		ExceededLimit:  exceeded,
		Traps:          vm.traps,
	}
}
