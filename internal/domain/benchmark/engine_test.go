package benchmark_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/wasm"
	w "github.com/Macnelson9/Soroban-Registry/internal/domain/wasm/wasmtest"
)

func metric(t *testing.T, r benchmark.Report, name string) float64 {
	t.Helper()
	m, ok := r.Metric(name)
	if !ok {
		t.Fatalf("metric %s missing from %+v", name, r.Metrics)
	}
	return m.Value
}

func measure(t *testing.T, bin []byte, budget benchmark.Budget) benchmark.Report {
	t.Helper()
	r, err := benchmark.Measure(context.Background(), bin, budget)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	return r
}

func countdown() []byte {
	b := w.New()
	void := b.Type(nil, nil)
	f := b.Func(void, []wasm.ValType{wasm.I32},
		w.I32Const(10), w.LocalSet(0),
		w.Loop(),
		w.LocalGet(0), w.I32Const(1), w.I32Sub(), w.LocalTee(0), w.BrIf(0),
		w.End())
	b.ExportFunc("countdown", f)
	return b.Bytes()
}

func TestMeasureCountsInstructions(t *testing.T) {
	t.Parallel()

	r := measure(t, countdown(), benchmark.Budget{})
	if got := metric(t, r, benchmark.MetricInstructionCount); got != 55 {
		t.Fatalf("expected 55 instructions, got %v", got)
	}
	if got := metric(t, r, benchmark.MetricEntrypoints); got != 1 {
		t.Fatalf("expected 1 entrypoint, got %v", got)
	}
	if got := metric(t, r, benchmark.MetricMaxCallDepth); got != 1 {
		t.Fatalf("expected call depth 1, got %v", got)
	}
	if r.BudgetExceeded || len(r.Traps) != 0 {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestMeasureIsDeterministic(t *testing.T) {
	t.Parallel()

	first := measure(t, countdown(), benchmark.Budget{})
	second := measure(t, countdown(), benchmark.Budget{})
	if !reflect.DeepEqual(first.Deterministic(), second.Deterministic()) {
		t.Fatalf("deterministic metrics differ:\n%+v\n%+v", first.Deterministic(), second.Deterministic())
	}
	for _, m := range first.Deterministic() {
		if m.Name == benchmark.MetricWallTime {
			t.Fatalf("wall time must not be deterministic")
		}
	}
}

func TestMeasureInstructionBudget(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	spin := b.Func(void, nil, w.Loop(), w.Br(0), w.End())
	b.ExportFunc("spin", spin)

	r := measure(t, b.Bytes(), benchmark.Budget{MaxInstructions: 1000})
	if !r.BudgetExceeded || r.ExceededLimit != benchmark.LimitInstructions {
		t.Fatalf("expected instruction budget to be exceeded, got %+v", r)
	}
	if got := metric(t, r, benchmark.MetricBudgetExceeded); got != 1 {
		t.Fatalf("expected budget_exceeded=1, got %v", got)
	}
	m, _ := r.Metric(benchmark.MetricInstructionCount)
	if !m.Deterministic || m.Value <= 1000 {
		t.Fatalf("unexpected instruction metric %+v", m)
	}
}

func TestMeasureRecordsTraps(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	boom := b.Func(void, nil, w.Unreachable())
	div := b.Func(void, nil, w.I32Const(1), w.I32Const(0), w.I32DivS(), w.Drop())
	fine := b.Func(void, nil, w.Nop())
	b.ExportFunc("a_boom", boom)
	b.ExportFunc("b_div", div)
	b.ExportFunc("c_fine", fine)

	r := measure(t, b.Bytes(), benchmark.Budget{})
	want := []benchmark.Trap{
		{Entrypoint: "a_boom", Reason: "unreachable executed"},
		{Entrypoint: "b_div", Reason: "integer divide by zero"},
	}
	if !reflect.DeepEqual(r.Traps, want) {
		t.Fatalf("traps = %+v", r.Traps)
	}
	if got := metric(t, r, benchmark.MetricEntrypoints); got != 3 {
		t.Fatalf("expected 3 entrypoints, got %v", got)
	}
	if r.BudgetExceeded {
		t.Fatalf("traps must not count as a budget overrun")
	}
}

func TestMeasureHostCalls(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	put := b.ImportFunc("l", "put_contract_data", void)
	f := b.Func(void, nil, w.Call(put), w.Call(put), w.Call(put))
	b.ExportFunc("store", f)

	r := measure(t, b.Bytes(), benchmark.Budget{HostCallCost: 50})
	if got := metric(t, r, benchmark.MetricHostCalls); got != 3 {
		t.Fatalf("expected 3 host calls, got %v", got)
	}
	// three calls plus end, and 50 per host call
	if got := metric(t, r, benchmark.MetricInstructionCount); got != 154 {
		t.Fatalf("expected 154 instructions, got %v", got)
	}
}

func TestMeasureMemory(t *testing.T) {
	t.Parallel()

	growOnce := func(min, max uint32, hasMax bool) []byte {
		b := w.New()
		void := b.Type(nil, nil)
		b.Memory(min, max, hasMax)
		f := b.Func(void, nil,
			w.I32Const(1), w.MemoryGrow(), w.I32Const(-1), w.I32Sub(), w.I32Eqz(),
			w.If(), w.Unreachable(), w.End())
		b.ExportFunc("grow", f)
		return b.Bytes()
	}

	r := measure(t, growOnce(1, 0, false), benchmark.Budget{})
	if got := metric(t, r, benchmark.MetricPeakMemory); got != 2*wasm.PageSize {
		t.Fatalf("expected peak of two pages, got %v", got)
	}
	if len(r.Traps) != 0 {
		t.Fatalf("grow should succeed, got traps %+v", r.Traps)
	}

	r = measure(t, growOnce(1, 1, true), benchmark.Budget{})
	if len(r.Traps) != 1 {
		t.Fatalf("grow past the declared maximum should return -1, got %+v", r)
	}

	r = measure(t, growOnce(1, 0, false), benchmark.Budget{MaxMemoryBytes: wasm.PageSize})
	if !r.BudgetExceeded || r.ExceededLimit != benchmark.LimitMemory {
		t.Fatalf("expected memory budget to be exceeded, got %+v", r)
	}
}

func TestMeasureDataSegmentsAndLoads(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	b.Memory(1, 1, true)
	b.Data(16, []byte{42, 0, 0, 0})
	f := b.Func(void, nil,
		w.I32Const(16), w.I32Load(0), w.I32Const(42), w.I32Sub(),
		w.If(), w.Unreachable(), w.End(),
		w.I32Const(65535), w.I32Load(0), w.Drop())
	b.ExportFunc("read", f)

	r := measure(t, b.Bytes(), benchmark.Budget{})
	if len(r.Traps) != 1 || r.Traps[0].Reason != "out of bounds memory access" {
		t.Fatalf("expected only the out of bounds load to trap, got %+v", r.Traps)
	}
}

func TestMeasureCallDepth(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	rec := b.Func(void, nil, w.Call(0))
	b.ExportFunc("rec", rec)

	r := measure(t, b.Bytes(), benchmark.Budget{MaxCallDepth: 16})
	if len(r.Traps) != 1 || !strings.Contains(r.Traps[0].Reason, "call stack exhausted") {
		t.Fatalf("expected stack exhaustion, got %+v", r.Traps)
	}
	if got := metric(t, r, benchmark.MetricMaxCallDepth); got != 16 {
		t.Fatalf("expected max depth 16, got %v", got)
	}
}

func TestMeasureIndirectCalls(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	b.Table(2)
	target := b.Func(void, nil, w.Nop())
	ok := b.Func(void, nil, w.I32Const(0), w.CallIndirect(void, 0))
	null := b.Func(void, nil, w.I32Const(1), w.CallIndirect(void, 0))
	b.Elem(0, target)
	b.ExportFunc("ok", ok)
	b.ExportFunc("null", null)

	r := measure(t, b.Bytes(), benchmark.Budget{})
	if len(r.Traps) != 1 || r.Traps[0].Entrypoint != "null" {
		t.Fatalf("expected only the null slot to trap, got %+v", r.Traps)
	}
	if got := metric(t, r, benchmark.MetricMaxCallDepth); got != 2 {
		t.Fatalf("expected depth 2, got %v", got)
	}
}

func TestMeasureRejectsFloatArithmetic(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	f := b.Func(void, nil, w.F64Const(0), w.F64Const(0), w.F64Add(), w.Drop())
	b.ExportFunc("float", f)

	r := measure(t, b.Bytes(), benchmark.Budget{})
	if len(r.Traps) != 1 || !strings.Contains(r.Traps[0].Reason, "unsupported instruction") {
		t.Fatalf("expected unsupported instruction trap, got %+v", r.Traps)
	}
}

func TestMeasureStartFunctionRunsPerInstance(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	put := b.ImportFunc("l", "put", void)
	start := b.Func(void, nil, w.Call(put))
	a := b.Func(void, nil)
	c := b.Func(void, nil)
	b.Start(start)
	b.ExportFunc("a", a)
	b.ExportFunc("c", c)

	r := measure(t, b.Bytes(), benchmark.Budget{})
	if got := metric(t, r, benchmark.MetricHostCalls); got != 2 {
		t.Fatalf("start should run once per entrypoint, got %v host calls", got)
	}
}

func TestMeasureExplicitEntrypoints(t *testing.T) {
	t.Parallel()

	r := measure(t, countdown(), benchmark.Budget{Entrypoints: []string{"missing", "countdown"}})
	if got := metric(t, r, benchmark.MetricEntrypoints); got != 1 {
		t.Fatalf("expected 1 entrypoint, got %v", got)
	}
	if len(r.Traps) != 1 || r.Traps[0].Entrypoint != "missing" {
		t.Fatalf("expected missing entrypoint trap, got %+v", r.Traps)
	}
}

func TestMeasureMalformedArtifact(t *testing.T) {
	t.Parallel()

	_, err := benchmark.Measure(context.Background(), []byte("not wasm"), benchmark.Budget{})
	if scanerrors.KindOf(err) != scanerrors.KindArtifactInvalid {
		t.Fatalf("expected ArtifactInvalid, got %v", err)
	}
}

func TestMeasureHonoursCancellation(t *testing.T) {
	t.Parallel()

	b := w.New()
	void := b.Type(nil, nil)
	spin := b.Func(void, nil, w.Loop(), w.Br(0), w.End())
	b.ExportFunc("spin", spin)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := benchmark.Measure(ctx, b.Bytes(), benchmark.Budget{}); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
