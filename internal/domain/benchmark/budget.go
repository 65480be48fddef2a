// Package benchmark measures the runtime cost of an artifact by executing it
// in a metered, deterministic integer interpreter. Host functions are stubs;
// nothing the artifact does can reach the outside world.
package benchmark

import (
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Metric names.
const (
	MetricInstructionCount = "instruction_count"
	MetricPeakMemory       = "peak_memory_bytes"
	MetricMaxCallDepth     = "max_call_depth"
	MetricHostCalls        = "host_calls"
	MetricTraps            = "traps"
	MetricEntrypoints      = "entrypoints"
	MetricBudgetExceeded   = "budget_exceeded"
	MetricWallTime         = "wall_time_ms"
)

// Limits that can stop a measurement.
const (
	LimitInstructions = "instructions"
	LimitMemory       = "memory"
	LimitWallTime     = "wall_time"
)

// Budget bounds one measurement.
type Budget struct {
	MaxInstructions int64         `yaml:"maxInstructions"`
	MaxMemoryBytes  int64         `yaml:"maxMemoryBytes"`
	MaxWallTime     time.Duration `yaml:"maxWallTime"`
	MaxCallDepth    int           `yaml:"maxCallDepth"`
	// HostCallCost is charged, in instructions, for every host call. It is
	// not defaulted: zero makes host calls as cheap as any instruction.
	HostCallCost int64 `yaml:"hostCallCost"`
	// Entrypoints overrides the default of every exported function.
	Entrypoints []string `yaml:"entrypoints"`
}

// DefaultBudget supplies every limit left at zero.
func DefaultBudget() Budget {
	return Budget{
		MaxInstructions: 10_000_000,
		MaxMemoryBytes:  16 << 20,
		MaxWallTime:     2 * time.Second,
		MaxCallDepth:    256,
		HostCallCost:    100,
	}
}

func (b Budget) withDefaults() Budget {
	d := DefaultBudget()
	if b.MaxInstructions <= 0 {
		b.MaxInstructions = d.MaxInstructions
	}
	if b.MaxMemoryBytes <= 0 {
		b.MaxMemoryBytes = d.MaxMemoryBytes
	}
	if b.MaxWallTime <= 0 {
		b.MaxWallTime = d.MaxWallTime
	}
	if b.MaxCallDepth <= 0 {
		b.MaxCallDepth = d.MaxCallDepth
	}
	if b.HostCallCost < 0 {
		b.HostCallCost = 0
	}
	return b
}

// Trap records one entrypoint that stopped abnormally.
type Trap struct {
	Entrypoint string `json:"entrypoint"`
	Reason     string `json:"reason"`
}

// Report is the outcome of one measurement. When BudgetExceeded is set the
// metrics are partial and ExceededLimit names the limit that stopped the run.
type Report struct {
	Metrics        []scans.Metric `json:"metrics"`
	BudgetExceeded bool           `json:"budget_exceeded"`
	ExceededLimit  string         `json:"exceeded_limit,omitempty"`
	Traps          []Trap         `json:"traps,omitempty"`
}

// Deterministic returns the metrics scoring may use.
func (r Report) Deterministic() []scans.Metric {
	out := make([]scans.Metric, 0, len(r.Metrics))
	for _, m := range r.Metrics {
		if m.Deterministic {
			out = append(out, m)
		}
	}
	return out
}

// Metric looks a metric up by name.
func (r Report) Metric(name string) (scans.Metric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return scans.Metric{}, false
}
