// Package scoring turns findings and metrics into a composite score.
package scoring

import (
	"fmt"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
)

// ResourceCategory is the synthetic category fed by benchmark metrics.
const ResourceCategory = "resource"

// Threshold ramps a metric linearly from 100 at Soft down to 0 at Hard.
type Threshold struct {
	Metric string  `yaml:"metric" json:"metric"`
	Soft   float64 `yaml:"soft" json:"soft"`
	Hard   float64 `yaml:"hard" json:"hard"`
}

// Policy is the immutable scoring configuration.
type Policy struct {
	// Weights maps a category to its share of the overall value. Missing
	// categories split whatever share is left.
	Weights    map[string]float64 `yaml:"weights" json:"weights"`
	Thresholds []Threshold        `yaml:"thresholds" json:"thresholds"`
}

// DefaultPolicy weighs all categories equally and derives thresholds from
// the default benchmark budget.
func DefaultPolicy() Policy {
	return Policy{Thresholds: ThresholdsFor(benchmark.DefaultBudget(), 0.5)}
}

// ThresholdsFor derives resource thresholds from a budget: the hard edge is
// the budget limit and the soft edge is softRatio of it.
func ThresholdsFor(b benchmark.Budget, softRatio float64) []Threshold {
	if softRatio <= 0 || softRatio >= 1 {
		softRatio = 0.5
	}
	ramp := func(metric string, limit float64) Threshold {
		return Threshold{Metric: metric, Soft: limit * softRatio, Hard: limit}
	}
	return []Threshold{
		ramp(benchmark.MetricInstructionCount, float64(b.MaxInstructions)),
		ramp(benchmark.MetricPeakMemory, float64(b.MaxMemoryBytes)),
		ramp(benchmark.MetricMaxCallDepth, float64(b.MaxCallDepth)),
		{Metric: benchmark.MetricTraps, Soft: 0, Hard: 5},
	}
}

// Validate rejects thresholds that cannot ramp and negative weights.
func (p Policy) Validate() error {
	for cat, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("weight of category %q is negative", cat)
		}
	}
	for _, t := range p.Thresholds {
		if t.Metric == "" {
			return fmt.Errorf("threshold without a metric")
		}
		if t.Hard <= t.Soft {
			return fmt.Errorf("threshold %s: hard (%v) must exceed soft (%v)", t.Metric, t.Hard, t.Soft)
		}
	}
	return nil
}
