package scoring

import (
	"math"
	"sort"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Engine scores results under a fixed Policy. It holds no mutable state.
type Engine struct {
	policy Policy
}

func NewEngine(p Policy) *Engine {
	return &Engine{policy: p}
}

func (e *Engine) Policy() Policy { return e.policy }

// Score computes the composite score. Only enabled rules count: their
// categories make up the breakdown alongside "resource", and only violation
// findings of those rules deduct their weight. Only deterministic metrics
// feed the resource subscore, so the same inputs always give the same score.
func (e *Engine) Score(findings []scans.Finding, metrics []scans.Metric, rules []checklist.Rule) scans.Score {
	byID := make(map[string]checklist.Rule, len(rules))
	deductions := map[string]float64{}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		byID[r.ID] = r
		if _, ok := deductions[r.Category]; !ok {
			deductions[r.Category] = 0
		}
	}
	for _, f := range findings {
		if f.Kind != scans.KindViolation {
			continue
		}
		r, ok := byID[f.RuleID]
		if !ok {
			continue
		}
		deductions[r.Category] += r.SeverityWeight
	}

	breakdown := make(map[string]float64, len(deductions)+1)
	for cat, d := range deductions {
		breakdown[cat] = round2(100 - math.Min(100, d))
	}
	breakdown[ResourceCategory] = round2(e.resource(metrics))

	cats := make([]string, 0, len(breakdown))
	for cat := range breakdown {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	weights := e.weights(cats)

	var value float64
	for _, cat := range cats {
		value += weights[cat] * breakdown[cat]
	}
	value = round2(math.Max(0, math.Min(100, value)))
	return scans.Score{Value: value, Grade: Grade(value), Breakdown: breakdown}
}

func (e *Engine) resource(metrics []scans.Metric) float64 {
	values := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		if m.Deterministic {
			values[m.Name] = m.Value
		}
	}
	if values[benchmark.MetricBudgetExceeded] >= 1 {
		return 0
	}
	score := 100.0
	for _, t := range e.policy.Thresholds {
		v, ok := values[t.Metric]
		if !ok {
			continue
		}
		score = math.Min(score, ramp(v, t))
	}
	return score
}

func ramp(v float64, t Threshold) float64 {
	switch {
	case v <= t.Soft:
		return 100
	case v >= t.Hard:
		return 0
	default:
		return 100 * (t.Hard - v) / (t.Hard - t.Soft)
	}
}

// weights resolves the share of every category. Configured weights are
// taken as given, unconfigured categories split the remainder equally and
// the result is normalized to sum to one.
func (e *Engine) weights(cats []string) map[string]float64 {
	out := make(map[string]float64, len(cats))
	var configured float64
	var rest []string
	for _, cat := range cats {
		if w, ok := e.policy.Weights[cat]; ok && w >= 0 {
			out[cat] = w
			configured += w
			continue
		}
		rest = append(rest, cat)
	}
	if len(rest) > 0 {
		share := math.Max(0, 1-configured) / float64(len(rest))
		for _, cat := range rest {
			out[cat] = share
		}
	}

	var total float64
	for _, cat := range cats {
		total += out[cat]
	}
	if total <= 0 {
		for _, cat := range cats {
			out[cat] = 1 / float64(len(cats))
		}
		return out
	}
	for _, cat := range cats {
		out[cat] /= total
	}
	return out
}

// Grade maps a value onto the letter ladder.
func Grade(value float64) string {
	switch {
	case value >= 90:
		return "A"
	case value >= 75:
		return "B"
	case value >= 60:
		return "C"
	case value >= 40:
		return "D"
	default:
		return "F"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
