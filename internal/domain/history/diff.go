// Package history compares scan results of a contract across versions.
package history

import (
	"math"
	"sort"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// MetricDelta is the change of one deterministic metric.
type MetricDelta struct {
	Name  string  `json:"name"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Delta float64 `json:"delta"`
}

// Diff describes how result b differs from result a.
type Diff struct {
	FromJob         scans.JobID     `json:"from_job"`
	ToJob           scans.JobID     `json:"to_job"`
	FromVersion     string          `json:"from_version"`
	ToVersion       string          `json:"to_version"`
	ScoreDelta      float64         `json:"score_delta"`
	FindingsAdded   []scans.Finding `json:"findings_added"`
	FindingsRemoved []scans.Finding `json:"findings_removed"`
	MetricDeltas    []MetricDelta   `json:"metric_deltas"`
	// ChecklistChanged is set when the two results were scored against
	// different checklist versions.
	ChecklistChanged bool `json:"checklist_changed"`
}

type findingKey struct {
	rule    string
	symbol  string
	message string
}

func keyOf(f scans.Finding) findingKey {
	return findingKey{rule: f.RuleID, symbol: f.Location.Symbol, message: f.Message}
}

// Compare diffs two results. Findings match on rule, location symbol and
// message so that code moving around does not show up as churn. Duplicate
// keys are matched one for one.
func Compare(a, b scans.ScanResult) Diff {
	d := Diff{
		FromJob:          a.JobID,
		ToJob:            b.JobID,
		FromVersion:      a.Version,
		ToVersion:        b.Version,
		ScoreDelta:       math.Round((b.Score.Value-a.Score.Value)*100) / 100,
		ChecklistChanged: a.ChecklistVersion != b.ChecklistVersion,
		FindingsAdded:    []scans.Finding{},
		FindingsRemoved:  []scans.Finding{},
	}

	before := make(map[findingKey]int, len(a.Findings))
	for _, f := range a.Findings {
		before[keyOf(f)]++
	}
	after := make(map[findingKey]int, len(b.Findings))
	for _, f := range b.Findings {
		after[keyOf(f)]++
	}
	for _, f := range b.Findings {
		k := keyOf(f)
		if before[k] > 0 {
			before[k]--
			continue
		}
		d.FindingsAdded = append(d.FindingsAdded, f)
	}
	for _, f := range a.Findings {
		k := keyOf(f)
		if after[k] > 0 {
			after[k]--
			continue
		}
		d.FindingsRemoved = append(d.FindingsRemoved, f)
	}

	d.MetricDeltas = metricDeltas(a.Metrics, b.Metrics)
	return d
}

func metricDeltas(a, b []scans.Metric) []MetricDelta {
	from := map[string]float64{}
	for _, m := range a {
		if m.Deterministic {
			from[m.Name] = m.Value
		}
	}
	to := map[string]float64{}
	for _, m := range b {
		if m.Deterministic {
			to[m.Name] = m.Value
		}
	}
	names := make(map[string]struct{}, len(from)+len(to))
	for n := range from {
		names[n] = struct{}{}
	}
	for n := range to {
		names[n] = struct{}{}
	}

	out := make([]MetricDelta, 0, len(names))
	for n := range names {
		out = append(out, MetricDelta{Name: n, From: from[n], To: to[n], Delta: to[n] - from[n]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
