package history_test

import (
	"testing"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/history"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

func result(version string, score float64, findings ...scans.Finding) scans.ScanResult {
	return scans.ScanResult{
		JobID:            scans.JobID("job-" + version),
		ContractID:       "c1",
		Version:          version,
		Findings:         findings,
		Score:            scans.Score{Value: score},
		ChecklistVersion: 1,
		Metrics: []scans.Metric{
			{Name: "instruction_count", Value: 100, Deterministic: true},
			{Name: "wall_time_ms", Value: 3, Deterministic: false},
		},
	}
}

func TestCompareFixedFinding(t *testing.T) {
	t.Parallel()

	auth := scans.Finding{RuleID: "missing-auth-check", Location: scans.Location{Symbol: "transfer"}, Message: "no auth"}
	loop := scans.Finding{RuleID: "unbounded-loop", Location: scans.Location{Symbol: "spin"}, Message: "loop"}

	a := result("1.0.0", 70, auth, loop)
	b := result("1.0.1", 85, loop)
	b.Metrics[0].Value = 80
	b.Findings[0].Location.Offset = 999

	d := history.Compare(a, b)
	if len(d.FindingsRemoved) != 1 || d.FindingsRemoved[0].RuleID != "missing-auth-check" {
		t.Fatalf("expected only the auth finding removed, got %+v", d.FindingsRemoved)
	}
	if len(d.FindingsAdded) != 0 {
		t.Fatalf("moved finding should not count as added: %+v", d.FindingsAdded)
	}
	if d.ScoreDelta != 15 {
		t.Fatalf("expected score delta 15, got %v", d.ScoreDelta)
	}
	if len(d.MetricDeltas) != 1 || d.MetricDeltas[0].Delta != -20 {
		t.Fatalf("unexpected metric deltas %+v", d.MetricDeltas)
	}
	if d.ChecklistChanged {
		t.Fatalf("same checklist version should not be flagged")
	}
}

func TestCompareDuplicateFindings(t *testing.T) {
	t.Parallel()

	f := scans.Finding{RuleID: "panic-path", Message: "traps"}
	a := result("1", 90, f)
	b := result("2", 90, f, f)
	b.ChecklistVersion = 2

	d := history.Compare(a, b)
	if len(d.FindingsAdded) != 1 || len(d.FindingsRemoved) != 0 {
		t.Fatalf("expected one added duplicate, got %+v", d)
	}
	if !d.ChecklistChanged {
		t.Fatalf("expected checklist change to be flagged")
	}
}
