package prompt_test

import (
	"context"
	"strings"
	"testing"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/ai/prompt"
)

func TestOfflineAdviceOnePerRule(t *testing.T) {
	t.Parallel()

	res := &scans.ScanResult{
		ContractID: "vault",
		Version:    "2",
		Score:      scans.Score{Value: 55, Grade: "D"},
		Findings: []scans.Finding{
			{RuleID: "missing-auth-check", Kind: scans.KindViolation, Severity: scans.SeverityHigh},
			{RuleID: "missing-auth-check", Kind: scans.KindViolation, Severity: scans.SeverityHigh},
			{RuleID: "unbounded-loop", Kind: scans.KindRuleTimeout, Severity: scans.SeverityInfo},
			{RuleID: "start-function", Kind: scans.KindViolation, Severity: scans.SeverityMedium},
		},
		Metrics: []scans.Metric{{Name: "budget_exceeded", Value: 1, Deterministic: true}},
	}
	raw, err := prompt.Offline{}.Advise(context.Background(), res)
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	a, err := prompt.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var ids []string
	for _, r := range a.Recommendations {
		ids = append(ids, r.RuleID)
	}
	want := []string{"missing-auth-check", "start-function", "resource-budget"}
	if len(ids) != len(want) {
		t.Fatalf("recommendations = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("recommendations = %v, want %v", ids, want)
		}
	}
	if a.Counts.High != 1 || a.Counts.Medium != 2 || a.Counts.Total != 3 {
		t.Fatalf("unexpected counts %+v", a.Counts)
	}
	if a.Grade != "D" || a.ContractID != "vault" {
		t.Fatalf("header not carried over: %+v", a)
	}
}

func TestUserPromptSkipsTimeouts(t *testing.T) {
	t.Parallel()

	res := &scans.ScanResult{
		Findings: []scans.Finding{{RuleID: "recursive-call", Kind: scans.KindRuleTimeout}},
		Metrics:  []scans.Metric{{Name: "wall_time_ms", Value: 3}, {Name: "host_calls", Value: 2, Deterministic: true}},
	}
	p := prompt.GetUserPrompt(res)
	if strings.Contains(p, "recursive-call") || strings.Contains(p, "wall_time_ms") || !strings.Contains(p, "host_calls") {
		t.Fatalf("unexpected prompt %s", p)
	}
}
