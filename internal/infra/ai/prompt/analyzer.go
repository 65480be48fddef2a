package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// remediation holds the canned guidance per rule id.
var remediation = map[string]struct {
	summary        string
	recommendation string
}{
	"missing-auth-check": {
		"An exported entrypoint writes contract storage without requiring authorization.",
		"Call require_auth (or require_auth_for_args) on the invoking address before any storage write.",
	},
	"unbounded-loop": {
		"A loop has no exit condition the detector could find.",
		"Bound every loop by an input length or an explicit counter so execution cannot exhaust the budget.",
	},
	"recursive-call": {
		"A function can call itself directly or through other functions.",
		"Rewrite the recursion as a bounded loop or cap its depth explicitly.",
	},
	"indirect-call-exposed-table": {
		"call_indirect goes through a table that is exported or imported.",
		"Keep function tables private to the module and validate indexes before dispatch.",
	},
	"unbounded-memory-growth": {
		"memory.grow is reachable and the memory has no declared maximum.",
		"Declare a memory maximum and check the result of memory.grow.",
	},
	"floating-point": {
		"Floating point instructions are present; the host rejects them.",
		"Use fixed-point integer arithmetic instead of f32/f64.",
	},
	"start-function": {
		"The module declares a start function that runs on every instantiation.",
		"Move initialization into an explicit constructor entrypoint.",
	},
	"mutable-global-export": {
		"A mutable global is exported.",
		"Keep mutable state in contract storage, not exported globals.",
	},
	"large-data-segment": {
		"A data segment is larger than the configured limit.",
		"Move large constants off-chain or compress them; smaller artifacts are cheaper to deploy.",
	},
	"oversized-function": {
		"A function body is larger than the configured limit.",
		"Split large functions; check for inlined dependencies that could be shared.",
	},
	"panic-path": {
		"A function contains many unreachable traps.",
		"Return typed contract errors instead of panicking where the caller can recover.",
	},
	"hardcoded-secret": {
		"A data segment contains something that looks like a credential.",
		"Remove the secret from the artifact, rotate it and pass it at invocation time instead.",
	},
	"resource-budget": {
		"Benchmark execution ran out of budget.",
		"Reduce per-invocation work; paginate loops over storage and avoid redundant host calls.",
	},
}

// Offline produces advice from fixed per-rule guidance. It is used when no
// model is configured and behaves like the model-backed client.
type Offline struct{}

func (Offline) Model() string { return "offline" }

func (Offline) Advise(_ context.Context, res *scans.ScanResult) (string, error) {
	return AnalyzeResult(res)
}

// AnalyzeResult builds an Advice document for res.
func AnalyzeResult(res *scans.ScanResult) (string, error) {
	out := Advice{
		ContractID: res.ContractID,
		Version:    res.Version,
		Score:      res.Score.Value,
		Grade:      res.Score.Grade,
	}
	recs := make([]Recommendation, 0, 8)

	addRecommendation := func(ruleID, sev, fallback string) {
		sev = strings.ToLower(sev)
		r, ok := remediation[ruleID]
		if !ok {
			r.summary = fallback
			r.recommendation = "Review the flagged code path."
		}
		recs = append(recs, Recommendation{
			RuleID:         ruleID,
			Severity:       sev,
			Summary:        r.summary,
			Recommendation: r.recommendation,
		})
		switch sev {
		case "critical":
			out.Counts.Critical++
		case "high":
			out.Counts.High++
		case "medium":
			out.Counts.Medium++
		case "low":
			out.Counts.Low++
		}
	}

	// One entry per rule, in finding order
	seen := map[string]bool{}
	for _, f := range res.Findings {
		if f.Kind != scans.KindViolation || seen[f.RuleID] {
			continue
		}
		seen[f.RuleID] = true
		addRecommendation(f.RuleID, string(f.Severity), f.Message)
	}
	for _, m := range res.Metrics {
		if m.Name == "budget_exceeded" && m.Value >= 1 {
			addRecommendation("resource-budget", "medium", "")
		}
	}

	if len(recs) > 20 {
		recs = recs[:20]
	}
	out.Recommendations = recs
	out.Counts.Total = out.Counts.Critical + out.Counts.High + out.Counts.Medium + out.Counts.Low

	switch {
	case out.Counts.Critical+out.Counts.High > 0:
		out.Advice = "Fix the high severity findings before publishing this version; they affect who can change contract state."
	case out.Counts.Medium+out.Counts.Low > 0:
		out.Advice = "No blocking issues. Address the remaining findings to improve the score and lower execution cost."
	default:
		out.Advice = "No findings. Keep the checklist current and rescan when it changes."
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal advice: %w", err)
	}
	return string(b), nil
}
