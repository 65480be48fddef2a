// Package checklist holds the versioned rule definitions the detector and the
// scoring engine consume. Published versions are never mutated.
package checklist

import (
	"maps"
	"slices"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Rule is one checklist entry, identified by (ID, Version).
type Rule struct {
	ID             string            `json:"id"`
	Category       string            `json:"category"`
	Severity       scans.Severity    `json:"severity"`
	SeverityWeight float64           `json:"severity_weight"`
	Enabled        bool              `json:"enabled"`
	Version        int               `json:"version"`
	Params         map[string]string `json:"params,omitempty"`
}

// Version is one published rule set.
type Version struct {
	Number      int       `json:"version"`
	Rules       []Rule    `json:"rules"`
	PublishedAt time.Time `json:"published_at"`
}

// Enabled returns the enabled rules of v.
func (v Version) Enabled() []Rule {
	out := make([]Rule, 0, len(v.Rules))
	for _, r := range v.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// sameDefinition compares two rules ignoring the version they belong to.
func sameDefinition(a, b Rule) bool {
	return a.ID == b.ID && a.Category == b.Category && a.Severity == b.Severity &&
		a.SeverityWeight == b.SeverityWeight && a.Enabled == b.Enabled && maps.Equal(a.Params, b.Params)
}

func sameRuleSet(a, b []Rule) bool {
	return slices.EqualFunc(a, b, sameDefinition)
}

func cloneRules(in []Rule) []Rule {
	out := make([]Rule, len(in))
	for i, r := range in {
		r.Params = maps.Clone(r.Params)
		out[i] = r
	}
	return out
}
