package detector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// evalFunc is the capability every rule variant implements. It must be pure:
// the same view and rule always give the same findings.
type evalFunc func(v *View, r checklist.Rule, m *Meter) ([]scans.Finding, error)

type ruleDef struct {
	id          string
	category    string
	severity    scans.Severity
	weight      float64
	description string
	intParams   map[string]int
	listParams  map[string]string
	eval        evalFunc
}

// RuleInfo describes a rule variant the detector knows.
type RuleInfo struct {
	ID            string            `json:"id"`
	Category      string            `json:"category"`
	Severity      scans.Severity    `json:"severity"`
	DefaultWeight float64           `json:"default_weight"`
	Description   string            `json:"description"`
	DefaultParams map[string]string `json:"default_params,omitempty"`
}

var catalog = map[string]ruleDef{}

func register(d ruleDef) {
	if _, dup := catalog[d.id]; dup {
		panic("detector: duplicate rule " + d.id)
	}
	catalog[d.id] = d
}

// Catalog lists every rule variant sorted by id.
func Catalog() []RuleInfo {
	out := make([]RuleInfo, 0, len(catalog))
	for _, d := range catalog {
		params := map[string]string{}
		for k, v := range d.intParams {
			params[k] = strconv.Itoa(v)
		}
		for k, v := range d.listParams {
			params[k] = v
		}
		out = append(out, RuleInfo{
			ID: d.id, Category: d.category, Severity: d.severity, DefaultWeight: d.weight,
			Description: d.description, DefaultParams: params,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RuleValidator checks checklist rules against the catalog.
type RuleValidator struct{}

// ValidateRule rejects unknown ids, unknown params and malformed values.
func (RuleValidator) ValidateRule(r checklist.Rule) error {
	d, ok := catalog[r.ID]
	if !ok {
		return fmt.Errorf("unknown rule id %q", r.ID)
	}
	for k, v := range r.Params {
		if _, ok := d.intParams[k]; ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("param %s must be a non-negative integer, got %q", k, v)
			}
			continue
		}
		if _, ok := d.listParams[k]; ok {
			continue
		}
		return fmt.Errorf("unknown param %q", k)
	}
	return nil
}

func intParam(r checklist.Rule, key string) int {
	if v, ok := r.Params[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return catalog[r.ID].intParams[key]
}

func listParam(r checklist.Rule, key string) []string {
	raw, ok := r.Params[key]
	if !ok {
		raw = catalog[r.ID].listParams[key]
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
