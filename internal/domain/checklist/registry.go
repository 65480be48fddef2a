package checklist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Registry serves checklist versions. versions[i] is version i+1 and the slice
// is only ever appended to. publishMu serializes writers; mu is held only to
// read or append versions, never across a repository call.
type Registry struct {
	publishMu sync.Mutex
	mu        sync.RWMutex
	versions  []Version
	repo      Repository
	validator Validator
	now       func() time.Time
}

// NewRegistry builds an empty registry. A nil validator accepts any rule id.
func NewRegistry(repo Repository, validator Validator) *Registry {
	return &Registry{repo: repo, validator: validator, now: time.Now}
}

// Load replaces the in-memory versions with the persisted ones.
func (r *Registry) Load(ctx context.Context) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	versions, err := r.repo.LoadVersions(ctx)
	if err != nil {
		return scanerrors.Wrap(scanerrors.KindInfrastructure, err, "load checklist versions")
	}
	for i, v := range versions {
		if v.Number != i+1 {
			return scanerrors.New(scanerrors.KindInfrastructure, "checklist versions are not contiguous: found %d at position %d", v.Number, i+1)
		}
	}
	r.mu.Lock()
	r.versions = versions
	r.mu.Unlock()
	return nil
}

// Current returns the latest version number and its enabled rules. Version 0
// means nothing has been published.
func (r *Registry) Current() (int, []Rule) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.versions) == 0 {
		return 0, nil
	}
	v := r.versions[len(r.versions)-1]
	return v.Number, cloneRules(v.Enabled())
}

// Get returns every rule of version, disabled ones included.
func (r *Registry) Get(version int) ([]Rule, error) {
	v, err := r.Version(version)
	if err != nil {
		return nil, err
	}
	return v.Rules, nil
}

// Version returns a full published version.
func (r *Registry) Version(version int) (Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if version < 1 || version > len(r.versions) {
		return Version{}, scanerrors.New(scanerrors.KindNotFound, "checklist version %d was never published", version)
	}
	v := r.versions[version-1]
	v.Rules = cloneRules(v.Rules)
	return v, nil
}

// Latest returns the latest version number, or 0.
func (r *Registry) Latest() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions)
}

// Publish appends a new version built from rules. Publishing a rule set equal
// to the latest version is a no-op that returns the latest version number.
func (r *Registry) Publish(ctx context.Context, rules []Rule) (int, error) {
	normalized, err := r.normalize(rules)
	if err != nil {
		return 0, err
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.RLock()
	n := len(r.versions)
	same := n > 0 && sameRuleSet(r.versions[n-1].Rules, normalized)
	r.mu.RUnlock()
	if same {
		return n, nil
	}
	number := n + 1
	for i := range normalized {
		normalized[i].Version = number
	}
	v := Version{Number: number, Rules: normalized, PublishedAt: r.now().UTC()}
	if err := r.repo.SaveVersion(ctx, v); err != nil {
		return 0, scanerrors.Wrap(scanerrors.KindInfrastructure, err, "save checklist version %d", number)
	}
	r.mu.Lock()
	r.versions = append(r.versions, v)
	r.mu.Unlock()
	return number, nil
}

func (r *Registry) normalize(rules []Rule) ([]Rule, error) {
	if len(rules) == 0 {
		return nil, scanerrors.New(scanerrors.KindInvalidRequest, "a checklist version needs at least one rule")
	}
	out := cloneRules(rules)
	seen := make(map[string]bool, len(out))
	for i := range out {
		rule := &out[i]
		if rule.ID == "" {
			return nil, scanerrors.New(scanerrors.KindInvalidRequest, "rule %d has no id", i)
		}
		if seen[rule.ID] {
			return nil, scanerrors.New(scanerrors.KindInvalidRequest, "duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = true
		if rule.SeverityWeight < 0 {
			return nil, scanerrors.New(scanerrors.KindInvalidRequest, "rule %q has negative weight %v", rule.ID, rule.SeverityWeight)
		}
		if rule.Category == "" {
			return nil, scanerrors.New(scanerrors.KindInvalidRequest, "rule %q has no category", rule.ID)
		}
		if !scans.ValidSeverity(rule.Severity) {
			return nil, scanerrors.New(scanerrors.KindInvalidRequest, "rule %q has unknown severity %q", rule.ID, rule.Severity)
		}
		if len(rule.Params) == 0 {
			rule.Params = nil
		}
		if r.validator != nil {
			if err := r.validator.ValidateRule(*rule); err != nil {
				return nil, scanerrors.Wrap(scanerrors.KindInvalidRequest, err, "rule %q", rule.ID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// String is used in logs.
func (v Version) String() string {
	return fmt.Sprintf("checklist v%d (%d rules)", v.Number, len(v.Rules))
}
