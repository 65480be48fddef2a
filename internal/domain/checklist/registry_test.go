package checklist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

type memRepo struct {
	mu       sync.Mutex
	versions []Version
	failSave bool
}

func (m *memRepo) SaveVersion(_ context.Context, v Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("disk full")
	}
	m.versions = append(m.versions, v)
	return nil
}

func (m *memRepo) LoadVersions(context.Context) ([]Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Version(nil), m.versions...), nil
}

type knownIDs map[string]bool

func (k knownIDs) ValidateRule(r Rule) error {
	if !k[r.ID] {
		return fmt.Errorf("unknown rule id %q", r.ID)
	}
	return nil
}

func testRules() []Rule {
	return []Rule{
		{ID: "b-rule", Category: "memory", Severity: scans.SeverityMedium, SeverityWeight: 15, Enabled: true},
		{ID: "a-rule", Category: "access-control", Severity: scans.SeverityHigh, SeverityWeight: 30, Enabled: true},
		{ID: "c-rule", Category: "size", Severity: scans.SeverityLow, SeverityWeight: 5, Enabled: false},
	}
}

func TestPublishAndGet(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&memRepo{}, nil)
	if v, rules := reg.Current(); v != 0 || rules != nil {
		t.Fatalf("empty registry returned version %d", v)
	}
	v, err := reg.Publish(context.Background(), testRules())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}

	cur, rules := reg.Current()
	if cur != 1 || len(rules) != 2 {
		t.Fatalf("Current() = %d with %d rules, want 1 with 2 enabled", cur, len(rules))
	}
	if rules[0].ID != "a-rule" || rules[0].Version != 1 {
		t.Fatalf("rules must be sorted by id and stamped: %+v", rules[0])
	}

	all, err := reg.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Get must include disabled rules, got %d", len(all))
	}
}

func TestGetUnknownVersion(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&memRepo{}, nil)
	if _, err := reg.Get(1); !errors.Is(err, scanerrors.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := reg.Get(0); !errors.Is(err, scanerrors.ErrNotFound) {
		t.Fatalf("expected NotFound for version 0, got %v", err)
	}
}

func TestPublishIsAppendOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewRegistry(&memRepo{}, nil)
	if _, err := reg.Publish(ctx, testRules()); err != nil {
		t.Fatalf("Publish v1: %v", err)
	}

	changed := testRules()
	changed[0].SeverityWeight = 99
	changed[1].Enabled = false
	v2, err := reg.Publish(ctx, changed)
	if err != nil || v2 != 2 {
		t.Fatalf("Publish v2 = %d, %v", v2, err)
	}

	old, err := reg.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	for _, r := range old {
		if r.Version != 1 {
			t.Fatalf("v1 rule restamped: %+v", r)
		}
		if r.ID == "b-rule" && r.SeverityWeight != 15 {
			t.Fatalf("v1 weight mutated: %+v", r)
		}
		if r.ID == "a-rule" && !r.Enabled {
			t.Fatalf("v1 enabled flag mutated: %+v", r)
		}
	}

	// Mutating a returned slice must not leak into the registry.
	old[0].SeverityWeight = -1
	again, _ := reg.Get(1)
	if again[0].SeverityWeight == -1 {
		t.Fatalf("Get returned shared backing storage")
	}
}

func TestPublishIdenticalIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := &memRepo{}
	reg := NewRegistry(repo, nil)
	if _, err := reg.Publish(ctx, testRules()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	v, err := reg.Publish(ctx, testRules())
	if err != nil || v != 1 {
		t.Fatalf("identical publish = %d, %v", v, err)
	}
	if len(repo.versions) != 1 {
		t.Fatalf("identical publish persisted a new version")
	}
}

func TestPublishRejectsInvalidRules(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&memRepo{}, knownIDs{"a-rule": true, "b-rule": true, "c-rule": true})
	cases := map[string][]Rule{
		"empty":      nil,
		"unknown id": {{ID: "zzz", Category: "x", Severity: scans.SeverityLow, Enabled: true}},
		"duplicate": {
			{ID: "a-rule", Category: "x", Severity: scans.SeverityLow},
			{ID: "a-rule", Category: "x", Severity: scans.SeverityLow},
		},
		"negative weight": {{ID: "a-rule", Category: "x", Severity: scans.SeverityLow, SeverityWeight: -1}},
		"bad severity":    {{ID: "a-rule", Category: "x", Severity: "catastrophic"}},
		"no category":     {{ID: "a-rule", Severity: scans.SeverityLow}},
	}
	for name, rules := range cases {
		if _, err := reg.Publish(context.Background(), rules); !errors.Is(err, scanerrors.ErrInvalidRequest) {
			t.Fatalf("%s: expected InvalidRequest, got %v", name, err)
		}
	}
	if reg.Latest() != 0 {
		t.Fatalf("rejected publishes must not create versions")
	}
}

func TestPublishSaveFailureKeepsRegistryUnchanged(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(&memRepo{failSave: true}, nil)
	if _, err := reg.Publish(context.Background(), testRules()); !errors.Is(err, scanerrors.ErrInfrastructure) {
		t.Fatalf("expected Infrastructure, got %v", err)
	}
	if reg.Latest() != 0 {
		t.Fatalf("failed save must not publish")
	}
}

func TestLoadRestoresVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := &memRepo{}
	first := NewRegistry(repo, nil)
	if _, err := first.Publish(ctx, testRules()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	second := NewRegistry(repo, nil)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if second.Latest() != 1 {
		t.Fatalf("expected 1 loaded version, got %d", second.Latest())
	}

	repo.versions = append(repo.versions, Version{Number: 5})
	if err := second.Load(ctx); err == nil {
		t.Fatalf("expected error for non-contiguous versions")
	}
}

func TestConcurrentReadersDuringPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewRegistry(&memRepo{}, nil)
	if _, err := reg.Publish(ctx, testRules()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v, rules := reg.Current()
				for _, r := range rules {
					if r.Version != v {
						t.Errorf("rule %s stamped %d inside version %d", r.ID, r.Version, v)
						return
					}
				}
			}
		}()
	}
	for w := 1; w <= 20; w++ {
		rules := testRules()
		rules[0].SeverityWeight = float64(w)
		if _, err := reg.Publish(ctx, rules); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	wg.Wait()
	if reg.Latest() != 21 {
		t.Fatalf("expected 21 versions, got %d", reg.Latest())
	}
}

type slowRepo struct {
	memRepo
	entered chan struct{}
	release chan struct{}
}

func (s *slowRepo) SaveVersion(ctx context.Context, v Version) error {
	close(s.entered)
	<-s.release
	return s.memRepo.SaveVersion(ctx, v)
}

func TestReadsDoNotWaitForSlowSave(t *testing.T) {
	t.Parallel()

	repo := &slowRepo{entered: make(chan struct{}), release: make(chan struct{})}
	reg := NewRegistry(repo, nil)
	published := make(chan error, 1)
	go func() {
		_, err := reg.Publish(context.Background(), testRules())
		published <- err
	}()
	<-repo.entered

	read := make(chan int, 1)
	go func() {
		v, _ := reg.Current()
		read <- v + reg.Latest()
	}()
	select {
	case v := <-read:
		if v != 0 {
			t.Fatalf("an unsaved version must not be visible, got %d", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Current blocked while a version was being saved")
	}

	close(repo.release)
	if err := <-published; err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if reg.Latest() != 1 {
		t.Fatalf("expected version 1 after the save, got %d", reg.Latest())
	}
}

func TestDefaultChecklistParses(t *testing.T) {
	t.Parallel()

	rules := Default()
	if len(rules) != 12 {
		t.Fatalf("expected 12 default rules, got %d", len(rules))
	}
	for _, r := range rules {
		if !r.Enabled {
			t.Fatalf("default rule %s should be enabled", r.ID)
		}
	}
	reg := NewRegistry(&memRepo{}, nil)
	if _, err := reg.Publish(context.Background(), rules); err != nil {
		t.Fatalf("default checklist must publish: %v", err)
	}
}

func TestParseDisabledRule(t *testing.T) {
	t.Parallel()

	rules, err := Parse([]byte("rules:\n  - id: x\n    category: c\n    severity: low\n    weight: 2\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rules) != 1 || rules[0].Enabled || rules[0].SeverityWeight != 2 {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if _, err := Parse([]byte("rules: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}
