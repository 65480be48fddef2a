package httpserver_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/application/aggregation"
	appai "github.com/Macnelson9/Soroban-Registry/internal/application/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/application/history"
	appscans "github.com/Macnelson9/Soroban-Registry/internal/application/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/detector"
	domain "github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scoring"
	w "github.com/Macnelson9/Soroban-Registry/internal/domain/wasm/wasmtest"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/ai/prompt"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/db/memory"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/httpserver"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/storage"
	"github.com/Macnelson9/Soroban-Registry/internal/middleware"
)

type server struct {
	*httptest.Server
	svc   *appscans.Service
	task  *aggregation.Task
	store *memory.Store
}

type gate struct {
	inner   appscans.Detector
	release chan struct{}
}

func (g *gate) Evaluate(ctx context.Context, artifact []byte, rules []checklist.Rule) ([]domain.Finding, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Evaluate(ctx, artifact, rules)
}

func newServer(t *testing.T, opts httpserver.Options, det appscans.Detector) *server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	registry := checklist.NewRegistry(store, detector.RuleValidator{})
	if _, err := registry.Publish(context.Background(), checklist.Default()); err != nil {
		t.Fatalf("publish default checklist: %v", err)
	}
	if det == nil {
		det = detector.New(detector.Options{MaxSteps: 1_000_000})
	}
	svc := appscans.NewService(appscans.Deps{
		Repo:      store,
		Artifacts: storage.NewMemory(),
		Checklist: registry,
		Detector:  det,
		Benchmark: benchmark.Engine{},
		Scorer:    scoring.NewEngine(scoring.DefaultPolicy()),
		Logger:    log,
	}, appscans.Options{})
	task := aggregation.NewTask(aggregation.Deps{Source: store, Repo: store, Logger: log}, 0)

	opts.Logger = log
	h := httpserver.NewRouter(httpserver.Services{
		Scans:      svc,
		History:    &history.Ledger{Repo: store},
		Aggregates: task,
		Checklist:  registry,
		Advice:     appai.NewService(prompt.Offline{}, store, store, nil, log),
	}, opts)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close(context.Background())
	})
	return &server{Server: srv, svc: svc, task: task, store: store}
}

func (s *server) do(t *testing.T, method, path, publisher, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if publisher != "" {
		req.Header.Set("X-Publisher-ID", publisher)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

type errBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type accepted struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

func cleanArtifact() []byte {
	b := w.New()
	void := b.Type(nil, nil)
	b.Memory(1, 1, true)
	f := b.Func(void, nil, w.I32Const(1), w.Drop())
	b.ExportFunc("hello", f)
	return b.Bytes()
}

func scanPath(contract, version string) string {
	return fmt.Sprintf("/api/contracts/%s/versions/%s/scans", contract, version)
}

func TestSubmitAndWait(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	resp, data := s.do(t, http.MethodPost, scanPath("token", "1.0.0")+"?wait=true", "acme", "application/wasm", cleanArtifact())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode, data)
	}
	view := decode[appscans.JobView](t, data)
	if view.Job.State != domain.StateCompleted || view.Result == nil || view.Result.Score.Value != 100 {
		t.Fatalf("view = %s", data)
	}
	if view.Job.PublisherID != "acme" {
		t.Fatalf("publisher = %q", view.Job.PublisherID)
	}

	resp, data = s.do(t, http.MethodGet, "/api/scans/"+string(view.Job.ID), "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if got := decode[appscans.JobView](t, data); got.Result == nil || got.Result.ChecklistVersion != 1 {
		t.Fatalf("get = %s", data)
	}

	resp, data = s.do(t, http.MethodGet, "/api/contracts/token/versions/1.0.0", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("version status = %d", resp.StatusCode)
	}
	if cv := decode[domain.ContractVersion](t, data); cv.LatestResultRef != view.Job.ID {
		t.Fatalf("latest result ref = %q", cv.LatestResultRef)
	}

	resp, data = s.do(t, http.MethodGet, "/api/contracts/token/history", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	if page := decode[domain.HistoryPage](t, data); page.Total != 1 || len(page.Data) != 1 {
		t.Fatalf("history = %s", data)
	}
}

func TestSubmitBase64Accepted(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	body, _ := json.Marshal(map[string]string{"artifact_base64": base64.StdEncoding.EncodeToString(cleanArtifact())})
	resp, data := s.do(t, http.MethodPost, scanPath("token", "2.0.0"), "acme", "application/json", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", resp.StatusCode, data)
	}
	a := decode[accepted](t, data)
	if a.JobID == "" || a.State != string(domain.StatePending) {
		t.Fatalf("accepted = %+v", a)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	view, err := s.svc.Await(ctx, domain.JobID(a.JobID))
	if err != nil || view.Job.State != domain.StateCompleted {
		t.Fatalf("await = %+v, %v", view.Job, err)
	}
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{MaxBodyBytes: 64}, nil)

	cases := []struct {
		name        string
		path        string
		publisher   string
		contentType string
		body        []byte
		code        int
		kind        string
	}{
		{"anonymous", scanPath("token", "1"), "", "application/wasm", []byte("x"), http.StatusUnauthorized, "Unauthorized"},
		{"bad contract", scanPath("-bad", "1"), "acme", "application/wasm", []byte("x"), http.StatusBadRequest, "InvalidRequest"},
		{"empty artifact", scanPath("token", "1"), "acme", "application/wasm", nil, http.StatusBadRequest, "InvalidRequest"},
		{"bad base64", scanPath("token", "1"), "acme", "application/json", []byte(`{"artifact_base64":"%%%"}`), http.StatusBadRequest, "InvalidRequest"},
		{"bad json", scanPath("token", "1"), "acme", "application/json", []byte(`{`), http.StatusBadRequest, "InvalidRequest"},
		{"too large", scanPath("token", "1"), "acme", "application/wasm", bytes.Repeat([]byte{1}, 128), http.StatusRequestEntityTooLarge, "InvalidRequest"},
	}
	for _, tc := range cases {
		resp, data := s.do(t, http.MethodPost, tc.path, tc.publisher, tc.contentType, tc.body)
		if resp.StatusCode != tc.code {
			t.Fatalf("%s: status = %d body = %s", tc.name, resp.StatusCode, data)
		}
		if e := decode[errBody](t, data); e.Kind != tc.kind {
			t.Fatalf("%s: kind = %q", tc.name, e.Kind)
		}
	}
}

func TestInvalidArtifactReportsFailedJob(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	resp, data := s.do(t, http.MethodPost, scanPath("broken", "1")+"?wait=1", "acme", "application/octet-stream", []byte("not wasm"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	view := decode[appscans.JobView](t, data)
	if view.Job.State != domain.StateFailed || view.Job.FailureKind != "ArtifactInvalid" || view.Result != nil {
		t.Fatalf("view = %s", data)
	}
}

func TestDuplicateSubmissionConflicts(t *testing.T) {
	t.Parallel()

	g := &gate{inner: detector.New(detector.Options{}), release: make(chan struct{})}
	s := newServer(t, httpserver.Options{}, g)

	resp, data := s.do(t, http.MethodPost, scanPath("token", "1"), "acme", "application/wasm", cleanArtifact())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d body = %s", resp.StatusCode, data)
	}
	first := decode[accepted](t, data)

	resp, data = s.do(t, http.MethodPost, scanPath("token", "1"), "acme", "application/wasm", cleanArtifact())
	if resp.StatusCode != http.StatusConflict || decode[errBody](t, data).Kind != "ScanInProgress" {
		t.Fatalf("second status = %d body = %s", resp.StatusCode, data)
	}

	// another publisher cannot cancel it
	resp, _ = s.do(t, http.MethodDelete, "/api/scans/"+first.JobID, "mallory", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign cancel status = %d", resp.StatusCode)
	}

	resp, data = s.do(t, http.MethodDelete, "/api/scans/"+first.JobID, "acme", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d body = %s", resp.StatusCode, data)
	}
	view := decode[appscans.JobView](t, data)
	if view.Job.State != domain.StateFailed || view.Job.FailureKind != "Cancelled" {
		t.Fatalf("cancelled view = %s", data)
	}

	resp, data = s.do(t, http.MethodDelete, "/api/scans/"+first.JobID, "acme", "", nil)
	if resp.StatusCode != http.StatusConflict || decode[errBody](t, data).Kind != "CancelNotAllowed" {
		t.Fatalf("second cancel status = %d body = %s", resp.StatusCode, data)
	}
	close(g.release)
}

func TestScanLookupErrors(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	resp, data := s.do(t, http.MethodGet, "/api/scans/not-a-uuid", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", resp.StatusCode)
	}
	resp, data = s.do(t, http.MethodGet, "/api/scans/5f0c6a2e-8a9b-4f55-9a4e-0b3c2c1d9e77", "", "", nil)
	if resp.StatusCode != http.StatusNotFound || decode[errBody](t, data).Kind != "NotFound" {
		t.Fatalf("missing status = %d body = %s", resp.StatusCode, data)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/contracts/token/diff?from=1.0&to=", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("diff status = %d", resp.StatusCode)
	}
}

func TestRescanRescoreAndAdvice(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	resp, data := s.do(t, http.MethodPost, scanPath("token", "1")+"?wait=true", "acme", "application/wasm", cleanArtifact())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	first := decode[appscans.JobView](t, data)

	resp, _ = s.do(t, http.MethodPost, "/api/contracts/token/versions/1/rescan", "zeta", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("foreign rescan status = %d", resp.StatusCode)
	}
	resp, data = s.do(t, http.MethodPost, "/api/contracts/token/versions/1/rescan?wait=true", "acme", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rescan status = %d body = %s", resp.StatusCode, data)
	}
	second := decode[appscans.JobView](t, data)
	if second.Job.ID == first.Job.ID || second.Job.State != domain.StateCompleted {
		t.Fatalf("rescan view = %s", data)
	}

	resp, data = s.do(t, http.MethodPost, "/api/scans/"+string(first.Job.ID)+"/rescore", "acme", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rescore status = %d", resp.StatusCode)
	}
	if rs := decode[appscans.RescoreResult](t, data); !rs.Matches {
		t.Fatalf("rescore = %s", data)
	}

	resp, data = s.do(t, http.MethodPost, "/api/scans/"+string(first.Job.ID)+"/advice", "acme", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advice status = %d body = %s", resp.StatusCode, data)
	}
	advice := decode[struct {
		Model  string          `json:"model"`
		Advice json.RawMessage `json:"advice"`
	}](t, data)
	if advice.Model != "offline" || !strings.Contains(string(advice.Advice), "token") {
		t.Fatalf("advice = %s", data)
	}
}

func TestAggregates(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	for _, c := range []string{"a", "b"} {
		resp, _ := s.do(t, http.MethodPost, scanPath(c, "1")+"?wait=true", "acme", "application/wasm", cleanArtifact())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("submit %s status = %d", c, resp.StatusCode)
		}
	}
	if _, err := s.task.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	resp, data := s.do(t, http.MethodGet, "/api/stats/aggregates", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	set := decode[struct {
		Global struct {
			ContractCount int     `json:"contract_count"`
			AvgScore      float64 `json:"avg_score"`
		} `json:"global"`
	}](t, data)
	if set.Global.ContractCount != 2 || set.Global.AvgScore != 100 {
		t.Fatalf("aggregates = %s", data)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/publishers/acme/stats", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publisher stats status = %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/publishers/nobody/stats", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown publisher status = %d", resp.StatusCode)
	}
}

func TestChecklistEndpoints(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{Admins: []string{"root"}}, nil)
	resp, data := s.do(t, http.MethodGet, "/api/checklist", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	current := decode[checklist.Version](t, data)
	if current.Number != 1 || len(current.Rules) == 0 {
		t.Fatalf("checklist = %s", data)
	}

	rules := current.Rules[:1]
	rules[0].Enabled = !rules[0].Enabled
	body, _ := json.Marshal(map[string]any{"rules": rules})

	resp, _ = s.do(t, http.MethodPost, "/api/checklist", "acme", "application/json", body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin publish status = %d", resp.StatusCode)
	}
	resp, data = s.do(t, http.MethodPost, "/api/checklist", "root", "application/json", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish status = %d body = %s", resp.StatusCode, data)
	}
	if v := decode[checklist.Version](t, data); v.Number != 2 || len(v.Rules) != 1 {
		t.Fatalf("published = %s", data)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/checklist/1", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("v1 status = %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/checklist/9", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("v9 status = %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/checklist/latest", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-numeric status = %d", resp.StatusCode)
	}
}

func TestAPIKeysAndHealthChecks(t *testing.T) {
	t.Parallel()

	metrics := middleware.NewMetrics()
	ready := &middleware.Readiness{}
	s := newServer(t, httpserver.Options{
		APIKeys:   map[string]string{"acme": "secret"},
		Metrics:   metrics,
		Readiness: ready,
		Health: map[string]middleware.HealthChecker{
			"artifacts": middleware.CheckFunc(func(context.Context) error { return errors.New("bucket missing") }),
		},
	}, nil)

	// the header alone is not trusted once keys are configured
	resp, _ := s.do(t, http.MethodPost, scanPath("token", "1"), "acme", "application/wasm", cleanArtifact())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("header-only status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, s.URL+scanPath("token", "1"), bytes.NewReader(cleanArtifact()))
	req.Header.Set("Authorization", "Bearer secret")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("keyed status = %d", res.StatusCode)
	}

	resp, _ = s.do(t, http.MethodGet, "/health", "", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/health/live", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live status = %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/health/ready", "", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
	resp, data := s.do(t, http.MethodGet, "/metrics", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if m := decode[map[string]any](t, data); m["requests_total"].(float64) < 2 {
		t.Fatalf("metrics = %s", data)
	}
}

func TestRateLimited(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{Limiter: middleware.NewRateLimiter(1, 1)}, nil)
	resp, _ := s.do(t, http.MethodGet, "/api/checklist", "acme", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp, data := s.do(t, http.MethodGet, "/api/checklist", "acme", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("second status = %d body = %s", resp.StatusCode, data)
	}
}

func TestContractAndPublisherListings(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	for _, sub := range []struct{ contract, version, publisher string }{
		{"token", "1", "acme"},
		{"token", "2", "acme"},
		{"dex", "1", "other"},
	} {
		resp, _ := s.do(t, http.MethodPost, scanPath(sub.contract, sub.version)+"?wait=true", sub.publisher, "application/wasm", cleanArtifact())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("submit %s@%s status = %d", sub.contract, sub.version, resp.StatusCode)
		}
	}

	resp, data := s.do(t, http.MethodGet, "/api/contracts?page_size=2", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if page := decode[domain.VersionPage](t, data); page.Total != 3 || len(page.Data) != 2 || page.TotalPages != 2 {
		t.Fatalf("contracts = %s", data)
	}

	_, data = s.do(t, http.MethodGet, "/api/contracts?publisher=other", "", "", nil)
	if page := decode[domain.VersionPage](t, data); page.Total != 1 || page.Data[0].ContractID != "dex" {
		t.Fatalf("filtered contracts = %s", data)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/contracts?publisher=bad%20id", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad publisher filter status = %d", resp.StatusCode)
	}

	_, data = s.do(t, http.MethodGet, "/api/contracts/token/versions", "", "", nil)
	if page := decode[domain.VersionPage](t, data); page.Total != 2 || page.Data[0].LatestResultRef == "" {
		t.Fatalf("token versions = %s", data)
	}

	_, data = s.do(t, http.MethodGet, "/api/publishers/acme/contracts", "", "", nil)
	if page := decode[domain.VersionPage](t, data); page.Total != 2 {
		t.Fatalf("acme contracts = %s", data)
	}

	if _, err := s.task.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	resp, data = s.do(t, http.MethodGet, "/api/publishers/acme", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publisher status = %d", resp.StatusCode)
	}
	profile := decode[struct {
		PublisherID  string          `json:"publisher_id"`
		VersionCount int64           `json:"version_count"`
		Stats        json.RawMessage `json:"stats"`
	}](t, data)
	if profile.PublisherID != "acme" || profile.VersionCount != 2 || len(profile.Stats) == 0 {
		t.Fatalf("publisher = %s", data)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/publishers/nobody", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown publisher status = %d", resp.StatusCode)
	}
}

func TestRuleCatalog(t *testing.T) {
	t.Parallel()

	s := newServer(t, httpserver.Options{}, nil)
	resp, data := s.do(t, http.MethodGet, "/api/checklist/catalog", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rules := decode[[]detector.RuleInfo](t, data)
	if len(rules) != len(detector.Catalog()) || len(rules) == 0 {
		t.Fatalf("catalog = %s", data)
	}
	for _, r := range checklist.Default() {
		found := false
		for _, info := range rules {
			found = found || info.ID == r.ID
		}
		if !found {
			t.Fatalf("default rule %s missing from the catalog", r.ID)
		}
	}
}
