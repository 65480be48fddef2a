package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apphistory "github.com/Macnelson9/Soroban-Registry/internal/application/history"
	appscans "github.com/Macnelson9/Soroban-Registry/internal/application/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/aggregate"
	domai "github.com/Macnelson9/Soroban-Registry/internal/domain/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/analyst"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/detector"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/history"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	domain "github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/middleware"
)

// ScanService is the orchestrator surface the API drives.
type ScanService interface {
	Submit(ctx context.Context, cmd appscans.SubmitCommand) (*domain.ScanJob, error)
	Rescan(ctx context.Context, cmd appscans.RescanCommand) (*domain.ScanJob, error)
	Get(ctx context.Context, id domain.JobID) (appscans.JobView, error)
	Await(ctx context.Context, id domain.JobID) (appscans.JobView, error)
	Cancel(ctx context.Context, id domain.JobID) error
	Rescore(ctx context.Context, id domain.JobID) (appscans.RescoreResult, error)
}

type HistoryService interface {
	List(ctx context.Context, contractID string, page, pageSize int) (domain.HistoryPage, error)
	Version(ctx context.Context, contractID, version string) (*domain.ContractVersion, error)
	Diff(ctx context.Context, contractID, from, to string) (history.Diff, error)
	Versions(ctx context.Context, filter domain.VersionFilter, page, pageSize int) (domain.VersionPage, error)
	Publisher(ctx context.Context, publisherID string) (apphistory.PublisherProfile, error)
}

type AggregateReader interface {
	Snapshots() *aggregate.SnapshotSet
}

type ChecklistCatalog interface {
	Latest() int
	Version(version int) (checklist.Version, error)
	Publish(ctx context.Context, rules []checklist.Rule) (int, error)
}

type AdviceService interface {
	Advise(ctx context.Context, jobID domain.JobID, refresh bool) (*analyst.Analysis, error)
}

// Services are the use-cases behind the API. Advice may be nil.
type Services struct {
	Scans      ScanService
	History    HistoryService
	Aggregates AggregateReader
	Checklist  ChecklistCatalog
	Advice     AdviceService
}

// Options configure the HTTP surface.
type Options struct {
	Logger *slog.Logger
	// APIKeys maps publisher id to API key. Without keys the publisher is
	// taken from the X-Publisher-ID header.
	APIKeys map[string]string
	// Admins may publish checklist versions.
	Admins         []string
	AllowedOrigins []string
	Limiter        *middleware.RateLimiter
	Metrics        *middleware.Metrics
	Health         map[string]middleware.HealthChecker
	Readiness      *middleware.Readiness
	// WaitTimeout bounds ?wait=true submissions. Zero means 30s.
	WaitTimeout time.Duration
	// MaxBodyBytes bounds request bodies. Zero means 8 MiB.
	MaxBodyBytes int64
}

type Router struct {
	svc    Services
	opts   Options
	log    *slog.Logger
	admins map[string]bool
}

const publisherHeader = "X-Publisher-ID"

func NewRouter(svc Services, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	if opts.Readiness == nil {
		opts.Readiness = &middleware.Readiness{}
		opts.Readiness.Set(true)
	}
	r := &Router{svc: svc, opts: opts, log: opts.Logger.With("component", "http"), admins: map[string]bool{}}
	for _, a := range opts.Admins {
		r.admins[a] = true
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.Logging(r.log))
	mux.Use(chimw.Recoverer)
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", publisherHeader},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", opts.Readiness.Handler)
	if opts.Metrics != nil {
		mux.Get("/metrics", opts.Metrics.Handler)
	}

	mux.Route("/api", func(api chi.Router) {
		if len(opts.APIKeys) > 0 {
			api.Use(middleware.APIKeyAuth(opts.APIKeys))
		} else {
			api.Use(trustPublisherHeader)
		}
		if opts.Limiter != nil {
			api.Use(opts.Limiter.RateLimit)
		}

		// reads
		api.Get("/scans/{jobID}", r.wrap(r.handleGetScan))
		api.Get("/contracts", r.wrap(r.handleListVersions))
		api.Get("/contracts/{contractID}/versions", r.wrap(r.handleContractVersions))
		api.Get("/contracts/{contractID}/versions/{version}", r.wrap(r.handleGetVersion))
		api.Get("/contracts/{contractID}/history", r.wrap(r.handleHistory))
		api.Get("/contracts/{contractID}/diff", r.wrap(r.handleDiff))
		api.Get("/stats/aggregates", r.wrap(r.handleAggregates))
		api.Get("/publishers/{publisherID}", r.wrap(r.handlePublisher))
		api.Get("/publishers/{publisherID}/contracts", r.wrap(r.handlePublisherContracts))
		api.Get("/publishers/{publisherID}/stats", r.wrap(r.handlePublisherStats))
		api.Get("/checklist", r.wrap(r.handleChecklist))
		api.Get("/checklist/catalog", r.wrap(r.handleRuleCatalog))
		api.Get("/checklist/{version}", r.wrap(r.handleChecklistVersion))

		// writes need a publisher
		api.Group(func(w chi.Router) {
			w.Use(middleware.RequirePublisher)
			w.Post("/contracts/{contractID}/versions/{version}/scans", r.wrap(r.handleSubmit))
			w.Post("/contracts/{contractID}/versions/{version}/rescan", r.wrap(r.handleRescan))
			w.Delete("/scans/{jobID}", r.wrap(r.handleCancel))
			w.Post("/scans/{jobID}/rescore", r.wrap(r.handleRescore))
			w.Post("/scans/{jobID}/advice", r.wrap(r.handleAdvice))
			w.Post("/checklist", r.wrap(r.handlePublishChecklist))
		})
	})

	return mux
}

// trustPublisherHeader is used when API keys are off, e.g. behind a gateway
// that authenticates publishers itself.
func trustPublisherHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := r.Header.Get(publisherHeader); p != "" {
			r = r.WithContext(middleware.WithPublisher(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		code, body := translate(err)
		if code >= http.StatusInternalServerError {
			r.log.Error("request failed",
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", chimw.GetReqID(req.Context()),
				"error", err)
		}
		writeJSON(w, code, body)
	}
}

// translate maps an error to a status code and a {kind, message} body.
func translate(err error) (int, errorBody) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, errorBody{Kind: "QuotaExceeded", Message: "ai quota exceeded"}
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, errorBody{
			Kind:    string(scanerrors.KindInvalidRequest),
			Message: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
		}
	}

	var se *scanerrors.Error
	if !errors.As(err, &se) {
		return http.StatusInternalServerError, errorBody{Kind: string(scanerrors.KindInfrastructure), Message: "internal error"}
	}
	body := errorBody{Kind: string(se.Kind), Message: se.Error()}
	switch se.Kind {
	case scanerrors.KindInvalidRequest, scanerrors.KindArtifactInvalid:
		return http.StatusBadRequest, body
	case scanerrors.KindNotFound:
		return http.StatusNotFound, body
	case scanerrors.KindScanInProgress, scanerrors.KindCancelNotAllowed, scanerrors.KindCancelled:
		return http.StatusConflict, body
	case scanerrors.KindBudgetExceeded, scanerrors.KindRuleTimeout:
		return http.StatusUnprocessableEntity, body
	case scanerrors.KindLockAcquisitionFailed:
		return http.StatusServiceUnavailable, body
	case scanerrors.KindDeadlineExceeded:
		return http.StatusGatewayTimeout, body
	default:
		return http.StatusInternalServerError, errorBody{Kind: string(se.Kind), Message: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func invalid(err error) error {
	return scanerrors.Wrap(scanerrors.KindInvalidRequest, err, "invalid request")
}

func versionParams(req *http.Request) (string, string, error) {
	contractID := chi.URLParam(req, "contractID")
	version := chi.URLParam(req, "version")
	if err := middleware.ValidateContractID(contractID); err != nil {
		return "", "", invalid(err)
	}
	if err := middleware.ValidateVersion(version); err != nil {
		return "", "", invalid(err)
	}
	return contractID, version, nil
}

func jobParam(req *http.Request) (domain.JobID, error) {
	id := chi.URLParam(req, "jobID")
	if err := middleware.ValidateJobID(id); err != nil {
		return "", invalid(err)
	}
	return domain.JobID(id), nil
}

func boolQuery(req *http.Request, name string) bool {
	v, _ := strconv.ParseBool(req.URL.Query().Get(name))
	return v
}

// readArtifact accepts a raw wasm body or {"artifact_base64": "..."}.
func (r *Router) readArtifact(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, req.Body, r.opts.MaxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return io.ReadAll(body)
	}
	var in struct {
		ArtifactBase64 string `json:"artifact_base64"`
	}
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, invalid(err)
	}
	artifact, err := base64.StdEncoding.DecodeString(in.ArtifactBase64)
	if err != nil {
		return nil, invalid(fmt.Errorf("artifact_base64: %w", err))
	}
	return artifact, nil
}

type acceptedBody struct {
	JobID domain.JobID `json:"job_id"`
	State domain.State `json:"state"`
}

// respondAdmitted answers 202 with the job id, or waits for the job when
// ?wait=true. A wait that runs out returns the job as it stands.
func (r *Router) respondAdmitted(w http.ResponseWriter, req *http.Request, job *domain.ScanJob) error {
	if !boolQuery(req, "wait") {
		writeJSON(w, http.StatusAccepted, acceptedBody{JobID: job.ID, State: job.State})
		return nil
	}
	ctx, cancel := context.WithTimeout(req.Context(), r.opts.WaitTimeout)
	defer cancel()
	view, err := r.svc.Scans.Await(ctx, job.ID)
	if errors.Is(err, context.DeadlineExceeded) {
		view, err = r.svc.Scans.Get(req.Context(), job.ID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusAccepted, view)
		return nil
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, view)
	return nil
}

// POST /api/contracts/{contractID}/versions/{version}/scans[?wait=true]
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	contractID, version, err := versionParams(req)
	if err != nil {
		return err
	}
	artifact, err := r.readArtifact(w, req)
	if err != nil {
		return err
	}
	job, err := r.svc.Scans.Submit(req.Context(), appscans.SubmitCommand{
		ContractID:  contractID,
		Version:     version,
		PublisherID: middleware.PublisherFromContext(req.Context()),
		Artifact:    artifact,
	})
	if err != nil {
		return err
	}
	return r.respondAdmitted(w, req, job)
}

// POST /api/contracts/{contractID}/versions/{version}/rescan[?wait=true]
func (r *Router) handleRescan(w http.ResponseWriter, req *http.Request) error {
	contractID, version, err := versionParams(req)
	if err != nil {
		return err
	}
	job, err := r.svc.Scans.Rescan(req.Context(), appscans.RescanCommand{
		ContractID:  contractID,
		Version:     version,
		PublisherID: middleware.PublisherFromContext(req.Context()),
	})
	if err != nil {
		return err
	}
	return r.respondAdmitted(w, req, job)
}

// GET /api/scans/{jobID}
func (r *Router) handleGetScan(w http.ResponseWriter, req *http.Request) error {
	id, err := jobParam(req)
	if err != nil {
		return err
	}
	view, err := r.svc.Scans.Get(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, view)
	return nil
}

// DELETE /api/scans/{jobID}
func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) error {
	id, err := jobParam(req)
	if err != nil {
		return err
	}
	view, err := r.svc.Scans.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if view.Job.PublisherID != middleware.PublisherFromContext(req.Context()) {
		return scanerrors.New(scanerrors.KindNotFound, "job %s not found", id)
	}
	if err := r.svc.Scans.Cancel(req.Context(), id); err != nil {
		return err
	}
	view, err = r.svc.Scans.Get(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, view)
	return nil
}

// POST /api/scans/{jobID}/rescore
func (r *Router) handleRescore(w http.ResponseWriter, req *http.Request) error {
	id, err := jobParam(req)
	if err != nil {
		return err
	}
	out, err := r.svc.Scans.Rescore(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

type adviceBody struct {
	ID        analyst.AnalysisID `json:"id"`
	JobID     domain.JobID       `json:"job_id"`
	Model     string             `json:"model"`
	Advice    json.RawMessage    `json:"advice"`
	CreatedAt time.Time          `json:"created_at"`
}

// POST /api/scans/{jobID}/advice[?refresh=true]
func (r *Router) handleAdvice(w http.ResponseWriter, req *http.Request) error {
	if r.svc.Advice == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Kind: "Unavailable", Message: "advice is not configured"})
		return nil
	}
	id, err := jobParam(req)
	if err != nil {
		return err
	}
	a, err := r.svc.Advice.Advise(req.Context(), id, boolQuery(req, "refresh"))
	if err != nil {
		return err
	}
	raw := json.RawMessage(a.Result)
	if !json.Valid(raw) {
		raw = json.RawMessage("{}")
	}
	writeJSON(w, http.StatusOK, adviceBody{ID: a.ID, JobID: a.JobID, Model: a.Model, Advice: raw, CreatedAt: a.CreatedAt})
	return nil
}

// GET /api/contracts/{contractID}/versions/{version}
func (r *Router) handleGetVersion(w http.ResponseWriter, req *http.Request) error {
	contractID, version, err := versionParams(req)
	if err != nil {
		return err
	}
	cv, err := r.svc.History.Version(req.Context(), contractID, version)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cv)
	return nil
}

func pageParams(req *http.Request) (int, int) {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	return middleware.ValidatePage(page), middleware.ValidateLimit(size)
}

// GET /api/contracts/{contractID}/history?page=&page_size=
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	contractID := chi.URLParam(req, "contractID")
	if err := middleware.ValidateContractID(contractID); err != nil {
		return invalid(err)
	}
	page, size := pageParams(req)

	list, err := r.svc.History.List(req.Context(), contractID, page, size)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// listVersions writes one page of contract versions matching f.
func (r *Router) listVersions(w http.ResponseWriter, req *http.Request, f domain.VersionFilter) error {
	page, size := pageParams(req)
	list, err := r.svc.History.Versions(req.Context(), f, page, size)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/contracts?publisher=&page=&page_size=
func (r *Router) handleListVersions(w http.ResponseWriter, req *http.Request) error {
	var f domain.VersionFilter
	if p := req.URL.Query().Get("publisher"); p != "" {
		if err := middleware.ValidatePublisherID(p); err != nil {
			return invalid(err)
		}
		f.PublisherID = p
	}
	return r.listVersions(w, req, f)
}

// GET /api/contracts/{contractID}/versions?page=&page_size=
func (r *Router) handleContractVersions(w http.ResponseWriter, req *http.Request) error {
	contractID := chi.URLParam(req, "contractID")
	if err := middleware.ValidateContractID(contractID); err != nil {
		return invalid(err)
	}
	return r.listVersions(w, req, domain.VersionFilter{ContractID: contractID})
}

// GET /api/contracts/{contractID}/diff?from=&to=
func (r *Router) handleDiff(w http.ResponseWriter, req *http.Request) error {
	contractID := chi.URLParam(req, "contractID")
	if err := middleware.ValidateContractID(contractID); err != nil {
		return invalid(err)
	}
	from, to := req.URL.Query().Get("from"), req.URL.Query().Get("to")
	for _, v := range []string{from, to} {
		if err := middleware.ValidateVersion(v); err != nil {
			return invalid(err)
		}
	}
	d, err := r.svc.History.Diff(req.Context(), contractID, from, to)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, d)
	return nil
}

// GET /api/stats/aggregates
func (r *Router) handleAggregates(w http.ResponseWriter, req *http.Request) error {
	writeJSON(w, http.StatusOK, r.svc.Aggregates.Snapshots())
	return nil
}

type publisherBody struct {
	apphistory.PublisherProfile
	Stats *aggregate.Snapshot `json:"stats,omitempty"`
}

// GET /api/publishers/{publisherID}
func (r *Router) handlePublisher(w http.ResponseWriter, req *http.Request) error {
	publisher := chi.URLParam(req, "publisherID")
	if err := middleware.ValidatePublisherID(publisher); err != nil {
		return invalid(err)
	}
	profile, err := r.svc.History.Publisher(req.Context(), publisher)
	if err != nil {
		return err
	}
	body := publisherBody{PublisherProfile: profile}
	if snap, ok := r.svc.Aggregates.Snapshots().Publishers[publisher]; ok {
		body.Stats = &snap
	}
	writeJSON(w, http.StatusOK, body)
	return nil
}

// GET /api/publishers/{publisherID}/contracts?page=&page_size=
func (r *Router) handlePublisherContracts(w http.ResponseWriter, req *http.Request) error {
	publisher := chi.URLParam(req, "publisherID")
	if err := middleware.ValidatePublisherID(publisher); err != nil {
		return invalid(err)
	}
	return r.listVersions(w, req, domain.VersionFilter{PublisherID: publisher})
}

// GET /api/publishers/{publisherID}/stats
func (r *Router) handlePublisherStats(w http.ResponseWriter, req *http.Request) error {
	publisher := chi.URLParam(req, "publisherID")
	if err := middleware.ValidatePublisherID(publisher); err != nil {
		return invalid(err)
	}
	snap, ok := r.svc.Aggregates.Snapshots().Publishers[publisher]
	if !ok {
		return scanerrors.New(scanerrors.KindNotFound, "no aggregate for publisher %s", publisher)
	}
	writeJSON(w, http.StatusOK, snap)
	return nil
}

// GET /api/checklist
func (r *Router) handleChecklist(w http.ResponseWriter, req *http.Request) error {
	v, err := r.svc.Checklist.Version(r.svc.Checklist.Latest())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

// GET /api/checklist/catalog
func (r *Router) handleRuleCatalog(w http.ResponseWriter, req *http.Request) error {
	writeJSON(w, http.StatusOK, detector.Catalog())
	return nil
}

// GET /api/checklist/{version}
func (r *Router) handleChecklistVersion(w http.ResponseWriter, req *http.Request) error {
	n, err := strconv.Atoi(chi.URLParam(req, "version"))
	if err != nil {
		return invalid(fmt.Errorf("checklist version must be a number"))
	}
	v, err := r.svc.Checklist.Version(n)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, v)
	return nil
}

// POST /api/checklist
// Body: {"rules": [...]}
func (r *Router) handlePublishChecklist(w http.ResponseWriter, req *http.Request) error {
	if !r.admins[middleware.PublisherFromContext(req.Context())] {
		writeJSON(w, http.StatusForbidden, errorBody{Kind: "Forbidden", Message: "only admins publish checklist versions"})
		return nil
	}
	var body struct {
		Rules []checklist.Rule `json:"rules"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, r.opts.MaxBodyBytes)).Decode(&body); err != nil {
		return invalid(err)
	}
	if len(body.Rules) == 0 {
		return scanerrors.New(scanerrors.KindInvalidRequest, "rules are required")
	}
	n, err := r.svc.Checklist.Publish(req.Context(), body.Rules)
	if err != nil {
		return err
	}
	r.log.Info("checklist published", "version", n, "publisher", middleware.PublisherFromContext(req.Context()))
	v, err := r.svc.Checklist.Version(n)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, v)
	return nil
}
