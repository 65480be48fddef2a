package middleware

import (
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Metrics stores application metrics. It doubles as the scan pipeline's
// lifecycle observer.
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	ScansAdmitted      uint64
	ScansRejected      uint64
	ScansStarted       uint64
	ScansCompleted     uint64
	ScansFailed        uint64
	scanMillis         uint64
	StartTime          time.Time

	// InFlight, when set, reports the number of pipelines running now.
	InFlight func() int

	mu       sync.Mutex
	failures map[scanerrors.Kind]uint64
	rejects  map[scanerrors.Kind]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		StartTime: time.Now(),
		failures:  make(map[scanerrors.Kind]uint64),
		rejects:   make(map[scanerrors.Kind]uint64),
	}
}

func (m *Metrics) JobAdmitted() {
	atomic.AddUint64(&m.ScansAdmitted, 1)
}

func (m *Metrics) JobRejected(kind scanerrors.Kind) {
	atomic.AddUint64(&m.ScansRejected, 1)
	m.mu.Lock()
	m.rejects[kind]++
	m.mu.Unlock()
}

func (m *Metrics) JobStarted() {
	atomic.AddUint64(&m.ScansStarted, 1)
}

// JobFinished is called once per job that reached a terminal state.
func (m *Metrics) JobFinished(state scans.State, kind scanerrors.Kind, elapsed time.Duration) {
	atomic.AddUint64(&m.scanMillis, uint64(elapsed.Milliseconds()))
	if state == scans.StateCompleted {
		atomic.AddUint64(&m.ScansCompleted, 1)
	} else {
		atomic.AddUint64(&m.ScansFailed, 1)
		m.mu.Lock()
		m.failures[kind]++
		m.mu.Unlock()
	}
}

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.Lock()
	failures := make(map[string]uint64, len(m.failures))
	for k, v := range m.failures {
		failures[string(k)] = v
	}
	rejects := make(map[string]uint64, len(m.rejects))
	for k, v := range m.rejects {
		rejects[string(k)] = v
	}
	m.mu.Unlock()

	finished := atomic.LoadUint64(&m.ScansCompleted) + atomic.LoadUint64(&m.ScansFailed)
	var avgMillis float64
	if finished > 0 {
		avgMillis = float64(atomic.LoadUint64(&m.scanMillis)) / float64(finished)
	}

	var running int
	if m.InFlight != nil {
		running = m.InFlight()
	}

	return map[string]any{
		"requests_total":       atomic.LoadUint64(&m.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&m.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&m.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&m.RequestsFailed),
		"scans_admitted":       atomic.LoadUint64(&m.ScansAdmitted),
		"scans_rejected":       atomic.LoadUint64(&m.ScansRejected),
		"scans_started":        atomic.LoadUint64(&m.ScansStarted),
		"scans_running":        running,
		"scans_completed":      atomic.LoadUint64(&m.ScansCompleted),
		"scans_failed":         atomic.LoadUint64(&m.ScansFailed),
		"scan_failures_kind":   failures,
		"scan_rejects_kind":    rejects,
		"scan_avg_millis":      avgMillis,
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"sys_bytes":         mem.Sys,
			"num_gc":            mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint64(&m.RequestsTotal, 1)
		atomic.AddUint64(&m.RequestsInProgress, 1)
		defer atomic.AddUint64(&m.RequestsInProgress, ^uint64(0))

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			atomic.AddUint64(&m.RequestsSuccess, 1)
		} else {
			atomic.AddUint64(&m.RequestsFailed, 1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Snapshot())
}
