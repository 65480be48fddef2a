package scans

import (
	"time"
)

// JobID identifies a scan job. The result of a completed job is keyed by the
// same id.
type JobID string

// State enum
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Severity enum
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ValidSeverity reports whether s is one of the known severities.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// FindingKind enum
type FindingKind string

const (
	KindViolation   FindingKind = "violation"
	KindRuleTimeout FindingKind = "rule_timeout"
)

// Location points into the artifact.
type Location struct {
	Function string `json:"function,omitempty"`
	Offset   int    `json:"offset"`
	Symbol   string `json:"symbol,omitempty"`
}

// Finding is one rule hit.
type Finding struct {
	RuleID     string      `json:"rule_id"`
	Kind       FindingKind `json:"kind"`
	Severity   Severity    `json:"severity"`
	Category   string      `json:"category"`
	Location   Location    `json:"location"`
	Message    string      `json:"message"`
	Confidence float64     `json:"confidence"`
}

// Metric is one measured quantity. Non-deterministic metrics are recorded but
// never scored.
type Metric struct {
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	Unit          string  `json:"unit"`
	Deterministic bool    `json:"deterministic"`
}

// Score value object
type Score struct {
	Value     float64            `json:"value"`
	Grade     string             `json:"grade"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// ScanJob is the only mutable entity of the pipeline. Owner is the instance
// running it; the owner's heartbeat keeps LeaseExpiresAt in the future.
type ScanJob struct {
	ID             JobID      `json:"id"`
	ContractID     string     `json:"contract_id"`
	Version        string     `json:"version"`
	PublisherID    string     `json:"publisher_id"`
	State          State      `json:"state"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ResultRef      JobID      `json:"result_ref,omitempty"`
	FailureKind    string     `json:"failure_kind,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	Owner          string     `json:"owner,omitempty"`
	LeaseExpiresAt time.Time  `json:"lease_expires_at"`
}

// ScanResult is written once, when its job completes.
type ScanResult struct {
	JobID            JobID     `json:"job_id"`
	ContractID       string    `json:"contract_id"`
	Version          string    `json:"version"`
	PublisherID      string    `json:"publisher_id"`
	Findings         []Finding `json:"findings"`
	Metrics          []Metric  `json:"metrics"`
	Score            Score     `json:"score"`
	ChecklistVersion int       `json:"checklist_version"`
	CreatedAt        time.Time `json:"created_at"`
}

// ContractVersion tracks one published artifact. LatestResultRef only ever
// points at a completed job's result.
type ContractVersion struct {
	ContractID      string    `json:"contract_id"`
	Version         string    `json:"version"`
	PublisherID     string    `json:"publisher_id"`
	ArtifactHash    string    `json:"artifact_hash"`
	ArtifactKey     string    `json:"artifact_key"`
	LatestResultRef JobID     `json:"latest_result_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HistoryEntry is one row of the append-only result ledger.
type HistoryEntry struct {
	Seq              int64     `json:"seq"`
	ContractID       string    `json:"contract_id"`
	Version          string    `json:"version"`
	JobID            JobID     `json:"job_id"`
	ScoreValue       float64   `json:"score_value"`
	Grade            string    `json:"grade"`
	ChecklistVersion int       `json:"checklist_version"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// ResultRecord is the slice of a result the aggregation task folds.
type ResultRecord struct {
	Seq         int64
	JobID       JobID
	ContractID  string
	PublisherID string
	Version     string
	Score       float64
	FinishedAt  time.Time
}
