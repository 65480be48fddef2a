package analyst

import (
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// AnalysisID identifier type
type AnalysisID string

// Analysis is remediation advice generated for one completed scan result,
// stored for auditing and retrieval.
type Analysis struct {
	ID         AnalysisID  `json:"id"`
	JobID      scans.JobID `json:"job_id"`
	ContractID string      `json:"contract_id"`
	Version    string      `json:"version"`
	Model      string      `json:"model"`
	Result     string      `json:"result"` // JSON string from the advisor
	CreatedAt  time.Time   `json:"created_at"`
}
