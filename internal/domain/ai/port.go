package ai

import (
	"context"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Client produces remediation advice for a scan result as a JSON document.
type Client interface {
	Advise(ctx context.Context, res *scans.ScanResult) (string, error)
	// Model names the model behind the advice.
	Model() string
}
