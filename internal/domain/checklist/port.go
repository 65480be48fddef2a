package checklist

import "context"

// Repository persists published versions.
type Repository interface {
	SaveVersion(ctx context.Context, v Version) error
	// LoadVersions returns every published version in ascending order.
	LoadVersions(ctx context.Context) ([]Version, error)
}

// Validator rejects rules the detector cannot evaluate.
type Validator interface {
	ValidateRule(r Rule) error
}
