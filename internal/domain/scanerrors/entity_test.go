package scanerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("submit: %w", New(KindScanInProgress, "contract %s version %s", "c1", "1.0.0"))
	if !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected ScanInProgress, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("ScanInProgress must not match NotFound")
	}
	if KindOf(err) != KindScanInProgress {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := Wrap(KindInfrastructure, cause, "store artifact")
	if !errors.Is(err, cause) || !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("wrapped error lost its chain: %v", err)
	}
	if got := err.Error(); got != "Infrastructure: store artifact: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
	if Wrap(KindInfrastructure, nil, "noop") != nil {
		t.Fatalf("wrapping nil must yield nil")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	t.Parallel()

	if KindOf(errors.New("boom")) != KindInfrastructure {
		t.Fatalf("unclassified errors default to Infrastructure")
	}
}
