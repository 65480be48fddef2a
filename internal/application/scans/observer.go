package scans

import (
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	domain "github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Observer receives job lifecycle events, e.g. for metrics.
type Observer interface {
	JobAdmitted()
	JobRejected(kind scanerrors.Kind)
	JobStarted()
	JobFinished(state domain.State, kind scanerrors.Kind, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobAdmitted() {}

func (nopObserver) JobRejected(scanerrors.Kind) {}

func (nopObserver) JobStarted() {}

func (nopObserver) JobFinished(domain.State, scanerrors.Kind, time.Duration) {}
