// Package history serves the per-contract result ledger.
package history

import (
	"context"
	"time"

	domain "github.com/Macnelson9/Soroban-Registry/internal/domain/history"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// Reader is the read side of scans.Repository the ledger needs.
type Reader interface {
	GetResult(ctx context.Context, id scans.JobID) (*scans.ScanResult, error)
	GetContractVersion(ctx context.Context, contractID, version string) (*scans.ContractVersion, error)
	History(ctx context.Context, contractID string, page, pageSize int) (scans.HistoryPage, error)
	ListVersions(ctx context.Context, filter scans.VersionFilter, page, pageSize int) (scans.VersionPage, error)
}

type Ledger struct {
	Repo Reader
}

// List pages through a contract's results, newest first.
func (l *Ledger) List(ctx context.Context, contractID string, page, pageSize int) (scans.HistoryPage, error) {
	if contractID == "" {
		return scans.HistoryPage{}, scanerrors.New(scanerrors.KindInvalidRequest, "contract id is required")
	}
	return l.Repo.History(ctx, contractID, page, pageSize)
}

// Version returns a contract version with its latest result reference.
func (l *Ledger) Version(ctx context.Context, contractID, version string) (*scans.ContractVersion, error) {
	return l.Repo.GetContractVersion(ctx, contractID, version)
}

// Versions lists registered contract versions, most recently updated first.
func (l *Ledger) Versions(ctx context.Context, filter scans.VersionFilter, page, pageSize int) (scans.VersionPage, error) {
	return l.Repo.ListVersions(ctx, filter, page, pageSize)
}

// Publisher summarizes what a publisher has registered. It is NotFound for a
// publisher without versions.
func (l *Ledger) Publisher(ctx context.Context, publisherID string) (PublisherProfile, error) {
	if publisherID == "" {
		return PublisherProfile{}, scanerrors.New(scanerrors.KindInvalidRequest, "publisher id is required")
	}
	latest, err := l.Repo.ListVersions(ctx, scans.VersionFilter{PublisherID: publisherID}, 1, 1)
	if err != nil {
		return PublisherProfile{}, err
	}
	if latest.Total == 0 {
		return PublisherProfile{}, scanerrors.New(scanerrors.KindNotFound, "publisher %s has no contract versions", publisherID)
	}
	return PublisherProfile{
		PublisherID:  publisherID,
		VersionCount: latest.Total,
		LastUpdated:  latest.Data[0].UpdatedAt,
	}, nil
}

// PublisherProfile is the registry's view of one publisher.
type PublisherProfile struct {
	PublisherID  string    `json:"publisher_id"`
	VersionCount int64     `json:"version_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Diff compares the latest results of two versions of a contract.
func (l *Ledger) Diff(ctx context.Context, contractID, from, to string) (domain.Diff, error) {
	if contractID == "" || from == "" || to == "" {
		return domain.Diff{}, scanerrors.New(scanerrors.KindInvalidRequest, "contract id and both versions are required")
	}
	a, err := l.latest(ctx, contractID, from)
	if err != nil {
		return domain.Diff{}, err
	}
	b, err := l.latest(ctx, contractID, to)
	if err != nil {
		return domain.Diff{}, err
	}
	return domain.Compare(*a, *b), nil
}

func (l *Ledger) latest(ctx context.Context, contractID, version string) (*scans.ScanResult, error) {
	cv, err := l.Repo.GetContractVersion(ctx, contractID, version)
	if err != nil {
		return nil, err
	}
	if cv.LatestResultRef == "" {
		return nil, scanerrors.New(scanerrors.KindNotFound, "%s@%s has no completed scan", contractID, version)
	}
	return l.Repo.GetResult(ctx, cv.LatestResultRef)
}
