package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Macnelson9/Soroban-Registry/internal/application"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/analyst"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// ResultReader loads completed scan results.
type ResultReader interface {
	GetResult(ctx context.Context, id scans.JobID) (*scans.ScanResult, error)
}

// Service produces and stores remediation advice for completed scans.
type Service struct {
	client  ai.Client
	results ResultReader
	repo    analyst.Repository
	clock   application.Clock
	log     *slog.Logger
}

func NewService(client ai.Client, results ResultReader, repo analyst.Repository, clock application.Clock, log *slog.Logger) *Service {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{client: client, results: results, repo: repo, clock: clock, log: log}
}

// Advise returns the stored advice of a job, generating it on first use or
// when refresh is set. Only completed jobs have advice.
func (s *Service) Advise(ctx context.Context, jobID scans.JobID, refresh bool) (*analyst.Analysis, error) {
	if !refresh {
		a, err := s.repo.LatestByJob(ctx, jobID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, scanerrors.ErrNotFound) {
			return nil, err
		}
	}

	res, err := s.results.GetResult(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out, err := s.client.Advise(ctx, res)
	if err != nil {
		s.log.Warn("advice failed", "job_id", jobID, "model", s.client.Model(), "error", err)
		if errors.Is(err, ai.ErrQuotaExceeded) {
			return nil, err
		}
		return nil, scanerrors.Wrap(scanerrors.KindInfrastructure, err, "generate advice")
	}

	a := &analyst.Analysis{
		ID:         analyst.AnalysisID(uuid.NewString()),
		JobID:      jobID,
		ContractID: res.ContractID,
		Version:    res.Version,
		Model:      s.client.Model(),
		Result:     out,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	return a, nil
}
