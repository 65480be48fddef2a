package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/aggregate"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/analyst"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// SaveVersion implements checklist.Repository. Version numbers are the
// primary key, so two publishers racing for the same number cannot both win.
func (s *Store) SaveVersion(ctx context.Context, v checklist.Version) error {
	rules, err := json.Marshal(v.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	_, err = exec(ctx, s.db, s.sb.Insert("checklist_versions").
		Columns("number", "rules_json", "published_at").
		Values(v.Number, string(rules), v.PublishedAt))
	if err != nil && s.d.IsDuplicate(err) {
		return fmt.Errorf("checklist version %d already published", v.Number)
	}
	return err
}

func (s *Store) LoadVersions(ctx context.Context) ([]checklist.Version, error) {
	rows, err := queryRows(ctx, s.db, s.sb.Select("number", "rules_json", "published_at").
		From("checklist_versions").OrderBy("number ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checklist.Version
	for rows.Next() {
		var v checklist.Version
		var rules string
		if err := rows.Scan(&v.Number, &rules, &v.PublishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rules), &v.Rules); err != nil {
			return nil, fmt.Errorf("decode checklist version %d: %w", v.Number, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReplaceSnapshots implements aggregate.Repository.
func (s *Store) ReplaceSnapshots(ctx context.Context, snaps []aggregate.Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, s.sb.Delete("aggregate_snapshots")); err != nil {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}
		ins := s.sb.Insert("aggregate_snapshots").
			Columns("scope", "avg_score", "p10", "p25", "p50", "p75", "p90", "contract_count", "computed_at")
		for _, sn := range snaps {
			p := sn.Percentiles
			ins = ins.Values(sn.Scope, sn.AvgScore, p.P10, p.P25, p.P50, p.P75, p.P90, sn.ContractCount, sn.ComputedAt)
		}
		_, err := exec(ctx, tx, ins)
		return err
	})
}

func (s *Store) LoadSnapshots(ctx context.Context) ([]aggregate.Snapshot, error) {
	rows, err := queryRows(ctx, s.db, s.sb.
		Select("scope", "avg_score", "p10", "p25", "p50", "p75", "p90", "contract_count", "computed_at").
		From("aggregate_snapshots").
		OrderBy("scope ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []aggregate.Snapshot
	for rows.Next() {
		var sn aggregate.Snapshot
		p := &sn.Percentiles
		if err := rows.Scan(&sn.Scope, &sn.AvgScore, &p.P10, &p.P25, &p.P50, &p.P75, &p.P90, &sn.ContractCount, &sn.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// Save implements analyst.Repository.
func (s *Store) Save(ctx context.Context, a *analyst.Analysis) error {
	result := a.Result
	if strings.TrimSpace(result) == "" {
		// result_json column requires valid JSON; use empty object
		result = "{}"
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := exec(ctx, s.db, s.sb.Insert("scan_advice").
		Columns("id", "job_id", "contract_id", "version", "model", "result_json", "created_at").
		Values(string(a.ID), string(a.JobID), a.ContractID, a.Version, a.Model, result, createdAt))
	return err
}

func (s *Store) LatestByJob(ctx context.Context, jobID scans.JobID) (*analyst.Analysis, error) {
	row, err := queryRow(ctx, s.db, s.sb.
		Select("id", "job_id", "contract_id", "version", "model", "result_json", "created_at").
		From("scan_advice").
		Where(sq.Eq{"job_id": string(jobID)}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	var a analyst.Analysis
	if err := row.Scan(&a.ID, &a.JobID, &a.ContractID, &a.Version, &a.Model, &a.Result, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, scanerrors.New(scanerrors.KindNotFound, "no analysis for job %s", jobID)
		}
		return nil, err
	}
	return &a, nil
}
