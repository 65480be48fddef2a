package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

type Store struct {
	db *sql.DB
	d  Dialect
	sb sq.StatementBuilderType
}

func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d, sb: sq.StatementBuilder.PlaceholderFormat(d.Placeholder)}
}

// Check pings the database; it backs the readiness check.
func (s *Store) Check(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return fn(tx)
}

var jobColumns = []string{
	"id", "contract_id", "version", "publisher_id", "state", "submitted_at",
	"started_at", "finished_at", "result_ref", "failure_kind", "failure_reason",
	"owner", "lease_expires_at",
}

var nonTerminal = []string{string(scans.StatePending), string(scans.StateRunning)}

func scanJob(row rowScanner) (*scans.ScanJob, error) {
	var j scans.ScanJob
	var started, finished, lease sql.NullTime
	if err := row.Scan(
		&j.ID, &j.ContractID, &j.Version, &j.PublisherID, &j.State, &j.SubmittedAt,
		&started, &finished, &j.ResultRef, &j.FailureKind, &j.FailureReason,
		&j.Owner, &lease,
	); err != nil {
		return nil, err
	}
	if lease.Valid {
		j.LeaseExpiresAt = lease.Time
	}
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return scanerrors.New(scanerrors.KindNotFound, format, args...)
	}
	return err
}

// AdmitJob takes the lock row first so a concurrent admission of the same
// version fails on it instead of racing the checks below.
func (s *Store) AdmitJob(ctx context.Context, job *scans.ScanJob, cv scans.ContractVersion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.takeLock(ctx, tx, job); err != nil {
			return err
		}

		existing, err := s.contractVersion(ctx, tx, job.ContractID, job.Version)
		switch {
		case errors.Is(err, scanerrors.ErrNotFound):
			_, err = exec(ctx, tx, s.sb.Insert("contract_versions").
				Columns(versionColumns...).
				Values(cv.ContractID, cv.Version, cv.PublisherID, cv.ArtifactHash, cv.ArtifactKey,
					"", cv.CreatedAt, cv.UpdatedAt))
			if err != nil {
				return fmt.Errorf("insert contract version: %w", err)
			}
		case err != nil:
			return err
		case existing.ArtifactHash != cv.ArtifactHash:
			return scanerrors.New(scanerrors.KindInvalidRequest, "%s@%s was published with a different artifact", job.ContractID, job.Version)
		}

		_, err = exec(ctx, tx, s.sb.Insert("scan_jobs").
			Columns(jobColumns...).
			Values(string(job.ID), job.ContractID, job.Version, job.PublisherID, string(job.State), job.SubmittedAt,
				nil, nil, "", "", "", job.Owner, nullTime(job.LeaseExpiresAt)))
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

// takeLock points the version's lock row at job. An existing row is taken
// over only when its holder is terminal, gone, or let its lease expire; a
// stale holder is failed in the same transaction.
func (s *Store) takeLock(ctx context.Context, tx *sql.Tx, job *scans.ScanJob) error {
	row, err := queryRow(ctx, tx, s.sb.Select("job_id").From("scan_locks").
		Where(sq.Eq{"contract_id": job.ContractID, "version": job.Version}).
		Suffix("FOR UPDATE"))
	if err != nil {
		return err
	}
	var holder string
	switch err := row.Scan(&holder); {
	case errors.Is(err, sql.ErrNoRows):
		_, err := exec(ctx, tx, s.sb.Insert("scan_locks").
			Columns("contract_id", "version", "job_id", "acquired_at").
			Values(job.ContractID, job.Version, string(job.ID), job.SubmittedAt))
		switch {
		case err == nil:
			return nil
		case s.d.IsDuplicate(err):
			return scanerrors.New(scanerrors.KindScanInProgress, "%s@%s is already being scanned", job.ContractID, job.Version)
		default:
			return scanerrors.Wrap(scanerrors.KindLockAcquisitionFailed, err, "insert scan lock")
		}
	case err != nil:
		return scanerrors.Wrap(scanerrors.KindLockAcquisitionFailed, err, "read scan lock")
	}

	prev, err := s.lockJob(ctx, tx, scans.JobID(holder))
	switch {
	case errors.Is(err, scanerrors.ErrNotFound):
	case err != nil:
		return err
	case !scans.Reclaimable(prev, job.SubmittedAt):
		return scanerrors.New(scanerrors.KindScanInProgress, "job %s holds %s@%s", holder, job.ContractID, job.Version)
	case !scans.IsTerminal(prev.State):
		if _, err := exec(ctx, tx, s.failJobQuery([]string{holder},
			string(scanerrors.KindInfrastructure), scans.ReasonLeaseExpired, job.SubmittedAt)); err != nil {
			return fmt.Errorf("fail stale job %s: %w", holder, err)
		}
	}
	_, err = exec(ctx, tx, s.sb.Update("scan_locks").
		Set("job_id", string(job.ID)).
		Set("acquired_at", job.SubmittedAt).
		Where(sq.Eq{"contract_id": job.ContractID, "version": job.Version}))
	if err != nil {
		return scanerrors.Wrap(scanerrors.KindLockAcquisitionFailed, err, "take over scan lock")
	}
	return nil
}

func (s *Store) failJobQuery(ids []string, kind, reason string, at time.Time) sq.UpdateBuilder {
	return s.sb.Update("scan_jobs").
		Set("state", string(scans.StateFailed)).
		Set("finished_at", at).
		Set("failure_kind", kind).
		Set("failure_reason", reason).
		Where(sq.Eq{"id": ids})
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *Store) GetJob(ctx context.Context, id scans.JobID) (*scans.ScanJob, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(jobColumns...).From("scan_jobs").Where(sq.Eq{"id": string(id)}))
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		return nil, notFound(err, "job %s not found", id)
	}
	return job, nil
}

// lockJob reads a job row for update inside tx.
func (s *Store) lockJob(ctx context.Context, tx *sql.Tx, id scans.JobID) (*scans.ScanJob, error) {
	row, err := queryRow(ctx, tx, s.sb.Select(jobColumns...).From("scan_jobs").
		Where(sq.Eq{"id": string(id)}).Suffix("FOR UPDATE"))
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		return nil, notFound(err, "job %s not found", id)
	}
	return job, nil
}

func (s *Store) MarkRunning(ctx context.Context, id scans.JobID, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.lockJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := scans.Transition(job, scans.StatePending, scans.StateRunning); err != nil {
			return err
		}
		_, err = exec(ctx, tx, s.sb.Update("scan_jobs").
			Set("state", string(scans.StateRunning)).
			Set("started_at", at).
			Where(sq.Eq{"id": string(id)}))
		return err
	})
}

func (s *Store) RenewLease(ctx context.Context, id scans.JobID, owner string, until time.Time) error {
	res, err := exec(ctx, s.db, s.sb.Update("scan_jobs").
		Set("lease_expires_at", until).
		Where(sq.Eq{"id": string(id), "owner": owner, "state": nonTerminal}))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return scanerrors.New(scanerrors.KindNotFound, "job %s is not leased by %s", id, owner)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, res *scans.ScanResult, at time.Time) error {
	findings, err := json.Marshal(res.Findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	breakdown, err := json.Marshal(res.Score.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.lockJob(ctx, tx, res.JobID)
		if err != nil {
			return err
		}
		if err := scans.Transition(job, scans.StateRunning, scans.StateCompleted); err != nil {
			return err
		}
		_, err = exec(ctx, tx, s.sb.Insert("scan_results").
			Columns("job_id", "contract_id", "version", "publisher_id", "score_value", "grade",
				"breakdown_json", "findings_json", "metrics_json", "checklist_version", "created_at", "recorded_at").
			Values(string(res.JobID), res.ContractID, res.Version, res.PublisherID, res.Score.Value, res.Score.Grade,
				string(breakdown), string(findings), string(metrics), res.ChecklistVersion, res.CreatedAt, at))
		if err != nil {
			if s.d.IsDuplicate(err) {
				return fmt.Errorf("result for job %s already exists", res.JobID)
			}
			return fmt.Errorf("insert result: %w", err)
		}
		if _, err = exec(ctx, tx, s.sb.Update("scan_jobs").
			Set("state", string(scans.StateCompleted)).
			Set("finished_at", at).
			Set("result_ref", string(res.JobID)).
			Where(sq.Eq{"id": string(res.JobID)})); err != nil {
			return err
		}
		if _, err = exec(ctx, tx, s.sb.Update("contract_versions").
			Set("latest_result_ref", string(res.JobID)).
			Set("updated_at", at).
			Where(sq.Eq{"contract_id": job.ContractID, "version": job.Version})); err != nil {
			return err
		}
		_, err = exec(ctx, tx, s.sb.Delete("scan_locks").
			Where(sq.Eq{"contract_id": job.ContractID, "version": job.Version, "job_id": string(job.ID)}))
		return err
	})
}

func (s *Store) FailJob(ctx context.Context, id scans.JobID, kind, reason string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.lockJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := scans.Transition(job, job.State, scans.StateFailed); err != nil {
			return err
		}
		if _, err = exec(ctx, tx, s.failJobQuery([]string{string(id)}, kind, reason, at)); err != nil {
			return err
		}
		_, err = exec(ctx, tx, s.sb.Delete("scan_locks").
			Where(sq.Eq{"contract_id": job.ContractID, "version": job.Version, "job_id": string(id)}))
		return err
	})
}

func (s *Store) GetResult(ctx context.Context, id scans.JobID) (*scans.ScanResult, error) {
	row, err := queryRow(ctx, s.db, s.sb.
		Select("job_id", "contract_id", "version", "publisher_id", "score_value", "grade",
			"breakdown_json", "findings_json", "metrics_json", "checklist_version", "created_at").
		From("scan_results").
		Where(sq.Eq{"job_id": string(id)}))
	if err != nil {
		return nil, err
	}
	var r scans.ScanResult
	var breakdown, findings, metrics string
	if err := row.Scan(&r.JobID, &r.ContractID, &r.Version, &r.PublisherID, &r.Score.Value, &r.Score.Grade,
		&breakdown, &findings, &metrics, &r.ChecklistVersion, &r.CreatedAt); err != nil {
		return nil, notFound(err, "result of job %s not found", id)
	}
	if err := json.Unmarshal([]byte(breakdown), &r.Score.Breakdown); err != nil {
		return nil, fmt.Errorf("decode breakdown of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(findings), &r.Findings); err != nil {
		return nil, fmt.Errorf("decode findings of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics of %s: %w", id, err)
	}
	return &r, nil
}

var versionColumns = []string{
	"contract_id", "version", "publisher_id", "artifact_hash", "artifact_key",
	"latest_result_ref", "created_at", "updated_at",
}

func scanContractVersion(row rowScanner) (*scans.ContractVersion, error) {
	var cv scans.ContractVersion
	if err := row.Scan(&cv.ContractID, &cv.Version, &cv.PublisherID, &cv.ArtifactHash, &cv.ArtifactKey,
		&cv.LatestResultRef, &cv.CreatedAt, &cv.UpdatedAt); err != nil {
		return nil, err
	}
	return &cv, nil
}

func (s *Store) contractVersion(ctx context.Context, q querier, contractID, version string) (*scans.ContractVersion, error) {
	row, err := queryRow(ctx, q, s.sb.Select(versionColumns...).
		From("contract_versions").
		Where(sq.Eq{"contract_id": contractID, "version": version}))
	if err != nil {
		return nil, err
	}
	cv, err := scanContractVersion(row)
	if err != nil {
		return nil, notFound(err, "contract version %s@%s not found", contractID, version)
	}
	return cv, nil
}

func (s *Store) GetContractVersion(ctx context.Context, contractID, version string) (*scans.ContractVersion, error) {
	return s.contractVersion(ctx, s.db, contractID, version)
}

func versionFilter(f scans.VersionFilter) sq.Eq {
	where := sq.Eq{}
	if f.ContractID != "" {
		where["contract_id"] = f.ContractID
	}
	if f.PublisherID != "" {
		where["publisher_id"] = f.PublisherID
	}
	return where
}

// versionsQuery selects one page of contract versions, most recently updated
// first.
func (s *Store) versionsQuery(f scans.VersionFilter, page, pageSize int) sq.SelectBuilder {
	q := s.sb.Select(versionColumns...).From("contract_versions")
	if where := versionFilter(f); len(where) > 0 {
		q = q.Where(where)
	}
	return q.OrderBy("updated_at DESC", "contract_id ASC", "version ASC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize))
}

func (s *Store) ListVersions(ctx context.Context, f scans.VersionFilter, page, pageSize int) (scans.VersionPage, error) {
	page, pageSize = scans.NormalizePage(page, pageSize)

	count := s.sb.Select("COUNT(*)").From("contract_versions")
	if where := versionFilter(f); len(where) > 0 {
		count = count.Where(where)
	}
	var total int64
	row, err := queryRow(ctx, s.db, count)
	if err != nil {
		return scans.VersionPage{}, err
	}
	if err := row.Scan(&total); err != nil {
		return scans.VersionPage{}, fmt.Errorf("count versions: %w", err)
	}

	rows, err := queryRows(ctx, s.db, s.versionsQuery(f, page, pageSize))
	if err != nil {
		return scans.VersionPage{}, err
	}
	defer rows.Close()

	var out []scans.ContractVersion
	for rows.Next() {
		cv, err := scanContractVersion(rows)
		if err != nil {
			return scans.VersionPage{}, err
		}
		out = append(out, *cv)
	}
	if err := rows.Err(); err != nil {
		return scans.VersionPage{}, err
	}
	return scans.NewPage(out, page, pageSize, total), nil
}

// historyQuery selects one page of a contract's ledger, newest first.
func (s *Store) historyQuery(contractID string, page, pageSize int) sq.SelectBuilder {
	return s.sb.
		Select("seq", "contract_id", "version", "job_id", "score_value", "grade", "checklist_version", "recorded_at").
		From("scan_results").
		Where(sq.Eq{"contract_id": contractID}).
		OrderBy("seq DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize))
}

func (s *Store) History(ctx context.Context, contractID string, page, pageSize int) (scans.HistoryPage, error) {
	page, pageSize = scans.NormalizePage(page, pageSize)

	var total int64
	row, err := queryRow(ctx, s.db, s.sb.Select("COUNT(*)").From("scan_results").Where(sq.Eq{"contract_id": contractID}))
	if err != nil {
		return scans.HistoryPage{}, err
	}
	if err := row.Scan(&total); err != nil {
		return scans.HistoryPage{}, fmt.Errorf("count history: %w", err)
	}

	rows, err := queryRows(ctx, s.db, s.historyQuery(contractID, page, pageSize))
	if err != nil {
		return scans.HistoryPage{}, err
	}
	defer rows.Close()

	entries := []scans.HistoryEntry{}
	for rows.Next() {
		var e scans.HistoryEntry
		if err := rows.Scan(&e.Seq, &e.ContractID, &e.Version, &e.JobID, &e.ScoreValue, &e.Grade,
			&e.ChecklistVersion, &e.RecordedAt); err != nil {
			return scans.HistoryPage{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return scans.HistoryPage{}, err
	}
	return scans.NewHistoryPage(entries, page, pageSize, total), nil
}

// FailOrphanedJobs locks the matching job rows, fails them and deletes the
// lock rows they hold.
func (s *Store) FailOrphanedJobs(ctx context.Context, owner, reason string, at time.Time) (int, error) {
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		orphaned := sq.Or{sq.Eq{"lease_expires_at": nil}, sq.Lt{"lease_expires_at": at}}
		if owner != "" {
			orphaned = append(orphaned, sq.Eq{"owner": owner})
		}
		var err error
		ids, err = s.selectIDs(ctx, tx, s.sb.Select("id").From("scan_jobs").
			Where(sq.Eq{"state": nonTerminal}).
			Where(orphaned).
			Suffix("FOR UPDATE"))
		if err != nil || len(ids) == 0 {
			return err
		}
		if _, err := exec(ctx, tx, s.failJobQuery(ids, string(scanerrors.KindInfrastructure), reason, at)); err != nil {
			return err
		}
		_, err = exec(ctx, tx, s.sb.Delete("scan_locks").Where(sq.Eq{"job_id": ids}))
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Store) selectIDs(ctx context.Context, q querier, b sq.Sqlizer) ([]string, error) {
	rows, err := queryRows(ctx, q, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResultsSince implements aggregate.ResultSource.
func (s *Store) ResultsSince(ctx context.Context, after int64, limit int) ([]scans.ResultRecord, error) {
	q := s.sb.Select("seq", "job_id", "contract_id", "publisher_id", "version", "score_value", "recorded_at").
		From("scan_results").
		Where(sq.Gt{"seq": after}).
		OrderBy("seq ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := queryRows(ctx, s.db, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scans.ResultRecord
	for rows.Next() {
		var r scans.ResultRecord
		if err := rows.Scan(&r.Seq, &r.JobID, &r.ContractID, &r.PublisherID, &r.Version, &r.Score, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountResults(ctx context.Context) (int64, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select("COUNT(*)").From("scan_results"))
	if err != nil {
		return 0, err
	}
	var n int64
	err = row.Scan(&n)
	return n, err
}
