package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnqueueSummaryJob inserts a queued SummaryJob for day, unless one is
// already active (queued or running) — the partial unique index structurally
// prevents the duplicate, so a conflict here is not an error, just a no-op:
// EnqueueSummaryJob is therefore safe to call from both the threshold-based
// ingestion path and the periodic sweep without either needing to check
// first.
func (s *Store) EnqueueSummaryJob(ctx context.Context, jobID, day, reason string) (bool, error) {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_job (job_id, day, status, reason, attempt_count, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, 0, ?, ?)`,
		jobID, day, reason, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("coredb: enqueue summary job for %s: %w", day, err)
	}
	return true, nil
}

// ClaimSummaryJobs atomically claims up to limit queued jobs, oldest first,
// transitioning them to running.
func (s *Store) ClaimSummaryJobs(ctx context.Context, limit int) ([]SummaryJob, error) {
	if limit <= 0 {
		limit = 1
	}
	var claimed []SummaryJob
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT job_id FROM summary_job WHERE status = 'queued'
			ORDER BY created_at ASC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("coredb: select queued summary jobs: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("coredb: scan queued summary job id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `
				UPDATE summary_job SET status = 'running', updated_at = ?
				WHERE job_id = ? AND status = 'queued'`, formatTime(time.Now()), id)
			if err != nil {
				return fmt.Errorf("coredb: claim summary job %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				continue
			}
			row := tx.QueryRowContext(ctx, summaryJobSelectCols+` FROM summary_job WHERE job_id = ?`, id)
			job, err := scanSummaryJob(row)
			if err != nil {
				return fmt.Errorf("coredb: reload claimed summary job %s: %w", id, err)
			}
			claimed = append(claimed, *job)
		}
		return nil
	})
	return claimed, err
}

// CompleteSummaryJob marks a job done.
func (s *Store) CompleteSummaryJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE summary_job SET status = 'done', updated_at = ? WHERE job_id = ?`,
		formatTime(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("coredb: complete summary job %s: %w", jobID, err)
	}
	return requireRowsAffected(res, "summary job", jobID)
}

// FailSummaryJob marks a job failed and bumps its attempt counter. The next
// periodic sweep re-enqueues the day if it is still short of its summarized
// total, since a failed job no longer holds the active-day uniqueness slot.
func (s *Store) FailSummaryJob(ctx context.Context, jobID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE summary_job
		SET status = 'failed', reason = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE job_id = ?`, reason, formatTime(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("coredb: fail summary job %s: %w", jobID, err)
	}
	return requireRowsAffected(res, "summary job", jobID)
}

// GetDaySummary fetches the materialized narrative for one day, or nil if
// none exists yet.
func (s *Store) GetDaySummary(ctx context.Context, day string) (*DaySummary, error) {
	var ds DaySummary
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT day, text, updated_at FROM day_summary WHERE day = ?`, day,
	).Scan(&ds.Day, &ds.Text, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coredb: get day summary %s: %w", day, err)
	}
	ds.UpdatedAt = parseTime(updatedAt)
	return &ds, nil
}

// UpsertDaySummary rewrites the full narrative text for one day. Summaries
// are a full rewrite, not an append, since a later summarization pass
// typically re-synthesizes from the whole day's transcript rather than
// tacking onto the previous summary.
func (s *Store) UpsertDaySummary(ctx context.Context, day, text string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_summary (day, text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		day, text, now,
	)
	if err != nil {
		return fmt.Errorf("coredb: upsert day summary %s: %w", day, err)
	}
	return nil
}

const summaryJobSelectCols = `
	SELECT job_id, day, status, reason, attempt_count, created_at, updated_at`

func scanSummaryJob(row rowScanner) (*SummaryJob, error) {
	var (
		job                  SummaryJob
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.JobID, &job.Day, &status, &job.Reason, &job.AttemptCount,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = SummaryJobStatus(status)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}
