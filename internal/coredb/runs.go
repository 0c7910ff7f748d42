package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// RunTx exposes the Store's transaction helper to callers (Scheduler,
// Dispatcher) that need to combine several of the Tx-suffixed primitives
// below into one atomic unit, e.g. "advance N schedule cursors and insert
// the Run rows they selected in a single commit" (spec §4.3 step 5).
func (s *Store) RunTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withTx(ctx, fn)
}

// HasActiveRunForProfileTx reports whether profileID already has a Run in
// one of coredb.ActiveRunStatuses, using the given transaction. Used inside
// the Heartbeat's insert transaction (spec §4.3 step 4) and the Dispatcher's
// claim-time re-check (spec §4.4 step 2).
func HasActiveRunForProfileTx(ctx context.Context, tx *sql.Tx, profileID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM run
		WHERE profile_id = ? AND status IN ('queued','running','waiting_for_user')`,
		profileID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("coredb: check active run for profile %s: %w", profileID, err)
	}
	return n > 0, nil
}

// HasActiveRunForProfile is the non-transactional convenience form, used by
// manual-trigger and agentic-enqueue HTTP handlers that are not already
// inside a larger transaction.
func (s *Store) HasActiveRunForProfile(ctx context.Context, profileID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM run
		WHERE profile_id = ? AND status IN ('queued','running','waiting_for_user')`,
		profileID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("coredb: check active run for profile %s: %w", profileID, err)
	}
	return n > 0, nil
}

// InsertRunTx inserts a new queued Run row within tx. If a Run already
// exists for (schedule_id, planned_fire_at), the unique partial index
// rejects the insert and InsertRunTx returns ErrConflict — the structural
// duplicate-enqueue prevention described in spec §4.3 "Failure semantics".
func InsertRunTx(ctx context.Context, tx *sql.Tx, run Run) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO run (run_id, schedule_id, profile_id, status, planned_fire_at, queued_at, payload_json)
		VALUES (?, ?, ?, 'queued', ?, ?, ?)`,
		run.RunID, nullableString(run.ScheduleID), run.ProfileID, nullTime(run.PlannedFireAt),
		formatTime(run.QueuedAt), orDefault(run.PayloadJSON, "{}"),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("coredb: insert run %s: %w", run.RunID, ErrConflict)
		}
		return fmt.Errorf("coredb: insert run %s: %w", run.RunID, err)
	}
	return nil
}

// EnqueueRun is the non-transactional convenience form used by manual
// trigger / agentic-enqueue handlers: it checks no-overlap and inserts in
// one transaction, returning ErrOverlap if the profile already has an
// active Run.
func (s *Store) EnqueueRun(ctx context.Context, run Run) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		active, err := HasActiveRunForProfileTx(ctx, tx, run.ProfileID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("coredb: enqueue run for profile %s: %w", run.ProfileID, ErrOverlap)
		}
		return InsertRunTx(ctx, tx, run)
	})
}

// ClaimNextQueuedRun atomically claims the oldest queued Run (by queued_at)
// and transitions it to running, stamping started_at. Returns (nil, nil) if
// no Run is queued — not an error, just an empty slot tick.
func (s *Store) ClaimNextQueuedRun(ctx context.Context) (*Run, error) {
	var claimed *Run
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var runID string
		err := tx.QueryRowContext(ctx, `
			SELECT run_id FROM run WHERE status = 'queued'
			ORDER BY queued_at ASC LIMIT 1`).Scan(&runID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("coredb: select next queued run: %w", err)
		}

		now := formatTime(time.Now())
		res, err := tx.ExecContext(ctx, `
			UPDATE run SET status = 'running', started_at = ?
			WHERE run_id = ? AND status = 'queued'`, now, runID)
		if err != nil {
			return fmt.Errorf("coredb: claim run %s: %w", runID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("coredb: claim run %s rows affected: %w", runID, err)
		}
		if n == 0 {
			// Lost a race to nobody — single-writer means this should not
			// happen, but treat defensively as "nothing claimed".
			return nil
		}

		row := tx.QueryRowContext(ctx, runSelectCols+` FROM run WHERE run_id = ?`, runID)
		r, scanErr := scanRun(row)
		if scanErr != nil {
			return fmt.Errorf("coredb: reload claimed run %s: %w", runID, scanErr)
		}
		claimed = r
		return nil
	})
	return claimed, err
}

// RequeueRun reverts a just-claimed running Run back to queued with
// started_at cleared. Used by the Dispatcher when the claim-time
// no-overlap re-check fails (spec §4.4 step 2).
func (s *Store) RequeueRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = 'queued', started_at = NULL
		WHERE run_id = ? AND status = 'running'`, runID)
	if err != nil {
		return fmt.Errorf("coredb: requeue run %s: %w", runID, err)
	}
	return requireRowsAffected(res, "run", runID)
}

// TransitionToWaiting moves a running Run to waiting_for_user and persists
// the waiting contract into payload_json (spec §4.5 interactive_wrapper).
func (s *Store) TransitionToWaiting(ctx context.Context, runID, payloadJSON string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = 'waiting_for_user', payload_json = ?
		WHERE run_id = ? AND status = 'running'`, payloadJSON, runID)
	if err != nil {
		return fmt.Errorf("coredb: transition run %s to waiting: %w", runID, err)
	}
	return requireRowsAffected(res, "run", runID)
}

// ResumeWaitingRun moves a waiting_for_user Run back to queued, merging the
// user's response into payload_json (the caller computes the merged JSON;
// the Store just persists it).
func (s *Store) ResumeWaitingRun(ctx context.Context, runID, mergedPayloadJSON string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = 'queued', payload_json = ?, queued_at = ?
		WHERE run_id = ? AND status = 'waiting_for_user'`,
		mergedPayloadJSON, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("coredb: resume run %s: %w", runID, err)
	}
	return requireRowsAffected(res, "run", runID)
}

// KillNonRunning transitions a queued or waiting_for_user Run directly to
// blocked (spec §4.4 "Kill semantics": "A queued Run is killed by direct
// transition to blocked").
func (s *Store) KillNonRunning(ctx context.Context, runID, reason string) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE run SET status = 'blocked', error = ?, finished_at = ?
		WHERE run_id = ? AND status IN ('queued','waiting_for_user')`,
		reason, now, runID)
	if err != nil {
		return fmt.Errorf("coredb: kill run %s: %w", runID, err)
	}
	return requireRowsAffected(res, "run", runID)
}

// FinalizeRun applies a terminal transition (done/failed/blocked), archives
// the row to run_history, and removes it from the live run table, all in
// one transaction — the Store-owned "transition-run-state (with archive)"
// operation from spec §4.1.
func (s *Store) FinalizeRun(ctx context.Context, runID string, status RunStatus, summary, errStr string) error {
	if status != RunDone && status != RunFailed && status != RunBlocked {
		return fmt.Errorf("coredb: finalize run %s: %q is not a terminal status", runID, status)
	}
	now := time.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE run SET status = ?, summary = ?, error = ?, finished_at = ?
			WHERE run_id = ?`, string(status), summary, errStr, formatTime(now), runID)
		if err != nil {
			return fmt.Errorf("coredb: finalize run %s: %w", runID, err)
		}
		if err := requireRowsAffected(res, "run", runID); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, runSelectCols+` FROM run WHERE run_id = ?`, runID)
		r, err := scanRun(row)
		if err != nil {
			return fmt.Errorf("coredb: reload run %s before archive: %w", runID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_history
				(run_id, schedule_id, profile_id, status, planned_fire_at, queued_at, started_at,
				 finished_at, summary, error, payload_json, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, nullableString(r.ScheduleID), r.ProfileID, string(r.Status), nullTime(r.PlannedFireAt),
			formatTime(r.QueuedAt), nullTime(r.StartedAt), nullTime(r.FinishedAt), r.Summary, r.Error,
			r.PayloadJSON, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("coredb: archive run %s: %w", runID, err)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM run WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("coredb: remove finalized run %s: %w", runID, err)
		}
		return nil
	})
}

// PruneRunHistory deletes archived rows older than maxAge and, if the
// remaining row count still exceeds maxRows, deletes the oldest excess rows.
// Either limit may be zero to disable it.
func (s *Store) PruneRunHistory(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	var total int64
	if maxAge > 0 {
		cutoff := formatTime(time.Now().Add(-maxAge))
		res, err := s.db.ExecContext(ctx, `DELETE FROM run_history WHERE archived_at < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("coredb: prune run history by age: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if maxRows > 0 {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM run_history WHERE run_id IN (
				SELECT run_id FROM run_history ORDER BY archived_at DESC
				LIMIT -1 OFFSET ?
			)`, maxRows)
		if err != nil {
			return total, fmt.Errorf("coredb: prune run history by cap: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// GetRun fetches one live Run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelectCols+` FROM run WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("coredb: run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("coredb: get run %s: %w", runID, err)
	}
	return r, nil
}

// ListActiveRuns returns every Run in {queued, running, waiting_for_user},
// ordered by queued_at — the "active runs + queued preview" surface for
// GET /api/central/runs.
func (s *Store) ListActiveRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelectCols+`
		FROM run WHERE status IN ('queued','running','waiting_for_user')
		ORDER BY queued_at`)
	if err != nil {
		return nil, fmt.Errorf("coredb: list active runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListWaitingRuns returns every Run in waiting_for_user.
func (s *Store) ListWaitingRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelectCols+`
		FROM run WHERE status = 'waiting_for_user' ORDER BY queued_at`)
	if err != nil {
		return nil, fmt.Errorf("coredb: list waiting runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListActiveRunsByProfile returns the active Run(s) for one profile (0 or 1
// by the no-overlap invariant, but the method does not assume it).
func (s *Store) ListActiveRunsByProfile(ctx context.Context, profileID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelectCols+`
		FROM run WHERE profile_id = ? AND status IN ('queued','running','waiting_for_user')
		ORDER BY queued_at`, profileID)
	if err != nil {
		return nil, fmt.Errorf("coredb: list active runs for profile %s: %w", profileID, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// waitingExpiry is the one field housekeeping needs out of a waiting Run's
// persisted contract (spec §4.5: "(request_id, question, context,
// expires_at)"); the rest of the contract is the Runner/TaskBody's concern.
type waitingExpiry struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// ListExpiredWaitingRuns returns waiting_for_user runs whose persisted
// waiting contract's expires_at has already passed as of now. A run whose
// payload_json does not parse as a contract with an expires_at field is
// never considered expired — housekeeping only acts on runs that opted
// into the contract, not on every waiting row.
func (s *Store) ListExpiredWaitingRuns(ctx context.Context, now time.Time) ([]Run, error) {
	waiting, err := s.ListWaitingRuns(ctx)
	if err != nil {
		return nil, err
	}
	expired := make([]Run, 0, len(waiting))
	for _, r := range waiting {
		var contract waitingExpiry
		if err := sonic.UnmarshalString(r.PayloadJSON, &contract); err != nil {
			continue
		}
		if contract.ExpiresAt.IsZero() || contract.ExpiresAt.After(now) {
			continue
		}
		expired = append(expired, r)
	}
	return expired, nil
}

const runSelectCols = `
	SELECT run_id, schedule_id, profile_id, status, planned_fire_at, queued_at, started_at,
	       finished_at, summary, error, payload_json`

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                         Run
		scheduleID                sql.NullString
		status                    string
		plannedFireAt             sql.NullString
		queuedAt                  string
		startedAt, finishedAt     sql.NullString
	)
	if err := row.Scan(&r.RunID, &scheduleID, &r.ProfileID, &status, &plannedFireAt, &queuedAt,
		&startedAt, &finishedAt, &r.Summary, &r.Error, &r.PayloadJSON); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	if scheduleID.Valid {
		v := scheduleID.String
		r.ScheduleID = &v
	}
	r.PlannedFireAt = parseTimePtr(plannedFireAt)
	r.QueuedAt = parseTime(queuedAt)
	r.StartedAt = parseTimePtr(startedAt)
	r.FinishedAt = parseTimePtr(finishedAt)
	return &r, nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("coredb: scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
