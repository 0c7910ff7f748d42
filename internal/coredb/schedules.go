package coredb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// CreateSchedule inserts a new Schedule. NextRunAt must already be computed
// by the caller (the Scheduler owns fire-time math; the Store only persists
// the cursor).
func (s *Store) CreateSchedule(ctx context.Context, sch Schedule) error {
	now := time.Now()
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = now
	}
	if sch.UpdatedAt.IsZero() {
		sch.UpdatedAt = now
	}

	todJSON, err := sonic.MarshalString(sch.TimeOfDay)
	if err != nil {
		return fmt.Errorf("coredb: marshal time_of_day: %w", err)
	}
	dowJSON, err := sonic.MarshalString(sch.DayOfWeek)
	if err != nil {
		return fmt.Errorf("coredb: marshal day_of_week: %w", err)
	}
	if sch.Timezone == "" {
		sch.Timezone = "UTC"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule
			(schedule_id, profile_id, enabled, mode, misfire_policy, execution_order,
			 run_frequency_minutes, time_of_day_json, day_of_week_json, timezone,
			 next_run_at, last_planned_run_at, last_run_id, last_run_status, last_run_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ScheduleID, sch.ProfileID, boolToInt(sch.Enabled), string(sch.Mode), string(sch.Misfire),
		sch.ExecutionOrder, sch.RunFrequencyMinutes, todJSON, dowJSON, sch.Timezone,
		formatTime(sch.NextRunAt), nullTime(sch.LastPlannedRunAt), sch.LastRunID, string(sch.LastRunStatus),
		nullTime(sch.LastRunAt), formatTime(sch.CreatedAt), formatTime(sch.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("coredb: create schedule %s: %w", sch.ScheduleID, err)
	}
	return nil
}

// UpdateSchedule overwrites the user-editable fields of a schedule. Per spec
// §3 invariants, a user edit is the one case allowed to make next_run_at
// non-monotonic, so this method does not attempt to preserve ordering.
func (s *Store) UpdateSchedule(ctx context.Context, sch Schedule) error {
	todJSON, err := sonic.MarshalString(sch.TimeOfDay)
	if err != nil {
		return fmt.Errorf("coredb: marshal time_of_day: %w", err)
	}
	dowJSON, err := sonic.MarshalString(sch.DayOfWeek)
	if err != nil {
		return fmt.Errorf("coredb: marshal day_of_week: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule
		SET enabled = ?, mode = ?, misfire_policy = ?, execution_order = ?,
		    run_frequency_minutes = ?, time_of_day_json = ?, day_of_week_json = ?, timezone = ?,
		    next_run_at = ?, updated_at = ?
		WHERE schedule_id = ?`,
		boolToInt(sch.Enabled), string(sch.Mode), string(sch.Misfire), sch.ExecutionOrder,
		sch.RunFrequencyMinutes, todJSON, dowJSON, sch.Timezone,
		formatTime(sch.NextRunAt), formatTime(time.Now()), sch.ScheduleID,
	)
	if err != nil {
		return fmt.Errorf("coredb: update schedule %s: %w", sch.ScheduleID, err)
	}
	return requireRowsAffected(res, "schedule", sch.ScheduleID)
}

// DeleteSchedule removes a schedule. Runs referencing it have schedule_id
// set to NULL by the schema's ON DELETE SET NULL, preserving history.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule WHERE schedule_id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("coredb: delete schedule %s: %w", scheduleID, err)
	}
	return requireRowsAffected(res, "schedule", scheduleID)
}

// GetSchedule fetches one schedule by id.
func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelectCols+` FROM schedule WHERE schedule_id = ?`, scheduleID)
	sch, err := scanSchedule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("coredb: schedule %s: %w", scheduleID, ErrNotFound)
		}
		return nil, fmt.Errorf("coredb: get schedule %s: %w", scheduleID, err)
	}
	return sch, nil
}

// ListSchedules returns every schedule, ordered by (execution_order, schedule_id).
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectCols+` FROM schedule ORDER BY execution_order, schedule_id`)
	if err != nil {
		return nil, fmt.Errorf("coredb: list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListDueSchedules returns enabled schedules with next_run_at <= asOf,
// ordered by (execution_order, schedule_id) per spec §4.3 step 1.
func (s *Store) ListDueSchedules(ctx context.Context, asOf time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectCols+`
		FROM schedule
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY execution_order, schedule_id`, formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("coredb: list due schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// AdvanceScheduleCursor atomically applies the result of one Heartbeat tick
// for a single schedule: stamps last_planned_run_at to the highest selected
// fire instant (if any were selected) and sets next_run_at to the next
// future fire instant. Called inside the Heartbeat's per-tick transaction
// (see internal/scheduler), so it takes an explicit *sql.Tx rather than
// opening its own.
func AdvanceScheduleCursor(ctx context.Context, tx *sql.Tx, scheduleID string, lastPlanned *time.Time, nextRunAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE schedule
		SET last_planned_run_at = COALESCE(?, last_planned_run_at),
		    next_run_at = ?,
		    updated_at = ?
		WHERE schedule_id = ?`,
		nullTime(lastPlanned), formatTime(nextRunAt), formatTime(time.Now()), scheduleID,
	)
	if err != nil {
		return fmt.Errorf("coredb: advance cursor for schedule %s: %w", scheduleID, err)
	}
	return requireRowsAffected(res, "schedule", scheduleID)
}

// RecordScheduleRunOutcome updates a schedule's last-run summary metadata.
// Called by the Dispatcher on a Run's terminal transition.
func (s *Store) RecordScheduleRunOutcome(ctx context.Context, scheduleID, runID string, status RunStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule
		SET last_run_id = ?, last_run_status = ?, last_run_at = ?, updated_at = ?
		WHERE schedule_id = ?`,
		runID, string(status), formatTime(at), formatTime(time.Now()), scheduleID,
	)
	if err != nil {
		return fmt.Errorf("coredb: record run outcome for schedule %s: %w", scheduleID, err)
	}
	return nil
}

const scheduleSelectCols = `
	SELECT schedule_id, profile_id, enabled, mode, misfire_policy, execution_order,
	       run_frequency_minutes, time_of_day_json, day_of_week_json, timezone,
	       next_run_at, last_planned_run_at, last_run_id, last_run_status, last_run_at,
	       created_at, updated_at`

func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		sch                  Schedule
		mode, misfire        string
		enabled              int
		todJSON, dowJSON     string
		nextRunAt            string
		lastPlannedRunAt     sql.NullString
		lastRunStatus        string
		lastRunAt            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&sch.ScheduleID, &sch.ProfileID, &enabled, &mode, &misfire, &sch.ExecutionOrder,
		&sch.RunFrequencyMinutes, &todJSON, &dowJSON, &sch.Timezone,
		&nextRunAt, &lastPlannedRunAt, &sch.LastRunID, &lastRunStatus, &lastRunAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sch.Enabled = enabled != 0
	sch.Mode = ScheduleMode(mode)
	sch.Misfire = MisfirePolicy(misfire)
	sch.NextRunAt = parseTime(nextRunAt)
	sch.LastPlannedRunAt = parseTimePtr(lastPlannedRunAt)
	sch.LastRunStatus = RunStatus(lastRunStatus)
	sch.LastRunAt = parseTimePtr(lastRunAt)
	sch.CreatedAt = parseTime(createdAt)
	sch.UpdatedAt = parseTime(updatedAt)
	_ = sonic.UnmarshalString(todJSON, &sch.TimeOfDay)
	_ = sonic.UnmarshalString(dowJSON, &sch.DayOfWeek)
	return &sch, nil
}

func scanSchedules(rows *sql.Rows) ([]Schedule, error) {
	var out []Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("coredb: scan schedule: %w", err)
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}
