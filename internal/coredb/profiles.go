package coredb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateTaskProfile inserts a new TaskProfile. CreatedAt/UpdatedAt are
// stamped from now if zero.
func (s *Store) CreateTaskProfile(ctx context.Context, p TaskProfile) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_profile
			(task_id, kind, entrypoint_path, module, queue_group, timeout_sec, retry_policy, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.TaskID, string(p.Kind), p.EntrypointPath, p.Module, p.QueueGroup, p.TimeoutSec, p.RetryPolicy,
		boolToInt(p.Enabled), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("coredb: create task profile %s: %w", p.TaskID, err)
	}
	return nil
}

// UpdateTaskProfile overwrites every mutable field of an existing profile.
func (s *Store) UpdateTaskProfile(ctx context.Context, p TaskProfile) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_profile
		SET kind = ?, entrypoint_path = ?, module = ?, queue_group = ?, timeout_sec = ?,
		    retry_policy = ?, enabled = ?, updated_at = ?
		WHERE task_id = ?`,
		string(p.Kind), p.EntrypointPath, p.Module, p.QueueGroup, p.TimeoutSec, p.RetryPolicy,
		boolToInt(p.Enabled), formatTime(time.Now()), p.TaskID,
	)
	if err != nil {
		return fmt.Errorf("coredb: update task profile %s: %w", p.TaskID, err)
	}
	return requireRowsAffected(res, "task profile", p.TaskID)
}

// DeleteTaskProfile removes a profile; schedules and runs referencing it are
// cascade-deleted by the foreign keys declared in the schema.
func (s *Store) DeleteTaskProfile(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_profile WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("coredb: delete task profile %s: %w", taskID, err)
	}
	return requireRowsAffected(res, "task profile", taskID)
}

// GetTaskProfile fetches one profile by id.
func (s *Store) GetTaskProfile(ctx context.Context, taskID string) (*TaskProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, kind, entrypoint_path, module, queue_group, timeout_sec, retry_policy, enabled, created_at, updated_at
		FROM task_profile WHERE task_id = ?`, taskID)
	p, err := scanTaskProfile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("coredb: task profile %s: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("coredb: get task profile %s: %w", taskID, err)
	}
	return p, nil
}

// ListTaskProfiles returns every registered profile, ordered by task_id.
func (s *Store) ListTaskProfiles(ctx context.Context) ([]TaskProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, kind, entrypoint_path, module, queue_group, timeout_sec, retry_policy, enabled, created_at, updated_at
		FROM task_profile ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("coredb: list task profiles: %w", err)
	}
	defer rows.Close()

	var out []TaskProfile
	for rows.Next() {
		p, err := scanTaskProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("coredb: scan task profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskProfile(row rowScanner) (*TaskProfile, error) {
	var (
		p          TaskProfile
		kind       string
		enabled    int
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(&p.TaskID, &kind, &p.EntrypointPath, &p.Module, &p.QueueGroup,
		&p.TimeoutSec, &p.RetryPolicy, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Kind = TaskKind(kind)
	p.Enabled = enabled != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
