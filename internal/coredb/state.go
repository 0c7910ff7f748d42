package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertTaskState writes a single per-task checkpoint/cursor value, e.g. the
// last-processed cursor of a queue-group poll task, or an interactive_wrapper
// Task's resumable step index.
func (s *Store) UpsertTaskState(ctx context.Context, taskID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_state_kv (task_id, state_key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id, state_key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at`,
		taskID, key, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("coredb: upsert task state %s/%s: %w", taskID, key, err)
	}
	return nil
}

// GetTaskState reads one per-task state value, returning ("", false, nil) if
// unset.
func (s *Store) GetTaskState(ctx context.Context, taskID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM task_state_kv WHERE task_id = ? AND state_key = ?`, taskID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("coredb: get task state %s/%s: %w", taskID, key, err)
	}
	return value, true, nil
}

// ListTaskState returns every state entry for one task, e.g. for a debug
// dump or Control API inspection endpoint.
func (s *Store) ListTaskState(ctx context.Context, taskID string) ([]TaskStateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, state_key, value, updated_at FROM task_state_kv
		WHERE task_id = ? ORDER BY state_key`, taskID)
	if err != nil {
		return nil, fmt.Errorf("coredb: list task state for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []TaskStateEntry
	for rows.Next() {
		var e TaskStateEntry
		var updatedAt string
		if err := rows.Scan(&e.TaskID, &e.StateKey, &e.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("coredb: scan task state: %w", err)
		}
		e.UpdatedAt = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteTaskState removes one state entry, e.g. when a task is reset.
func (s *Store) DeleteTaskState(ctx context.Context, taskID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM task_state_kv WHERE task_id = ? AND state_key = ?`, taskID, key)
	if err != nil {
		return fmt.Errorf("coredb: delete task state %s/%s: %w", taskID, key, err)
	}
	return nil
}
