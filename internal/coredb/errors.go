package coredb

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) when a lookup by id finds no row.
var ErrNotFound = errors.New("not found")

// ErrOverlap is returned when an insert would violate the no-overlap
// invariant (another Run for the same task_id is already active).
var ErrOverlap = errors.New("task already has an active run")

// ErrConflict is returned when a unique-index violation surfaces a race the
// caller must handle explicitly rather than treat as a hard failure (e.g. a
// duplicate (schedule_id, planned_fire_at) pair, or a second active
// SummaryJob for the same day).
var ErrConflict = errors.New("conflicting row already exists")

func requireRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("coredb: rows affected for %s %s: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("coredb: %s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}
