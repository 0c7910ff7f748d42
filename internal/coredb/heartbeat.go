package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertHeartbeatState writes the singleton 'main' heartbeat status row —
// one tick's start/finish bookkeeping, surfaced by the Control API's
// /api/central/status endpoint (spec §6).
func (s *Store) UpsertHeartbeatState(ctx context.Context, hs HeartbeatState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeat_state (id, started_at, finished_at, status, enqueued_count, last_error)
		VALUES ('main', ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			started_at     = excluded.started_at,
			finished_at    = excluded.finished_at,
			status         = excluded.status,
			enqueued_count = excluded.enqueued_count,
			last_error     = excluded.last_error`,
		nullTime(hs.StartedAt), nullTime(hs.FinishedAt), hs.Status, hs.EnqueuedCount, hs.LastError,
	)
	if err != nil {
		return fmt.Errorf("coredb: upsert heartbeat state: %w", err)
	}
	return nil
}

// GetHeartbeatState reads the singleton heartbeat row, or nil if the
// Heartbeat has never ticked.
func (s *Store) GetHeartbeatState(ctx context.Context) (*HeartbeatState, error) {
	var (
		hs                    HeartbeatState
		startedAt, finishedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, status, enqueued_count, last_error
		FROM heartbeat_state WHERE id = 'main'`,
	).Scan(&startedAt, &finishedAt, &hs.Status, &hs.EnqueuedCount, &hs.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coredb: get heartbeat state: %w", err)
	}
	hs.StartedAt = parseTimePtr(startedAt)
	hs.FinishedAt = parseTimePtr(finishedAt)
	return &hs, nil
}
