package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MarkSeen records that (taskID, provider, itemKey) was observed, upserting
// first_seen_at/last_seen_at/seen_count. This is the idempotency ledger a
// queue-group polling Task uses to avoid re-acting on an already-processed
// item (spec §4.6 "Provider Queues" callers, e.g. a mailbox poll task).
func (s *Store) MarkSeen(ctx context.Context, taskID, provider, itemKey, metadataJSON string) error {
	now := formatTime(time.Now())
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_seen_item (task_id, provider, item_key, first_seen_at, last_seen_at, seen_count, metadata_json)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (task_id, provider, item_key) DO UPDATE SET
			last_seen_at  = excluded.last_seen_at,
			seen_count    = task_seen_item.seen_count + 1,
			metadata_json = excluded.metadata_json`,
		taskID, provider, itemKey, now, now, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("coredb: mark seen %s/%s/%s: %w", taskID, provider, itemKey, err)
	}
	return nil
}

// HasSeen reports whether (taskID, provider, itemKey) has ever been marked
// seen, returning the row if so.
func (s *Store) HasSeen(ctx context.Context, taskID, provider, itemKey string) (*TaskSeenItem, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, provider, item_key, first_seen_at, last_seen_at, seen_count, metadata_json
		FROM task_seen_item WHERE task_id = ? AND provider = ? AND item_key = ?`,
		taskID, provider, itemKey)
	item, err := scanSeenItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("coredb: has seen %s/%s/%s: %w", taskID, provider, itemKey, err)
	}
	return item, true, nil
}

// ListRecentSeen returns up to limit seen items for (taskID, provider),
// ordered by first_seen_at descending — the "newer source" ordering chosen
// over last_seen_at (spec §9 open question on seen-item recency), since a
// poll task typically wants to know what's newly appeared rather than what
// was merely re-observed most recently.
func (s *Store) ListRecentSeen(ctx context.Context, taskID, provider string, limit int) ([]TaskSeenItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, provider, item_key, first_seen_at, last_seen_at, seen_count, metadata_json
		FROM task_seen_item
		WHERE task_id = ? AND provider = ?
		ORDER BY first_seen_at DESC
		LIMIT ?`, taskID, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("coredb: list recent seen %s/%s: %w", taskID, provider, err)
	}
	defer rows.Close()

	var out []TaskSeenItem
	for rows.Next() {
		item, err := scanSeenItem(rows)
		if err != nil {
			return nil, fmt.Errorf("coredb: scan seen item: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// PruneSeenItems deletes seen-item rows whose last_seen_at predates cutoff,
// bounding the ledger's growth for long-lived polling tasks.
func (s *Store) PruneSeenItems(ctx context.Context, taskID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM task_seen_item WHERE task_id = ? AND last_seen_at < ?`,
		taskID, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("coredb: prune seen items for %s: %w", taskID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanSeenItem(row rowScanner) (*TaskSeenItem, error) {
	var (
		item                     TaskSeenItem
		firstSeenAt, lastSeenAt  string
	)
	if err := row.Scan(&item.TaskID, &item.Provider, &item.ItemKey, &firstSeenAt, &lastSeenAt,
		&item.SeenCount, &item.MetadataJSON); err != nil {
		return nil, err
	}
	item.FirstSeenAt = parseTime(firstSeenAt)
	item.LastSeenAt = parseTime(lastSeenAt)
	return &item, nil
}
