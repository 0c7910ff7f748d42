package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendEvent inserts one allowlisted memory event and updates that day's
// rolling counters in a single transaction, returning the post-update status
// so the caller (internal/memsum's ingestion path) can decide whether the
// threshold for enqueuing a SummaryJob has been crossed without a second
// round-trip.
func (s *Store) AppendEvent(ctx context.Context, ev DayMemoryEvent) (*DayMemoryStatus, error) {
	var status *DayMemoryStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO day_memory_event (event_id, day, event_time, session_id, kind, text, layer)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.EventID, ev.Day, formatTime(ev.EventTime), ev.SessionID, string(ev.Kind), ev.Text, string(ev.Layer),
		)
		if err != nil {
			return fmt.Errorf("coredb: insert day memory event %s: %w", ev.EventID, err)
		}

		now := formatTime(ev.EventTime)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO day_memory_status (day, total_messages, messages_since_last_summary, last_event_at)
			VALUES (?, 1, 1, ?)
			ON CONFLICT (day) DO UPDATE SET
				total_messages              = day_memory_status.total_messages + 1,
				messages_since_last_summary = day_memory_status.messages_since_last_summary + 1,
				last_event_at               = excluded.last_event_at`,
			ev.Day, now,
		)
		if err != nil {
			return fmt.Errorf("coredb: upsert day memory status %s: %w", ev.Day, err)
		}

		row := tx.QueryRowContext(ctx, dayStatusSelectCols+` FROM day_memory_status WHERE day = ?`, ev.Day)
		st, err := scanDayStatus(row)
		if err != nil {
			return fmt.Errorf("coredb: reload day memory status %s: %w", ev.Day, err)
		}
		status = st
		return nil
	})
	return status, err
}

// GetDayStatus fetches the rolling counters for one day, or nil if no event
// has ever landed for it.
func (s *Store) GetDayStatus(ctx context.Context, day string) (*DayMemoryStatus, error) {
	row := s.db.QueryRowContext(ctx, dayStatusSelectCols+` FROM day_memory_status WHERE day = ?`, day)
	st, err := scanDayStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coredb: get day status %s: %w", day, err)
	}
	return st, nil
}

// ListUnfinalizedDays returns days strictly before beforeDay that still have
// unsummarized messages and are not finalized — the sweep's candidate set
// (spec §4.7 "Sweeps": periodic catch-up for any day the threshold-based
// ingestion path never finalized).
func (s *Store) ListUnfinalizedDays(ctx context.Context, beforeDay string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day FROM day_memory_status
		WHERE day < ? AND is_finalized = 0 AND total_messages > last_summarized_total
		ORDER BY day`, beforeDay)
	if err != nil {
		return nil, fmt.Errorf("coredb: list unfinalized days before %s: %w", beforeDay, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("coredb: scan unfinalized day: %w", err)
		}
		out = append(out, day)
	}
	return out, rows.Err()
}

// ListDayEvents loads one day's transcript, optionally filtered to a single
// layer ("" means both raw and summary), ordered by event_time — the
// summarizer's input.
func (s *Store) ListDayEvents(ctx context.Context, day string, layer MemoryEventLayer) ([]DayMemoryEvent, error) {
	query := `SELECT event_id, day, event_time, session_id, kind, text, layer
		FROM day_memory_event WHERE day = ?`
	args := []any{day}
	if layer != "" {
		query += ` AND layer = ?`
		args = append(args, string(layer))
	}
	query += ` ORDER BY event_time`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("coredb: list day events %s: %w", day, err)
	}
	defer rows.Close()

	var out []DayMemoryEvent
	for rows.Next() {
		var ev DayMemoryEvent
		var eventTime, kind, layerVal string
		if err := rows.Scan(&ev.EventID, &ev.Day, &eventTime, &ev.SessionID, &kind, &ev.Text, &layerVal); err != nil {
			return nil, fmt.Errorf("coredb: scan day event: %w", err)
		}
		ev.EventTime = parseTime(eventTime)
		ev.Kind = MemoryEventKind(kind)
		ev.Layer = MemoryEventLayer(layerVal)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkDaySummarized records that a SummaryJob completed for day: bumps
// summaries_count, resets messages_since_last_summary against the new
// last_summarized_total, and optionally finalizes the day (the sweep path
// finalizes; the live threshold path does not, since the day may still
// receive more events before midnight).
func (s *Store) MarkDaySummarized(ctx context.Context, day string, newTotal int, at time.Time, finalize bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE day_memory_status
		SET last_summarized_total      = ?,
		    messages_since_last_summary = total_messages - ?,
		    summaries_count             = summaries_count + 1,
		    last_summary_at             = ?,
		    is_finalized                = CASE WHEN ? THEN 1 ELSE is_finalized END
		WHERE day = ?`,
		newTotal, newTotal, formatTime(at), boolToInt(finalize), day,
	)
	if err != nil {
		return fmt.Errorf("coredb: mark day summarized %s: %w", day, err)
	}
	return requireRowsAffected(res, "day memory status", day)
}

const dayStatusSelectCols = `
	SELECT day, total_messages, last_summarized_total, messages_since_last_summary,
	       summaries_count, is_finalized, last_event_at, last_summary_at`

func scanDayStatus(row rowScanner) (*DayMemoryStatus, error) {
	var (
		st                         DayMemoryStatus
		isFinalized                int
		lastEventAt, lastSummaryAt sql.NullString
	)
	if err := row.Scan(&st.Day, &st.TotalMessages, &st.LastSummarizedTotal, &st.MessagesSinceLastSummary,
		&st.SummariesCount, &isFinalized, &lastEventAt, &lastSummaryAt); err != nil {
		return nil, err
	}
	st.IsFinalized = isFinalized != 0
	st.LastEventAt = parseTimePtr(lastEventAt)
	st.LastSummaryAt = parseTimePtr(lastSummaryAt)
	return &st, nil
}
