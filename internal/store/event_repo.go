package store

import (
	"context"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

// EventRepo handles persistence for GameEvent records.
type EventRepo struct{}

// Append inserts an event at the next sequence number of its stream and
// returns that number. event.SeqNo is ignored.
func (r *EventRepo) Append(ctx context.Context, db DBTX, event domain.GameEvent) (int64, error) {
	const q = `INSERT INTO game_events (stream_id, seq_no, event_type, actor, payload_json, created_at)
SELECT ?, COALESCE(MAX(seq_no), 0) + 1, ?, ?, ?, ? FROM game_events WHERE stream_id = ?`
	payload := event.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	if _, err := db.ExecContext(ctx, q,
		event.StreamID,
		event.EventType,
		event.Actor,
		payload,
		event.CreatedAt,
		event.StreamID,
	); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	var seq int64
	if err := db.QueryRowContext(ctx, `SELECT MAX(seq_no) FROM game_events WHERE stream_id = ?`, event.StreamID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq, nil
}

// ListByStream returns events for a stream with sequence numbers greater than
// sinceSeq, ordered by sequence number ascending.
func (r *EventRepo) ListByStream(ctx context.Context, db DBTX, streamID string, sinceSeq int64) ([]domain.GameEvent, error) {
	const q = `SELECT id, stream_id, seq_no, event_type, actor, payload_json, created_at
FROM game_events
WHERE stream_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, streamID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.GameEvent
	for rows.Next() {
		var e domain.GameEvent
		if err := rows.Scan(&e.ID, &e.StreamID, &e.SeqNo, &e.EventType, &e.Actor, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
