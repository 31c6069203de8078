package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/axiomme/axiomme/pkg/types"
)

// Enqueue inserts a new outbox row with created_at = next_attempt_at = now,
// status new, per 4.B.
func (s *Store) Enqueue(ctx context.Context, eventType, uri, payloadJSON string) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO outbox (event_type, uri, payload_json, status, attempt_count, next_attempt_at, created_at)
			VALUES (?, ?, ?, 'new', 0, ?, ?)`,
			eventType, uri, payloadJSON, now, now)
		if err != nil {
			return fmt.Errorf("enqueue outbox: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// FetchOutbox returns up to limit rows with the given status, ordered by
// id ascending; for status "new" only rows whose next_attempt_at has
// passed are visible.
func (s *Store) FetchOutbox(ctx context.Context, status types.OutboxStatus, limit int) ([]types.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, event_type, uri, payload_json, status, attempt_count, next_attempt_at, created_at
		FROM outbox WHERE status = ?`
	args := []any{string(status)}
	if status == types.OutboxNew {
		query += " AND next_attempt_at <= ?"
		args = append(args, time.Now().UTC())
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []types.OutboxEvent
	for rows.Next() {
		var e types.OutboxEvent
		var uri sql.NullString
		var st string
		if err := rows.Scan(&e.ID, &e.EventType, &uri, &e.PayloadJSON, &st, &e.AttemptCount, &e.NextAttemptAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		e.URI = uri.String
		e.Status = types.OutboxStatus(st)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkOutboxStatus sets status and optionally increments attempt_count.
func (s *Store) MarkOutboxStatus(ctx context.Context, id int64, status types.OutboxStatus, incrementAttempt bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		q := `UPDATE outbox SET status = ?`
		args := []any{string(status)}
		if incrementAttempt {
			q += `, attempt_count = attempt_count + 1`
		}
		q += ` WHERE id = ?`
		args = append(args, id)
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

// RequeueOutboxWithDelay sets status=new, next_attempt_at = now + delay.
func (s *Store) RequeueOutboxWithDelay(ctx context.Context, id int64, delay time.Duration) error {
	next := time.Now().UTC().Add(delay)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE outbox SET status = 'new', next_attempt_at = ? WHERE id = ?`, next, id)
		return err
	})
}
