package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/tidwall/sjson"

	"github.com/axiomme/axiomme/pkg/types"
)

const payloadSchemaVersionTrace = 1

// SaveTrace persists trace as one trace_index row, keyed by trace_id.
func (s *Store) SaveTrace(ctx context.Context, trace *types.RetrievalTrace) error {
	payload, err := json.Marshal(trace)
	if err != nil {
		return err
	}
	// Stamp schema_version onto the stored envelope without adding it to
	// the domain struct, same convention as the outbox event payloads.
	payload, err = sjson.SetBytes(payload, "schema_version", payloadSchemaVersionTrace)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trace_index (trace_id, request_type, query, target_uri, payload_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(trace_id) DO UPDATE SET payload_json = excluded.payload_json`,
			trace.TraceID, trace.RequestType, trace.Query, nullable(trace.TargetURI), string(payload), trace.CreatedAt)
		return err
	})
}

// GetTrace loads a persisted trace by id.
func (s *Store) GetTrace(ctx context.Context, traceID string) (*types.RetrievalTrace, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM trace_index WHERE trace_id = ?`, traceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var trace types.RetrievalTrace
	if err := json.Unmarshal([]byte(payload), &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}
