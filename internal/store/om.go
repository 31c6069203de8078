package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/axiomme/axiomme/pkg/types"
)

// GetOmRecordByScopeKey returns the record for scopeKey, or ErrNotFound.
func (s *Store) GetOmRecordByScopeKey(ctx context.Context, scopeKey string) (*types.OmRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOmRecordByScopeKeyLocked(ctx, s.db, scopeKey)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getOmRecordByScopeKeyLocked(ctx context.Context, q querier, scopeKey string) (*types.OmRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, scope, scope_key, session_id, thread_id, resource_id, generation_count,
		       last_applied_outbox_event_id, origin_type, active_observations, observation_token_count,
		       pending_message_tokens, current_task, suggested_response, last_activated_message_ids_json,
		       observer_trigger_count_total, reflector_trigger_count_total,
		       is_observing, is_reflecting, is_buffering_observation, is_buffering_reflection,
		       buffered_reflection, buffered_reflection_tokens, buffered_reflection_input_tokens,
		       reflected_observation_line_count, last_buffered_at_tokens, last_buffered_at_time,
		       last_observed_at, created_at, updated_at
		FROM om_records WHERE scope_key = ?`, scopeKey)
	return scanOmRecord(row)
}

func scanOmRecord(row *sql.Row) (*types.OmRecord, error) {
	var r types.OmRecord
	var scope string
	var sessionID, threadID, resourceID, currentTask, suggestedResponse sql.NullString
	var lastAppliedEventID sql.NullInt64
	var lastBufferedAtTime, lastObservedAt sql.NullTime
	var activatedJSON string

	err := row.Scan(
		&r.ID, &scope, &r.ScopeKey, &sessionID, &threadID, &resourceID, &r.GenerationCount,
		&lastAppliedEventID, &r.OriginType, &r.ActiveObservations, &r.ObservationTokenCount,
		&r.PendingMessageTokens, &currentTask, &suggestedResponse, &activatedJSON,
		&r.ObserverTriggerCountTotal, &r.ReflectorTriggerCountTotal,
		&r.IsObserving, &r.IsReflecting, &r.IsBufferingObservation, &r.IsBufferingReflection,
		&r.BufferedReflection, &r.BufferedReflectionTokens, &r.BufferedReflectionInputTokens,
		&r.ReflectedObservationLineCount, &r.LastBufferedAtTokens, &lastBufferedAtTime,
		&lastObservedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan om_record: %w", err)
	}
	r.Scope = types.Scope(scope)
	r.SessionID = sessionID.String
	r.ThreadID = threadID.String
	r.ResourceID = resourceID.String
	r.CurrentTask = currentTask.String
	r.SuggestedResponse = suggestedResponse.String
	if lastAppliedEventID.Valid {
		r.LastAppliedOutboxEventID = lastAppliedEventID.Int64
		r.HasLastAppliedOutboxEvent = true
	}
	if lastBufferedAtTime.Valid {
		r.LastBufferedAtTime = lastBufferedAtTime.Time
	}
	if lastObservedAt.Valid {
		r.LastObservedAt = lastObservedAt.Time
	}
	if err := json.Unmarshal([]byte(activatedJSON), &r.LastActivatedMessageIDs); err != nil {
		r.LastActivatedMessageIDs = nil
	}
	return &r, nil
}

// UpsertOmRecord inserts a fresh record for scopeKey if one doesn't exist,
// or overwrites the full row if it does (no CAS — callers needing CAS use
// the dedicated compare-and-swap operations below).
func (s *Store) UpsertOmRecord(ctx context.Context, r *types.OmRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertOmRecordTx(ctx, tx, r)
	})
}

func (s *Store) upsertOmRecordTx(ctx context.Context, tx *sql.Tx, r *types.OmRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	activatedJSON, _ := json.Marshal(r.LastActivatedMessageIDs)

	var lastAppliedEventID any
	if r.HasLastAppliedOutboxEvent {
		lastAppliedEventID = r.LastAppliedOutboxEventID
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO om_records (
			scope, scope_key, session_id, thread_id, resource_id, generation_count,
			last_applied_outbox_event_id, origin_type, active_observations, observation_token_count,
			pending_message_tokens, current_task, suggested_response, last_activated_message_ids_json,
			observer_trigger_count_total, reflector_trigger_count_total,
			is_observing, is_reflecting, is_buffering_observation, is_buffering_reflection,
			buffered_reflection, buffered_reflection_tokens, buffered_reflection_input_tokens,
			reflected_observation_line_count, last_buffered_at_tokens, last_buffered_at_time,
			last_observed_at, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(scope_key) DO UPDATE SET
			generation_count=excluded.generation_count,
			last_applied_outbox_event_id=excluded.last_applied_outbox_event_id,
			origin_type=excluded.origin_type,
			active_observations=excluded.active_observations,
			observation_token_count=excluded.observation_token_count,
			pending_message_tokens=excluded.pending_message_tokens,
			current_task=excluded.current_task,
			suggested_response=excluded.suggested_response,
			last_activated_message_ids_json=excluded.last_activated_message_ids_json,
			observer_trigger_count_total=excluded.observer_trigger_count_total,
			reflector_trigger_count_total=excluded.reflector_trigger_count_total,
			is_observing=excluded.is_observing,
			is_reflecting=excluded.is_reflecting,
			is_buffering_observation=excluded.is_buffering_observation,
			is_buffering_reflection=excluded.is_buffering_reflection,
			buffered_reflection=excluded.buffered_reflection,
			buffered_reflection_tokens=excluded.buffered_reflection_tokens,
			buffered_reflection_input_tokens=excluded.buffered_reflection_input_tokens,
			reflected_observation_line_count=excluded.reflected_observation_line_count,
			last_buffered_at_tokens=excluded.last_buffered_at_tokens,
			last_buffered_at_time=excluded.last_buffered_at_time,
			last_observed_at=excluded.last_observed_at,
			updated_at=excluded.updated_at`,
		string(r.Scope), r.ScopeKey, nullable(r.SessionID), nullable(r.ThreadID), nullable(r.ResourceID), r.GenerationCount,
		lastAppliedEventID, string(r.OriginType), r.ActiveObservations, r.ObservationTokenCount,
		r.PendingMessageTokens, nullable(r.CurrentTask), nullable(r.SuggestedResponse), string(activatedJSON),
		r.ObserverTriggerCountTotal, r.ReflectorTriggerCountTotal,
		r.IsObserving, r.IsReflecting, r.IsBufferingObservation, r.IsBufferingReflection,
		r.BufferedReflection, r.BufferedReflectionTokens, r.BufferedReflectionInputTokens,
		r.ReflectedObservationLineCount, r.LastBufferedAtTokens, nullableTime(r.LastBufferedAtTime),
		nullableTime(r.LastObservedAt), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert om_record: %w", err)
	}
	return nil
}

// GetOrCreateOmRecord returns the existing record for scopeKey, or creates
// a fresh generation-0 row with the given identity fields.
func (s *Store) GetOrCreateOmRecord(ctx context.Context, scope types.Scope, scopeKey, sessionID, threadID, resourceID string) (*types.OmRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getOmRecordByScopeKeyLocked(ctx, s.db, scopeKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	r := &types.OmRecord{
		Scope: scope, ScopeKey: scopeKey, SessionID: sessionID, ThreadID: threadID, ResourceID: resourceID,
		OriginType: types.OriginInitial, CreatedAt: now, UpdatedAt: now,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := s.upsertOmRecordTx(ctx, tx, r); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.getOmRecordByScopeKeyLocked(ctx, s.db, scopeKey)
}

// AppendOmObservationChunkWithEventCAS verifies, within one transaction,
// that generation matches AND outbox_event_id hasn't already been applied;
// if both hold it appends the chunk and records the event, returning true.
// Otherwise it writes nothing and returns false.
func (s *Store) AppendOmObservationChunkWithEventCAS(ctx context.Context, scopeKey string, expectedGeneration uint32, outboxEventID int64, chunk types.OmObservationChunk) (bool, error) {
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var gen uint32
		var recordID int64
		err := tx.QueryRowContext(ctx, `SELECT id, generation_count FROM om_records WHERE scope_key = ?`, scopeKey).Scan(&recordID, &gen)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if gen != expectedGeneration {
			applied = false
			return nil
		}

		var already int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM om_observer_applied_events WHERE outbox_event_id = ?`, outboxEventID).Scan(&already); err != nil {
			return err
		}
		if already > 0 {
			applied = false
			return nil
		}

		var nextSeq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM om_observation_chunks WHERE record_id = ?`, recordID).Scan(&nextSeq); err != nil {
			return err
		}

		idsJSON, _ := json.Marshal(chunk.MessageIDs)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO om_observation_chunks (record_id, seq, cycle_id, observations, token_count, message_tokens, message_ids_json, last_observed_at, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			recordID, nextSeq, chunk.CycleID, chunk.Observations, chunk.TokenCount, chunk.MessageTokens, string(idsJSON), chunk.LastObservedAt, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert observation chunk: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO om_observer_applied_events (outbox_event_id, scope_key, generation_count, created_at) VALUES (?,?,?,?)`,
			outboxEventID, scopeKey, expectedGeneration, time.Now().UTC()); err != nil {
			return fmt.Errorf("record applied event: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE om_records SET is_buffering_observation = 1, last_buffered_at_tokens = pending_message_tokens,
				last_buffered_at_time = ?, updated_at = ? WHERE id = ?`,
			chunk.LastObservedAt, time.Now().UTC(), recordID); err != nil {
			return fmt.Errorf("update record after chunk append: %w", err)
		}

		applied = true
		return nil
	})
	return applied, err
}

// GetBufferedChunks returns chunks for scopeKey ordered by seq ascending.
func (s *Store) GetBufferedChunks(ctx context.Context, scopeKey string) ([]types.OmObservationChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.seq, c.cycle_id, c.observations, c.token_count, c.message_tokens, c.message_ids_json, c.last_observed_at, c.created_at, c.record_id
		FROM om_observation_chunks c JOIN om_records r ON r.id = c.record_id
		WHERE r.scope_key = ? ORDER BY c.seq ASC`, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("query buffered chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.OmObservationChunk
	for rows.Next() {
		var c types.OmObservationChunk
		var idsJSON string
		if err := rows.Scan(&c.Seq, &c.CycleID, &c.Observations, &c.TokenCount, &c.MessageTokens, &idsJSON, &c.LastObservedAt, &c.CreatedAt, &c.RecordID); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		json.Unmarshal([]byte(idsJSON), &c.MessageIDs)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ActivateChunks folds the named chunks (through lastActivatedSeq) into
// active_observations and clears them, all within one transaction.
func (s *Store) ActivateChunks(ctx context.Context, scopeKey string, newObservationsText string, newTokens int, activatedMessageIDs []string, messageTokensActivated int, lastActivatedSeq int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var recordID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM om_records WHERE scope_key = ?`, scopeKey).Scan(&recordID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		idsJSON, _ := json.Marshal(activatedMessageIDs)
		if _, err := tx.ExecContext(ctx, `
			UPDATE om_records SET
				active_observations = active_observations || ?,
				observation_token_count = observation_token_count + ?,
				last_activated_message_ids_json = ?,
				pending_message_tokens = MAX(pending_message_tokens - ?, 0),
				is_buffering_observation = 0,
				updated_at = ?
			WHERE id = ?`,
			newObservationsText, newTokens, string(idsJSON), messageTokensActivated,
			time.Now().UTC(), recordID); err != nil {
			return fmt.Errorf("fold activation into record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM om_observation_chunks WHERE record_id = ? AND seq <= ?`, recordID, lastActivatedSeq); err != nil {
			return fmt.Errorf("clear activated chunks: %w", err)
		}
		return nil
	})
}

// BufferOmReflectionWithCAS stages a reflection under generation CAS. If an
// existing buffered_reflection is already present and non-empty, it clears
// is_buffering_reflection only and returns false; otherwise it writes the
// staged fields and returns true.
func (s *Store) BufferOmReflectionWithCAS(ctx context.Context, scopeKey string, expectedGeneration uint32, reflectionText string, tokens, inputTokens int) (bool, error) {
	var ok bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var recordID int64
		var gen uint32
		var buffered string
		if err := tx.QueryRowContext(ctx, `SELECT id, generation_count, buffered_reflection FROM om_records WHERE scope_key = ?`, scopeKey).Scan(&recordID, &gen, &buffered); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if gen != expectedGeneration {
			ok = false
			return nil
		}
		if buffered != "" {
			_, err := tx.ExecContext(ctx, `UPDATE om_records SET is_buffering_reflection = 0, updated_at = ? WHERE id = ?`, time.Now().UTC(), recordID)
			ok = false
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE om_records SET buffered_reflection = ?, buffered_reflection_tokens = ?, buffered_reflection_input_tokens = ?,
				is_buffering_reflection = 1, updated_at = ? WHERE id = ?`,
			reflectionText, tokens, inputTokens, time.Now().UTC(), recordID)
		ok = err == nil
		return err
	})
	return ok, err
}

// ApplyOmReflectionWithCAS implements the three-way outcome from 4.B.
func (s *Store) ApplyOmReflectionWithCAS(ctx context.Context, scopeKey string, expectedGeneration uint32, outboxEventID int64, reflectionText string, lineCount int) (ApplyOutcome, error) {
	var outcome ApplyOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var recordID int64
		var gen uint32
		var lastApplied sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT id, generation_count, last_applied_outbox_event_id FROM om_records WHERE scope_key = ?`, scopeKey).
			Scan(&recordID, &gen, &lastApplied); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if lastApplied.Valid && lastApplied.Int64 == outboxEventID {
			outcome = IdempotentEvent
			return s.bumpMetric(ctx, tx, "idempotent_event")
		}
		if gen != expectedGeneration {
			outcome = StaleGeneration
			return s.bumpMetric(ctx, tx, "stale_generation")
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE om_records SET
				active_observations = ?,
				generation_count = generation_count + 1,
				buffered_reflection = '', buffered_reflection_tokens = 0, buffered_reflection_input_tokens = 0,
				is_buffering_reflection = 0, is_reflecting = 0,
				reflected_observation_line_count = ?,
				last_applied_outbox_event_id = ?,
				reflector_trigger_count_total = reflector_trigger_count_total + 1,
				updated_at = ?
			WHERE id = ?`,
			reflectionText, lineCount, outboxEventID, time.Now().UTC(), recordID); err != nil {
			return fmt.Errorf("apply reflection: %w", err)
		}
		outcome = Applied
		return s.bumpMetric(ctx, tx, "applied")
	})
	return outcome, err
}

// ClearOmReflectionFlagsWithCAS clears both in-flight reflection flags
// under generation CAS, used by the replay loop when dead-lettering a
// stuck reflection event so the record stops permanently showing
// "reflecting".
func (s *Store) ClearOmReflectionFlagsWithCAS(ctx context.Context, scopeKey string, expectedGeneration uint32) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE om_records SET is_reflecting = 0, is_buffering_reflection = 0, updated_at = ?
			WHERE scope_key = ? AND generation_count = ?`, time.Now().UTC(), scopeKey, expectedGeneration)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: scope_key %q generation %d", ErrConflict, scopeKey, expectedGeneration)
		}
		return nil
	})
}

func (s *Store) bumpMetric(ctx context.Context, tx *sql.Tx, outcome string) error {
	_, err := tx.ExecContext(ctx, `UPDATE om_metrics SET count = count + 1 WHERE outcome = ?`, outcome)
	return err
}

// AppendMessage persists an append-only chat message.
func (s *Store) AppendMessage(ctx context.Context, m types.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, thread_id, resource_id, role, text, token_count, created_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			m.ID, m.SessionID, nullable(m.ThreadID), nullable(m.ResourceID), m.Role, m.Text, m.TokenCount, m.CreatedAt)
		return err
	})
}

// RecentMessages returns up to limit most-recent messages for sessionID,
// newest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, thread_id, resource_id, role, text, token_count, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var threadID, resourceID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &threadID, &resourceID, &m.Role, &m.Text, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ThreadID = threadID.String
		m.ResourceID = resourceID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// UnobservedMessages returns messages for sessionID created after `after`
// (strict) or at or after it (non-strict), oldest first.
func (s *Store) UnobservedMessages(ctx context.Context, sessionID string, after time.Time, strict bool) ([]types.Message, error) {
	return s.unobservedMessagesByColumn(ctx, "session_id", sessionID, after, strict)
}

func (s *Store) unobservedMessagesByColumn(ctx context.Context, column, value string, after time.Time, strict bool) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := ">"
	if !strict {
		op = ">="
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, session_id, thread_id, resource_id, role, text, token_count, created_at
		FROM messages WHERE %s = ? AND created_at %s ? ORDER BY created_at ASC, id ASC`, column, op), value, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var threadID, resourceID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &threadID, &resourceID, &m.Role, &m.Text, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ThreadID = threadID.String
		m.ResourceID = resourceID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// UnobservedMessagesForRecord returns the observer candidate set for
// record. Session-scoped records use the record's own last_observed_at
// cursor directly. Non-session scopes (resource/user/agent/temp/queue)
// fan out across every thread that has ever posted under the record's
// resource_id, each tracked by its own cursor in om_thread_states, so
// peer sessions sharing a thread_id but not a session_id still feed the
// same reflection instead of going unobserved.
func (s *Store) UnobservedMessagesForRecord(ctx context.Context, record *types.OmRecord, strict bool) ([]types.Message, error) {
	if record.Scope == types.ScopeSession {
		return s.UnobservedMessages(ctx, record.SessionID, record.LastObservedAt, strict)
	}

	threadIDs, err := s.threadIDsForRecord(ctx, record)
	if err != nil {
		return nil, err
	}

	var out []types.Message
	for _, threadID := range threadIDs {
		state, err := s.GetOmThreadState(ctx, record.ScopeKey, threadID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		var after time.Time
		if state != nil {
			after = state.LastObservedAt
		}
		msgs, err := s.unobservedMessagesByColumn(ctx, "thread_id", threadID, after, strict)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// threadIDsForRecord lists the distinct thread ids that feed record's
// scope. A record with an explicit ThreadID is itself the one thread;
// a resource-scoped record with no fixed thread fans out across every
// thread id ever seen against its resource_id.
func (s *Store) threadIDsForRecord(ctx context.Context, record *types.OmRecord) ([]string, error) {
	if record.ThreadID != "" {
		return []string{record.ThreadID}, nil
	}
	if record.ResourceID == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT thread_id FROM messages
		WHERE resource_id = ? AND thread_id IS NOT NULL AND thread_id != ''`, record.ResourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetOmThreadState returns the per-thread observer cursor for (scopeKey,
// threadID), or ErrNotFound if the thread hasn't been observed yet.
func (s *Store) GetOmThreadState(ctx context.Context, scopeKey, threadID string) (*types.OmThreadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st types.OmThreadState
	var lastObserved sql.NullTime
	var currentTask, suggestedResponse sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT scope_key, thread_id, last_observed_at, current_task, suggested_response, updated_at
		FROM om_thread_states WHERE scope_key = ? AND thread_id = ?`, scopeKey, threadID).
		Scan(&st.ScopeKey, &st.ThreadID, &lastObserved, &currentTask, &suggestedResponse, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.LastObservedAt = lastObserved.Time
	st.CurrentTask = currentTask.String
	st.SuggestedResponse = suggestedResponse.String
	return &st, nil
}

// UpsertOmThreadState writes or advances a per-thread observer cursor.
func (s *Store) UpsertOmThreadState(ctx context.Context, st types.OmThreadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO om_thread_states (scope_key, thread_id, last_observed_at, current_task, suggested_response, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_key, thread_id) DO UPDATE SET
			last_observed_at = excluded.last_observed_at,
			current_task = excluded.current_task,
			suggested_response = excluded.suggested_response,
			updated_at = excluded.updated_at`,
		st.ScopeKey, st.ThreadID, nullableTime(st.LastObservedAt), nullable(st.CurrentTask), nullable(st.SuggestedResponse), st.UpdatedAt)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
